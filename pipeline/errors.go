package pipeline

import (
	"errors"
	"fmt"

	"bgstudio/catalog"
)

// Sentinel errors. The concrete error types below match them with
// errors.Is so callers can branch without type assertions.
var (
	ErrValidation              = errors.New("pipeline: stage prerequisite not met")
	ErrBudgetExceeded          = errors.New("pipeline: budget exceeded")
	ErrProviderTransient       = errors.New("pipeline: transient provider failure")
	ErrProviderPermanent       = errors.New("pipeline: permanent provider failure")
	ErrUnknownProviderResponse = errors.New("pipeline: unknown provider response")
	ErrTransitionInFlight      = errors.New("pipeline: another transition is in flight")
	ErrRetryExhausted          = errors.New("pipeline: retry attempts exhausted")
)

// ValidationError rejects a transition whose prerequisite is missing, or
// whose input cannot complete the target stage.
type ValidationError struct {
	// Stage is the failing stage: the first incomplete prerequisite, or the
	// target stage when the input itself is invalid.
	Stage  Stage
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline: %s: %s", e.Stage, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// BudgetError is returned by CostLedger.Authorize before any provider spend.
type BudgetError struct {
	ModelID string
	Cost    catalog.Amount
	Tier    catalog.BudgetTier
	Limit   catalog.Amount
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("pipeline: model %s costs %s, over the %s budget limit of %s",
		e.ModelID, e.Cost, e.Tier, e.Limit)
}

func (e *BudgetError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// ProviderErrorKind classifies a provider adapter failure.
type ProviderErrorKind int

const (
	ProviderTransient ProviderErrorKind = iota
	ProviderPermanent
	ProviderUnknownResponse
)

func (k ProviderErrorKind) String() string {
	switch k {
	case ProviderTransient:
		return "transient"
	case ProviderPermanent:
		return "permanent"
	case ProviderUnknownResponse:
		return "unknown_response"
	}
	return "invalid"
}

// ProviderError is what provider adapters return. Op names the call
// ("removeBackground", "synthesize"); StatusCode is the HTTP status when
// there was one.
type ProviderError struct {
	Op         string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error

	// Cost is what the provider billed for the failed call, e.g. an image
	// generated and then rejected as NSFW. Zero when nothing was billed.
	Cost catalog.Amount
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("pipeline: %s: %s provider error", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProviderTransient:
		return e.Kind == ProviderTransient
	case ErrProviderPermanent:
		return e.Kind == ProviderPermanent
	case ErrUnknownProviderResponse:
		return e.Kind == ProviderUnknownResponse
	}
	return false
}

// BilledCost returns the cost carried by a *ProviderError in err's chain,
// or zero.
func BilledCost(err error) catalog.Amount {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Cost
	}
	return 0
}

// TransientError builds a retryable ProviderError.
func TransientError(op string, status int, err error) *ProviderError {
	return &ProviderError{Op: op, Kind: ProviderTransient, StatusCode: status, Err: err}
}

// PermanentError builds a ProviderError that must not be retried.
func PermanentError(op string, status int, err error) *ProviderError {
	return &ProviderError{Op: op, Kind: ProviderPermanent, StatusCode: status, Err: err}
}

// UnknownResponseError reports a response outside the documented shape.
func UnknownResponseError(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Kind: ProviderUnknownResponse, Err: err}
}

// RetryExhaustedError wraps the last transient error after every attempt
// failed.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("pipeline: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}
