package api

import (
	"context"
	"errors"
	"net/http"

	"bgstudio/pipeline"
	"bgstudio/shutdown"
	"bgstudio/workflow"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Workflow is the unchanged snapshot when a transition was refused.
	Workflow *WorkflowResponse `json:"workflow,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, workflow.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrTransitionInFlight):
		return http.StatusTooManyRequests
	case errors.Is(err, pipeline.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusConflict
	case errors.Is(err, shutdown.ErrTrackerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrProviderTransient),
		errors.Is(err, pipeline.ErrProviderPermanent),
		errors.Is(err, pipeline.ErrUnknownProviderResponse),
		errors.Is(err, pipeline.ErrRetryExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
