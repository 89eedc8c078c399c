package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bgstudio/catalog"
	"bgstudio/logging"
)

// Provider operation names used in ProviderError.Op and ProviderCall.Op.
const (
	OpRemoveBackground = "removeBackground"
	OpSynthesize       = "synthesize"
)

// removalOutputQuality is the output quality requested for cut-outs.
const removalOutputQuality = 95

// =============================================================================
// Configuration
// =============================================================================

// Config wires an Orchestrator to its catalog and provider adapters.
type Config struct {
	// Catalog is required and must already be validated.
	Catalog *catalog.Catalog

	// Remover and Synthesizer are required.
	Remover     BackgroundRemover
	Synthesizer Synthesizer

	// Analyzer is optional. Without it, ComplexityAuto behaves like low.
	Analyzer ComplexityAnalyzer

	// Retry wraps every provider call. The zero value makes one attempt.
	Retry RetryPolicy

	// Logger defaults to a no-op logger.
	Logger *logging.Logger

	// OnProviderCall, if set, is told about every provider call once its
	// retries are over, successful or not.
	OnProviderCall func(ProviderCall)

	// NewTaskID and Now are overridable for tests.
	NewTaskID func() string
	Now       func() time.Time
}

// ProviderCall is the outcome of one retried provider call.
type ProviderCall struct {
	TaskID  string
	Op      string
	ModelID string
	// Cost sums what the provider billed over every attempt, including
	// attempts that failed after billing.
	Cost     catalog.Amount
	Attempts int
	Duration time.Duration
	Err      error
}

// StyleChoice is the argument of ChooseStyle. At least one field must be
// set. A non-blank CustomPrompt takes precedence when resolving prompts.
type StyleChoice struct {
	Category     catalog.Category `json:"category,omitempty"`
	CustomPrompt string           `json:"customPrompt,omitempty"`
}

// GenerateOptions is the argument of GenerateBackground.
type GenerateOptions struct {
	// QualityTier defaults to standard.
	QualityTier catalog.QualityTier `json:"qualityTier,omitempty"`
	BudgetTier  catalog.BudgetTier  `json:"budgetTier"`
	// Complexity is "high", any other hint, or "auto"/"" to measure the
	// removed-background image with the configured analyzer.
	Complexity string `json:"complexity,omitempty"`
	// Seed overrides the catalog's deterministic default seed.
	Seed *int64 `json:"seed,omitempty"`
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator owns the State of one workflow and sequences its four
// stages. Transitions are strictly sequential: starting one while another
// is in flight fails with ErrTransitionInFlight instead of waiting.
// Queries (Snapshot, IsStageComplete, CanAdvanceTo) are always safe.
//
// Example:
//
//	o, _ := pipeline.NewOrchestrator(cfg)
//	_ = o.SubmitImage("https://cdn.example.com/uploads/mug.png")
//	_, err := o.SubmitForBackgroundRemoval(ctx, "")
//	_, err = o.ChooseStyle(pipeline.StyleChoice{Category: catalog.CategoryOffice})
//	st, err := o.GenerateBackground(ctx, pipeline.GenerateOptions{
//	    QualityTier: catalog.QualityStandard,
//	    BudgetTier:  catalog.BudgetMedium,
//	})
//	fmt.Println(st.Final())
type Orchestrator struct {
	cfg      Config
	prompts  PromptResolver
	tuner    ParamTuner
	selector ModelSelector
	ledger   CostLedger
	logger   *logging.Logger

	busy atomic.Bool

	mu    sync.Mutex
	state State
}

// NewOrchestrator returns an orchestrator with a fresh Upload state.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	return RestoreOrchestrator(cfg, NewState())
}

// RestoreOrchestrator resumes a workflow from a saved state.
func RestoreOrchestrator(cfg Config, state State) (*Orchestrator, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("pipeline: catalog is required")
	}
	if cfg.Remover == nil || cfg.Synthesizer == nil {
		return nil, errors.New("pipeline: background remover and synthesizer are required")
	}
	if !state.Stage.Valid() {
		return nil, fmt.Errorf("pipeline: cannot restore invalid stage %d", int(state.Stage))
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.NewTaskID == nil {
		cfg.NewTaskID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		cfg:      cfg,
		prompts:  NewPromptResolver(cfg.Catalog),
		selector: NewModelSelector(cfg.Catalog),
		ledger:   NewCostLedger(cfg.Catalog),
		logger:   cfg.Logger.Named("orchestrator"),
		state:    state.Clone(),
	}, nil
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// IsStageComplete evaluates the step gate against the current state.
func (o *Orchestrator) IsStageComplete(stage Stage) bool {
	return IsStageComplete(stage, o.Snapshot())
}

// CanAdvanceTo evaluates the step gate against the current state.
func (o *Orchestrator) CanAdvanceTo(stage Stage) bool {
	return CanAdvanceTo(stage, o.Snapshot())
}

// InFlight reports whether a transition is running.
func (o *Orchestrator) InFlight() bool {
	return o.busy.Load()
}

func (o *Orchestrator) begin() error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrTransitionInFlight
	}
	return nil
}

func (o *Orchestrator) end() {
	o.busy.Store(false)
}

// commit applies fn to the state under the lock and returns the result.
func (o *Orchestrator) commit(fn func(s *State)) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.state)
	o.state.UpdatedAt = o.cfg.Now()
	return o.state.Clone()
}

// =============================================================================
// Transitions
// =============================================================================

// SubmitImage records the uploaded image. It is only accepted while the
// workflow is still at Upload; a second call replaces the reference.
func (o *Orchestrator) SubmitImage(imageRef string) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return &ValidationError{Stage: StageUpload, Reason: "image reference is empty"}
	}
	if stage := o.Snapshot().Stage; stage != StageUpload {
		return &ValidationError{Stage: StageUpload, Reason: fmt.Sprintf("workflow is already at %s, reset to upload a new image", stage)}
	}

	o.commit(func(s *State) { s.UploadedImageRef = imageRef })
	o.logger.Debug("image submitted", logging.Stage(StageUpload.String()))
	return nil
}

// SubmitForBackgroundRemoval moves Upload → BackgroundRemoved. A non-empty
// imageRef is recorded as the upload first. On provider failure the stage
// is unchanged and the call can simply be repeated.
func (o *Orchestrator) SubmitForBackgroundRemoval(ctx context.Context, imageRef string) (State, error) {
	if err := o.begin(); err != nil {
		return o.Snapshot(), err
	}
	defer o.end()

	current := o.Snapshot()
	if current.Stage != StageUpload {
		return current, &ValidationError{Stage: StageBackgroundRemoved, Reason: "background has already been removed, reset to start over"}
	}
	if ref := strings.TrimSpace(imageRef); ref != "" {
		current = o.commit(func(s *State) { s.UploadedImageRef = ref })
	}
	if missing, blocked := FirstIncomplete(StageBackgroundRemoved, current); blocked {
		return current, &ValidationError{Stage: missing, Reason: "no image has been uploaded"}
	}

	taskID := o.cfg.NewTaskID()
	params := RemovalParams{
		TaskID:        taskID,
		OutputFormat:  OutputFormatPNG,
		OutputType:    OutputTypeURL,
		OutputQuality: removalOutputQuality,
		IncludeCost:   true,
	}

	start := o.cfg.Now()
	attempts := 0
	var billed catalog.Amount
	result, err := Execute(ctx, o.retryPolicy(OpRemoveBackground), func(ctx context.Context) (RemovalResult, error) {
		attempts++
		res, err := o.cfg.Remover.RemoveBackground(ctx, current.UploadedImageRef, params)
		if err != nil {
			billed += BilledCost(err)
			return res, err
		}
		billed += res.Cost
		if res.ImageURL == "" {
			return res, UnknownResponseError(OpRemoveBackground, errors.New("response carried no image URL"))
		}
		return res, nil
	})
	o.reportCall(ProviderCall{
		TaskID:   taskID,
		Op:       OpRemoveBackground,
		Cost:     billed,
		Attempts: attempts,
		Duration: o.cfg.Now().Sub(start),
		Err:      err,
	})
	if err != nil {
		o.logProviderFailure(OpRemoveBackground, taskID, err)
		return o.Snapshot(), err
	}

	next := o.commit(func(s *State) {
		s.RemovedBgImageRef = result.ImageURL
		s.Stage = StageBackgroundRemoved
		s.Cost += result.Cost
	})
	o.logger.Info("background removed",
		logging.Stage(next.Stage.String()),
		logging.TaskID(taskID),
		logging.Cost(result.Cost.String()),
		zap.Int("attempts", attempts),
	)
	return next, nil
}

// ChooseStyle moves BackgroundRemoved → StyleChosen. It may be called
// again at StyleChosen to change the choice. Nothing is sent to a
// provider.
func (o *Orchestrator) ChooseStyle(choice StyleChoice) (State, error) {
	if err := o.begin(); err != nil {
		return o.Snapshot(), err
	}
	defer o.end()

	current := o.Snapshot()
	switch {
	case current.Stage == StageSynthesized:
		return current, &ValidationError{Stage: StageSynthesized, Reason: "workflow is complete, reset to start over"}
	case current.Stage < StageBackgroundRemoved:
		missing, _ := FirstIncomplete(StageStyleChosen, current)
		return current, &ValidationError{Stage: missing, Reason: "background removal has not finished"}
	}

	var style *catalog.Category
	if choice.Category != "" {
		category := choice.Category
		style = &category
		if _, known := o.cfg.Catalog.Prompt(category); !known {
			o.logger.Warn("unknown category, the default prompt will be used", zap.String("category", string(category)))
		}
	}
	var custom *string
	if trimmed := strings.TrimSpace(choice.CustomPrompt); trimmed != "" {
		custom = &trimmed
	}

	candidate := current.Clone()
	candidate.SelectedStyle = style
	candidate.CustomPrompt = custom
	if !IsStageComplete(StageStyleChosen, candidate) {
		return current, &ValidationError{Stage: StageStyleChosen, Reason: "choose a category or enter a custom prompt"}
	}

	next := o.commit(func(s *State) {
		s.SelectedStyle = style
		s.CustomPrompt = custom
		s.Stage = StageStyleChosen
	})
	o.logger.Debug("style chosen", logging.Stage(next.Stage.String()))
	return next, nil
}

// GenerateBackground moves StyleChosen → Synthesized. The cost check runs
// before any provider call, so a BudgetError never costs anything.
func (o *Orchestrator) GenerateBackground(ctx context.Context, opts GenerateOptions) (State, error) {
	if err := o.begin(); err != nil {
		return o.Snapshot(), err
	}
	defer o.end()

	current := o.Snapshot()
	switch {
	case current.Stage == StageSynthesized:
		return current, &ValidationError{Stage: StageSynthesized, Reason: "background has already been generated, reset to start over"}
	case current.Stage != StageStyleChosen:
		missing, _ := FirstIncomplete(StageSynthesized, current)
		return current, &ValidationError{Stage: missing, Reason: "style has not been chosen"}
	}

	quality := opts.QualityTier
	if quality == "" {
		quality = catalog.QualityStandard
	}
	if !quality.Valid() {
		return current, &ValidationError{Stage: StageSynthesized, Reason: fmt.Sprintf("unknown quality tier %q", quality)}
	}
	budget, ok := o.cfg.Catalog.Limit(opts.BudgetTier)
	if !ok {
		return current, &ValidationError{Stage: StageSynthesized, Reason: fmt.Sprintf("unknown budget tier %q", opts.BudgetTier)}
	}

	// 1. prompt
	var category catalog.Category
	if current.SelectedStyle != nil {
		category = *current.SelectedStyle
	}
	var override string
	if current.CustomPrompt != nil {
		override = *current.CustomPrompt
	}
	prompt := o.prompts.Resolve(category, override)

	// 2. model
	modelID := o.selector.Select(quality, budget)
	model, ok := o.cfg.Catalog.Model(modelID)
	if !ok {
		return current, &ValidationError{Stage: StageSynthesized, Reason: fmt.Sprintf("selected model %q is not in the catalog", modelID)}
	}

	// 3. pre-flight cost check
	if err := o.ledger.Authorize(modelID, opts.BudgetTier); err != nil {
		o.logger.Warn("generation rejected by cost ledger",
			logging.ModelID(modelID),
			zap.String("budget_tier", string(opts.BudgetTier)),
			zap.Error(err),
		)
		return current, err
	}

	// 4. parameters
	base, ok := o.cfg.Catalog.Profile(model.QualityTier)
	if !ok {
		return current, &ValidationError{Stage: StageSynthesized, Reason: fmt.Sprintf("no parameter profile for %s models", model.QualityTier)}
	}
	signal := o.complexity(ctx, opts.Complexity, current.RemovedBgImageRef)
	params := o.tuner.Tune(base, signal)

	// 5. request
	seed := o.cfg.Catalog.DefaultSeed
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	req := NewGenerationRequest(o.cfg.NewTaskID(), model, prompt, params, seed, current.RemovedBgImageRef)

	// 6. synthesis
	start := o.cfg.Now()
	attempts := 0
	var billed catalog.Amount
	result, err := Execute(ctx, o.retryPolicy(OpSynthesize), func(ctx context.Context) (SynthesisResult, error) {
		attempts++
		res, err := o.cfg.Synthesizer.Synthesize(ctx, req)
		if err != nil {
			billed += BilledCost(err)
			return res, err
		}
		billed += res.Cost
		if res.NSFW {
			perr := PermanentError(OpSynthesize, 0, errors.New("result was flagged as NSFW"))
			perr.Cost = res.Cost
			return res, perr
		}
		if res.ImageURL == "" {
			return res, UnknownResponseError(OpSynthesize, errors.New("response carried no image URL"))
		}
		return res, nil
	})
	elapsed := o.cfg.Now().Sub(start)
	o.reportCall(ProviderCall{
		TaskID:   req.TaskID,
		Op:       OpSynthesize,
		ModelID:  modelID,
		Cost:     billed,
		Attempts: attempts,
		Duration: elapsed,
		Err:      err,
	})

	metrics := logging.GenerationMetrics{
		ModelID:       modelID,
		QualityTier:   string(quality),
		BudgetTier:    string(opts.BudgetTier),
		Category:      string(category),
		Steps:         req.Steps,
		GuidanceScale: req.GuidanceScale,
		Width:         req.Width,
		Height:        req.Height,
		Seed:          req.Seed,
		Cost:          result.Cost.String(),
		Attempts:      attempts,
		Duration:      elapsed,
		Success:       err == nil,
	}
	if err != nil {
		o.logProviderFailure(OpSynthesize, req.TaskID, err, logging.Generation(metrics))
		return o.Snapshot(), err
	}

	finalRef := result.ImageURL
	next := o.commit(func(s *State) {
		s.FinalImageRef = &finalRef
		s.Stage = StageSynthesized
		s.ModelID = modelID
		s.Cost += result.Cost
	})
	o.logger.Info("background generated", logging.TaskID(req.TaskID), logging.Generation(metrics))
	return next, nil
}

// Reset returns the workflow to a fresh Upload state.
func (o *Orchestrator) Reset() error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	o.commit(func(s *State) { *s = NewState() })
	o.logger.Debug("workflow reset")
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// complexity resolves the signal for the tuner. Measurement failures only
// cost parameter quality, so they degrade to low instead of failing.
func (o *Orchestrator) complexity(ctx context.Context, hint, imageRef string) ComplexitySignal {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint != "" && hint != ComplexityAuto {
		return ComplexitySignal{Complexity: hint}
	}
	if o.cfg.Analyzer == nil {
		return ComplexitySignal{Complexity: ComplexityLow}
	}
	signal, err := o.cfg.Analyzer.Analyze(ctx, imageRef)
	if err != nil {
		o.logger.Warn("complexity analysis failed, using low", zap.Error(err))
		return ComplexitySignal{Complexity: ComplexityLow}
	}
	o.logger.Debug("complexity measured",
		zap.String("complexity", signal.Complexity),
		zap.Float64("score", signal.Score),
	)
	return signal
}

// retryPolicy decorates the configured policy with retry logging.
func (o *Orchestrator) retryPolicy(op string) RetryPolicy {
	p := o.cfg.Retry
	onRetry := p.OnRetry
	p.OnRetry = func(state RetryState, err error) {
		o.logger.Warn("provider call failed, retrying",
			zap.String("op", op),
			logging.Attempt(state.Attempt, state.MaxAttempts),
			logging.Delay(state.Delay),
			zap.Error(err),
		)
		if onRetry != nil {
			onRetry(state, err)
		}
	}
	return p
}

func (o *Orchestrator) reportCall(call ProviderCall) {
	if o.cfg.OnProviderCall != nil {
		o.cfg.OnProviderCall(call)
	}
}

func (o *Orchestrator) logProviderFailure(op, taskID string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), logging.TaskID(taskID), zap.Error(err))
	switch {
	case errors.Is(err, ErrUnknownProviderResponse):
		o.logger.Error("provider returned an unknown response", fields...)
	case errors.Is(err, context.Canceled):
		o.logger.Info("provider call cancelled", fields...)
	default:
		o.logger.Warn("provider call failed", fields...)
	}
}
