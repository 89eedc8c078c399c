package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bgstudio/catalog"
	"bgstudio/logging"
)

type fakeRemover struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	result RemovalResult
	refs   []string
}

func (f *fakeRemover) RemoveBackground(ctx context.Context, imageRef string, params RemovalParams) (RemovalResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.refs = append(f.refs, imageRef)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return RemovalResult{}, err
	}
	return f.result, nil
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	result   SynthesisResult
	requests []GenerationRequest
	// block, when set, holds each call until released or ctx is done.
	block chan struct{}
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req GenerationRequest) (SynthesisResult, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return SynthesisResult{}, ctx.Err()
		}
	}
	if err != nil {
		return SynthesisResult{}, err
	}
	return f.result, nil
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct {
	signal ComplexitySignal
	err    error
}

func (f fakeAnalyzer) Analyze(context.Context, string) (ComplexitySignal, error) {
	return f.signal, f.err
}

type harness struct {
	orch    *Orchestrator
	remover *fakeRemover
	synth   *fakeSynthesizer
	calls   []ProviderCall
	delays  []time.Duration
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		remover: &fakeRemover{result: RemovalResult{ImageURL: "https://cdn.test/cutout.png", Cost: catalog.MustParseAmount("0.0006")}},
		synth:   &fakeSynthesizer{result: SynthesisResult{ImageURL: "https://cdn.test/final.png", Cost: catalog.MustParseAmount("0.05")}},
	}
	retry := DefaultRetryPolicy()
	retry.Wait = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}
	taskN := 0
	cfg := Config{
		Catalog:        catalog.Default(),
		Remover:        h.remover,
		Synthesizer:    h.synth,
		Retry:          retry,
		Logger:         logging.FromZap(zaptest.NewLogger(t)),
		OnProviderCall: func(c ProviderCall) { h.calls = append(h.calls, c) },
		NewTaskID: func() string {
			taskN++
			return fmt.Sprintf("task-%d", taskN)
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	orch, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

// toStyleChosen drives the harness to StyleChosen with the office category.
func (h *harness) toStyleChosen(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.SubmitImage("https://cdn.test/upload.png"))
	_, err := h.orch.SubmitForBackgroundRemoval(context.Background(), "")
	require.NoError(t, err)
	_, err = h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryOffice})
	require.NoError(t, err)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.orch.SubmitForBackgroundRemoval(ctx, "https://cdn.test/upload.png")
	require.NoError(t, err)
	assert.Equal(t, StageBackgroundRemoved, st.Stage)
	assert.Equal(t, "https://cdn.test/cutout.png", st.RemovedBgImageRef)

	st, err = h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryOffice})
	require.NoError(t, err)
	assert.Equal(t, StageStyleChosen, st.Stage)

	st, err = h.orch.GenerateBackground(ctx, GenerateOptions{
		QualityTier: catalog.QualityStandard,
		BudgetTier:  catalog.BudgetMedium,
		Complexity:  "low",
	})
	require.NoError(t, err)
	assert.Equal(t, StageSynthesized, st.Stage)
	assert.Equal(t, "https://cdn.test/final.png", st.Final())
	assert.Equal(t, catalog.DefaultPrimaryModel, st.ModelID)
	assert.Equal(t, catalog.MustParseAmount("0.0506"), st.Cost)

	require.Len(t, h.synth.requests, 1)
	req := h.synth.requests[0]
	office := catalog.Default().Prompts[catalog.CategoryOffice]
	assert.Equal(t, office.Positive, req.Prompt.Positive)
	assert.Equal(t, catalog.DefaultPrimaryModel, req.ModelID)
	assert.Equal(t, 28, req.Steps)
	assert.Equal(t, catalog.DefaultSeed, req.Seed)
	assert.Equal(t, "https://cdn.test/cutout.png", req.SeedImage)
	assert.Nil(t, req.ProviderSettings)

	require.Len(t, h.calls, 2)
	assert.Equal(t, OpRemoveBackground, h.calls[0].Op)
	assert.Equal(t, OpSynthesize, h.calls[1].Op)
	assert.Equal(t, 1, h.calls[1].Attempts)

	for _, stage := range Stages {
		assert.True(t, h.orch.IsStageComplete(stage), stage.String())
	}
}

func TestOrchestrator_BudgetExceeded(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)

	st, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{
		QualityTier: catalog.QualityStandard,
		BudgetTier:  catalog.BudgetLow,
		Complexity:  "low",
	})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, StageStyleChosen, st.Stage)
	assert.Nil(t, st.FinalImageRef)
	assert.Zero(t, h.synth.callCount(), "no provider spend before authorization")
	assert.Equal(t, StageStyleChosen, h.orch.Snapshot().Stage)
}

func TestOrchestrator_PremiumRequest(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)

	seed := int64(1234)
	_, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{
		QualityTier: catalog.QualityPremium,
		BudgetTier:  catalog.BudgetPremium,
		Complexity:  "high",
		Seed:        &seed,
	})
	require.NoError(t, err)

	req := h.synth.requests[0]
	assert.Equal(t, catalog.DefaultPremiumModel, req.ModelID)
	assert.Equal(t, 50, req.Steps)
	assert.Equal(t, 9.0, req.GuidanceScale)
	assert.Equal(t, seed, req.Seed)
	bfl := req.ProviderSettings["bfl"].(map[string]any)
	assert.Equal(t, true, bfl["promptUpsampling"])
}

func TestOrchestrator_PremiumBelowHighBudgetFallsBackToPrimary(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)

	_, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{
		QualityTier: catalog.QualityPremium,
		BudgetTier:  catalog.BudgetMedium,
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultPrimaryModel, h.synth.requests[0].ModelID)
}

func TestOrchestrator_CustomPromptUsesStudioNegative(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.SubmitImage("u.png"))
	_, err := h.orch.SubmitForBackgroundRemoval(context.Background(), "")
	require.NoError(t, err)
	_, err = h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryOutdoor, CustomPrompt: " on a marble counter "})
	require.NoError(t, err)

	_, err = h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
	require.NoError(t, err)

	req := h.synth.requests[0]
	assert.Equal(t, "on a marble counter", req.Prompt.Positive)
	assert.Equal(t, catalog.Default().Prompts[catalog.CategoryStudio].Negative, req.Prompt.Negative)
}

func TestOrchestrator_GateRejectsOutOfOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.SubmitForBackgroundRemoval(ctx, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StageUpload, verr.Stage)
	assert.Zero(t, h.remover.calls)

	_, err = h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryStudio})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StageUpload, verr.Stage)

	_, err = h.orch.GenerateBackground(ctx, GenerateOptions{BudgetTier: catalog.BudgetHigh})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StageUpload, verr.Stage)

	assert.ErrorIs(t, h.orch.SubmitImage("   "), ErrValidation)
}

func TestOrchestrator_ChooseStyleRequiresChoice(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.SubmitImage("u.png"))
	_, err := h.orch.SubmitForBackgroundRemoval(context.Background(), "")
	require.NoError(t, err)

	st, err := h.orch.ChooseStyle(StyleChoice{CustomPrompt: "   "})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StageStyleChosen, verr.Stage)
	assert.Equal(t, StageBackgroundRemoved, st.Stage)

	_, err = h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryStudio})
	require.NoError(t, err)
	st, err = h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryAbstract})
	require.NoError(t, err)
	assert.Equal(t, catalog.CategoryAbstract, *st.SelectedStyle)
}

func TestOrchestrator_TerminalStage(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)
	_, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetHigh})
	require.NoError(t, err)

	_, err = h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetHigh})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryStudio})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.orch.SubmitForBackgroundRemoval(context.Background(), "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, h.orch.SubmitImage("again.png"), ErrValidation)
	assert.Equal(t, 1, h.synth.callCount())
}

func TestOrchestrator_Reset(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)

	require.NoError(t, h.orch.Reset())
	st := h.orch.Snapshot()
	assert.Equal(t, StageUpload, st.Stage)
	for _, stage := range Stages {
		assert.False(t, h.orch.IsStageComplete(stage), stage.String())
	}
	assert.True(t, h.orch.CanAdvanceTo(StageUpload))
	for _, stage := range Stages[1:] {
		assert.False(t, h.orch.CanAdvanceTo(stage), stage.String())
	}
}

func TestOrchestrator_TransientFailuresRetried(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)
	h.synth.errs = []error{
		TransientError(OpSynthesize, 503, errors.New("unavailable")),
		TransientError(OpSynthesize, 0, errors.New("timeout")),
	}

	st, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
	require.NoError(t, err)
	assert.Equal(t, StageSynthesized, st.Stage)
	assert.Equal(t, 3, h.synth.callCount())
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, h.delays)

	// Every attempt reuses the same task id so the provider charges once.
	ids := map[string]bool{}
	for _, r := range h.synth.requests {
		ids[r.TaskID] = true
	}
	assert.Len(t, ids, 1)
	assert.Equal(t, 3, h.calls[len(h.calls)-1].Attempts)
}

func TestOrchestrator_RetryExhaustedLeavesStage(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)
	transient := TransientError(OpSynthesize, 500, errors.New("boom"))
	h.synth.errs = []error{transient, transient, transient}

	st, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, StageStyleChosen, st.Stage)
	assert.Equal(t, "https://cdn.test/cutout.png", st.RemovedBgImageRef, "earlier artifacts untouched")
	assert.Equal(t, 3, h.synth.callCount())

	// The stage can be retried by calling the transition again.
	st, err = h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
	require.NoError(t, err)
	assert.Equal(t, StageSynthesized, st.Stage)
}

func TestOrchestrator_PermanentAndUnknownNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result SynthesisResult
		want   error
	}{
		{"permanent", PermanentError(OpSynthesize, 400, errors.New("bad model")), SynthesisResult{}, ErrProviderPermanent},
		{"nsfw", nil, SynthesisResult{ImageURL: "x.png", NSFW: true}, ErrProviderPermanent},
		{"missing url", nil, SynthesisResult{}, ErrUnknownProviderResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.toStyleChosen(t)
			h.synth.result = tt.result
			if tt.err != nil {
				h.synth.errs = []error{tt.err}
			}

			st, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, h.synth.callCount())
			assert.Equal(t, StageStyleChosen, st.Stage)
			assert.Empty(t, h.delays)
		})
	}
}

func TestOrchestrator_ReportsBilledCostOfFailedCalls(t *testing.T) {
	t.Run("flagged result", func(t *testing.T) {
		h := newHarness(t)
		h.toStyleChosen(t)
		h.synth.result = SynthesisResult{ImageURL: "x.png", NSFW: true, Cost: catalog.MustParseAmount("0.05")}

		st, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
		require.ErrorIs(t, err, ErrProviderPermanent)
		assert.Equal(t, catalog.MustParseAmount("0.05"), BilledCost(err))

		last := h.calls[len(h.calls)-1]
		assert.Equal(t, OpSynthesize, last.Op)
		assert.Equal(t, catalog.MustParseAmount("0.05"), last.Cost)
		assert.Equal(t, catalog.MustParseAmount("0.0006"), st.Cost, "state cost only counts delivered artifacts")
	})

	t.Run("adapter error with cost", func(t *testing.T) {
		h := newHarness(t)
		h.toStyleChosen(t)
		perr := PermanentError(OpSynthesize, 0, errors.New("flagged"))
		perr.Cost = catalog.MustParseAmount("0.05")
		h.synth.errs = []error{perr}

		_, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
		require.Error(t, err)
		assert.Equal(t, catalog.MustParseAmount("0.05"), h.calls[len(h.calls)-1].Cost)
	})

	t.Run("unbilled failure", func(t *testing.T) {
		h := newHarness(t)
		h.remover.errs = []error{PermanentError(OpRemoveBackground, 422, errors.New("unsupported image"))}

		_, err := h.orch.SubmitForBackgroundRemoval(context.Background(), "u.png")
		require.Error(t, err)
		require.Len(t, h.calls, 1)
		assert.Zero(t, h.calls[0].Cost)
	})
}

func TestOrchestrator_RemovalFailureKeepsUpload(t *testing.T) {
	h := newHarness(t)
	h.remover.errs = []error{PermanentError(OpRemoveBackground, 422, errors.New("unsupported image"))}

	st, err := h.orch.SubmitForBackgroundRemoval(context.Background(), "u.png")
	require.ErrorIs(t, err, ErrProviderPermanent)
	assert.Equal(t, StageUpload, st.Stage)
	assert.Equal(t, "u.png", st.UploadedImageRef)
	assert.Empty(t, st.RemovedBgImageRef)

	st, err = h.orch.SubmitForBackgroundRemoval(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StageBackgroundRemoved, st.Stage)
	assert.Equal(t, []string{"u.png", "u.png"}, h.remover.refs)
}

func TestOrchestrator_RejectsReentrantTransition(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)
	h.synth.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
		done <- err
	}()

	require.Eventually(t, func() bool { return h.synth.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.orch.InFlight())

	_, err := h.orch.ChooseStyle(StyleChoice{Category: catalog.CategoryStudio})
	assert.ErrorIs(t, err, ErrTransitionInFlight)
	assert.ErrorIs(t, h.orch.Reset(), ErrTransitionInFlight)
	_, err = h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
	assert.ErrorIs(t, err, ErrTransitionInFlight)

	// Queries stay available while the call is outstanding.
	assert.Equal(t, StageStyleChosen, h.orch.Snapshot().Stage)

	close(h.synth.block)
	require.NoError(t, <-done)
	assert.False(t, h.orch.InFlight())
}

func TestOrchestrator_CancelPropagatesToProvider(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)
	h.synth.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.GenerateBackground(ctx, GenerateOptions{BudgetTier: catalog.BudgetMedium})
		done <- err
	}()
	require.Eventually(t, func() bool { return h.synth.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("GenerateBackground did not return after cancel")
	}
	assert.Equal(t, 1, h.synth.callCount(), "cancelled calls are not retried")
	assert.Equal(t, StageStyleChosen, h.orch.Snapshot().Stage)
}

func TestOrchestrator_AutoComplexity(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Analyzer = fakeAnalyzer{signal: ComplexitySignal{Complexity: ComplexityHigh, Score: 0.4}}
	})
	h.toStyleChosen(t)

	_, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium, Complexity: "auto"})
	require.NoError(t, err)
	assert.Equal(t, 38, h.synth.requests[0].Steps)

	failing := newHarness(t, func(c *Config) {
		c.Analyzer = fakeAnalyzer{err: errors.New("decode failed")}
	})
	failing.toStyleChosen(t)
	_, err = failing.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: catalog.BudgetMedium})
	require.NoError(t, err)
	assert.Equal(t, 28, failing.synth.requests[0].Steps, "analyzer failure degrades to low")
}

func TestOrchestrator_InvalidOptions(t *testing.T) {
	h := newHarness(t)
	h.toStyleChosen(t)

	_, err := h.orch.GenerateBackground(context.Background(), GenerateOptions{BudgetTier: "gold"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.orch.GenerateBackground(context.Background(), GenerateOptions{QualityTier: "ultra", BudgetTier: catalog.BudgetHigh})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, h.synth.callCount())
}

func TestRestoreOrchestrator(t *testing.T) {
	cfg := Config{Catalog: catalog.Default(), Remover: &fakeRemover{}, Synthesizer: &fakeSynthesizer{}}

	saved := stateWith(3)
	orch, err := RestoreOrchestrator(cfg, saved)
	require.NoError(t, err)
	assert.Equal(t, StageStyleChosen, orch.Snapshot().Stage)

	_, err = RestoreOrchestrator(cfg, State{Stage: Stage(7)})
	assert.Error(t, err)
	_, err = NewOrchestrator(Config{Catalog: catalog.Default()})
	assert.Error(t, err)
}
