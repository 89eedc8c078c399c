package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"bgstudio/catalog"
	"bgstudio/db"
	"bgstudio/imagegen"
	"bgstudio/logging"
	"bgstudio/metrics"
	"bgstudio/pipeline"
)

// =============================================================================
// Collaborators
// =============================================================================

// Archive receives finished workflows and the provider spend audit log.
// *db.Repository implements it.
type Archive interface {
	SaveProcessedImage(ctx context.Context, img db.ProcessedImage) (int64, error)
	RecordProviderCall(ctx context.Context, call db.ProviderCall) error
}

// ImageArchiver copies a final image to local storage. *imagegen.Downloader
// implements it.
type ImageArchiver interface {
	Download(ctx context.Context, url, filename string) (*imagegen.DownloadResult, error)
}

// Tracker registers in-flight transitions so shutdown can wait for them.
// *shutdown.OperationTracker implements it.
type Tracker interface {
	Begin(name string) (func(), error)
}

// CallRecorder receives every provider call for live metrics.
// *metrics.Store implements it.
type CallRecorder interface {
	RecordCall(rec metrics.CallRecord)
}

// =============================================================================
// Configuration
// =============================================================================

// Config wires a Manager.
type Config struct {
	Catalog     *catalog.Catalog
	Remover     pipeline.BackgroundRemover
	Synthesizer pipeline.Synthesizer
	Analyzer    pipeline.ComplexityAnalyzer
	Retry       pipeline.RetryPolicy

	// RemoverName and SynthesizerName label provider calls in the audit log.
	RemoverName     string
	SynthesizerName string

	// Store is required.
	Store StateStore

	// Archive, Images, Tracker and Metrics are optional.
	Archive Archive
	Images  ImageArchiver
	Tracker Tracker
	Metrics CallRecorder

	// ProcessingTimeout bounds each provider-backed transition. Zero means
	// only the caller's context applies.
	ProcessingTimeout time.Duration

	// IdleTimeout evicts a workflow nobody has touched for this long, from
	// memory and from the store. Zero keeps workflows until they finish or
	// are aborted.
	IdleTimeout time.Duration

	Logger *logging.Logger

	// NewID and Now are overridable for tests.
	NewID func() string
	Now   func() time.Time
}

// =============================================================================
// Manager
// =============================================================================

// Manager owns one pipeline.Orchestrator per workflow.
//
// Example:
//
//	m, _ := workflow.NewManager(cfg)
//	rec, _ := m.Create(ctx, "user-1", "https://cdn.example.com/mug.png")
//	rec, _ = m.RemoveBackground(ctx, rec.ID, "")
//	rec, _ = m.ChooseStyle(ctx, rec.ID, pipeline.StyleChoice{Category: catalog.CategoryOffice})
//	rec, _ = m.Generate(ctx, rec.ID, pipeline.GenerateOptions{BudgetTier: catalog.BudgetMedium})
//	fmt.Println(rec.State.Final())
type Manager struct {
	cfg    Config
	logger *logging.Logger

	restores singleflight.Group

	mu     sync.Mutex
	active map[string]*entry
}

type entry struct {
	id        string
	userID    string
	createdAt time.Time
	orch      *pipeline.Orchestrator

	mu         sync.Mutex
	cancel     context.CancelFunc
	aborted    bool
	lastActive time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("workflow: catalog is required")
	}
	if cfg.Remover == nil || cfg.Synthesizer == nil {
		return nil, errors.New("workflow: remover and synthesizer are required")
	}
	if cfg.Store == nil {
		return nil, errors.New("workflow: state store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.Named("workflow"),
		active: make(map[string]*entry),
	}, nil
}

// Create starts a workflow for userID and records imageRef as its upload.
func (m *Manager) Create(ctx context.Context, userID, imageRef string) (Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Record{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(imageRef) == "" {
		return Record{}, fmt.Errorf("%w: imageRef is required", ErrInvalidInput)
	}

	now := m.cfg.Now()
	e := &entry{
		id:         m.cfg.NewID(),
		userID:     userID,
		createdAt:  now,
		lastActive: now,
	}
	orch, err := pipeline.NewOrchestrator(m.orchestratorConfig(e.id))
	if err != nil {
		return Record{}, err
	}
	e.orch = orch

	if err := orch.SubmitImage(imageRef); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	m.active[e.id] = e
	m.mu.Unlock()

	rec := e.record()
	m.save(ctx, rec)
	m.logger.Info("workflow created", logging.WorkflowID(e.id), logging.UserID(userID))
	return rec, nil
}

// Get returns the current snapshot of a workflow.
func (m *Manager) Get(ctx context.Context, id string) (Record, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return e.record(), nil
}

// RemoveBackground runs the background-removal transition. A non-empty
// imageRef replaces the uploaded image first.
func (m *Manager) RemoveBackground(ctx context.Context, id, imageRef string) (Record, error) {
	return m.transition(ctx, id, pipeline.OpRemoveBackground, func(ctx context.Context, o *pipeline.Orchestrator) error {
		_, err := o.SubmitForBackgroundRemoval(ctx, imageRef)
		return err
	})
}

// ChooseStyle records the style choice.
func (m *Manager) ChooseStyle(ctx context.Context, id string, choice pipeline.StyleChoice) (Record, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if _, err := e.orch.ChooseStyle(choice); err != nil {
		return e.record(), err
	}
	return m.commit(ctx, e)
}

// Generate runs the synthesis transition. On success the workflow is
// archived and forgotten: later lookups return ErrNotFound.
func (m *Manager) Generate(ctx context.Context, id string, opts pipeline.GenerateOptions) (Record, error) {
	rec, err := m.transition(ctx, id, pipeline.OpSynthesize, func(ctx context.Context, o *pipeline.Orchestrator) error {
		_, err := o.GenerateBackground(ctx, opts)
		return err
	})
	if err != nil {
		return rec, err
	}

	if m.archive(ctx, rec) {
		m.discard(ctx, id)
	}
	return rec, nil
}

// Reset returns the workflow to a fresh Upload state.
func (m *Manager) Reset(ctx context.Context, id string) (Record, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if err := e.orch.Reset(); err != nil {
		return e.record(), err
	}
	rec, err := m.commit(ctx, e)
	if err != nil {
		return rec, err
	}
	m.logger.Info("workflow reset", logging.WorkflowID(id))
	return rec, nil
}

// Abort cancels any in-flight provider call and forgets the workflow.
func (m *Manager) Abort(ctx context.Context, id string) error {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.aborted = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	m.discard(ctx, id)
	m.logger.Info("workflow aborted", logging.WorkflowID(id))
	return nil
}

// ActiveCount returns the number of workflows held in memory.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Ping checks the state store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.cfg.Store.Ping(ctx)
}

// Flush saves every in-memory workflow to the store so a restart can
// resume them. It matches core.ShutdownFunc.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := m.cfg.Store.Save(ctx, e.record()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Debug("workflows flushed", zap.Int("count", len(entries)))
	return nil
}

// EvictIdle forgets every workflow idle for longer than IdleTimeout and
// returns how many were evicted. Workflows with a provider call in flight
// are kept.
func (m *Manager) EvictIdle(ctx context.Context) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	evicted := 0
	for _, e := range entries {
		if m.evictIfIdle(ctx, e) {
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("idle workflows evicted", zap.Int("count", evicted))
	}
	return evicted
}

// RunEvictor calls EvictIdle every interval until ctx is done.
//
// Example:
//
//	go manager.RunEvictor(ctx, time.Minute)
func (m *Manager) RunEvictor(ctx context.Context, interval time.Duration) {
	if m.cfg.IdleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle(ctx)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

// evictIfIdle discards e when it has been idle for longer than
// IdleTimeout. It marks the entry aborted so a transition that looked it
// up earlier cannot write it back.
func (m *Manager) evictIfIdle(ctx context.Context, e *entry) bool {
	if m.cfg.IdleTimeout <= 0 || e.orch.InFlight() {
		return false
	}
	e.mu.Lock()
	if e.aborted || m.cfg.Now().Sub(e.lastActive) <= m.cfg.IdleTimeout {
		e.mu.Unlock()
		return false
	}
	e.aborted = true
	e.mu.Unlock()

	m.discard(ctx, e.id)
	m.logger.Info("workflow expired", logging.WorkflowID(e.id))
	return true
}

func (e *entry) record() Record {
	return Record{
		ID:        e.id,
		UserID:    e.userID,
		State:     e.orch.Snapshot(),
		CreatedAt: e.createdAt,
	}
}

func (m *Manager) transition(ctx context.Context, id, op string, fn func(context.Context, *pipeline.Orchestrator) error) (Record, error) {
	return m.transitionEntry(ctx, id, op, func(ctx context.Context, e *entry) error {
		return fn(ctx, e.orch)
	})
}

// transitionEntry runs a provider-backed transition under the tracker, the
// processing timeout and the workflow's abort handle, then saves the
// snapshot whatever the outcome.
func (m *Manager) transitionEntry(ctx context.Context, id, op string, fn func(context.Context, *entry) error) (Record, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if e.orch.InFlight() {
		return e.record(), pipeline.ErrTransitionInFlight
	}

	if m.cfg.Tracker != nil {
		done, err := m.cfg.Tracker.Begin(id + "/" + op)
		if err != nil {
			return e.record(), err
		}
		defer done()
	}

	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if m.cfg.ProcessingTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, m.cfg.ProcessingTimeout)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	err = fn(opCtx, e)
	rec, commitErr := m.commit(ctx, e)
	if commitErr != nil {
		return rec, commitErr
	}
	return rec, err
}

// commit saves the entry's snapshot unless the workflow was aborted in the
// meantime. The save runs under the entry lock so an Abort cannot delete
// the snapshot between the check and the write.
func (m *Manager) commit(ctx context.Context, e *entry) (Record, error) {
	rec := e.record()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return rec, fmt.Errorf("%w: workflow %s was aborted", ErrNotFound, e.id)
	}
	e.lastActive = m.cfg.Now()
	m.save(ctx, rec)
	return rec, nil
}

// lookup returns the in-memory entry or restores it from the store.
// Concurrent misses for the same id share one restore.
func (m *Manager) lookup(ctx context.Context, id string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		if m.evictIfIdle(ctx, e) {
			return nil, fmt.Errorf("%w: workflow %s expired", ErrNotFound, id)
		}
		return e, nil
	}

	v, err, _ := m.restores.Do(id, func() (any, error) {
		m.mu.Lock()
		if e, ok := m.active[id]; ok {
			m.mu.Unlock()
			return e, nil
		}
		m.mu.Unlock()

		rec, err := m.cfg.Store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		orch, err := pipeline.RestoreOrchestrator(m.orchestratorConfig(id), rec.State)
		if err != nil {
			return nil, err
		}
		e := &entry{id: id, userID: rec.UserID, createdAt: rec.CreatedAt, orch: orch, lastActive: m.cfg.Now()}

		m.mu.Lock()
		m.active[id] = e
		m.mu.Unlock()
		m.logger.Info("workflow restored", logging.WorkflowID(id), logging.Stage(rec.State.Stage.String()))
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (m *Manager) orchestratorConfig(id string) pipeline.Config {
	return pipeline.Config{
		Catalog:        m.cfg.Catalog,
		Remover:        m.cfg.Remover,
		Synthesizer:    m.cfg.Synthesizer,
		Analyzer:       m.cfg.Analyzer,
		Retry:          m.cfg.Retry,
		Logger:         m.cfg.Logger.With(logging.WorkflowID(id)),
		OnProviderCall: m.auditor(id),
		Now:            m.cfg.Now,
	}
}

// auditor forwards provider calls to the archive's spend log and the
// metrics recorder.
func (m *Manager) auditor(id string) func(pipeline.ProviderCall) {
	if m.cfg.Archive == nil && m.cfg.Metrics == nil {
		return nil
	}
	return func(call pipeline.ProviderCall) {
		provider := m.cfg.SynthesizerName
		if call.Op == pipeline.OpRemoveBackground {
			provider = m.cfg.RemoverName
		}
		now := m.cfg.Now()
		var errMsg string
		if call.Err != nil {
			errMsg = logging.RedactSensitiveData(call.Err.Error())
		}

		if m.cfg.Metrics != nil {
			status := metrics.CallStatusSuccess
			if call.Err != nil {
				status = metrics.CallStatusError
			}
			m.cfg.Metrics.RecordCall(metrics.CallRecord{
				TaskID:     call.TaskID,
				WorkflowID: id,
				Provider:   provider,
				Operation:  call.Op,
				ModelID:    call.ModelID,
				Status:     status,
				Cost:       call.Cost,
				Attempts:   call.Attempts,
				Duration:   call.Duration,
				ErrorMsg:   errMsg,
				At:         now,
			})
		}

		if m.cfg.Archive == nil {
			return
		}
		row := db.ProviderCall{
			TaskID:       call.TaskID,
			WorkflowID:   id,
			Provider:     provider,
			Operation:    call.Op,
			ModelID:      call.ModelID,
			Cost:         call.Cost,
			Attempts:     call.Attempts,
			Duration:     call.Duration,
			Status:       db.CallSucceeded,
			ErrorMessage: errMsg,
			CreatedAt:    now,
		}
		if call.Err != nil {
			row.Status = db.CallFailed
		}
		if err := m.cfg.Archive.RecordProviderCall(context.Background(), row); err != nil {
			m.logger.Warn("failed to record provider call",
				logging.WorkflowID(id),
				logging.TaskID(call.TaskID),
				zap.Error(err),
			)
		}
	}
}

// archive hands a synthesized workflow to the archive. It reports whether
// the workflow can be discarded.
func (m *Manager) archive(ctx context.Context, rec Record) bool {
	if m.cfg.Archive == nil {
		return true
	}
	st := rec.State
	img := db.ProcessedImage{
		WorkflowID:        rec.ID,
		UserID:            rec.UserID,
		UploadedImageRef:  st.UploadedImageRef,
		RemovedBgImageRef: st.RemovedBgImageRef,
		FinalImageRef:     st.Final(),
		ModelID:           st.ModelID,
		Cost:              st.Cost,
		CreatedAt:         m.cfg.Now(),
	}
	if st.SelectedStyle != nil {
		img.Category = string(*st.SelectedStyle)
	}
	if st.CustomPrompt != nil {
		img.CustomPrompt = *st.CustomPrompt
	}

	if m.cfg.Images != nil {
		res, err := m.cfg.Images.Download(ctx, st.Final(), rec.ID)
		if err != nil {
			m.logger.Warn("failed to archive final image", logging.WorkflowID(rec.ID), zap.Error(err))
		} else {
			img.ArchivedPath = res.Path
		}
	}

	if _, err := m.cfg.Archive.SaveProcessedImage(ctx, img); err != nil {
		m.logger.Error("failed to save processed image, keeping workflow",
			logging.WorkflowID(rec.ID),
			zap.Error(err),
		)
		return false
	}
	m.logger.Info("workflow archived",
		logging.WorkflowID(rec.ID),
		logging.UserID(rec.UserID),
		logging.Cost(st.Cost.String()),
	)
	return true
}

func (m *Manager) save(ctx context.Context, rec Record) {
	if err := m.cfg.Store.Save(ctx, rec); err != nil {
		m.logger.Warn("failed to save workflow snapshot", logging.WorkflowID(rec.ID), zap.Error(err))
	}
}

func (m *Manager) discard(ctx context.Context, id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	if err := m.cfg.Store.Delete(ctx, id); err != nil {
		m.logger.Warn("failed to delete workflow snapshot", logging.WorkflowID(id), zap.Error(err))
	}
}
