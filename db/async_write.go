package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"bgstudio/logging"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout bounds how long Stop waits for queued writes.
const DefaultDrainTimeout = 30 * time.Second

// WriteOperation is one queued write. Data carries the payload the handler
// understands; Timestamp records when Write queued it.
type WriteOperation struct {
	Data      any
	Timestamp time.Time
}

// WriteHandler performs a queued write.
// It runs on the writer goroutine, one operation at a time.
type WriteHandler func(ctx context.Context, op WriteOperation) error

// AsyncWriter moves audit writes off the request path: provider calls are
// queued on a buffered channel and written by one background goroutine.
// Handler errors are logged, never returned to the writer.
//
// Usage:
//
//	w := db.NewAsyncWriter(repo.AsyncWriteHandler())
//	w.Start()
//	repo.SetAsyncWriter(w)
//	defer w.Stop(ctx)
//	if !w.Write(record) {
//	    // buffer full: write inline
//	}
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	logger    *logging.Logger

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool
}

// AsyncWriterConfig holds configuration for the async writer.
type AsyncWriterConfig struct {
	ChannelCapacity int
	Logger          *logging.Logger
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{ChannelCapacity: DefaultChannelCapacity}
}

// NewAsyncWriter creates a writer with the default configuration.
func NewAsyncWriter(handler WriteHandler) *AsyncWriter {
	return NewAsyncWriterWithConfig(handler, DefaultAsyncWriterConfig())
}

// NewAsyncWriterWithConfig creates a writer. Call Start before Write.
func NewAsyncWriterWithConfig(handler WriteHandler, config AsyncWriterConfig) *AsyncWriter {
	capacity := config.ChannelCapacity
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, capacity),
		handler:   handler,
		logger:    logger.Named("async_writer"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Extra calls are no-ops.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case op := <-w.writeChan:
			w.handle(op)
		}
	}
}

// drain writes whatever is still buffered after Stop.
func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.writeChan:
			w.handle(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handle(op WriteOperation) {
	// Queued writes outlive the writer context so the drain can finish.
	if err := w.handler(context.Background(), op); err != nil {
		w.logger.Warn("async write failed",
			zap.Error(err),
			zap.Duration("queued_for", time.Since(op.Timestamp)),
		)
	}
}

// Write queues data without blocking. It returns false when the buffer is
// full or the writer has been stopped; the caller may then write inline.
func (w *AsyncWriter) Write(data any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return false
	}
	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued writes.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// IsStarted reports whether the background goroutine is running.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

// Stop refuses new writes, drains the buffer and waits for the goroutine,
// or until ctx is done.
func (w *AsyncWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
