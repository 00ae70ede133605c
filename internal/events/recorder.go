package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

const (
	defaultRecorderBuffer = 256
	recorderBatch         = 64
	recorderFlushEvery    = time.Second
	recorderWriteTimeout  = 5 * time.Second
)

// Logger is the logging subset used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// EventWriter persists batches of events. *Store implements it.
type EventWriter interface {
	Insert(ctx context.Context, evs ...comm.Event) error
}

// Recorder writes emitted events to an EventWriter in batches, off the
// poller goroutines.
//
// Thread Safety:
//   - Emit is safe for concurrent use. Start and Stop are called once.
type Recorder struct {
	w      EventWriter
	logger Logger
	in     chan comm.Event

	dropped atomic.Uint64
	written atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewRecorder creates a recorder with room for buffer pending events
// (default 256 when buffer <= 0).
func NewRecorder(w EventWriter, buffer int, logger Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Recorder{
		w:      w,
		logger: logger,
		in:     make(chan comm.Event, buffer),
		done:   make(chan struct{}),
	}
}

var _ comm.EventSink = (*Recorder)(nil)

// Emit queues ev. When the queue is full the event is dropped and counted.
func (r *Recorder) Emit(ev comm.Event) {
	select {
	case r.in <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop writes the events still queued and waits for the writer to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of events persisted.
func (r *Recorder) Written() uint64 { return r.written.Load() }

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(recorderFlushEvery)
	defer ticker.Stop()

	batch := make([]comm.Event, 0, recorderBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recorderWriteTimeout)
		defer cancel()
		if err := r.w.Insert(wctx, batch...); err != nil {
			r.logger.Error("failed to record comm events", "count", len(batch), "error", err)
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-r.in:
			batch = append(batch, ev)
			if len(batch) >= recorderBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			r.drain(&batch)
			flush()
			return
		case <-r.done:
			r.drain(&batch)
			flush()
			return
		}
	}
}

func (r *Recorder) drain(batch *[]comm.Event) {
	for {
		select {
		case ev := <-r.in:
			*batch = append(*batch, ev)
		default:
			return
		}
	}
}
