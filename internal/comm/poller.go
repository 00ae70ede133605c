package comm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Default poller settings.
const (
	// DefaultTimeout bounds one request/response exchange.
	DefaultTimeout = 2 * time.Second

	// DefaultFailThreshold is the consecutive comm faults before a
	// controller is marked comm-failed.
	DefaultFailThreshold = 3

	// DefaultProbeInterval is how often a comm-failed controller admits an
	// operation to test for recovery.
	DefaultProbeInterval = 30 * time.Second

	// DefaultContentionDelay is how long an operation that found its device
	// busy waits before it is queued again.
	DefaultContentionDelay = time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// PollerConfig holds the settings of one link poller.
type PollerConfig struct {
	// Link is the link name used in logs, events and metrics.
	Link string

	// Timeout bounds each exchange. Default: 2 seconds.
	Timeout time.Duration

	// Retries is the retry budget of operations that did not set one.
	Retries int

	// FailThreshold is the consecutive comm faults that mark a controller
	// comm-failed. Default: 3.
	FailThreshold int

	// ProbeInterval spaces recovery probes to a comm-failed controller.
	// Default: 30 seconds.
	ProbeInterval time.Duration

	// ContentionDelay defers the requeue of an operation after a contention
	// fault. Default: 1 second.
	ContentionDelay time.Duration

	// Coalesce is the optional queue admission policy.
	Coalesce CoalesceFunc
}

// PollerStats is a snapshot of poller activity.
type PollerStats struct {
	Link         string    `json:"link"`
	Queued       int       `json:"queued"`
	Deferred     int       `json:"deferred"`
	Busy         bool      `json:"busy"`
	Current      string    `json:"current,omitempty"`
	Completed    uint64    `json:"completed"`
	Failed       uint64    `json:"failed"`
	Retries      uint64    `json:"retries"`
	Requeued     uint64    `json:"requeued"`
	LastActivity time.Time `json:"last_activity,omitzero"`
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithLogger sets the poller logger.
func WithLogger(l Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics collaborator.
func WithMetrics(m Metrics) PollerOption {
	return func(p *Poller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithEventSink sets the event sink.
func WithEventSink(s EventSink) PollerOption {
	return func(p *Poller) {
		if s != nil {
			p.sink = s
		}
	}
}

// Poller services the operation queue of one link. It runs exactly one
// operation at a time, highest priority first and FIFO within a priority.
//
// Thread Safety:
//   - Enqueue, Stats and Stop are safe for concurrent use.
type Poller struct {
	cfg     PollerConfig
	session Session
	framer  Framer
	queue   *queue

	logger  Logger
	metrics Metrics
	sink    EventSink

	ctrlMu      sync.RWMutex
	controllers []*Controller

	// operations waiting out a contention delay
	deferMu  sync.Mutex
	deferred map[*Operation]*time.Timer

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	busy         atomic.Bool
	current      atomic.Pointer[Operation]
	completed    atomic.Uint64
	failed       atomic.Uint64
	retries      atomic.Uint64
	requeued     atomic.Uint64
	lastActivity atomic.Int64
	worked       bool
}

// NewPoller creates a poller for one link. Call Start to begin servicing.
func NewPoller(cfg PollerConfig, session Session, framer Framer, opts ...PollerOption) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = DefaultFailThreshold
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ContentionDelay <= 0 {
		cfg.ContentionDelay = DefaultContentionDelay
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	p := &Poller{
		cfg:      cfg,
		session:  session,
		framer:   framer,
		queue:    newQueue(cfg.Coalesce),
		deferred: make(map[*Operation]*time.Timer),
		logger:   nopLogger{},
		metrics:  &LiveCounter{},
		sink:     nopSink{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Link returns the link name.
func (p *Poller) Link() string {
	return p.cfg.Link
}

// AddController attaches a controller to the link.
func (p *Poller) AddController(c *Controller) {
	p.ctrlMu.Lock()
	p.controllers = append(p.controllers, c)
	p.ctrlMu.Unlock()
}

// Controllers returns the attached controllers.
func (p *Poller) Controllers() []*Controller {
	p.ctrlMu.RLock()
	defer p.ctrlMu.RUnlock()
	out := make([]*Controller, len(p.controllers))
	copy(out, p.controllers)
	return out
}

// Controller looks an attached controller up by name.
func (p *Poller) Controller(name string) (*Controller, bool) {
	p.ctrlMu.RLock()
	defer p.ctrlMu.RUnlock()
	for _, c := range p.controllers {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Start launches the poller goroutine. It stops when ctx is cancelled or
// Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Info("poller started", "timeout", p.cfg.Timeout.String(), "retries", p.cfg.Retries)
}

// Enqueue adds an operation to the queue. Operations superseded by the
// coalescing policy are failed and cleaned up.
func (p *Poller) Enqueue(op *Operation) error {
	if op.Controller() == nil {
		return ErrNilController
	}
	superseded, err := p.queue.push(op)
	if err != nil {
		return err
	}
	for _, s := range superseded {
		p.logger.Debug("operation superseded", "op", s.String())
		s.SetFailed()
		p.finish(s, time.Now())
	}
	return nil
}

// Stop closes the queue, waits for the running operation, and fails every
// operation still queued. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.queue.close()
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()

		pending := append(p.queue.drain(), p.takeDeferred(nil)...)
		for _, op := range pending {
			op.SetFailed()
			p.finish(op, time.Now())
		}
		if err := p.session.Close(); err != nil {
			p.logger.Warn("closing session", "error", err)
		}
		p.logger.Info("poller stopped")
	})
}

// Stats returns a snapshot of poller activity.
func (p *Poller) Stats() PollerStats {
	s := PollerStats{
		Link:      p.cfg.Link,
		Queued:    p.queue.len(),
		Deferred:  p.deferredLen(),
		Busy:      p.busy.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Retries:   p.retries.Load(),
		Requeued:  p.requeued.Load(),
	}
	if op := p.current.Load(); op != nil {
		s.Current = op.String()
	}
	if ts := p.lastActivity.Load(); ts != 0 {
		s.LastActivity = time.Unix(0, ts)
	}
	return s
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		op, err := p.queue.pop(ctx)
		if err != nil {
			return
		}
		p.service(ctx, op)

		if p.worked && p.queue.len() == 0 && p.deferredLen() == 0 {
			p.worked = false
			p.emit(NewEvent(EventQueueDrained, p.cfg.Link))
		}
	}
}

// service drives op until it is done or requeued.
func (p *Poller) service(ctx context.Context, op *Operation) {
	ctrl := op.Controller()
	start := time.Now()
	p.worked = true

	if !op.Begun() && !ctrl.allowProbe(p.cfg.ProbeInterval, start) {
		p.logger.Debug("controller comm failed, failing operation",
			"op", op.String(), "controller", ctrl.Name())
		op.SetFailed()
		p.finish(op, start)
		return
	}

	op.applyDefaultRetries(p.cfg.Retries)
	if op.Begin() {
		live := p.metrics.OperationBegun(p.cfg.Link)
		p.logger.Debug("begin", "op", op.String(), "controller", ctrl.Name(),
			"priority", op.Priority().String(), "live_ops", live)
	}

	p.busy.Store(true)
	p.current.Store(op)
	defer func() {
		p.current.Store(nil)
		p.busy.Store(false)
		p.lastActivity.Store(time.Now().UnixNano())
	}()

	for !op.IsDone() {
		p.awaitSession(ctx)
		if ctx.Err() != nil {
			op.SetFailed()
			break
		}

		msg := NewMessage(p.session, p.framer, ctrl, p.cfg.Timeout)
		err := op.Poll(ctx, msg)
		if err == nil {
			if ctrl.recordSuccess(time.Now()) {
				p.restored(ctrl)
			}
			continue
		}

		if ctx.Err() != nil {
			op.SetFailed()
			break
		}

		if p.handleFault(op, AsFault(err)) {
			return
		}
	}

	p.finish(op, start)
}

// awaitSession blocks while the session waits out a reconnect backoff.
func (p *Poller) awaitSession(ctx context.Context) {
	w, ok := p.session.(Waiter)
	if !ok {
		return
	}
	if err := w.WaitReady(ctx); err != nil && ctx.Err() == nil {
		p.logger.Debug("session not ready", "error", err)
	}
}

// handleFault applies the fault policy. It returns true if op was requeued.
func (p *Poller) handleFault(op *Operation, f *Fault) bool {
	ctrl := op.Controller()
	now := time.Now()
	p.metrics.FaultObserved(p.cfg.Link, f.Kind)

	switch f.Kind {
	case FaultContention:
		if !p.requeueLater(op) {
			op.SetFailed()
			return false
		}
		p.requeued.Add(1)
		p.logger.Debug("operation requeued", "op", op.String(), "reason", f.Msg,
			"delay", p.cfg.ContentionDelay.String())
		return true

	case FaultProtocol:
		ctrl.recordFault(f, p.cfg.FailThreshold, now)
		if ctrl.recordSuccess(now) {
			p.restored(ctrl)
		}
		ctrl.SetErrorStatus(f.Msg)
		op.SetErrorStatus(f.Msg)
		p.emitFault(f, op)
		p.logger.Warn("controller error", "op", op.String(), "controller", ctrl.Name(), "status", f.Msg)
		return false
	}

	escalated := ctrl.recordFault(f, p.cfg.FailThreshold, now)
	p.emitFault(f, op)
	p.logger.Debug("comm fault", "op", op.String(), "controller", ctrl.Name(), "error", f.Error())

	if f.Kind == FaultTransport {
		p.session.Drop()
	}

	op.HandleCommError(f)
	if !op.IsDone() {
		p.retries.Add(1)
	}

	if escalated {
		op.SetFailed()
		p.commFailed(ctrl)
	}
	return false
}

// commFailed fails every queued operation against ctrl.
func (p *Poller) commFailed(ctrl *Controller) {
	ev := NewEvent(EventCommFailed, p.cfg.Link)
	ev.Controller = ctrl.Name()
	p.emit(ev)

	against := func(op *Operation) bool {
		return op.Controller() == ctrl
	}
	pending := append(p.queue.removeIf(against), p.takeDeferred(against)...)
	p.logger.Warn("controller comm failed", "controller", ctrl.Name(), "failed_pending", len(pending))
	for _, op := range pending {
		op.SetFailed()
		p.finish(op, time.Now())
	}
}

// requeueLater queues op again after the contention delay. It returns false
// once the poller is stopping.
func (p *Poller) requeueLater(op *Operation) bool {
	if p.queue.isClosed() {
		return false
	}

	p.deferMu.Lock()
	defer p.deferMu.Unlock()
	p.deferred[op] = time.AfterFunc(p.cfg.ContentionDelay, func() {
		p.deferMu.Lock()
		_, ok := p.deferred[op]
		delete(p.deferred, op)
		p.deferMu.Unlock()
		if !ok {
			return
		}

		if err := p.Enqueue(op); err != nil {
			p.logger.Debug("requeue failed", "op", op.String(), "error", err)
			op.SetFailed()
			p.finish(op, time.Now())
		}
	})
	return true
}

// takeDeferred cancels the delayed requeue of every deferred operation
// matching match, or of all of them when match is nil.
func (p *Poller) takeDeferred(match func(*Operation) bool) []*Operation {
	p.deferMu.Lock()
	defer p.deferMu.Unlock()

	var out []*Operation
	for op, timer := range p.deferred {
		if match != nil && !match(op) {
			continue
		}
		timer.Stop()
		delete(p.deferred, op)
		out = append(out, op)
	}
	return out
}

func (p *Poller) deferredLen() int {
	p.deferMu.Lock()
	defer p.deferMu.Unlock()
	return len(p.deferred)
}

func (p *Poller) restored(ctrl *Controller) {
	ev := NewEvent(EventCommRestored, p.cfg.Link)
	ev.Controller = ctrl.Name()
	p.emit(ev)
	p.logger.Info("controller comm restored", "controller", ctrl.Name())
}

// finish runs cleanup and records the outcome.
func (p *Poller) finish(op *Operation, start time.Time) {
	op.Cleanup()

	success := op.IsSuccess()
	if success {
		p.completed.Add(1)
	} else {
		p.failed.Add(1)
	}

	if op.Begun() {
		live := p.metrics.OperationCleaned(p.cfg.Link, op.Description(), success, time.Since(start))
		p.logger.Debug("cleanup", "op", op.Description(), "controller", op.Controller().Name(),
			"success", success, "live_ops", live)
	}
}

func (p *Poller) emitFault(f *Fault, op *Operation) {
	ev := NewEvent(f.EventType(), p.cfg.Link)
	ev.Controller = op.Controller().Name()
	ev.Operation = op.Description()
	ev.Detail = f.Error()
	p.emit(ev)
}

func (p *Poller) emit(ev Event) {
	p.sink.Emit(ev)
}
