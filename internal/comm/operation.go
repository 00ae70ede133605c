package comm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// retriesFromLink marks an operation whose retry budget comes from its link.
const retriesFromLink = -1

// Operation is a multi-phase protocol exchange with one controller.
//
// The current phase is nil exactly when the operation is done. Phase
// transitions and the terminal SetFailed/SetSucceeded calls share one mutex,
// so a phase result that arrives after the operation was failed is
// discarded.
//
// Thread Safety:
//   - SetFailed, SetSucceeded, SetPriority and the accessors are safe for
//     concurrent use.
//   - Begin, Poll and Cleanup are called only by the link poller.
type Operation struct {
	id         uuid.UUID
	desc       string
	key        string
	created    time.Time
	controller *Controller
	phaseOne   func() Phase

	onCleanup   []func(*Operation)
	onCommError func(*Operation, *Fault)

	mu       sync.Mutex
	priority Priority
	phase    Phase
	success  bool
	begun    bool
	retries  int
	attempts int
	errMsg   string

	cleanupOnce sync.Once

	// queue bookkeeping, guarded by the owning queue's lock
	queued atomic.Pointer[queue]
	seq    uint64
	index  int
}

// OperationOption configures an Operation.
type OperationOption func(*Operation)

// WithCleanup registers a hook run once after the operation is done.
// Hooks run in the order they were registered.
func WithCleanup(fn func(op *Operation)) OperationOption {
	return func(op *Operation) {
		op.onCleanup = append(op.onCleanup, fn)
	}
}

// WithCommErrorHandler replaces the default comm error handling. The handler
// may retry (leave the operation as is), fall back with SetPhase, or fail it.
func WithCommErrorHandler(fn func(op *Operation, f *Fault)) OperationOption {
	return func(op *Operation) {
		op.onCommError = fn
	}
}

// WithRetries sets the retry budget for comm faults. Without it the link's
// configured budget applies.
func WithRetries(n int) OperationOption {
	return func(op *Operation) {
		if n < 0 {
			n = 0
		}
		op.retries = n
	}
}

// WithPriority sets the initial priority in place of the operation's
// default. Unlike SetPriority it may lower it.
func WithPriority(p Priority) OperationOption {
	return func(op *Operation) {
		op.priority = p
	}
}

// WithKey sets the coalescing key used by queue policies.
func WithKey(key string) OperationOption {
	return func(op *Operation) {
		op.key = key
	}
}

// NewOperation creates a pending operation. phaseOne is called by Begin, not
// here, so subtype state set after construction is visible to it.
func NewOperation(prio Priority, ctrl *Controller, desc string, phaseOne func() Phase, opts ...OperationOption) *Operation {
	op := &Operation{
		id:         uuid.New(),
		desc:       desc,
		created:    time.Now(),
		controller: ctrl,
		phaseOne:   phaseOne,
		priority:   prio,
		phase:      pendingPhase{},
		success:    true,
		retries:    retriesFromLink,
		index:      -1,
	}
	for _, opt := range opts {
		opt(op)
	}
	return op
}

// ID returns the operation's unique identifier.
func (op *Operation) ID() uuid.UUID {
	return op.id
}

// Key returns the coalescing key, or "" when none was set.
func (op *Operation) Key() string {
	return op.key
}

// Description returns the human-readable operation name.
func (op *Operation) Description() string {
	return op.desc
}

// Controller returns the controller the operation talks to.
func (op *Operation) Controller() *Controller {
	return op.controller
}

// Created returns the construction time.
func (op *Operation) Created() time.Time {
	return op.created
}

// Priority returns the current priority.
func (op *Operation) Priority() Priority {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.priority
}

// SetPriority raises the priority. A less or equally urgent value is
// ignored. A queued operation is re-sorted immediately.
func (op *Operation) SetPriority(p Priority) {
	op.mu.Lock()
	changed := p.MoreUrgent(op.priority)
	if changed {
		op.priority = p
	}
	op.mu.Unlock()

	if changed {
		if q := op.queued.Load(); q != nil {
			q.fix(op)
		}
	}
}

// Begin builds the first phase. It returns true only on the call that
// actually began the operation; an operation failed before Begin stays done.
func (op *Operation) Begin() bool {
	op.mu.Lock()
	if op.begun {
		op.mu.Unlock()
		return false
	}
	op.begun = true
	pending := op.phase != nil
	op.mu.Unlock()

	if !pending {
		return true
	}

	var first Phase
	if op.phaseOne != nil {
		first = op.phaseOne()
	}

	op.mu.Lock()
	if op.phase != nil {
		op.phase = first
	}
	op.mu.Unlock()
	return true
}

// Begun reports whether Begin has been called.
func (op *Operation) Begun() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.begun
}

// Poll runs the current phase once. On success the returned phase becomes
// current unless the operation was made terminal meanwhile. On error the
// phase is kept.
func (op *Operation) Poll(ctx context.Context, msg *Message) error {
	op.mu.Lock()
	p := op.phase
	op.mu.Unlock()

	if p == nil {
		return nil
	}

	next, err := p.Poll(ctx, msg)
	if err != nil {
		return err
	}

	op.mu.Lock()
	if op.phase != nil {
		op.phase = next
	}
	op.mu.Unlock()
	return nil
}

// SetPhase replaces the current phase, for example to fall back after a
// fault. It has no effect once the operation is done.
func (op *Operation) SetPhase(p Phase) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.phase != nil {
		op.phase = p
	}
}

// SetFailed marks the operation failed and done. Idempotent.
func (op *Operation) SetFailed() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.phase == nil {
		return
	}
	op.success = false
	op.phase = nil
}

// SetSucceeded marks the operation succeeded and done. Idempotent, and has
// no effect on an operation that already failed.
func (op *Operation) SetSucceeded() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.phase == nil {
		return
	}
	op.success = true
	op.phase = nil
}

// SetErrorStatus records a failure reason and fails the operation.
func (op *Operation) SetErrorStatus(msg string) {
	op.mu.Lock()
	op.errMsg = msg
	op.mu.Unlock()
	op.SetFailed()
}

// ErrorStatus returns the failure reason recorded with SetErrorStatus.
func (op *Operation) ErrorStatus() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.errMsg
}

// IsDone reports whether the operation has no current phase.
func (op *Operation) IsDone() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.phase == nil
}

// IsSuccess reports whether the operation completed without failing. It is
// only meaningful once IsDone is true.
func (op *Operation) IsSuccess() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.success
}

// Attempts returns the number of retries consumed.
func (op *Operation) Attempts() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.attempts
}

// ConsumeRetry uses one retry from the budget. It returns false when the
// budget is spent or the operation is done.
func (op *Operation) ConsumeRetry() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.phase == nil || op.attempts >= op.retries {
		return false
	}
	op.attempts++
	return true
}

// HandleCommError handles a transport, checksum or parsing fault. The
// default retries the current phase while budget remains, then fails.
func (op *Operation) HandleCommError(f *Fault) {
	if op.onCommError != nil {
		op.onCommError(op, f)
		return
	}
	if !op.ConsumeRetry() {
		op.SetFailed()
	}
}

// Cleanup runs the cleanup hook. Only the first call has an effect.
func (op *Operation) Cleanup() {
	op.cleanupOnce.Do(func() {
		for _, fn := range op.onCleanup {
			fn(op)
		}
	})
}

// String returns the description and current phase.
func (op *Operation) String() string {
	op.mu.Lock()
	p := op.phase
	op.mu.Unlock()
	return fmt.Sprintf("%s (%s)", op.desc, phaseName(p))
}

// applyDefaultRetries adopts the link's budget unless one was set.
func (op *Operation) applyDefaultRetries(n int) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.retries == retriesFromLink {
		if n < 0 {
			n = 0
		}
		op.retries = n
	}
}
