package comm

import (
	"context"
	"fmt"
)

// Phase is one step of an operation. Poll performs at most a few exchanges
// on msg and returns the next phase, or nil when the operation is complete.
//
// An error leaves the operation on the same phase; the poller classifies it
// as a *Fault and decides whether the phase is retried.
type Phase interface {
	Poll(ctx context.Context, msg *Message) (Phase, error)
}

// PhaseFunc adapts a function to Phase.
type PhaseFunc func(ctx context.Context, msg *Message) (Phase, error)

// Poll calls f(ctx, msg).
func (f PhaseFunc) Poll(ctx context.Context, msg *Message) (Phase, error) {
	return f(ctx, msg)
}

// namedPhase wraps a PhaseFunc with a name for logging.
type namedPhase struct {
	name string
	fn   PhaseFunc
}

func (p *namedPhase) Poll(ctx context.Context, msg *Message) (Phase, error) {
	return p.fn(ctx, msg)
}

func (p *namedPhase) String() string {
	return p.name
}

// NamedPhase returns a Phase named name which runs fn.
func NamedPhase(name string, fn PhaseFunc) Phase {
	return &namedPhase{name: name, fn: fn}
}

// pendingPhase marks an operation that has not begun yet.
type pendingPhase struct{}

func (pendingPhase) Poll(context.Context, *Message) (Phase, error) {
	return nil, fmt.Errorf("comm: operation polled before Begin")
}

func (pendingPhase) String() string {
	return "pending"
}

func phaseName(p Phase) string {
	if p == nil {
		return "done"
	}
	if s, ok := p.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", p)
}
