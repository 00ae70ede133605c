package comm

import (
	"context"
	"errors"
	"time"
)

// RequestKind distinguishes read and write transactions.
type RequestKind int

// Request kinds.
const (
	Query RequestKind = iota
	Store
)

// String returns "query" or "store".
func (k RequestKind) String() string {
	if k == Store {
		return "store"
	}
	return "query"
}

// Session is a transport connection to a link. Send and Receive are only
// called from the link's poller goroutine.
type Session interface {
	// Send writes one request frame.
	Send(ctx context.Context, frame []byte) error

	// Receive blocks for the next response frame or until ctx is done.
	Receive(ctx context.Context) ([]byte, error)

	// Drop discards the current connection after a transport fault. The next
	// Send reconnects.
	Drop()

	// Close releases the session permanently.
	Close() error
}

// Waiter is implemented by sessions that are unavailable for a while after a
// failed connect. The poller calls WaitReady before each attempt, so a
// transport fault is only counted for an attempt that reached the wire.
type Waiter interface {
	// WaitReady blocks until the next Send may dial or ctx is done.
	WaitReady(ctx context.Context) error
}

// Framer encodes and decodes the frames of one protocol.
type Framer interface {
	// EncodeRequest builds one request frame covering every property.
	EncodeRequest(kind RequestKind, ctrl *Controller, props []Property) ([]byte, error)

	// DecodeResponse splits a response frame into one payload per property,
	// in order. For Store requests the payloads are ignored and only the
	// error is inspected. ErrForeignFrame means the frame is unrelated and
	// the next frame should be read.
	DecodeResponse(kind RequestKind, ctrl *Controller, props []Property, frame []byte) ([][]byte, error)

	// ExpectsResponse reports whether a request of this kind is answered.
	ExpectsResponse(kind RequestKind) bool
}

// Message is one batched request/response exchange with a controller.
//
// A phase adds properties and then calls QueryProps or StoreProps. Both
// verbs consume the added properties, so the same Message can serve the
// next phase.
type Message struct {
	session Session
	framer  Framer
	ctrl    *Controller
	timeout time.Duration
	props   []Property
}

// NewMessage binds a message to a controller's session. timeout bounds each
// exchange; zero means only ctx bounds it.
func NewMessage(session Session, framer Framer, ctrl *Controller, timeout time.Duration) *Message {
	return &Message{
		session: session,
		framer:  framer,
		ctrl:    ctrl,
		timeout: timeout,
	}
}

// Controller returns the controller the message is addressed to.
func (m *Message) Controller() *Controller {
	return m.ctrl
}

// Add appends properties to the next exchange.
func (m *Message) Add(props ...Property) {
	m.props = append(m.props, props...)
}

// Len returns the number of properties waiting for the next exchange.
func (m *Message) Len() int {
	return len(m.props)
}

// QueryProps reads every added property in one transaction. Either all
// properties are updated or none is.
func (m *Message) QueryProps(ctx context.Context) error {
	return m.exchange(ctx, Query)
}

// StoreProps writes every added property in one transaction.
func (m *Message) StoreProps(ctx context.Context) error {
	return m.exchange(ctx, Store)
}

func (m *Message) exchange(ctx context.Context, kind RequestKind) error {
	props := m.props
	m.props = nil
	if len(props) == 0 {
		return ErrNoProperties
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req, err := m.framer.EncodeRequest(kind, m.ctrl, props)
	if err != nil {
		return wrapFault(FaultParsing, "encode "+kind.String()+" request", err)
	}

	if err := m.session.Send(ctx, req); err != nil {
		return TransportError(err)
	}

	if !m.framer.ExpectsResponse(kind) {
		return nil
	}

	for {
		frame, err := m.session.Receive(ctx)
		if err != nil {
			invalidate(props, kind)
			return TransportError(err)
		}

		payloads, err := m.framer.DecodeResponse(kind, m.ctrl, props, frame)
		if errors.Is(err, ErrForeignFrame) {
			continue
		}
		if err != nil {
			invalidate(props, kind)
			return wrapFault(FaultParsing, "decode "+kind.String()+" response", err)
		}

		if kind == Store {
			return nil
		}
		return commitAll(props, payloads)
	}
}

// commitAll decodes every payload and applies the results only if all of
// them decoded.
func commitAll(props []Property, payloads [][]byte) error {
	if len(payloads) != len(props) {
		invalidate(props, Query)
		return ParsingError("response has %d values, want %d", len(payloads), len(props))
	}

	commits := make([]func(), 0, len(props))
	for i, p := range props {
		commit, err := p.DecodeValue(payloads[i])
		if err != nil {
			invalidate(props, Query)
			return wrapFault(FaultParsing, "decode "+p.Address(), err)
		}
		commits = append(commits, commit)
	}

	for _, commit := range commits {
		if commit != nil {
			commit()
		}
	}
	return nil
}

func invalidate(props []Property, kind RequestKind) {
	if kind != Query {
		return
	}
	for _, p := range props {
		if v, ok := p.(invalidator); ok {
			v.Invalidate()
		}
	}
}
