package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Domain errors for the comm package.
var (
	// ErrQueueClosed is returned when enqueueing on a stopped poller.
	ErrQueueClosed = errors.New("comm: queue closed")

	// ErrRejected is returned when the coalescing policy refuses an operation.
	ErrRejected = errors.New("comm: operation rejected by queue policy")

	// ErrUnknownLink is returned when a link name has no running poller.
	ErrUnknownLink = errors.New("comm: unknown link")

	// ErrUnknownProtocol is returned when no driver is registered for a protocol.
	ErrUnknownProtocol = errors.New("comm: unknown protocol")

	// ErrNoProperties is returned when a message is sent without properties.
	ErrNoProperties = errors.New("comm: message has no properties")

	// ErrForeignFrame is returned by a Framer when a received frame does not
	// answer the outstanding request. The frame is discarded.
	ErrForeignFrame = errors.New("comm: frame does not answer request")

	// ErrUnknownAction is returned by a driver for a command it does not
	// implement.
	ErrUnknownAction = errors.New("comm: unknown command action")

	// ErrInvalidArgs is returned for command arguments a driver cannot use.
	ErrInvalidArgs = errors.New("comm: invalid command arguments")

	// ErrNilController is returned when an operation has no controller.
	ErrNilController = errors.New("comm: operation has no controller")
)

// FaultKind classifies a device communication fault.
type FaultKind int

// Fault kinds.
const (
	// FaultTransport covers timeouts and link failures.
	FaultTransport FaultKind = iota + 1

	// FaultChecksum is a frame integrity failure.
	FaultChecksum

	// FaultParsing is a malformed or unexpected response.
	FaultParsing

	// FaultContention means the device or link was busy; the operation is requeued.
	FaultContention

	// FaultProtocol is a device-reported error such as a rejected value.
	FaultProtocol
)

// String returns the lower-case fault kind name.
func (k FaultKind) String() string {
	switch k {
	case FaultTransport:
		return "transport"
	case FaultChecksum:
		return "checksum"
	case FaultParsing:
		return "parsing"
	case FaultContention:
		return "contention"
	case FaultProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Fault is a classified device communication failure.
type Fault struct {
	Kind    FaultKind
	Msg     string
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	switch {
	case f.Err != nil && f.Msg != "":
		return fmt.Sprintf("comm: %s fault: %s: %v", f.Kind, f.Msg, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("comm: %s fault: %v", f.Kind, f.Err)
	default:
		return fmt.Sprintf("comm: %s fault: %s", f.Kind, f.Msg)
	}
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// EventType maps the fault to the event recorded for it.
func (f *Fault) EventType() EventType {
	switch f.Kind {
	case FaultTransport:
		if f.Timeout {
			return EventPollTimeout
		}
		return EventCommError
	case FaultChecksum:
		return EventChecksumError
	case FaultParsing:
		return EventParsingError
	case FaultProtocol:
		return EventControllerError
	default:
		return EventCommError
	}
}

// IsCommFault reports whether the fault counts towards comm-failed escalation.
func (f *Fault) IsCommFault() bool {
	switch f.Kind {
	case FaultTransport, FaultChecksum, FaultParsing:
		return true
	default:
		return false
	}
}

// TransportError wraps err as a transport fault. Deadline and timeout
// errors are flagged so they are reported as poll timeouts.
func TransportError(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: FaultTransport, Timeout: isTimeout(err), Err: err}
}

// TimeoutError returns a transport fault flagged as a timeout.
func TimeoutError(msg string) *Fault {
	return &Fault{Kind: FaultTransport, Msg: msg, Timeout: true}
}

// ChecksumError returns a checksum fault.
func ChecksumError(format string, args ...any) *Fault {
	return &Fault{Kind: FaultChecksum, Msg: fmt.Sprintf(format, args...)}
}

// ParsingError returns a parsing fault.
func ParsingError(format string, args ...any) *Fault {
	return &Fault{Kind: FaultParsing, Msg: fmt.Sprintf(format, args...)}
}

// ContentionError returns a contention fault.
func ContentionError(msg string) *Fault {
	return &Fault{Kind: FaultContention, Msg: msg}
}

// ProtocolError returns a protocol fault. msg becomes the controller error status.
func ProtocolError(msg string) *Fault {
	return &Fault{Kind: FaultProtocol, Msg: msg}
}

// AsFault classifies any error returned from a phase. Errors that are not
// already faults are treated as transport faults.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return TransportError(err)
}

// wrapFault keeps a fault returned by a codec or framer and otherwise
// classifies err as the given kind.
func wrapFault(kind FaultKind, msg string, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: kind, Msg: msg, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
