package comm

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a communication event. The numeric values are stable
// and are persisted in the event log.
type EventType int

// Event types.
const (
	EventCommError       EventType = 8
	EventCommRestored    EventType = 9
	EventQueueDrained    EventType = 10
	EventPollTimeout     EventType = 11
	EventParsingError    EventType = 12
	EventChecksumError   EventType = 13
	EventControllerError EventType = 14
	EventCommFailed      EventType = 65
)

var eventTypeNames = map[EventType]string{
	EventCommError:       "COMM_ERROR",
	EventCommRestored:    "COMM_RESTORED",
	EventQueueDrained:    "QUEUE_DRAINED",
	EventPollTimeout:     "POLL_TIMEOUT_ERROR",
	EventParsingError:    "PARSING_ERROR",
	EventChecksumError:   "CHECKSUM_ERROR",
	EventControllerError: "CONTROLLER_ERROR",
	EventCommFailed:      "COMM_FAILED",
}

// String returns the upper-case event name.
func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseEventType looks an event type up by name.
func ParseEventType(s string) (EventType, bool) {
	for t, name := range eventTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Event is one entry of the communication event log.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	Link       string    `json:"link"`
	Controller string    `json:"controller,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(t EventType, link string) Event {
	return Event{
		ID:   uuid.New(),
		Type: t,
		Link: link,
		Time: time.Now().UTC(),
	}
}

// EventSink receives communication events. Emit must not block for long;
// it is called from poller goroutines.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit calls f(e).
func (f EventSinkFunc) Emit(e Event) {
	f(e)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}
