package ntcip

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// MsgPriority is a message's run-time priority on the sign.
type MsgPriority int

// Run-time priorities.
const (
	PriorityInvalid     MsgPriority = 0
	PriorityBlank       MsgPriority = 1
	PriorityScheduled   MsgPriority = 5
	PriorityOperator    MsgPriority = 10
	PriorityAlert       MsgPriority = 20
	PriorityOtherSystem MsgPriority = 254
	PriorityReserved    MsgPriority = 255
)

var priorityNames = map[MsgPriority]string{
	PriorityInvalid:     "invalid",
	PriorityBlank:       "blank",
	PriorityScheduled:   "scheduled",
	PriorityOperator:    "operator",
	PriorityAlert:       "alert",
	PriorityOtherSystem: "other_system",
	PriorityReserved:    "reserved",
}

// String returns the priority name.
func (p MsgPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return strconv.Itoa(int(p))
}

// known reports whether p is one of the named priorities.
func (p MsgPriority) known() bool {
	_, ok := priorityNames[p]
	return ok
}

// MsgSource says who put a message on the sign.
type MsgSource string

// Message sources.
const (
	SourceBlank       MsgSource = "blank"
	SourceOperator    MsgSource = "operator"
	SourceSchedule    MsgSource = "schedule"
	SourceOtherSystem MsgSource = "other_system"
)

// Source returns the source implied by a priority.
func (p MsgPriority) Source() MsgSource {
	switch p {
	case PriorityBlank:
		return SourceBlank
	case PriorityOperator, PriorityAlert:
		return SourceOperator
	case PriorityScheduled:
		return SourceSchedule
	default:
		return SourceOtherSystem
	}
}

// SignMessage is a message shown on a sign.
type SignMessage struct {
	Multi    string      `json:"multi"`
	Beacon   bool        `json:"beacon"`
	Priority MsgPriority `json:"priority"`
	Source   MsgSource   `json:"source"`
	Owner    string      `json:"owner,omitempty"`

	// Duration in minutes; nil means indefinite.
	Duration *int `json:"duration,omitempty"`
}

// BlankMessage returns the message of a blank sign.
func BlankMessage() SignMessage {
	return SignMessage{Priority: PriorityBlank, Source: SourceBlank}
}

// multiTag matches a MULTI markup tag such as [nl] or [jp3].
var multiTag = regexp.MustCompile(`\[[^\]]*\]`)

// IsBlank reports whether the message shows no text.
func (m SignMessage) IsBlank() bool {
	return IsBlankMulti(m.Multi)
}

// CRC returns the checksum the sign reports for m.
func (m SignMessage) CRC() uint16 {
	return MessageCRC(m.Multi, m.Beacon, false)
}

// ActivationDuration returns the duration for an activation code.
func (m SignMessage) ActivationDuration() int {
	if m.Duration == nil {
		return DurationIndefinite
	}
	return *m.Duration
}

// operatorExpiring reports whether m is an operator message with a duration.
func (m SignMessage) operatorExpiring() bool {
	return m.Source == SourceOperator && m.Duration != nil
}

// IsBlankMulti reports whether a MULTI string has no text outside its tags.
func IsBlankMulti(multi string) bool {
	return strings.TrimSpace(multiTag.ReplaceAllString(multi, "")) == ""
}

// ownership grants one operation at a time the use of a physical sign.
// Controllers on different links that name the same sign share one.
type ownership struct {
	mu    sync.Mutex
	owner *comm.Operation
}

// acquire makes op the owner. It fails with a contention fault while
// another unfinished operation holds the sign.
func (o *ownership) acquire(op *comm.Operation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.owner != nil && o.owner != op && !o.owner.IsDone() {
		return comm.ContentionError("sign in use by " + o.owner.String())
	}
	o.owner = op
	return nil
}

// release gives up the sign if op owns it.
func (o *ownership) release(op *comm.Operation) {
	o.mu.Lock()
	if o.owner == op {
		o.owner = nil
	}
	o.mu.Unlock()
}

// Sign is the in-memory state of one sign controller.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Sign struct {
	ctrl  *comm.Controller
	state comm.StateSink

	supportsBeacon bool
	owner          *ownership

	mu          sync.RWMutex
	current     *SignMessage
	user        *SignMessage
	lastQueried time.Time
}

// NewSign creates the proxy for ctrl. The controller parameter
// "beacon=true" marks signs with a beacon object.
func NewSign(ctrl *comm.Controller, state comm.StateSink) *Sign {
	if state == nil {
		state = comm.NopStateSink{}
	}
	beacon, _ := ctrl.Param("beacon")
	supports, _ := strconv.ParseBool(beacon)
	return &Sign{ctrl: ctrl, state: state, supportsBeacon: supports, owner: &ownership{}}
}

// Name returns the controller name.
func (s *Sign) Name() string { return s.ctrl.Name() }

// SupportsBeacon reports whether the sign has a beacon object.
func (s *Sign) SupportsBeacon() bool { return s.supportsBeacon }

// Current returns the message last known to be displayed.
func (s *Sign) Current() (SignMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return SignMessage{}, false
	}
	return *s.current, true
}

// User returns the last operator message.
func (s *Sign) User() (SignMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return SignMessage{}, false
	}
	return *s.user, true
}

// IsMsgBlank reports whether the sign is believed blank. An unknown
// message counts as blank.
func (s *Sign) IsMsgBlank() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current == nil || s.current.IsBlank()
}

// LastQueried returns when a message query last succeeded.
func (s *Sign) LastQueried() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQueried
}

// SetUser records an operator message.
func (s *Sign) SetUser(m SignMessage) {
	s.mu.Lock()
	s.user = &m
	s.mu.Unlock()
}

// SetCurrent records the displayed message and publishes it. An operator
// message is also adopted as the user message, which recovers it after a
// restart.
func (s *Sign) SetCurrent(m SignMessage) {
	s.mu.Lock()
	s.current = &m
	if m.Source == SourceOperator {
		s.user = &m
	}
	s.mu.Unlock()

	s.state.PublishState(s.ctrl, "message", m)
}

func (s *Sign) msgQueried(now time.Time) {
	s.mu.Lock()
	s.lastQueried = now
	s.mu.Unlock()
}
