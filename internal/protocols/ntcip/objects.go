package ntcip

import (
	"fmt"
	"strconv"
	"strings"
)

// Object names of the sign control and message tables.
const (
	objMsgTableSource     = "dmsMsgTableSource"
	objMessageMultiString = "dmsMessageMultiString"
	objMessageBeacon      = "dmsMessageBeacon"
	objMessagePriority    = "dmsMessageRunTimePriority"
	objMessageStatus      = "dmsMessageStatus"
	objMessageCRC         = "dmsMessageCRC"
	objMsgTimeRemaining   = "dmsMessageTimeRemaining"
	objActivateMessage    = "dmsActivateMessage"
	objPowerLossMessage   = "dmsPowerLossMessage"
)

// OID addresses one object instance: a node name plus table indices.
type OID struct {
	Node    string
	Indices []int
}

// NewOID creates an object identifier.
func NewOID(node string, indices ...int) OID {
	return OID{Node: node, Indices: indices}
}

// String returns "node.i.j", or "node.0" for a scalar.
func (o OID) String() string {
	if len(o.Indices) == 0 {
		return o.Node + ".0"
	}
	var b strings.Builder
	b.WriteString(o.Node)
	for _, i := range o.Indices {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

// ParseOID parses the String form.
func ParseOID(s string) (OID, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 || parts[0] == "" {
		return OID{}, fmt.Errorf("%w: %q", ErrInvalidOID, s)
	}
	o := OID{Node: parts[0]}
	for _, p := range parts[1:] {
		i, err := strconv.Atoi(p)
		if err != nil || i < 0 {
			return OID{}, fmt.Errorf("%w: %q", ErrInvalidOID, s)
		}
		o.Indices = append(o.Indices, i)
	}
	if len(o.Indices) == 1 && o.Indices[0] == 0 {
		o.Indices = nil
	}
	return o, nil
}

// MemoryType is the message memory a message lives in.
type MemoryType int

// Message memory types.
const (
	MemoryUndefined     MemoryType = 0
	MemoryOther         MemoryType = 1
	MemoryPermanent     MemoryType = 2
	MemoryChangeable    MemoryType = 3
	MemoryVolatile      MemoryType = 4
	MemoryCurrentBuffer MemoryType = 5
	MemorySchedule      MemoryType = 6
	MemoryBlank         MemoryType = 7
)

var memoryTypeNames = map[MemoryType]string{
	MemoryUndefined:     "undefined",
	MemoryOther:         "other",
	MemoryPermanent:     "permanent",
	MemoryChangeable:    "changeable",
	MemoryVolatile:      "volatile",
	MemoryCurrentBuffer: "currentBuffer",
	MemorySchedule:      "schedule",
	MemoryBlank:         "blank",
}

// String returns the memory type name.
func (m MemoryType) String() string {
	if name, ok := memoryTypeNames[m]; ok {
		return name
	}
	return "invalid(" + strconv.Itoa(int(m)) + ")"
}

// IsBlank reports whether a message source of this type shows nothing.
func (m MemoryType) IsBlank() bool {
	return m == MemoryBlank
}

// Valid reports whether m names a real message memory.
func (m MemoryType) Valid() bool {
	return m >= MemoryPermanent && m <= MemoryBlank
}

// MessageStatus is the state of a message table row.
type MessageStatus int

// Message row states.
const (
	StatusNotUsed     MessageStatus = 1
	StatusModifying   MessageStatus = 2
	StatusValidating  MessageStatus = 3
	StatusValid       MessageStatus = 4
	StatusError       MessageStatus = 5
	StatusModifyReq   MessageStatus = 6
	StatusValidateReq MessageStatus = 7
	StatusNotUsedReq  MessageStatus = 8
)

var messageStatusNames = map[MessageStatus]string{
	StatusNotUsed:     "notUsed",
	StatusModifying:   "modifying",
	StatusValidating:  "validating",
	StatusValid:       "valid",
	StatusError:       "error",
	StatusModifyReq:   "modifyReq",
	StatusValidateReq: "validateReq",
	StatusNotUsedReq:  "notUsedReq",
}

// String returns the status name.
func (s MessageStatus) String() string {
	if name, ok := messageStatusNames[s]; ok {
		return name
	}
	return "invalid(" + strconv.Itoa(int(s)) + ")"
}

// MessageIDCode identifies a message by memory, row number and CRC.
type MessageIDCode struct {
	_      struct{} `cbor:",toarray"`
	Memory MemoryType
	Number int
	CRC    uint16
}

// String returns "memory/number/CRC".
func (c MessageIDCode) String() string {
	return fmt.Sprintf("%s/%d/%04X", c.Memory, c.Number, c.CRC)
}

// BlankMessageID is the identifier of the built-in blank message.
var BlankMessageID = MessageIDCode{Memory: MemoryBlank, Number: 1}

// ActivationCode requests a message to be displayed.
type ActivationCode struct {
	_ struct{} `cbor:",toarray"`

	// Duration in minutes; DurationIndefinite keeps the message up.
	Duration int
	Priority MsgPriority
	ID       MessageIDCode
}

// DurationIndefinite is the duration of a message without expiry.
const DurationIndefinite = 65535
