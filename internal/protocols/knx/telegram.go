package knx

import (
	"encoding/binary"
	"fmt"
)

// knxd socket message types.
const (
	// EIBOpenGroupCon opens a group socket that can read and write any
	// group address. Payload: reserved(1) + write_only(1) + reserved(1).
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries one group telegram.
	EIBGroupPacket uint16 = 0x0027
)

// APCI codes for group communication.
const (
	APCIRead     byte = 0x00
	APCIResponse byte = 0x40
	APCIWrite    byte = 0x80
)

const (
	// knxdHeaderSize is size(2) + type(2).
	knxdHeaderSize = 4

	// groupPacketMinRx is src(2) + GA(2) + TPCI(1) + APCI(1).
	groupPacketMinRx = 6

	// maxFrameSize bounds a knxd message; group telegrams are far smaller.
	maxFrameSize = 256
)

// Telegram is one KNX group telegram.
type Telegram struct {
	// Source is the sender's individual address; set on received telegrams.
	Source      string
	Destination GroupAddress
	APCI        byte
	Data        []byte
}

// NewReadTelegram creates a GroupValue_Read for dest.
func NewReadTelegram(dest GroupAddress) Telegram {
	return Telegram{Destination: dest, APCI: APCIRead}
}

// NewWriteTelegram creates a GroupValue_Write for dest.
func NewWriteTelegram(dest GroupAddress, data []byte) Telegram {
	return Telegram{Destination: dest, APCI: APCIWrite, Data: data}
}

// Encode encodes the telegram in the GROUPCON send format: GA(2) + APDU.
// A single byte value of at most 0x3F travels in the APCI byte itself.
func (t Telegram) Encode() []byte {
	short := len(t.Data) == 1 && t.Data[0] <= 0x3F

	if len(t.Data) == 0 || short {
		buf := make([]byte, 4) //nolint:mnd // GA(2) + TPCI + APCI
		binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
		buf[3] = t.APCI
		if short {
			buf[3] |= t.Data[0] & 0x3F
		}
		return buf
	}

	buf := make([]byte, 4+len(t.Data)) //nolint:mnd // GA(2) + TPCI + APCI
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[3] = t.APCI
	copy(buf[4:], t.Data)
	return buf
}

// ParseTelegram parses the GROUPCON receive format, which unlike the send
// format is prefixed by the source address: src(2) + GA(2) + TPCI + APCI + data.
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < groupPacketMinRx {
		return Telegram{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)",
			ErrInvalidTelegram, len(data), groupPacketMinRx)
	}

	t := Telegram{
		Source:      formatIndividualAddress(binary.BigEndian.Uint16(data[0:2])),
		Destination: GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4])),
		APCI:        data[5] & 0xC0,
	}

	switch {
	case len(data) > groupPacketMinRx:
		t.Data = append([]byte(nil), data[groupPacketMinRx:]...)
	case t.APCI == APCIWrite || t.APCI == APCIResponse:
		t.Data = []byte{data[5] & 0x3F}
	}
	return t, nil
}

// String returns a human-readable representation.
func (t Telegram) String() string {
	kind := "UNKNOWN"
	switch t.APCI {
	case APCIRead:
		kind = "READ"
	case APCIResponse:
		kind = "RESPONSE"
	case APCIWrite:
		kind = "WRITE"
	}
	return fmt.Sprintf("Telegram{GA:%s, APCI:%s, Data:%X}", t.Destination, kind, t.Data)
}

// EncodeKNXDMessage wraps a payload as size(2) + type(2) + payload. The
// size field counts type and payload but not itself.
func EncodeKNXDMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by maxFrameSize
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseKNXDMessage splits a knxd message into type and payload.
func ParseKNXDMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidTelegram, len(data))
	}

	declared := int(binary.BigEndian.Uint16(data[0:2]))
	if declared != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, actual %d)",
			ErrInvalidTelegram, declared, len(data)-2)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return msgType, payload, nil
}
