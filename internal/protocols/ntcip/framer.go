package ntcip

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

const (
	sizeLen = 2
	crcLen  = 2

	// maxFrameSize bounds a frame including its size field.
	maxFrameSize = 8192
)

// pdu kinds.
const (
	pduGet uint8 = 0
	pduSet uint8 = 1
)

type varBind struct {
	OID   string          `cbor:"1,keyasint"`
	Value cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

type request struct {
	ID    uint32    `cbor:"1,keyasint"`
	Drop  int       `cbor:"2,keyasint"`
	Kind  uint8     `cbor:"3,keyasint"`
	Binds []varBind `cbor:"4,keyasint"`
}

type response struct {
	ID     uint32            `cbor:"1,keyasint"`
	Status PDUStatus         `cbor:"2,keyasint"`
	Index  int               `cbor:"3,keyasint,omitempty"`
	Values []cbor.RawMessage `cbor:"4,keyasint"`
}

// Framer encodes get and set requests. Every request carries a new ID and
// responses to earlier IDs are skipped as foreign, so a late answer to a
// timed-out request cannot be taken for the current one.
//
// A Framer belongs to one link and is used only by its poller goroutine.
type Framer struct {
	lastID uint32
}

var _ comm.Framer = (*Framer)(nil)

// EncodeRequest implements comm.Framer.
func (f *Framer) EncodeRequest(kind comm.RequestKind, ctrl *comm.Controller, props []comm.Property) ([]byte, error) {
	f.lastID++
	req := request{ID: f.lastID, Drop: ctrl.Drop(), Kind: pduGet, Binds: make([]varBind, len(props))}
	if kind == comm.Store {
		req.Kind = pduSet
	}

	for i, p := range props {
		req.Binds[i].OID = p.Address()
		if kind == comm.Store {
			v, err := p.EncodeValue()
			if err != nil {
				return nil, fmt.Errorf("encoding %s: %w", p.Address(), err)
			}
			req.Binds[i].Value = v
		}
	}

	body, err := encMode.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if n := sizeLen + len(body) + crcLen; n > maxFrameSize {
		return nil, fmt.Errorf("%w: request of %d bytes exceeds %d", ErrFrameTooLarge, n, maxFrameSize)
	}
	return seal(body), nil
}

// DecodeResponse implements comm.Framer.
func (f *Framer) DecodeResponse(kind comm.RequestKind, _ *comm.Controller, props []comm.Property, frame []byte) ([][]byte, error) {
	body, err := unseal(frame)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := decMode.Unmarshal(body, &resp); err != nil {
		return nil, comm.ParsingError("malformed response: %v", err)
	}
	if resp.ID != f.lastID {
		return nil, comm.ErrForeignFrame
	}

	if resp.Status != PDUNoError {
		obj := ""
		if resp.Index >= 1 && resp.Index <= len(props) {
			obj = " " + props[resp.Index-1].Address()
		}
		return nil, comm.ProtocolError(resp.Status.String() + obj)
	}

	if kind == comm.Store {
		return nil, nil
	}
	if len(resp.Values) != len(props) {
		return nil, comm.ParsingError("%v: got %d, want %d", ErrValueCount, len(resp.Values), len(props))
	}

	out := make([][]byte, len(resp.Values))
	for i, v := range resp.Values {
		out[i] = v
	}
	return out, nil
}

// ExpectsResponse implements comm.Framer. Sets are acknowledged.
func (f *Framer) ExpectsResponse(comm.RequestKind) bool {
	return true
}

// seal frames a body with its size and CRC. The body must fit in
// maxFrameSize.
func seal(body []byte) []byte {
	frame := make([]byte, sizeLen+len(body)+crcLen)
	binary.BigEndian.PutUint16(frame, uint16(len(body)+crcLen)) //nolint:gosec // bounded by maxFrameSize
	copy(frame[sizeLen:], body)
	binary.BigEndian.PutUint16(frame[sizeLen+len(body):], crc16(body))
	return frame
}

// unseal checks a frame's size and CRC and returns its body.
func unseal(frame []byte) ([]byte, error) {
	if len(frame) < sizeLen+crcLen {
		return nil, comm.ParsingError("%v: %d bytes", ErrFrameTooShort, len(frame))
	}
	if n := int(binary.BigEndian.Uint16(frame)); n != len(frame)-sizeLen {
		return nil, comm.ParsingError("%v: declared %d, actual %d", ErrSizeMismatch, n, len(frame)-sizeLen)
	}

	body := frame[sizeLen : len(frame)-crcLen]
	want := binary.BigEndian.Uint16(frame[len(frame)-crcLen:])
	if got := crc16(body); got != want {
		return nil, comm.ChecksumError("frame CRC %04X, computed %04X", want, got)
	}
	return body, nil
}
