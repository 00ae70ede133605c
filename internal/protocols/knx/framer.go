package knx

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/comm/transport"
)

// Framer encodes group reads and writes as knxd EIB_GROUP_PACKET messages.
type Framer struct{}

var _ comm.Framer = Framer{}

// EncodeRequest implements comm.Framer. A query reads exactly one group
// address; a store writes each property in its own packet.
func (Framer) EncodeRequest(kind comm.RequestKind, _ *comm.Controller, props []comm.Property) ([]byte, error) {
	if kind == comm.Query {
		if len(props) != 1 {
			return nil, fmt.Errorf("knx: a group read carries one address, got %d", len(props))
		}
		ga, err := ParseGroupAddress(props[0].Address())
		if err != nil {
			return nil, err
		}
		return EncodeKNXDMessage(EIBGroupPacket, NewReadTelegram(ga).Encode()), nil
	}

	var out []byte
	for _, p := range props {
		ga, err := ParseGroupAddress(p.Address())
		if err != nil {
			return nil, err
		}
		data, err := p.EncodeValue()
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", ga, err)
		}
		out = append(out, EncodeKNXDMessage(EIBGroupPacket, NewWriteTelegram(ga, data).Encode())...)
	}
	return out, nil
}

// DecodeResponse implements comm.Framer. Only a GroupValue_Response for the
// requested address answers a read; all other traffic is foreign.
func (Framer) DecodeResponse(_ comm.RequestKind, _ *comm.Controller, props []comm.Property, frame []byte) ([][]byte, error) {
	msgType, payload, err := ParseKNXDMessage(frame)
	if err != nil {
		return nil, comm.ParsingError("%v", err)
	}
	if msgType != EIBGroupPacket {
		return nil, comm.ErrForeignFrame
	}

	t, err := ParseTelegram(payload)
	if err != nil {
		return nil, comm.ParsingError("%v", err)
	}

	want, err := ParseGroupAddress(props[0].Address())
	if err != nil {
		return nil, err
	}
	if t.APCI != APCIResponse || t.Destination != want {
		return nil, comm.ErrForeignFrame
	}
	return [][]byte{t.Data}, nil
}

// ExpectsResponse implements comm.Framer. Group writes are unacknowledged.
func (Framer) ExpectsResponse(kind comm.RequestKind) bool {
	return kind == comm.Query
}

// openGroupCon sends EIB_OPEN_GROUPCON and waits for its echo. write_only
// is 0x00 so the socket both sends and receives.
func openGroupCon(_ context.Context, c transport.FrameConn) error {
	if err := c.WriteFrame(EncodeKNXDMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	resp, err := c.ReadFrame()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	msgType, _, err := ParseKNXDMessage(resp)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("unexpected response type: 0x%04X", msgType)
	}
	return nil
}
