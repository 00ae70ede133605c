package ntcip

import (
	"context"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// fakeSign answers requests from an object table the way a sign
// controller does, including the validate handshake of the message table.
type fakeSign struct {
	mu       sync.Mutex
	objects  map[string]cbor.RawMessage
	fail     map[string]PDUStatus
	sets     []string
	requests int
	pending  [][]byte
	corrupt  bool
	invalid  bool
}

func newFakeSign() *fakeSign {
	return &fakeSign{
		objects: make(map[string]cbor.RawMessage),
		fail:    make(map[string]PDUStatus),
	}
}

func (s *fakeSign) put(t *testing.T, oid OID, v any) {
	t.Helper()
	b, err := encMode.Marshal(v)
	require.NoError(t, err)
	s.mu.Lock()
	s.objects[oid.String()] = b
	s.mu.Unlock()
}

func (s *fakeSign) get(t *testing.T, oid OID, v any) {
	t.Helper()
	s.mu.Lock()
	b, ok := s.objects[oid.String()]
	s.mu.Unlock()
	require.True(t, ok, "object %s not set", oid)
	require.NoError(t, decMode.Unmarshal(b, v))
}

func (s *fakeSign) Send(_ context.Context, frame []byte) error {
	body, err := unseal(frame)
	if err != nil {
		return err
	}
	var req request
	if err := decMode.Unmarshal(body, &req); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	resp := response{ID: req.ID}
	for i, b := range req.Binds {
		if st, ok := s.fail[b.OID]; ok {
			resp = response{ID: req.ID, Status: st, Index: i + 1}
			break
		}
		if req.Kind == pduSet {
			s.objects[b.OID] = b.Value
			s.sets = append(s.sets, b.OID)
			s.react(b.OID, b.Value)
			continue
		}
		v, ok := s.objects[b.OID]
		if !ok {
			resp = response{ID: req.ID, Status: PDUNoSuchName, Index: i + 1}
			break
		}
		resp.Values = append(resp.Values, v)
	}

	out, err := encMode.Marshal(resp)
	if err != nil {
		return err
	}
	reply := seal(out)
	if s.corrupt {
		reply[len(reply)-1] ^= 0xFF
	}
	s.pending = append(s.pending, reply)
	return nil
}

// react applies the side effects of writing a message row status.
func (s *fakeSign) react(oid string, value []byte) {
	row := NewOID(objMessageStatus, int(MemoryChangeable), messageNumber)
	if oid != row.String() {
		return
	}

	var st MessageStatus
	_ = decMode.Unmarshal(value, &st)
	switch st {
	case StatusModifyReq:
		s.objects[oid], _ = encMode.Marshal(StatusModifying)
	case StatusValidateReq:
		result := StatusValid
		if s.invalid {
			result = StatusError
		}
		s.objects[oid], _ = encMode.Marshal(result)

		var multi string
		var beacon int
		_ = decMode.Unmarshal(s.objects[NewOID(objMessageMultiString, int(MemoryChangeable), messageNumber).String()], &multi)
		if b, ok := s.objects[NewOID(objMessageBeacon, int(MemoryChangeable), messageNumber).String()]; ok {
			_ = decMode.Unmarshal(b, &beacon)
		}
		crc := MessageCRC(multi, beacon == 1, false)
		s.objects[NewOID(objMessageCRC, int(MemoryChangeable), messageNumber).String()], _ = encMode.Marshal(int(crc))
	}
}

func (s *fakeSign) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		frame := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return frame, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSign) Drop()        {}
func (s *fakeSign) Close() error { return nil }

// runOp drives op to completion on session without a poller and returns
// the first fault.
func runOp(t *testing.T, op *comm.Operation, session comm.Session) error {
	t.Helper()

	msg := comm.NewMessage(session, &Framer{}, op.Controller(), 0)
	require.True(t, op.Begin())
	for i := 0; !op.IsDone(); i++ {
		require.Less(t, i, 20, "operation did not finish")
		if err := op.Poll(context.Background(), msg); err != nil {
			return err
		}
	}
	op.Cleanup()
	return nil
}

// stateRecorder captures published sign messages.
type stateRecorder struct {
	mu       sync.Mutex
	messages []SignMessage
}

func (r *stateRecorder) PublishState(_ *comm.Controller, key string, value any) {
	if m, ok := value.(SignMessage); ok && key == "message" {
		r.mu.Lock()
		r.messages = append(r.messages, m)
		r.mu.Unlock()
	}
}

func testSign(params map[string]string) (*comm.Controller, *Sign, *stateRecorder) {
	ctrl := comm.NewController("dms-1", "signs", 3, params)
	rec := &stateRecorder{}
	return ctrl, NewSign(ctrl, rec), rec
}

func intPtr(v int) *int { return &v }
