package comm

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
)

type reply struct {
	frame []byte
	err   error
}

// fakeSession returns scripted replies in order. With no reply left,
// Receive blocks until ctx is done.
type fakeSession struct {
	mu      sync.Mutex
	sent    [][]byte
	replies []reply
	drops   int
	closed  bool
	sendErr error
}

func (s *fakeSession) script(replies ...reply) {
	s.mu.Lock()
	s.replies = append(s.replies, replies...)
	s.mu.Unlock()
}

func (s *fakeSession) Send(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeSession) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.replies) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	s.mu.Unlock()
	return r.frame, r.err
}

func (s *fakeSession) Drop() {
	s.mu.Lock()
	s.drops++
	s.mu.Unlock()
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) sentFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, f := range s.sent {
		out[i] = string(f)
	}
	return out
}

// textFramer encodes "q:addr1,addr2" / "s:addr=value" requests and expects
// comma separated values in replies. Replies starting with "x:" are foreign.
type textFramer struct {
	storeReplies bool
}

func (textFramer) EncodeRequest(kind RequestKind, _ *Controller, props []Property) ([]byte, error) {
	parts := make([]string, len(props))
	for i, p := range props {
		if kind == Store {
			v, err := p.EncodeValue()
			if err != nil {
				return nil, err
			}
			parts[i] = p.Address() + "=" + string(v)
			continue
		}
		parts[i] = p.Address()
	}
	return []byte(kind.String()[:1] + ":" + strings.Join(parts, ",")), nil
}

func (textFramer) DecodeResponse(kind RequestKind, _ *Controller, _ []Property, frame []byte) ([][]byte, error) {
	s := string(frame)
	if strings.HasPrefix(s, "x:") {
		return nil, ErrForeignFrame
	}
	if strings.HasPrefix(s, "err:") {
		return nil, ProtocolError(strings.TrimPrefix(s, "err:"))
	}
	if kind == Store {
		return nil, nil
	}
	var out [][]byte
	for _, v := range strings.Split(s, ",") {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (f textFramer) ExpectsResponse(kind RequestKind) bool {
	return kind == Query || f.storeReplies
}

var intCodec = Codec[int]{
	Encode: func(v int) ([]byte, error) { return []byte(strconv.Itoa(v)), nil },
	Decode: func(b []byte) (int, error) {
		v, err := strconv.Atoi(string(b))
		if err != nil {
			return 0, errors.New("not an integer")
		}
		return v, nil
	},
}

// recorder collects events and phase trace entries from poller goroutines.
type recorder struct {
	mu     sync.Mutex
	events []Event
	trace  []string
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) note(s string) {
	r.mu.Lock()
	r.trace = append(r.trace, s)
	r.mu.Unlock()
}

func (r *recorder) traced() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trace...)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

// chain returns a phase factory producing n phases that each note name-k.
func chain(r *recorder, name string, n int) func() Phase {
	var step func(k int) Phase
	step = func(k int) Phase {
		if k > n {
			return nil
		}
		return PhaseFunc(func(context.Context, *Message) (Phase, error) {
			r.note(name + "-" + strconv.Itoa(k))
			return step(k + 1), nil
		})
	}
	return func() Phase { return step(1) }
}
