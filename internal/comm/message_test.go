package comm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_QueryPropsFillsBatch(t *testing.T) {
	sess := &fakeSession{}
	sess.script(reply{frame: []byte("7,42")})
	msg := NewMessage(sess, textFramer{}, testController(), time.Second)

	a := NewValue("a", intCodec)
	b := NewValue("b", intCodec)
	msg.Add(a, b)

	require.NoError(t, msg.QueryProps(context.Background()))

	assert.Equal(t, []string{"q:a,b"}, sess.sentFrames())
	assert.Equal(t, 7, a.Get())
	assert.Equal(t, 42, b.Get())
	assert.False(t, a.IsStale())
	assert.Equal(t, 0, msg.Len(), "properties are consumed by the exchange")
}

func TestMessage_QueryPropsAllOrNothing(t *testing.T) {
	sess := &fakeSession{}
	sess.script(reply{frame: []byte("7,oops")})
	msg := NewMessage(sess, textFramer{}, testController(), time.Second)

	a := NewValueOf("a", intCodec, 1)
	b := NewValueOf("b", intCodec, 2)
	msg.Add(a, b)

	err := msg.QueryProps(context.Background())

	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, FaultParsing, f.Kind)
	assert.Equal(t, 1, a.Get(), "no partial decode is committed")
	assert.Equal(t, 2, b.Get())
	assert.True(t, a.IsStale())
}

func TestMessage_ValueCountMismatch(t *testing.T) {
	sess := &fakeSession{}
	sess.script(reply{frame: []byte("7")})
	msg := NewMessage(sess, textFramer{}, testController(), time.Second)
	msg.Add(NewValue("a", intCodec), NewValue("b", intCodec))

	err := msg.QueryProps(context.Background())

	assert.Equal(t, FaultParsing, AsFault(err).Kind)
}

func TestMessage_SkipsForeignFrames(t *testing.T) {
	sess := &fakeSession{}
	sess.script(reply{frame: []byte("x:unrelated")}, reply{frame: []byte("5")})
	msg := NewMessage(sess, textFramer{}, testController(), time.Second)
	a := NewValue("a", intCodec)
	msg.Add(a)

	require.NoError(t, msg.QueryProps(context.Background()))
	assert.Equal(t, 5, a.Get())
}

func TestMessage_TimeoutIsTransportFault(t *testing.T) {
	sess := &fakeSession{}
	msg := NewMessage(sess, textFramer{}, testController(), 20*time.Millisecond)
	msg.Add(NewValue("a", intCodec))

	err := msg.QueryProps(context.Background())

	f := AsFault(err)
	assert.Equal(t, FaultTransport, f.Kind)
	assert.True(t, f.Timeout)
	assert.Equal(t, EventPollTimeout, f.EventType())
}

func TestMessage_ProtocolFaultPassesThrough(t *testing.T) {
	sess := &fakeSession{}
	sess.script(reply{frame: []byte("err:busy")})
	msg := NewMessage(sess, textFramer{storeReplies: true}, testController(), time.Second)
	msg.Add(NewValueOf("a", intCodec, 3))

	err := msg.StoreProps(context.Background())

	f := AsFault(err)
	assert.Equal(t, FaultProtocol, f.Kind)
	assert.Equal(t, "busy", f.Msg)
}

func TestMessage_StorePropsWithoutResponse(t *testing.T) {
	sess := &fakeSession{}
	msg := NewMessage(sess, textFramer{}, testController(), time.Second)
	msg.Add(NewValueOf("a", intCodec, 3), NewValueOf("b", intCodec, 4))

	require.NoError(t, msg.StoreProps(context.Background()))
	assert.Equal(t, []string{"s:a=3,b=4"}, sess.sentFrames())
}

func TestMessage_SendFailure(t *testing.T) {
	sess := &fakeSession{sendErr: errors.New("broken pipe")}
	msg := NewMessage(sess, textFramer{}, testController(), time.Second)
	msg.Add(NewValue("a", intCodec))

	err := msg.QueryProps(context.Background())

	f := AsFault(err)
	assert.Equal(t, FaultTransport, f.Kind)
	assert.False(t, f.Timeout)
	assert.Equal(t, EventCommError, f.EventType())
}

func TestMessage_NoProperties(t *testing.T) {
	msg := NewMessage(&fakeSession{}, textFramer{}, testController(), time.Second)
	assert.ErrorIs(t, msg.QueryProps(context.Background()), ErrNoProperties)
}
