package ntcip

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

func currentOID(node string) OID {
	return NewOID(node, int(MemoryCurrentBuffer), messageNumber)
}

func changeableOID(node string) OID {
	return NewOID(node, int(MemoryChangeable), messageNumber)
}

// putCurrent loads the sign's current buffer.
func putCurrent(t *testing.T, s *fakeSign, multi string, prio MsgPriority, status MessageStatus, remaining int) {
	t.Helper()
	s.put(t, currentOID(objMessageMultiString), multi)
	s.put(t, currentOID(objMessageBeacon), 0)
	s.put(t, currentOID(objMessagePriority), prio)
	s.put(t, currentOID(objMessageStatus), status)
	s.put(t, NewOID(objMsgTimeRemaining), remaining)
}

func TestQueryMessage_BlankSource(t *testing.T) {
	ctrl, sign, rec := testSign(nil)
	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), BlankMessageID)

	op := NewQueryMessage(ctrl, sign)
	require.NoError(t, runOp(t, op, dev))

	assert.True(t, op.IsSuccess())
	assert.Equal(t, 1, dev.requests, "a blank sign needs no content query")
	assert.True(t, sign.IsMsgBlank())
	require.Len(t, rec.messages, 1)
	assert.Equal(t, SourceBlank, rec.messages[0].Source)
	assert.False(t, sign.LastQueried().IsZero())
}

func TestQueryMessage_BlankClearsExpiredOperatorMessage(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	sign.SetCurrent(SignMessage{Multi: "CRASH AHEAD", Priority: PriorityOperator, Source: SourceOperator, Duration: intPtr(15)})

	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), BlankMessageID)

	require.NoError(t, runOp(t, NewQueryMessage(ctrl, sign), dev))

	user, ok := sign.User()
	require.True(t, ok)
	assert.True(t, user.IsBlank())
}

func TestQueryMessage_BlankKeepsIndefiniteOperatorMessage(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	sign.SetCurrent(SignMessage{Multi: "ROAD CLOSED", Priority: PriorityOperator, Source: SourceOperator})

	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), BlankMessageID)

	require.NoError(t, runOp(t, NewQueryMessage(ctrl, sign), dev))

	user, ok := sign.User()
	require.True(t, ok)
	assert.Equal(t, "ROAD CLOSED", user.Multi)
}

func TestQueryMessage_MatchingCRCAdoptsCache(t *testing.T) {
	ctrl, sign, rec := testSign(nil)
	cached := SignMessage{Multi: "SLOW[nl]TRAFFIC", Priority: PriorityScheduled, Source: SourceSchedule}
	sign.SetCurrent(cached)
	rec.messages = nil

	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), MessageIDCode{Memory: MemoryChangeable, Number: 1, CRC: cached.CRC()})

	op := NewQueryMessage(ctrl, sign)
	require.NoError(t, runOp(t, op, dev))

	assert.True(t, op.IsSuccess())
	assert.Equal(t, 1, dev.requests)
	require.Len(t, rec.messages, 1)
	assert.Equal(t, cached, rec.messages[0])
}

func TestQueryMessage_CRCMismatchQueriesCurrent(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	sign.SetCurrent(SignMessage{Multi: "OLD", Priority: PriorityScheduled, Source: SourceSchedule})

	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), MessageIDCode{Memory: MemoryChangeable, Number: 1, CRC: 0x1234})
	putCurrent(t, dev, "FOG[nl]USE CAUTION", PriorityOperator, StatusValid, 30)

	op := NewQueryMessage(ctrl, sign)
	require.NoError(t, runOp(t, op, dev))

	assert.True(t, op.IsSuccess())
	assert.Equal(t, 2, dev.requests)

	cur, ok := sign.Current()
	require.True(t, ok)
	assert.Equal(t, "FOG[nl]USE CAUTION", cur.Multi)
	assert.Equal(t, PriorityOperator, cur.Priority)
	assert.Equal(t, SourceOperator, cur.Source)
	require.NotNil(t, cur.Duration)
	assert.Equal(t, 30, *cur.Duration)

	user, ok := sign.User()
	require.True(t, ok, "an operator message on the sign is recovered as the user message")
	assert.Equal(t, cur, user)
}

func TestQueryMessage_UnknownLocalMessageQueriesCurrent(t *testing.T) {
	ctrl, sign, _ := testSign(nil)

	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), MessageIDCode{Memory: MemoryPermanent, Number: 4, CRC: 0xBEEF})
	putCurrent(t, dev, "EXIT CLOSED", MsgPriority(77), StatusValid, DurationIndefinite)

	require.NoError(t, runOp(t, NewQueryMessage(ctrl, sign), dev))

	cur, ok := sign.Current()
	require.True(t, ok)
	assert.Equal(t, PriorityOtherSystem, cur.Priority)
	assert.Equal(t, SourceOtherSystem, cur.Source)
	assert.Nil(t, cur.Duration)
	assert.Equal(t, ownerOther, cur.Owner)
}

func TestQueryMessage_InvalidSource(t *testing.T) {
	ctrl, sign, rec := testSign(nil)
	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), MessageIDCode{Memory: MemoryOther, Number: 1})

	op := NewQueryMessage(ctrl, sign)
	require.NoError(t, runOp(t, op, dev))

	assert.False(t, op.IsSuccess())
	assert.Equal(t, "INVALID SOURCE: other/1/0000", op.ErrorStatus())
	assert.Empty(t, rec.messages)
	assert.True(t, sign.LastQueried().IsZero())
}

func TestQueryMessage_InvalidStatus(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), MessageIDCode{Memory: MemoryChangeable, Number: 1, CRC: 1})
	putCurrent(t, dev, "X", PriorityOperator, StatusError, 0)

	op := NewQueryMessage(ctrl, sign)
	require.NoError(t, runOp(t, op, dev))

	assert.False(t, op.IsSuccess())
	assert.Equal(t, "INVALID STATUS: error", op.ErrorStatus())
}

func TestQueryMessage_BeaconQueriedWhenSupported(t *testing.T) {
	ctrl, sign, _ := testSign(map[string]string{"beacon": "true"})
	dev := newFakeSign()
	dev.put(t, NewOID(objMsgTableSource), MessageIDCode{Memory: MemoryChangeable, Number: 1, CRC: 1})
	putCurrent(t, dev, "ICE", PriorityOperator, StatusValid, 10)
	dev.put(t, currentOID(objMessageBeacon), 1)

	require.NoError(t, runOp(t, NewQueryMessage(ctrl, sign), dev))

	cur, _ := sign.Current()
	assert.True(t, cur.Beacon)
}

func TestSendMessage_Sequence(t *testing.T) {
	ctrl, sign, rec := testSign(map[string]string{"beacon": "true"})
	dev := newFakeSign()
	m := SignMessage{Multi: "LEFT LANE[nl]CLOSED", Beacon: true, Priority: PriorityOperator, Source: SourceOperator}

	op := NewSendMessage(ctrl, sign, m)
	assert.Equal(t, comm.PriorityCommand, op.Priority())
	require.NoError(t, runOp(t, op, dev))
	require.True(t, op.IsSuccess(), op.ErrorStatus())

	assert.Equal(t, []string{
		changeableOID(objMessageStatus).String(),
		changeableOID(objMessageMultiString).String(),
		changeableOID(objMessageBeacon).String(),
		changeableOID(objMessagePriority).String(),
		changeableOID(objMessageStatus).String(),
		NewOID(objActivateMessage).String(),
		NewOID(objPowerLossMessage).String(),
	}, dev.sets)

	var act ActivationCode
	dev.get(t, NewOID(objActivateMessage), &act)
	assert.Equal(t, DurationIndefinite, act.Duration)
	assert.Equal(t, PriorityOperator, act.Priority)
	assert.Equal(t, MessageIDCode{Memory: MemoryChangeable, Number: 1, CRC: m.CRC()}, act.ID)

	var loss MessageIDCode
	dev.get(t, NewOID(objPowerLossMessage), &loss)
	assert.Equal(t, act.ID, loss, "an indefinite message survives power loss")

	cur, ok := sign.Current()
	require.True(t, ok)
	assert.Equal(t, m, cur)
	assert.NotEmpty(t, rec.messages)
}

func TestSendMessage_TimedMessageBlanksOnPowerLoss(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	dev := newFakeSign()
	m := SignMessage{Multi: "WORK ZONE", Priority: PriorityScheduled, Source: SourceSchedule, Duration: intPtr(60)}

	require.NoError(t, runOp(t, NewSendMessage(ctrl, sign, m), dev))

	assert.NotContains(t, dev.sets, changeableOID(objMessageBeacon).String())

	var act ActivationCode
	dev.get(t, NewOID(objActivateMessage), &act)
	assert.Equal(t, 60, act.Duration)

	var loss MessageIDCode
	dev.get(t, NewOID(objPowerLossMessage), &loss)
	assert.Equal(t, BlankMessageID, loss)
}

func TestSendMessage_BlankActivatesDirectly(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	dev := newFakeSign()

	op := NewSendMessage(ctrl, sign, BlankMessage())
	require.NoError(t, runOp(t, op, dev))

	assert.True(t, op.IsSuccess())
	assert.Equal(t, []string{NewOID(objActivateMessage).String(), NewOID(objPowerLossMessage).String()}, dev.sets)
	assert.True(t, sign.IsMsgBlank())
}

func TestSendMessage_ValidationFailure(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	dev := newFakeSign()
	dev.invalid = true

	op := NewSendMessage(ctrl, sign, SignMessage{Multi: "[bad tag", Priority: PriorityOperator})
	require.NoError(t, runOp(t, op, dev))

	assert.False(t, op.IsSuccess())
	assert.Equal(t, "VALIDATION FAILED: error", op.ErrorStatus())
	assert.NotContains(t, dev.sets, NewOID(objActivateMessage).String())
	_, ok := sign.Current()
	assert.False(t, ok)
}

func TestSendMessage_ActivationRejected(t *testing.T) {
	ctrl, sign, _ := testSign(nil)
	dev := newFakeSign()
	dev.fail[NewOID(objActivateMessage).String()] = PDUGenErr

	op := NewSendMessage(ctrl, sign, SignMessage{Multi: "HELLO", Priority: PriorityOperator})
	err := runOp(t, op, dev)

	f := comm.AsFault(err)
	require.NotNil(t, f)
	assert.Equal(t, comm.FaultProtocol, f.Kind)
	assert.Contains(t, f.Msg, "genErr")
}

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name  string
		in    MsgPriority
		multi string
		want  MsgPriority
	}{
		{"operator kept", PriorityOperator, "HELLO", PriorityOperator},
		{"unknown", MsgPriority(42), "HELLO", PriorityOtherSystem},
		{"reserved", PriorityReserved, "HELLO", PriorityOtherSystem},
		{"invalid", PriorityInvalid, "", PriorityOtherSystem},
		{"blank with text", PriorityBlank, "HELLO", PriorityOtherSystem},
		{"blank without text", PriorityBlank, "[nl]", PriorityBlank},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolvePriority(tt.in, tt.multi))
		})
	}
}

func TestIsBlankMulti(t *testing.T) {
	assert.True(t, IsBlankMulti(""))
	assert.True(t, IsBlankMulti("[nl][jp3] "))
	assert.False(t, IsBlankMulti("HELLO[nl]WORLD"))
}

func TestParseDuration(t *testing.T) {
	assert.Nil(t, parseDuration(DurationIndefinite))
	assert.Nil(t, parseDuration(-1))
	require.NotNil(t, parseDuration(0))
	assert.Equal(t, 5, *parseDuration(5))
}

func TestDriver_SignPerController(t *testing.T) {
	d := NewDriver(nil)
	ctrl := comm.NewController("dms-1", "signs", 1, nil)

	s1 := d.Sign(ctrl)
	assert.Same(t, s1, d.Sign(ctrl))

	ops := d.PeriodicOperations(ctrl)
	require.Len(t, ops, 1)
	assert.Equal(t, comm.PriorityDeviceData, ops[0].Priority())
	assert.Equal(t, "dms-1/query-message", ops[0].Key())

	assert.Equal(t, Protocol, d.Protocol())
	assert.NotSame(t, d.Framer(), d.Framer())
}

func TestSendMessage_SharedSignContention(t *testing.T) {
	d := NewDriver(nil)
	primary := comm.NewController("dms-1", "signs", 3, map[string]string{"sign": "I-5 NB 12.4"})
	backup := comm.NewController("dms-1-alt", "signs-backup", 3, map[string]string{"sign": "I-5 NB 12.4"})
	msg := SignMessage{Multi: "ROAD CLOSED", Priority: PriorityOperator, Source: SourceOperator}

	first := NewSendMessage(primary, d.Sign(primary), msg)
	second := NewSendMessage(backup, d.Sign(backup), msg)

	require.True(t, first.Begin())
	require.NoError(t, first.Poll(context.Background(), nil), "first operation takes the sign")

	require.True(t, second.Begin())
	err := second.Poll(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, comm.FaultContention, comm.AsFault(err).Kind)
	assert.Contains(t, err.Error(), "send DMS message")

	first.SetFailed()
	first.Cleanup()

	dev := newFakeSign()
	require.NoError(t, runPolled(t, second, dev), "sign is free once the owner is cleaned up")
	assert.True(t, second.IsSuccess())
}

func TestQueryMessage_SeparateSignsDoNotContend(t *testing.T) {
	d := NewDriver(nil)
	a := comm.NewController("dms-1", "signs", 3, nil)
	b := comm.NewController("dms-2", "signs", 4, nil)

	opA := NewQueryMessage(a, d.Sign(a))
	opB := NewQueryMessage(b, d.Sign(b))
	require.True(t, opA.Begin())
	require.True(t, opB.Begin())

	assert.NoError(t, opA.Poll(context.Background(), nil))
	assert.NoError(t, opB.Poll(context.Background(), nil))
}

func TestOwnership_ReleaseOnlyByOwner(t *testing.T) {
	ctrl := comm.NewController("dms-1", "signs", 3, nil)
	o := &ownership{}
	a := comm.NewOperation(comm.PriorityCommand, ctrl, "a", nil)
	b := comm.NewOperation(comm.PriorityCommand, ctrl, "b", nil)

	require.NoError(t, o.acquire(a))
	require.NoError(t, o.acquire(a), "owner may acquire again")

	o.release(b)
	assert.Error(t, o.acquire(b), "release by a non-owner is ignored")

	a.SetFailed()
	assert.NoError(t, o.acquire(b), "a finished owner no longer holds the sign")
}

// runPolled drives an operation that has already begun.
func runPolled(t *testing.T, op *comm.Operation, session comm.Session) error {
	t.Helper()

	msg := comm.NewMessage(session, &Framer{}, op.Controller(), 0)
	for i := 0; !op.IsDone(); i++ {
		require.Less(t, i, 20, "operation did not finish")
		if err := op.Poll(context.Background(), msg); err != nil {
			return err
		}
	}
	op.Cleanup()
	return nil
}
