package ntcip

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Message table rows used by the operations.
const (
	messageNumber = 1
	ownerOther    = "OTHER SYSTEM"
)

// queryMessage reads the message displayed on a sign.
type queryMessage struct {
	op   *comm.Operation
	sign *Sign

	source    *comm.Value[MessageIDCode]
	multi     *comm.Value[string]
	beacon    *comm.Value[int]
	priority  *comm.Value[MsgPriority]
	status    *comm.Value[MessageStatus]
	remaining *comm.Value[int]
}

// NewQueryMessage creates an operation that refreshes the sign's current
// message. The full message is only read when the sign reports a message
// the cache does not match.
func NewQueryMessage(ctrl *comm.Controller, sign *Sign, opts ...comm.OperationOption) *comm.Operation {
	cur := MemoryCurrentBuffer
	q := &queryMessage{
		sign:      sign,
		source:    object(MessageIDCodec, NewOID(objMsgTableSource)),
		multi:     object(StringCodec, NewOID(objMessageMultiString, int(cur), messageNumber)),
		beacon:    object(IntCodec, NewOID(objMessageBeacon, int(cur), messageNumber)),
		priority:  object(PriorityCodec, NewOID(objMessagePriority, int(cur), messageNumber)),
		status:    object(MessageStatusCodec, NewOID(objMessageStatus, int(cur), messageNumber)),
		remaining: object(IntCodec, NewOID(objMsgTimeRemaining)),
	}

	opts = append([]comm.OperationOption{
		comm.WithKey(ctrl.Name() + "/query-message"),
		comm.WithCleanup(func(op *comm.Operation) {
			sign.owner.release(op)
			if op.IsSuccess() {
				sign.msgQueried(time.Now())
			}
		}),
	}, opts...)

	q.op = comm.NewOperation(comm.PriorityDeviceData, ctrl, "query DMS message", func() comm.Phase {
		return acquireSign(sign, &q.op, comm.NamedPhase("query message source", q.querySource))
	}, opts...)
	return q.op
}

// acquireSign returns a phase that claims the sign for *op and continues
// with next. Losing the race is a contention fault, so the poller tries
// again later.
func acquireSign(sign *Sign, op **comm.Operation, next comm.Phase) comm.Phase {
	return comm.NamedPhase("acquire sign", func(context.Context, *comm.Message) (comm.Phase, error) {
		if err := sign.owner.acquire(*op); err != nil {
			return nil, err
		}
		return next, nil
	})
}

func (q *queryMessage) querySource(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(q.source)
	if err := msg.QueryProps(ctx); err != nil {
		return nil, err
	}

	src := q.source.Get()
	switch {
	// blank is tested first: the blank memory type is also valid
	case src.Memory.IsBlank():
		q.adoptBlank()
		return nil, nil
	case src.Memory.Valid():
		return q.compareCRC(src), nil
	default:
		q.op.SetErrorStatus("INVALID SOURCE: " + src.String())
		return nil, nil
	}
}

// adoptBlank records a blank sign. An operator message with a duration has
// just expired, so the user message is cleared as well.
func (q *queryMessage) adoptBlank() {
	cur, ok := q.sign.Current()
	expired := ok && cur.operatorExpiring()

	blank := BlankMessage()
	q.sign.SetCurrent(blank)
	if expired {
		q.sign.SetUser(blank)
	}
}

func (q *queryMessage) compareCRC(src MessageIDCode) comm.Phase {
	if q.sign.IsMsgBlank() {
		return comm.NamedPhase("query current message", q.queryCurrent)
	}

	cur, _ := q.sign.Current()
	if cur.CRC() != src.CRC {
		return comm.NamedPhase("query current message", q.queryCurrent)
	}
	q.sign.SetCurrent(cur)
	return nil
}

func (q *queryMessage) queryCurrent(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(q.multi)
	if q.sign.SupportsBeacon() {
		msg.Add(q.beacon)
	} else {
		q.beacon.Set(0)
	}
	msg.Add(q.priority, q.status, q.remaining)
	if err := msg.QueryProps(ctx); err != nil {
		return nil, err
	}

	if st := q.status.Get(); st != StatusValid {
		q.op.SetErrorStatus("INVALID STATUS: " + st.String())
		return nil, nil
	}

	multi := q.multi.Get()
	p := resolvePriority(q.priority.Get(), multi)
	q.sign.SetCurrent(SignMessage{
		Multi:    multi,
		Beacon:   q.beacon.Get() == 1,
		Priority: p,
		Source:   p.Source(),
		Owner:    ownerOther,
		Duration: parseDuration(q.remaining.Get()),
	})
	return nil, nil
}

// resolvePriority maps priorities this system never sends to other_system.
func resolvePriority(p MsgPriority, multi string) MsgPriority {
	switch {
	case !p.known(), p == PriorityInvalid, p == PriorityReserved:
		return PriorityOtherSystem
	case p == PriorityBlank && !IsBlankMulti(multi):
		return PriorityOtherSystem
	default:
		return p
	}
}

// parseDuration converts minutes remaining; the indefinite marker and
// negative values mean no duration.
func parseDuration(minutes int) *int {
	if minutes < 0 || minutes >= DurationIndefinite {
		return nil
	}
	return &minutes
}

// sendMessage stores and activates a message in the changeable table.
type sendMessage struct {
	op   *comm.Operation
	sign *Sign
	msg  SignMessage
	id   MessageIDCode

	status *comm.Value[MessageStatus]
	crc    *comm.Value[int]
}

// NewSendMessage creates a command operation displaying m on the sign. A
// blank message is activated directly from blank memory.
func NewSendMessage(ctrl *comm.Controller, sign *Sign, m SignMessage, opts ...comm.OperationOption) *comm.Operation {
	mem := MemoryChangeable
	s := &sendMessage{
		sign:   sign,
		msg:    m,
		id:     MessageIDCode{Memory: mem, Number: messageNumber, CRC: m.CRC()},
		status: object(MessageStatusCodec, NewOID(objMessageStatus, int(mem), messageNumber)),
		crc:    object(IntCodec, NewOID(objMessageCRC, int(mem), messageNumber)),
	}

	first := comm.NamedPhase("modify request", s.modifyRequest)
	if m.IsBlank() {
		s.id = BlankMessageID
		first = comm.NamedPhase("activate message", s.activate)
	}

	opts = append([]comm.OperationOption{
		comm.WithCleanup(func(op *comm.Operation) { sign.owner.release(op) }),
	}, opts...)

	s.op = comm.NewOperation(comm.PriorityCommand, ctrl, "send DMS message", func() comm.Phase {
		return acquireSign(sign, &s.op, first)
	}, opts...)
	return s.op
}

func (s *sendMessage) oid(node string) OID {
	return NewOID(node, int(s.id.Memory), s.id.Number)
}

func (s *sendMessage) modifyRequest(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(objectOf(MessageStatusCodec, s.oid(objMessageStatus), StatusModifyReq))
	if err := msg.StoreProps(ctx); err != nil {
		return nil, err
	}
	return comm.NamedPhase("store content", s.storeContent), nil
}

func (s *sendMessage) storeContent(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(objectOf(StringCodec, s.oid(objMessageMultiString), s.msg.Multi))
	if s.sign.SupportsBeacon() {
		msg.Add(objectOf(IntCodec, s.oid(objMessageBeacon), int(flag(s.msg.Beacon))))
	}
	msg.Add(objectOf(PriorityCodec, s.oid(objMessagePriority), s.msg.Priority))
	if err := msg.StoreProps(ctx); err != nil {
		return nil, err
	}
	return comm.NamedPhase("validate request", s.validateRequest), nil
}

func (s *sendMessage) validateRequest(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(objectOf(MessageStatusCodec, s.oid(objMessageStatus), StatusValidateReq))
	if err := msg.StoreProps(ctx); err != nil {
		return nil, err
	}
	return comm.NamedPhase("query validate status", s.queryValidation), nil
}

func (s *sendMessage) queryValidation(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(s.status, s.crc)
	if err := msg.QueryProps(ctx); err != nil {
		return nil, err
	}

	if st := s.status.Get(); st != StatusValid {
		s.op.SetErrorStatus("VALIDATION FAILED: " + st.String())
		return nil, nil
	}
	if got := s.crc.Get(); got != int(s.id.CRC) {
		s.op.SetErrorStatus(fmt.Sprintf("CRC MISMATCH: sign %04X, expected %04X", got, s.id.CRC))
		return nil, nil
	}
	return comm.NamedPhase("activate message", s.activate), nil
}

func (s *sendMessage) activate(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(objectOf(ActivationCodec, NewOID(objActivateMessage), ActivationCode{
		Duration: s.msg.ActivationDuration(),
		Priority: s.msg.Priority,
		ID:       s.id,
	}))
	if err := msg.StoreProps(ctx); err != nil {
		return nil, err
	}

	s.sign.SetCurrent(s.msg)
	return comm.NamedPhase("store power loss message", s.powerLoss), nil
}

// powerLoss makes the sign restore an indefinite message after a power
// loss and blank otherwise.
func (s *sendMessage) powerLoss(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	id := BlankMessageID
	if s.msg.Duration == nil {
		id = s.id
	}
	msg.Add(objectOf(MessageIDCodec, NewOID(objPowerLossMessage), id))
	if err := msg.StoreProps(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}
