package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/mqtt"
)

const defaultPublisherBuffer = 512

// Bus is the message bus the Publisher writes to. *mqtt.Client implements it.
type Bus interface {
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
}

// EventMessage is the bus payload of a comm event.
type EventMessage struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	Code       int       `json:"code"`
	Link       string    `json:"link"`
	Controller string    `json:"controller,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StateMessage is the bus payload of one decoded device value.
type StateMessage struct {
	Link       string    `json:"link"`
	Controller string    `json:"controller"`
	Key        string    `json:"key"`
	Value      any       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusMessage is the retained bus payload of a controller's status.
type StatusMessage struct {
	comm.ControllerStatus
	Timestamp time.Time `json:"timestamp"`
}

type outgoing struct {
	topic    string
	payload  any
	retained bool
}

// Publisher publishes events, device state and controller status on the
// bus from its own goroutine. While the bus is disconnected messages are
// dropped and counted; retained status is republished by the next report.
//
// Thread Safety:
//   - Emit, PublishState and PublishStatus are safe for concurrent use.
type Publisher struct {
	bus    Bus
	logger Logger
	out    chan outgoing
	now    func() time.Time

	dropped   atomic.Uint64
	published atomic.Uint64

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewPublisher creates a publisher queueing up to buffer messages (default
// 512 when buffer <= 0).
func NewPublisher(bus Bus, buffer int, logger Logger) *Publisher {
	if buffer <= 0 {
		buffer = defaultPublisherBuffer
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Publisher{
		bus:    bus,
		logger: logger,
		out:    make(chan outgoing, buffer),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

var (
	_ comm.EventSink = (*Publisher)(nil)
	_ comm.StateSink = (*Publisher)(nil)
)

// Emit publishes ev on graylogic/comm/event/{type}.
func (p *Publisher) Emit(ev comm.Event) {
	p.enqueue(mqtt.Topics{}.Event(ev.Type.String()), EventMessage{
		ID:         ev.ID,
		Type:       ev.Type.String(),
		Code:       int(ev.Type),
		Link:       ev.Link,
		Controller: ev.Controller,
		Operation:  ev.Operation,
		Detail:     ev.Detail,
		Timestamp:  ev.Time,
	}, false)
}

// PublishState publishes one decoded value of ctrl.
func (p *Publisher) PublishState(ctrl *comm.Controller, key string, value any) {
	if ctrl == nil {
		return
	}
	p.enqueue(mqtt.Topics{}.State(ctrl.Link(), ctrl.Name(), key), StateMessage{
		Link:       ctrl.Link(),
		Controller: ctrl.Name(),
		Key:        key,
		Value:      value,
		Timestamp:  p.now().UTC(),
	}, false)
}

// PublishStatus publishes a retained controller status.
func (p *Publisher) PublishStatus(st comm.ControllerStatus) {
	p.enqueue(mqtt.Topics{}.ControllerStatus(st.Link, st.Name),
		StatusMessage{ControllerStatus: st, Timestamp: p.now().UTC()}, true)
}

// PublishHealth publishes a retained link health report.
func (p *Publisher) PublishHealth(h LinkHealth) {
	p.enqueue(mqtt.Topics{}.LinkHealth(h.Link), h, true)
}

func (p *Publisher) enqueue(topic string, payload any, retained bool) {
	select {
	case p.out <- outgoing{topic: topic, payload: payload, retained: retained}:
	default:
		p.dropped.Add(1)
	}
}

// Start launches the publishing goroutine.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop publishes what is still queued and waits for the goroutine to exit.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// Dropped returns the number of messages lost to a full queue or a
// disconnected bus.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Published returns the number of messages the bus accepted.
func (p *Publisher) Published() uint64 { return p.published.Load() }

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case m := <-p.out:
			p.send(m)
		case <-ctx.Done():
			return
		case <-p.done:
			for {
				select {
				case m := <-p.out:
					p.send(m)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(m outgoing) {
	if p.bus == nil || !p.bus.IsConnected() {
		p.dropped.Add(1)
		return
	}
	if err := p.bus.PublishJSON(m.topic, m.payload, m.retained); err != nil {
		p.dropped.Add(1)
		p.logger.Warn("failed to publish", "topic", m.topic, "error", err)
		return
	}
	p.published.Add(1)
}
