package ntcip

import (
	"sync"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/comm/transport"
)

// Protocol is the link protocol name.
const Protocol = "ntcip"

// defaultPort is the sign controller TCP port.
const defaultPort = "161"

// Driver provides sign links to the comm manager and owns the Sign proxies.
type Driver struct {
	state comm.StateSink

	mu     sync.Mutex
	signs  map[string]*Sign
	owners map[string]*ownership
}

var _ comm.PeriodicDriver = (*Driver)(nil)

// NewDriver creates a driver that publishes sign messages to state.
func NewDriver(state comm.StateSink) *Driver {
	if state == nil {
		state = comm.NopStateSink{}
	}
	return &Driver{
		state:  state,
		signs:  make(map[string]*Sign),
		owners: make(map[string]*ownership),
	}
}

// Protocol implements comm.Driver.
func (d *Driver) Protocol() string { return Protocol }

// NewSession implements comm.Driver.
func (d *Driver) NewSession(spec comm.LinkSpec, logger comm.Logger) (comm.Session, error) {
	return transport.New(transport.Config{
		URL:         spec.URI,
		DefaultPort: defaultPort,
		ReadFrame:   transport.LengthPrefixed16(maxFrameSize),
		Logger:      logger,
	})
}

// Framer implements comm.Driver. Each link gets its own request IDs.
func (d *Driver) Framer() comm.Framer { return &Framer{} }

// Coalesce implements comm.Driver.
func (d *Driver) Coalesce() comm.CoalesceFunc { return comm.RejectDuplicates }

// Sign returns the proxy for ctrl, creating it on first use. Controllers
// with the same "sign" parameter are one physical sign reached over
// different links, and only one operation at a time may use it.
func (d *Driver) Sign(ctrl *comm.Controller) *Sign {
	key := ctrl.Link() + "/" + ctrl.Name()

	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.signs[key]
	if !ok || s.ctrl != ctrl {
		s = NewSign(ctrl, d.state)
		s.owner = d.ownerFor(ctrl, key)
		d.signs[key] = s
	}
	return s
}

// ownerFor returns the shared ownership of ctrl's sign. Caller holds d.mu.
func (d *Driver) ownerFor(ctrl *comm.Controller, key string) *ownership {
	if id, ok := ctrl.Param("sign"); ok && id != "" {
		key = "sign:" + id
	}
	o, ok := d.owners[key]
	if !ok {
		o = &ownership{}
		d.owners[key] = o
	}
	return o
}

// PeriodicOperations implements comm.PeriodicDriver.
func (d *Driver) PeriodicOperations(ctrl *comm.Controller) []*comm.Operation {
	return []*comm.Operation{NewQueryMessage(ctrl, d.Sign(ctrl))}
}
