package knx

import (
	"fmt"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/comm/transport"
)

// Protocol is the link protocol name.
const Protocol = "knx"

// defaultKNXDPort is the knxd TCP port.
const defaultKNXDPort = "6720"

// Driver provides knxd links to the comm manager.
type Driver struct {
	state  comm.StateSink
	logger comm.Logger
}

var (
	_ comm.PeriodicDriver      = (*Driver)(nil)
	_ comm.ControllerValidator = (*Driver)(nil)
)

// NewDriver creates a driver that publishes polled values to state.
func NewDriver(state comm.StateSink) *Driver {
	if state == nil {
		state = comm.NopStateSink{}
	}
	return &Driver{state: state}
}

// SetLogger sets the logger used for controllers that cannot be polled.
func (d *Driver) SetLogger(l comm.Logger) {
	d.logger = l
}

// Protocol implements comm.Driver.
func (d *Driver) Protocol() string { return Protocol }

// NewSession implements comm.Driver.
func (d *Driver) NewSession(spec comm.LinkSpec, logger comm.Logger) (comm.Session, error) {
	return transport.New(transport.Config{
		URL:         spec.URI,
		DefaultPort: defaultKNXDPort,
		ReadFrame:   transport.LengthPrefixed16(maxFrameSize),
		OnConnect:   openGroupCon,
		Logger:      logger,
	})
}

// Framer implements comm.Driver.
func (d *Driver) Framer() comm.Framer { return Framer{} }

// Coalesce implements comm.Driver. Identical reads are not queued twice.
func (d *Driver) Coalesce() comm.CoalesceFunc { return comm.RejectDuplicates }

// ValidateController implements comm.ControllerValidator. The "functions"
// parameter must parse.
func (d *Driver) ValidateController(spec comm.ControllerSpec) error {
	if _, err := ParseFunctions(spec.Params["functions"]); err != nil {
		return fmt.Errorf("functions parameter: %w", err)
	}
	return nil
}

// PeriodicOperations implements comm.PeriodicDriver: one device read per
// controller covering all its functions.
func (d *Driver) PeriodicOperations(ctrl *comm.Controller) []*comm.Operation {
	spec, _ := ctrl.Param("functions")
	fns, err := ParseFunctions(spec)
	if err != nil {
		d.warn("skipping periodic read", ctrl, err)
		return nil
	}
	if len(fns) == 0 {
		return nil
	}
	op, err := NewReadDevice(ctrl, fns, d.state)
	if err != nil {
		d.warn("skipping periodic read", ctrl, err)
		return nil
	}
	return []*comm.Operation{op}
}

func (d *Driver) warn(msg string, ctrl *comm.Controller, err error) {
	if d.logger != nil {
		d.logger.Warn(msg, "link", ctrl.Link(), "controller", ctrl.Name(), "error", err)
	}
}
