package smartsensor

import (
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/comm/transport"
)

// Protocol is the link protocol name.
const Protocol = "smartsensor"

// defaultPort is the usual port of serial-to-TCP converters.
const defaultPort = "4001"

// defaultSyncAfter is the clock drift that triggers a time download.
const defaultSyncAfter = 30 * time.Second

// Driver provides sensor links to the comm manager.
type Driver struct {
	state comm.StateSink
}

var _ comm.PeriodicDriver = (*Driver)(nil)

// NewDriver creates a driver that publishes sensor state to state.
func NewDriver(state comm.StateSink) *Driver {
	if state == nil {
		state = comm.NopStateSink{}
	}
	return &Driver{state: state}
}

// Protocol implements comm.Driver.
func (d *Driver) Protocol() string { return Protocol }

// NewSession implements comm.Driver.
func (d *Driver) NewSession(spec comm.LinkSpec, logger comm.Logger) (comm.Session, error) {
	return transport.New(transport.Config{
		URL:         spec.URI,
		DefaultPort: defaultPort,
		ReadFrame:   transport.Delimited([]byte(lineEnd), maxLineLength),
		Logger:      logger,
	})
}

// Framer implements comm.Driver.
func (d *Driver) Framer() comm.Framer { return Framer{} }

// Coalesce implements comm.Driver.
func (d *Driver) Coalesce() comm.CoalesceFunc { return comm.RejectDuplicates }

// PeriodicOperations implements comm.PeriodicDriver: a clock check that
// corrects drift beyond the controller's "max_drift" (default 30s; "0"
// disables the correction).
func (d *Driver) PeriodicOperations(ctrl *comm.Controller) []*comm.Operation {
	syncAfter := defaultSyncAfter
	if v, ok := ctrl.Param("max_drift"); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			syncAfter = parsed
		}
	}
	return []*comm.Operation{NewQueryTime(ctrl, d.state, syncAfter)}
}
