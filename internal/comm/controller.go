package comm

import (
	"sync"
	"time"
)

// Controller is a field device reachable over a link. It carries the comm
// status that operations and the poller update.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Controller struct {
	name   string
	link   string
	drop   int
	params map[string]string

	mu          sync.RWMutex
	status      string
	errorStatus string
	failed      bool
	faults      int
	lastProbe   time.Time
	lastSuccess time.Time
	lastFault   time.Time
	counters    Counters
}

// Counters accumulates per-controller exchange results.
type Counters struct {
	Polls            uint64 `json:"polls"`
	Timeouts         uint64 `json:"timeouts"`
	CommErrors       uint64 `json:"comm_errors"`
	ChecksumErrors   uint64 `json:"checksum_errors"`
	ParsingErrors    uint64 `json:"parsing_errors"`
	ControllerErrors uint64 `json:"controller_errors"`
}

// ControllerStatus is a point-in-time copy of a controller's state.
type ControllerStatus struct {
	Name              string    `json:"name"`
	Link              string    `json:"link"`
	Drop              int       `json:"drop"`
	Status            string    `json:"status,omitempty"`
	ErrorStatus       string    `json:"error_status,omitempty"`
	CommFailed        bool      `json:"comm_failed"`
	ConsecutiveFaults int       `json:"consecutive_faults"`
	LastSuccess       time.Time `json:"last_success,omitzero"`
	LastFault         time.Time `json:"last_fault,omitzero"`
	Counters          Counters  `json:"counters"`
}

// NewController creates a controller at drop address drop on link.
func NewController(name, link string, drop int, params map[string]string) *Controller {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &Controller{name: name, link: link, drop: drop, params: p}
}

// Name returns the controller name.
func (c *Controller) Name() string { return c.name }

// Link returns the name of the link the controller is attached to.
func (c *Controller) Link() string { return c.link }

// Drop returns the controller's address on its link.
func (c *Controller) Drop() int { return c.drop }

// Param returns a protocol-specific setting.
func (c *Controller) Param(key string) (string, bool) {
	v, ok := c.params[key]
	return v, ok
}

// Params returns a copy of the protocol-specific settings.
func (c *Controller) Params() map[string]string {
	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// SetStatus sets the free-form status text.
func (c *Controller) SetStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// SetErrorStatus sets the device-reported error status. An empty string
// clears it.
func (c *Controller) SetErrorStatus(s string) {
	c.mu.Lock()
	c.errorStatus = s
	c.mu.Unlock()
}

// ErrorStatus returns the device-reported error status.
func (c *Controller) ErrorStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorStatus
}

// IsFailed reports whether the controller is comm-failed.
func (c *Controller) IsFailed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failed
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() ControllerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ControllerStatus{
		Name:              c.name,
		Link:              c.link,
		Drop:              c.drop,
		Status:            c.status,
		ErrorStatus:       c.errorStatus,
		CommFailed:        c.failed,
		ConsecutiveFaults: c.faults,
		LastSuccess:       c.lastSuccess,
		LastFault:         c.lastFault,
		Counters:          c.counters,
	}
}

// recordSuccess notes a completed exchange. It returns true if the
// controller was comm-failed and is now restored.
func (c *Controller) recordSuccess(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters.Polls++
	c.faults = 0
	c.lastSuccess = now
	restored := c.failed
	c.failed = false
	return restored
}

// recordFault counts a fault. Comm faults advance the consecutive count;
// it returns true when the count reaches threshold and the controller
// becomes comm-failed.
func (c *Controller) recordFault(f *Fault, threshold int, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFault = now

	switch f.Kind {
	case FaultTransport:
		if f.Timeout {
			c.counters.Timeouts++
		} else {
			c.counters.CommErrors++
		}
	case FaultChecksum:
		c.counters.ChecksumErrors++
	case FaultParsing:
		c.counters.ParsingErrors++
	case FaultProtocol:
		c.counters.ControllerErrors++
	}

	if !f.IsCommFault() {
		return false
	}
	c.faults++
	if c.failed || threshold <= 0 || c.faults < threshold {
		return false
	}
	c.failed = true
	c.lastProbe = now
	return true
}

// allowProbe reports whether an operation may run against the controller.
// A comm-failed controller admits one probe per interval.
func (c *Controller) allowProbe(interval time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.failed {
		return true
	}
	if now.Sub(c.lastProbe) < interval {
		return false
	}
	c.lastProbe = now
	return true
}
