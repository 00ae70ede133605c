package comm

import (
	"sync/atomic"
	"time"
)

// Metrics observes operation throughput. It is the only value shared by all
// pollers, so implementations must be safe for concurrent use.
type Metrics interface {
	// OperationBegun records a begun operation and returns the live count.
	OperationBegun(link string) int64

	// OperationCleaned records a finished operation, named by its
	// description, and returns the live count.
	OperationCleaned(link, operation string, success bool, elapsed time.Duration) int64

	// FaultObserved records one classified fault.
	FaultObserved(link string, kind FaultKind)
}

// LiveCounter is a minimal Metrics that only tracks live operations.
type LiveCounter struct {
	live atomic.Int64
}

var _ Metrics = (*LiveCounter)(nil)

// OperationBegun implements Metrics.
func (c *LiveCounter) OperationBegun(string) int64 {
	return c.live.Add(1)
}

// OperationCleaned implements Metrics.
func (c *LiveCounter) OperationCleaned(string, string, bool, time.Duration) int64 {
	return c.live.Add(-1)
}

// FaultObserved implements Metrics.
func (c *LiveCounter) FaultObserved(string, FaultKind) {}

// Live returns the number of begun operations not yet cleaned up.
func (c *LiveCounter) Live() int64 {
	return c.live.Load()
}
