package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the comm service.
const (
	MeasurementOperation = "comm_operation"
	MeasurementFault     = "comm_fault"
	MeasurementLiveOps   = "comm_live_operations"
	MeasurementLink      = "comm_link"
)

// WriteOperation records one finished operation.
//
//	comm_operation,link=signs,operation=Query\ message,outcome=success duration_ms=41.2
func (c *Client) WriteOperation(link, operation string, success bool, elapsed time.Duration, at time.Time) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.WritePoint(MeasurementOperation,
		map[string]string{"link": link, "operation": operation, "outcome": outcome},
		map[string]any{"duration_ms": float64(elapsed.Microseconds()) / 1000},
		at)
}

// WriteFault records one classified fault.
func (c *Client) WriteFault(link, kind string, at time.Time) {
	c.WritePoint(MeasurementFault,
		map[string]string{"link": link, "kind": kind},
		map[string]any{"count": int64(1)},
		at)
}

// WriteLiveOperations records the live operation gauge.
func (c *Client) WriteLiveOperations(link string, live int64, at time.Time) {
	c.WritePoint(MeasurementLiveOps,
		map[string]string{"link": link},
		map[string]any{"value": live},
		at)
}

// LinkSample is one periodic snapshot of a link.
type LinkSample struct {
	Link              string
	QueueLength       int
	Controllers       int
	FailedControllers int
	Completed         uint64
	Failed            uint64
}

// WriteLink records a link snapshot.
func (c *Client) WriteLink(s LinkSample, at time.Time) {
	c.WritePoint(MeasurementLink,
		map[string]string{"link": s.Link},
		map[string]any{
			"queue_length":       int64(s.QueueLength),
			"controllers":        int64(s.Controllers),
			"failed_controllers": int64(s.FailedControllers),
			"completed":          s.Completed,
			"failed":             s.Failed,
		},
		at)
}

// WritePoint queues a point. It is dropped when the client is closed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
