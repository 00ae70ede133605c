package events

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/influxdb"
)

const (
	defaultReportInterval = time.Minute
	snapshotTimeout       = 5 * time.Second
)

// Link health states.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "down"
	HealthStopped  = "stopped"
)

// LinkHealth is the retained health report of one link.
type LinkHealth struct {
	Link              string    `json:"link"`
	Protocol          string    `json:"protocol"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	Controllers       int       `json:"controllers"`
	FailedControllers int       `json:"failed_controllers"`
	Queued            int       `json:"queued"`
	Completed         uint64    `json:"completed"`
	Failed            uint64    `json:"failed"`
	Timestamp         time.Time `json:"timestamp"`
}

// LinkSource lists running links. *comm.Manager implements it.
type LinkSource interface {
	Links() []comm.LinkStatus
}

// StatusPublisher publishes status on the bus. *Publisher implements it.
type StatusPublisher interface {
	PublishStatus(st comm.ControllerStatus)
	PublishHealth(h LinkHealth)
}

// SnapshotSaver persists controller snapshots. *Store implements it.
type SnapshotSaver interface {
	SaveSnapshots(ctx context.Context, snaps []Snapshot) error
}

// LinkMetrics records link samples. *influxdb.Client implements it.
type LinkMetrics interface {
	WriteLink(s influxdb.LinkSample, at time.Time)
}

// ReporterConfig wires a StatusReporter. Only Links is required.
type ReporterConfig struct {
	Interval  time.Duration
	Links     LinkSource
	Publisher StatusPublisher
	Snapshots SnapshotSaver
	Metrics   LinkMetrics
	Logger    Logger
}

// StatusReporter reports link health and controller status every interval.
// Controller status is republished only when its status text, error status
// or comm-failed flag changed.
type StatusReporter struct {
	cfg ReporterConfig
	now func() time.Time

	mu       sync.Mutex
	last     map[string]comm.ControllerStatus
	reported map[string]string // link -> protocol

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewStatusReporter creates a reporter. Call Start to begin reporting.
func NewStatusReporter(cfg ReporterConfig) *StatusReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReportInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &StatusReporter{
		cfg:      cfg,
		now:      time.Now,
		last:     make(map[string]comm.ControllerStatus),
		reported: make(map[string]string),
		done:     make(chan struct{}),
	}
}

// Start reports once immediately and then every interval.
func (r *StatusReporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		r.ReportNow(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				r.ReportNow(ctx)
			}
		}
	}()
}

// Stop ends reporting and publishes a stopped report for every link seen.
func (r *StatusReporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		if r.cfg.Publisher == nil {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		for link, protocol := range r.reported {
			r.cfg.Publisher.PublishHealth(LinkHealth{
				Link:      link,
				Protocol:  protocol,
				Status:    HealthStopped,
				Reason:    "service stopping",
				Timestamp: r.now().UTC(),
			})
		}
	})
}

// ReportNow runs one reporting pass.
func (r *StatusReporter) ReportNow(ctx context.Context) {
	links := r.cfg.Links.Links()
	at := r.now().UTC()

	var snaps []Snapshot
	r.mu.Lock()
	present := make(map[string]bool, len(links))
	for _, l := range links {
		present[l.Name] = true
		r.reported[l.Name] = l.Protocol
		h := Health(l, at)

		if r.cfg.Publisher != nil {
			r.cfg.Publisher.PublishHealth(h)
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.WriteLink(influxdb.LinkSample{
				Link:              l.Name,
				QueueLength:       l.Stats.Queued,
				Controllers:       h.Controllers,
				FailedControllers: h.FailedControllers,
				Completed:         l.Stats.Completed,
				Failed:            l.Stats.Failed,
			}, at)
		}

		for _, c := range l.Controllers {
			key := c.Link + "/" + c.Name
			prev, seen := r.last[key]
			if !seen || statusChanged(prev, c) {
				if r.cfg.Publisher != nil {
					r.cfg.Publisher.PublishStatus(c)
				}
			}
			r.last[key] = c
			snaps = append(snaps, Snapshot{
				Link:        c.Link,
				Controller:  c.Name,
				Status:      c.Status,
				ErrorStatus: c.ErrorStatus,
				CommFailed:  c.CommFailed,
				UpdatedAt:   at,
			})
		}
	}
	// Links removed by a reload report once as stopped.
	for link, protocol := range r.reported {
		if present[link] {
			continue
		}
		delete(r.reported, link)
		if r.cfg.Publisher != nil {
			r.cfg.Publisher.PublishHealth(LinkHealth{
				Link: link, Protocol: protocol, Status: HealthStopped,
				Reason: "link removed", Timestamp: at,
			})
		}
	}
	r.mu.Unlock()

	if r.cfg.Snapshots != nil && len(snaps) > 0 {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
		defer cancel()
		if err := r.cfg.Snapshots.SaveSnapshots(sctx, snaps); err != nil {
			r.cfg.Logger.Warn("failed to save controller snapshots", "error", err)
		}
	}
}

// Health summarises a link: down when every controller is comm-failed,
// degraded when some are.
func Health(l comm.LinkStatus, at time.Time) LinkHealth {
	h := LinkHealth{
		Link:        l.Name,
		Protocol:    l.Protocol,
		Status:      HealthHealthy,
		Controllers: len(l.Controllers),
		Queued:      l.Stats.Queued,
		Completed:   l.Stats.Completed,
		Failed:      l.Stats.Failed,
		Timestamp:   at,
	}
	for _, c := range l.Controllers {
		if c.CommFailed {
			h.FailedControllers++
		}
	}
	switch {
	case h.Controllers > 0 && h.FailedControllers == h.Controllers:
		h.Status = HealthDown
		h.Reason = "all controllers comm failed"
	case h.FailedControllers > 0:
		h.Status = HealthDegraded
		h.Reason = "some controllers comm failed"
	}
	return h
}

func statusChanged(a, b comm.ControllerStatus) bool {
	return a.Status != b.Status || a.ErrorStatus != b.ErrorStatus || a.CommFailed != b.CommFailed
}
