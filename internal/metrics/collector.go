package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Writer receives each observation. *influxdb.Client implements it.
type Writer interface {
	WriteOperation(link, operation string, success bool, elapsed time.Duration, at time.Time)
	WriteFault(link, kind string, at time.Time)
	WriteLiveOperations(link string, live int64, at time.Time)
}

// faultKinds is indexed by comm.FaultKind.
var faultKinds = [...]comm.FaultKind{
	comm.FaultTransport,
	comm.FaultChecksum,
	comm.FaultParsing,
	comm.FaultContention,
	comm.FaultProtocol,
}

type linkCounters struct {
	live      atomic.Int64
	begun     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	elapsed   atomic.Int64 // nanoseconds over every cleaned operation
	maxNanos  atomic.Int64
	faults    [len(faultKinds) + 1]atomic.Uint64
}

// LinkSnapshot is a point-in-time copy of one link's counters.
type LinkSnapshot struct {
	Live          int64             `json:"live_operations"`
	Begun         uint64            `json:"begun"`
	Succeeded     uint64            `json:"succeeded"`
	Failed        uint64            `json:"failed"`
	AvgDurationMS float64           `json:"avg_duration_ms"`
	MaxDurationMS float64           `json:"max_duration_ms"`
	Faults        map[string]uint64 `json:"faults"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Live  int64                   `json:"live_operations"`
	Links map[string]LinkSnapshot `json:"links"`
}

// Collector implements comm.Metrics with lock-free counters. The link map
// lock is only taken for writing the first time a link is seen.
type Collector struct {
	writer Writer
	now    func() time.Time

	live atomic.Int64

	mu    sync.RWMutex
	links map[string]*linkCounters
}

var _ comm.Metrics = (*Collector)(nil)

// NewCollector creates a collector. w may be nil.
func NewCollector(w Writer) *Collector {
	return &Collector{
		writer: w,
		now:    time.Now,
		links:  make(map[string]*linkCounters),
	}
}

func (c *Collector) link(name string) *linkCounters {
	c.mu.RLock()
	lc, ok := c.links[name]
	c.mu.RUnlock()
	if ok {
		return lc
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lc, ok = c.links[name]; !ok {
		lc = &linkCounters{}
		c.links[name] = lc
	}
	return lc
}

// OperationBegun implements comm.Metrics. It returns the live count across
// all links.
func (c *Collector) OperationBegun(link string) int64 {
	lc := c.link(link)
	lc.begun.Add(1)
	linkLive := lc.live.Add(1)
	live := c.live.Add(1)
	if c.writer != nil {
		c.writer.WriteLiveOperations(link, linkLive, c.now())
	}
	return live
}

// OperationCleaned implements comm.Metrics. It returns the live count
// across all links.
func (c *Collector) OperationCleaned(link, operation string, success bool, elapsed time.Duration) int64 {
	lc := c.link(link)
	if success {
		lc.succeeded.Add(1)
	} else {
		lc.failed.Add(1)
	}
	lc.elapsed.Add(int64(elapsed))
	for {
		cur := lc.maxNanos.Load()
		if int64(elapsed) <= cur || lc.maxNanos.CompareAndSwap(cur, int64(elapsed)) {
			break
		}
	}

	linkLive := lc.live.Add(-1)
	live := c.live.Add(-1)

	if c.writer != nil {
		at := c.now()
		c.writer.WriteOperation(link, operation, success, elapsed, at)
		c.writer.WriteLiveOperations(link, linkLive, at)
	}
	return live
}

// FaultObserved implements comm.Metrics.
func (c *Collector) FaultObserved(link string, kind comm.FaultKind) {
	lc := c.link(link)
	idx := int(kind)
	if idx < 0 || idx >= len(lc.faults) {
		idx = 0
	}
	lc.faults[idx].Add(1)
	if c.writer != nil {
		c.writer.WriteFault(link, kind.String(), c.now())
	}
}

// Live returns the operations begun and not yet cleaned up, across links.
func (c *Collector) Live() int64 {
	return c.live.Load()
}

// Links returns the names of every link observed, sorted.
func (c *Collector) Links() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.links))
	for name := range c.links {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Link returns the counters of one link.
func (c *Collector) Link(name string) (LinkSnapshot, bool) {
	c.mu.RLock()
	lc, ok := c.links[name]
	c.mu.RUnlock()
	if !ok {
		return LinkSnapshot{}, false
	}
	return lc.snapshot(), true
}

// Snapshot copies every counter.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Live:  c.live.Load(),
		Links: make(map[string]LinkSnapshot, len(c.links)),
	}
	for name, lc := range c.links {
		s.Links[name] = lc.snapshot()
	}
	return s
}

func (lc *linkCounters) snapshot() LinkSnapshot {
	s := LinkSnapshot{
		Live:          lc.live.Load(),
		Begun:         lc.begun.Load(),
		Succeeded:     lc.succeeded.Load(),
		Failed:        lc.failed.Load(),
		MaxDurationMS: nanosToMS(lc.maxNanos.Load()),
		Faults:        make(map[string]uint64, len(faultKinds)),
	}
	if done := s.Succeeded + s.Failed; done > 0 {
		s.AvgDurationMS = nanosToMS(lc.elapsed.Load()) / float64(done)
	}
	for _, k := range faultKinds {
		s.Faults[k.String()] = lc.faults[k].Load()
	}
	if n := lc.faults[0].Load(); n > 0 {
		s.Faults[comm.FaultKind(0).String()] = n
	}
	return s
}

func nanosToMS(n int64) float64 {
	return float64(n) / float64(time.Millisecond)
}
