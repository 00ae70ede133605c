package api

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/metrics"
)

// healthCheckTimeout bounds each component check of /health.
const healthCheckTimeout = 3 * time.Second

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Comm          metrics.Snapshot `json:"comm"`
	Links         LinkTotals       `json:"links"`
	Bus           *SinkMetrics     `json:"bus,omitempty"`
	EventLog      *SinkMetrics     `json:"event_log,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// LinkTotals sums the pollers of every running link.
type LinkTotals struct {
	Links             int    `json:"links"`
	Controllers       int    `json:"controllers"`
	FailedControllers int    `json:"failed_controllers"`
	Queued            int    `json:"queued"`
	Completed         uint64 `json:"completed"`
	Failed            uint64 `json:"failed"`
	Retries           uint64 `json:"retries"`
}

// SinkMetrics counts the output of an asynchronous event sink.
type SinkMetrics struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns throughput and runtime metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.deps.Metrics != nil {
		m.Comm = s.deps.Metrics.Snapshot()
	}

	for _, l := range s.deps.Links.Links() {
		m.Links.Links++
		m.Links.Controllers += len(l.Controllers)
		m.Links.Queued += l.Stats.Queued
		m.Links.Completed += l.Stats.Completed
		m.Links.Failed += l.Stats.Failed
		m.Links.Retries += l.Stats.Retries
		for _, c := range l.Controllers {
			if c.CommFailed {
				m.Links.FailedControllers++
			}
		}
	}

	if p := s.deps.Publisher; p != nil {
		m.Bus = &SinkMetrics{Delivered: p.Published(), Dropped: p.Dropped()}
	}
	if r := s.deps.Recorder; r != nil {
		m.EventLog = &SinkMetrics{Delivered: r.Written(), Dropped: r.Dropped()}
	}
	if s.deps.DB != nil {
		st := s.deps.DB.Stats()
		m.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

// handleHealth checks every configured component concurrently. Any failure
// makes the response 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()

			status := "ok"
			if err := s.deps.Checks[name].HealthCheck(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall, code := "ok", http.StatusOK
	for _, st := range results {
		if st != "ok" {
			overall, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]any{
		"status":     overall,
		"version":    s.deps.Version,
		"components": results,
	})
}
