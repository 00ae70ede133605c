// Package metrics collects communication throughput for Gray Logic Comm.
//
// Collector is the comm.Metrics shared by every link poller. It keeps
// per-link atomic counters for the status API and, when given a Writer,
// forwards each observation to the time-series store:
//
//	collector := metrics.NewCollector(influxClient)
//	manager := comm.NewManager(comm.ManagerDeps{Metrics: collector})
//	snap := collector.Snapshot()
package metrics
