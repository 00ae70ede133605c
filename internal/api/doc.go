// Package api implements the read-only HTTP status API of Gray Logic Comm.
//
// This package provides:
//   - Link, controller and poller status from the comm manager
//   - The persisted comm event log with filtering
//   - Controller snapshots from the last status report
//   - Throughput counters and runtime metrics
//   - A websocket stream of live comm events
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Endpoints
//
//	GET /api/v1/health
//	GET /api/v1/links
//	GET /api/v1/links/{link}
//	GET /api/v1/links/{link}/controllers
//	GET /api/v1/links/{link}/controllers/{controller}
//	GET /api/v1/events?link=&controller=&type=&since=&until=&limit=
//	GET /api/v1/snapshots
//	GET /api/v1/metrics
//	GET /api/v1/stream (websocket; subscribe to "comm.event" or "comm.event.{link}")
//
// Operations are requested over the message bus, not this API.
package api
