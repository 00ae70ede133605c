// Package events records, publishes and reports communication activity.
//
// Components:
//   - Store persists the comm event log and controller snapshots in SQLite.
//   - Recorder is an asynchronous comm.EventSink writing into a Store.
//   - Publisher is an asynchronous comm.EventSink and comm.StateSink
//     publishing on the message bus.
//   - Fanout delivers each event to several sinks.
//   - StatusReporter periodically publishes link health, retained controller
//     status, snapshots and link metrics.
//
// Pollers call Emit and PublishState on their own goroutine, so both sinks
// only enqueue; a full queue drops the entry and counts it.
package events
