// Package comm is the field-device communication engine for Gray Logic.
//
// It schedules multi-step protocol exchanges ("operations") against shared,
// slow links to field controllers. Every link is serviced by exactly one
// Poller goroutine which owns a priority queue of operations and drives each
// one to completion before starting the next.
//
// # Building Blocks
//
//   - Property: one addressable unit of device state with a codec
//   - Message: one batched request/response round trip over Properties
//   - Phase: one step of an operation, consuming a Message
//   - Operation: an ordered, priority-tagged chain of Phases
//   - Poller: the per-link worker and its queue
//   - Manager: the set of pollers, one per enabled link
//
// # Lifecycle
//
// Operations are created pending. The poller calls Begin (which builds the
// first phase), Poll until the operation is done, and then Cleanup exactly
// once:
//
//	op := comm.NewOperation(comm.PriorityCommand, ctrl, "write level",
//	    func() comm.Phase { return storeLevel{} })
//	if err := mgr.Enqueue("knx-main", op); err != nil {
//	    return err
//	}
//
// # Faults
//
// Device faults are reported as *Fault values. Transport, checksum and
// parsing faults are passed to Operation.HandleCommError; contention requeues
// the operation; protocol faults set the controller error status. Repeated
// comm faults on one controller mark it comm-failed and fail its pending
// operations until a probe succeeds.
//
// # Thread Safety
//
// Enqueue, SetFailed, SetSucceeded and SetPriority may be called from any
// goroutine. Phases run only on the poller goroutine of their link.
package comm
