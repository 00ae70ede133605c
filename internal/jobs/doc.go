// Package jobs runs the periodic work of Gray Logic Comm.
//
// The Scheduler enqueues each link's routine polling operations every
// poll interval and prunes the comm event log past its retention. Links
// added or removed by a configuration reload are picked up on the next
// tick.
package jobs
