// Package commands accepts operation requests from the message bus.
//
// A JSON command published on graylogic/comm/command/{link}/{controller}
// is turned into a comm.Operation by the link's driver and queued on the
// link. When the operation is cleaned up its outcome is published on
// graylogic/comm/command-result/{link}/{controller}:
//
//	{"id": "c-17", "action": "send_message", "priority": "urgent",
//	 "args": {"multi": "ROAD CLOSED", "beacon": true}}
//
// Commands that cannot be queued are answered immediately with status
// "rejected".
package commands
