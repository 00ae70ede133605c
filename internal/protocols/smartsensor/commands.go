package smartsensor

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Command actions.
const (
	ActionQueryTime    = "query_time"
	ActionSendTime     = "send_time"
	ActionQueryVersion = "query_version"
)

// BuildCommand turns a bus command into a sensor operation. None of the
// actions take arguments; a manual time query never corrects the clock.
func (d *Driver) BuildCommand(ctrl *comm.Controller, action string, _ json.RawMessage, opts ...comm.OperationOption) (*comm.Operation, error) {
	switch action {
	case ActionQueryTime:
		return NewQueryTime(ctrl, d.state, 0, opts...), nil
	case ActionSendTime:
		return NewSendTime(ctrl, opts...), nil
	case ActionQueryVersion:
		return NewQueryVersion(ctrl, d.state, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", comm.ErrUnknownAction, action)
	}
}
