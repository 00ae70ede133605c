package ntcip

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Command actions.
const (
	ActionQueryMessage = "query_message"
	ActionSendMessage  = "send_message"
)

// BuildCommand turns a bus command into a sign operation. send_message
// takes a SignMessage; priority defaults to operator and the source
// follows the priority.
func (d *Driver) BuildCommand(ctrl *comm.Controller, action string, raw json.RawMessage, opts ...comm.OperationOption) (*comm.Operation, error) {
	sign := d.Sign(ctrl)

	switch action {
	case ActionQueryMessage:
		return NewQueryMessage(ctrl, sign, opts...), nil

	case ActionSendMessage:
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: message is required", comm.ErrInvalidArgs)
		}
		var m SignMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %w", comm.ErrInvalidArgs, err)
		}
		if m.Priority == PriorityInvalid {
			m.Priority = PriorityOperator
		}
		if m.IsBlank() {
			m = BlankMessage()
		}
		if m.Source == "" {
			m.Source = m.Priority.Source()
		}
		if m.Duration != nil && *m.Duration < 0 {
			return nil, fmt.Errorf("%w: negative duration", comm.ErrInvalidArgs)
		}
		return NewSendMessage(ctrl, sign, m, opts...), nil

	default:
		return nil, fmt.Errorf("%w: %q", comm.ErrUnknownAction, action)
	}
}
