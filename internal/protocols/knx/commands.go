package knx

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Command actions.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

// commandArgs selects a function by name from the controller's "functions"
// parameter, or directly by address and datapoint type.
type commandArgs struct {
	Function string          `json:"function"`
	Address  string          `json:"address"`
	DPT      DPT             `json:"dpt"`
	Value    json.RawMessage `json:"value"`
}

// BuildCommand turns a bus command into a group read or write. A
// successful read publishes the value to the driver's state sink.
func (d *Driver) BuildCommand(ctrl *comm.Controller, action string, raw json.RawMessage, opts ...comm.OperationOption) (*comm.Operation, error) {
	var args commandArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: %w", comm.ErrInvalidArgs, err)
		}
	}
	fn, err := resolveFunction(ctrl, args)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionRead:
		var val *comm.Value[any]
		publish := comm.WithCleanup(func(op *comm.Operation) {
			if op.IsSuccess() && val != nil {
				d.state.PublishState(ctrl, fn.Name, val.Get())
			}
		})
		op, v, err := NewReadGroup(ctrl, fn, append(opts, publish)...)
		if err != nil {
			return nil, err
		}
		val = v
		return op, nil

	case ActionWrite:
		value, err := decodeJSONValue(fn.DPT, args.Value)
		if err != nil {
			return nil, err
		}
		op, err := NewWriteGroup(ctrl, fn, value, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", comm.ErrInvalidArgs, err)
		}
		return op, nil

	default:
		return nil, fmt.Errorf("%w: %q", comm.ErrUnknownAction, action)
	}
}

func resolveFunction(ctrl *comm.Controller, args commandArgs) (Function, error) {
	if args.Function != "" {
		spec, _ := ctrl.Param("functions")
		fns, err := ParseFunctions(spec)
		if err != nil {
			return Function{}, err
		}
		for _, fn := range fns {
			if fn.Name == args.Function {
				return fn, nil
			}
		}
		return Function{}, fmt.Errorf("%w: controller %s has no function %q", comm.ErrInvalidArgs, ctrl.Name(), args.Function)
	}

	if args.Address == "" || args.DPT == "" {
		return Function{}, fmt.Errorf("%w: function or address and dpt required", comm.ErrInvalidArgs)
	}
	ga, err := ParseGroupAddress(args.Address)
	if err != nil {
		return Function{}, fmt.Errorf("%w: %w", comm.ErrInvalidArgs, err)
	}
	if _, err := CodecFor(args.DPT); err != nil {
		return Function{}, fmt.Errorf("%w: %w", comm.ErrInvalidArgs, err)
	}
	return Function{Name: ga.String(), Address: ga, DPT: args.DPT}, nil
}

// decodeJSONValue unmarshals a command value into the Go type CodecFor
// expects for dpt.
func decodeJSONValue(dpt DPT, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: value is required", comm.ErrInvalidArgs)
	}
	if dpt == DPTColourRGB {
		return unmarshalAs[RGB](raw)
	}
	switch dpt.Major() {
	case "1":
		return unmarshalAs[bool](raw)
	case "3":
		return unmarshalAs[Control](raw)
	case "5", "9":
		return unmarshalAs[float64](raw)
	case "17":
		return unmarshalAs[uint8](raw)
	case "18":
		return unmarshalAs[SceneControl](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDPT, dpt)
	}
}

func unmarshalAs[V any](raw json.RawMessage) (any, error) {
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: value: %w", comm.ErrInvalidArgs, err)
	}
	return v, nil
}
