package knx

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Function is one group-addressed function of a KNX device.
type Function struct {
	Name    string
	Address GroupAddress
	DPT     DPT
}

// ParseFunctions parses "name=main/middle/sub:dpt" entries separated by ";".
func ParseFunctions(s string) ([]Function, error) {
	var fns []Function
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, rest, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFunction, entry)
		}
		addr, dpt, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no datapoint type", ErrInvalidFunction, entry)
		}

		ga, err := ParseGroupAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFunction, err)
		}
		if _, err := CodecFor(DPT(dpt)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFunction, err)
		}

		fns = append(fns, Function{Name: strings.TrimSpace(name), Address: ga, DPT: DPT(dpt)})
	}
	return fns, nil
}

// NewReadGroup creates an operation reading one group address. The
// returned property holds the value once the operation succeeds.
func NewReadGroup(ctrl *comm.Controller, fn Function, opts ...comm.OperationOption) (*comm.Operation, *comm.Value[any], error) {
	codec, err := CodecFor(fn.DPT)
	if err != nil {
		return nil, nil, err
	}
	val := comm.NewValue(fn.Address.String(), codec)

	opts = append([]comm.OperationOption{comm.WithKey(ctrl.Name() + "/read/" + fn.Address.String())}, opts...)
	op := comm.NewOperation(comm.PriorityDeviceData, ctrl, "read "+fn.Name, func() comm.Phase {
		return comm.NamedPhase("group read "+fn.Address.String(), func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
			msg.Add(val)
			return nil, msg.QueryProps(ctx)
		})
	}, opts...)
	return op, val, nil
}

// NewWriteGroup creates a command operation writing value to one group
// address. The value is encoded up front so type errors surface here
// rather than on the link.
func NewWriteGroup(ctrl *comm.Controller, fn Function, value any, opts ...comm.OperationOption) (*comm.Operation, error) {
	codec, err := CodecFor(fn.DPT)
	if err != nil {
		return nil, err
	}
	if _, err := codec.Encode(value); err != nil {
		return nil, err
	}
	val := comm.NewValueOf(fn.Address.String(), codec, value)

	return comm.NewOperation(comm.PriorityCommand, ctrl, "write "+fn.Name, func() comm.Phase {
		return comm.NamedPhase("group write "+fn.Address.String(), func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
			msg.Add(val)
			return nil, msg.StoreProps(ctx)
		})
	}, opts...), nil
}

// NewReadDevice creates an operation reading every function of a device,
// one group read per phase, publishing each value as it arrives.
func NewReadDevice(ctrl *comm.Controller, fns []Function, state comm.StateSink) (*comm.Operation, error) {
	if len(fns) == 0 {
		return nil, fmt.Errorf("%w: device has no functions", ErrInvalidFunction)
	}

	vals := make([]*comm.Value[any], len(fns))
	for i, fn := range fns {
		codec, err := CodecFor(fn.DPT)
		if err != nil {
			return nil, err
		}
		vals[i] = comm.NewValue(fn.Address.String(), codec)
	}

	return comm.NewOperation(comm.PriorityData, ctrl, "read device", func() comm.Phase {
		return &readFunction{fns: fns, vals: vals, state: state}
	}, comm.WithKey(ctrl.Name()+"/device")), nil
}

// readFunction reads fns[i] and continues with i+1.
type readFunction struct {
	fns   []Function
	vals  []*comm.Value[any]
	state comm.StateSink
	i     int
}

func (p *readFunction) Poll(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	msg.Add(p.vals[p.i])
	if err := msg.QueryProps(ctx); err != nil {
		return nil, err
	}
	p.state.PublishState(msg.Controller(), p.fns[p.i].Name, p.vals[p.i].Get())

	if p.i+1 == len(p.fns) {
		return nil, nil
	}
	return &readFunction{fns: p.fns, vals: p.vals, state: p.state, i: p.i + 1}, nil
}

func (p *readFunction) String() string {
	return "read " + p.fns[p.i].Name
}
