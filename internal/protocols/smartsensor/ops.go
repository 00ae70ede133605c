package smartsensor

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Published state keys.
const (
	stateTime    = "time"
	stateDrift   = "clock_drift_s"
	stateVersion = "version"
)

// now is replaced in tests.
var now = time.Now

// NewQueryTime creates an operation reading the sensor clock. When
// syncAfter is positive and the clock is off by more than that, a second
// phase sets it.
func NewQueryTime(ctrl *comm.Controller, state comm.StateSink, syncAfter time.Duration, opts ...comm.OperationOption) *comm.Operation {
	if state == nil {
		state = comm.NopStateSink{}
	}
	stamp := comm.NewValue(cmdGetTime, TimeCodec)

	opts = append([]comm.OperationOption{comm.WithKey(ctrl.Name() + "/query-time")}, opts...)
	return comm.NewOperation(comm.PriorityDeviceData, ctrl, "query time", func() comm.Phase {
		return comm.NamedPhase("query time", func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
			msg.Add(stamp)
			if err := msg.QueryProps(ctx); err != nil {
				return nil, err
			}

			sensor := stamp.Get()
			drift := sensor.Sub(now())
			state.PublishState(msg.Controller(), stateTime, sensor)
			state.PublishState(msg.Controller(), stateDrift, drift.Seconds())

			if syncAfter > 0 && drift.Abs() > syncAfter {
				return sendTimePhase(), nil
			}
			return nil, nil
		})
	}, opts...)
}

// NewSendTime creates a download operation setting the sensor clock to the
// time the request is sent.
func NewSendTime(ctrl *comm.Controller, opts ...comm.OperationOption) *comm.Operation {
	return comm.NewOperation(comm.PriorityDownload, ctrl, "send time", sendTimePhase, opts...)
}

func sendTimePhase() comm.Phase {
	return comm.NamedPhase("send time", func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
		msg.Add(comm.NewValueOf(cmdGetTime, TimeCodec, now()))
		return nil, msg.StoreProps(ctx)
	})
}

// NewQueryVersion creates an operation reading the firmware version.
func NewQueryVersion(ctrl *comm.Controller, state comm.StateSink, opts ...comm.OperationOption) *comm.Operation {
	if state == nil {
		state = comm.NopStateSink{}
	}
	version := comm.NewValue(cmdGetVersion, VersionCodec)

	opts = append([]comm.OperationOption{comm.WithKey(ctrl.Name() + "/query-version")}, opts...)
	return comm.NewOperation(comm.PriorityDeviceData, ctrl, "query version", func() comm.Phase {
		return comm.NamedPhase("query version", func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
			msg.Add(version)
			if err := msg.QueryProps(ctx); err != nil {
				return nil, err
			}
			ctrl.SetStatus("version " + version.Get())
			state.PublishState(msg.Controller(), stateVersion, version.Get())
			return nil, nil
		})
	}, opts...)
}
