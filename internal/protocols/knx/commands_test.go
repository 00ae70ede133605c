package knx

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

func TestBuildCommand_ReadPublishesValue(t *testing.T) {
	published := map[string]any{}
	d := NewDriver(comm.StateSinkFunc(func(_ *comm.Controller, key string, value any) {
		published[key] = value
	}))
	ctrl := comm.NewController("dimmer", "knx-main", 0, map[string]string{
		"functions": "switch=1/0/1:1.001;level=1/0/2:5.001",
	})

	op, err := d.BuildCommand(ctrl, ActionRead, json.RawMessage(`{"function":"level"}`))
	if err != nil {
		t.Fatalf("BuildCommand() error = %v", err)
	}
	runOp(t, op, &scriptSession{replies: [][]byte{
		responseFrame(GroupAddress{Main: 1, Sub: 2}, 0x40, 0xFF),
	}})
	op.Cleanup()

	if !op.IsSuccess() {
		t.Fatal("operation failed")
	}
	if published["level"] != 100.0 {
		t.Errorf("level = %v, want 100", published["level"])
	}
}

func TestBuildCommand_Write(t *testing.T) {
	d := NewDriver(nil)
	ctrl := comm.NewController("scene", "knx-main", 0, nil)

	tests := []struct {
		name string
		args string
	}{
		{"switch", `{"address":"1/0/1","dpt":"1.001","value":true}`},
		{"percent", `{"address":"1/0/2","dpt":"5.001","value":42.5}`},
		{"control", `{"address":"1/0/3","dpt":"3.007","value":{"increase":true,"steps":3}}`},
		{"scene", `{"address":"1/0/4","dpt":"17.001","value":12}`},
		{"scene control", `{"address":"1/0/5","dpt":"18.001","value":{"scene":4,"learn":true}}`},
		{"rgb", `{"address":"1/0/6","dpt":"232.600","value":{"r":255,"g":128,"b":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := d.BuildCommand(ctrl, ActionWrite, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("BuildCommand() error = %v", err)
			}
			session := &scriptSession{}
			runOp(t, op, session)
			if !op.IsSuccess() || len(session.sent) != 1 {
				t.Errorf("success = %v, sent = %d", op.IsSuccess(), len(session.sent))
			}
		})
	}
}

func TestBuildCommand_Errors(t *testing.T) {
	d := NewDriver(nil)
	ctrl := comm.NewController("light", "knx-main", 0, map[string]string{"functions": "switch=1/0/1:1.001"})

	tests := []struct {
		name   string
		action string
		args   string
		want   error
	}{
		{"unknown action", "toggle", `{"function":"switch"}`, comm.ErrUnknownAction},
		{"bad json", ActionRead, `[`, comm.ErrInvalidArgs},
		{"no target", ActionRead, `{}`, comm.ErrInvalidArgs},
		{"unknown function", ActionRead, `{"function":"dim"}`, comm.ErrInvalidArgs},
		{"bad address", ActionRead, `{"address":"99/0/1","dpt":"1.001"}`, comm.ErrInvalidArgs},
		{"missing value", ActionWrite, `{"function":"switch"}`, comm.ErrInvalidArgs},
		{"wrong value type", ActionWrite, `{"function":"switch","value":"on"}`, comm.ErrInvalidArgs},
		{"scene out of range", ActionWrite, `{"address":"1/0/4","dpt":"17.001","value":99}`, comm.ErrInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.BuildCommand(ctrl, tt.action, json.RawMessage(tt.args)); !errors.Is(err, tt.want) {
				t.Errorf("BuildCommand() error = %v, want %v", err, tt.want)
			}
		})
	}
}
