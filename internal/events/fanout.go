package events

import "github.com/nerrad567/gray-logic-comm/internal/comm"

// Fanout delivers every event to each sink in order. Nil sinks are skipped.
type Fanout []comm.EventSink

// Emit implements comm.EventSink.
func (f Fanout) Emit(ev comm.Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// LogSink logs events: COMM_FAILED at warn, COMM_RESTORED at info and the
// rest at debug.
type LogSink struct {
	Logger Logger
}

// Emit implements comm.EventSink.
func (s LogSink) Emit(ev comm.Event) {
	if s.Logger == nil {
		return
	}
	args := []any{"event", ev.Type.String(), "link", ev.Link}
	if ev.Controller != "" {
		args = append(args, "controller", ev.Controller)
	}
	if ev.Detail != "" {
		args = append(args, "detail", ev.Detail)
	}
	switch ev.Type {
	case comm.EventCommFailed:
		s.Logger.Warn("comm event", args...)
	case comm.EventCommRestored:
		s.Logger.Info("comm event", args...)
	default:
		s.Logger.Debug("comm event", args...)
	}
}
