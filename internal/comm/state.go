package comm

// StateSink receives device values decoded by operations, for example to
// publish them on the message bus.
type StateSink interface {
	PublishState(ctrl *Controller, key string, value any)
}

// StateSinkFunc adapts a function to StateSink.
type StateSinkFunc func(ctrl *Controller, key string, value any)

// PublishState calls f(ctrl, key, value).
func (f StateSinkFunc) PublishState(ctrl *Controller, key string, value any) {
	f(ctrl, key, value)
}

// NopStateSink discards state.
type NopStateSink struct{}

// PublishState implements StateSink.
func (NopStateSink) PublishState(*Controller, string, any) {}
