package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/mqtt"
)

const subscribeQoS = 1

// Result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// Command is the payload of a command topic.
type Command struct {
	ID       string          `json:"id,omitempty"`
	Action   string          `json:"action"`
	Priority string          `json:"priority,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// Result is published once per command.
type Result struct {
	ID          string    `json:"id,omitempty"`
	Link        string    `json:"link"`
	Controller  string    `json:"controller"`
	Action      string    `json:"action,omitempty"`
	Operation   string    `json:"operation,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ErrorStatus string    `json:"error_status,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	ElapsedMS   int64     `json:"elapsed_ms,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Builder is implemented by drivers that accept bus commands.
type Builder interface {
	BuildCommand(ctrl *comm.Controller, action string, args json.RawMessage, opts ...comm.OperationOption) (*comm.Operation, error)
}

// Manager is the part of comm.Manager the handler needs.
type Manager interface {
	Controller(link, name string) (*comm.Controller, bool)
	Driver(link string) (comm.Driver, bool)
	Enqueue(link string, op *comm.Operation) error
}

// Bus subscribes to commands and publishes results. *mqtt.Client
// implements it.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
}

// Logger is the logging subset used by the handler.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Handler turns bus commands into queued operations.
//
// Thread Safety:
//   - HandleMessage is safe for concurrent use.
type Handler struct {
	manager Manager
	bus     Bus
	logger  Logger
	now     func() time.Time
}

// NewHandler creates a handler. Call Subscribe to start receiving.
func NewHandler(manager Manager, bus Bus, logger Logger) *Handler {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Handler{manager: manager, bus: bus, logger: logger, now: time.Now}
}

// Subscribe starts receiving commands for every link and controller.
func (h *Handler) Subscribe() error {
	if err := h.bus.Subscribe(mqtt.Topics{}.AllCommands(), subscribeQoS, h.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Unsubscribe stops receiving commands.
func (h *Handler) Unsubscribe() error {
	return h.bus.Unsubscribe(mqtt.Topics{}.AllCommands())
}

// HandleMessage is the mqtt.MessageHandler for command topics. Rejections
// are answered on the result topic; the returned error is only for
// messages that cannot be answered at all.
func (h *Handler) HandleMessage(topic string, payload []byte) error {
	link, name, ok := mqtt.ParseCommandTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.reject(link, name, cmd, fmt.Errorf("%w: %w", ErrInvalidCommand, err))
		return nil
	}

	op, err := h.build(link, name, cmd)
	if err != nil {
		h.reject(link, name, cmd, err)
		return nil
	}
	if err := h.manager.Enqueue(link, op); err != nil {
		h.reject(link, name, cmd, err)
		return nil
	}

	h.logger.Info("command queued", "link", link, "controller", name,
		"action", cmd.Action, "id", cmd.ID, "priority", op.Priority().String())
	return nil
}

func (h *Handler) build(link, name string, cmd Command) (*comm.Operation, error) {
	if cmd.Action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidCommand)
	}

	var opts []comm.OperationOption
	if cmd.Priority != "" {
		p, err := comm.ParsePriority(cmd.Priority)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		opts = append(opts, comm.WithPriority(p))
	}

	ctrl, ok := h.manager.Controller(link, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownController, link, name)
	}
	driver, ok := h.manager.Driver(link)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownController, link, name)
	}
	builder, ok := driver.(Builder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, driver.Protocol())
	}

	started := h.now()
	opts = append(opts, comm.WithCleanup(func(op *comm.Operation) {
		h.complete(link, name, cmd, op, h.now().Sub(started))
	}))
	return builder.BuildCommand(ctrl, cmd.Action, cmd.Args, opts...)
}

func (h *Handler) complete(link, name string, cmd Command, op *comm.Operation, elapsed time.Duration) {
	res := Result{
		ID:          cmd.ID,
		Link:        link,
		Controller:  name,
		Action:      cmd.Action,
		Operation:   op.Description(),
		Status:      StatusSucceeded,
		ErrorStatus: op.ErrorStatus(),
		Attempts:    op.Attempts(),
		ElapsedMS:   elapsed.Milliseconds(),
		Timestamp:   h.now().UTC(),
	}
	if !op.IsSuccess() {
		res.Status = StatusFailed
	}
	h.publish(res)
}

func (h *Handler) reject(link, name string, cmd Command, err error) {
	h.logger.Warn("command rejected", "link", link, "controller", name,
		"action", cmd.Action, "id", cmd.ID, "error", err)
	h.publish(Result{
		ID:         cmd.ID,
		Link:       link,
		Controller: name,
		Action:     cmd.Action,
		Status:     StatusRejected,
		Error:      err.Error(),
		Timestamp:  h.now().UTC(),
	})
}

func (h *Handler) publish(res Result) {
	topic := mqtt.Topics{}.CommandResult(res.Link, res.Controller)
	if err := h.bus.PublishJSON(topic, res, false); err != nil {
		h.logger.Warn("failed to publish command result", "topic", topic, "id", res.ID, "error", err)
	}
}
