package commands

import "errors"

var (
	// ErrInvalidCommand is returned for a payload that is not a command.
	ErrInvalidCommand = errors.New("commands: invalid command")

	// ErrUnknownController is returned when no running link has the
	// addressed controller.
	ErrUnknownController = errors.New("commands: unknown controller")

	// ErrNotSupported is returned when the link's driver takes no commands.
	ErrNotSupported = errors.New("commands: driver does not accept commands")
)
