package events

import "errors"

var (
	// ErrInvalidFilter is returned for an event query that cannot match.
	ErrInvalidFilter = errors.New("events: invalid filter")

	// ErrMissingField is returned when a snapshot lacks its key.
	ErrMissingField = errors.New("events: missing field")
)
