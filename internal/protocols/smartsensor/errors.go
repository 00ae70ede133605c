package smartsensor

import "errors"

// Domain-specific errors.
var (
	ErrReadOnly   = errors.New("smartsensor: value is read-only")
	ErrBadStamp   = errors.New("smartsensor: invalid time stamp")
	ErrDropRange  = errors.New("smartsensor: drop out of range")
	ErrOneCommand = errors.New("smartsensor: one command per request")
)
