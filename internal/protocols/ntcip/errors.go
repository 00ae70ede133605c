package ntcip

import "errors"

// Domain-specific errors.
var (
	ErrFrameTooShort = errors.New("ntcip: frame too short")
	ErrSizeMismatch  = errors.New("ntcip: frame size mismatch")
	ErrFrameTooLarge = errors.New("ntcip: frame too large")
	ErrInvalidOID    = errors.New("ntcip: invalid object identifier")
	ErrValueCount    = errors.New("ntcip: response value count mismatch")
)

// PDUStatus is the error status of a response.
type PDUStatus uint8

// Response status codes.
const (
	PDUNoError    PDUStatus = 0
	PDUTooBig     PDUStatus = 1
	PDUNoSuchName PDUStatus = 2
	PDUBadValue   PDUStatus = 3
	PDUReadOnly   PDUStatus = 4
	PDUGenErr     PDUStatus = 5
)

// String returns the status name.
func (s PDUStatus) String() string {
	switch s {
	case PDUNoError:
		return "noError"
	case PDUTooBig:
		return "tooBig"
	case PDUNoSuchName:
		return "noSuchName"
	case PDUBadValue:
		return "badValue"
	case PDUReadOnly:
		return "readOnly"
	case PDUGenErr:
		return "genErr"
	default:
		return "unknown"
	}
}
