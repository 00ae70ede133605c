package smartsensor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

const (
	requestPrefix = "Z0"
	lineEnd       = "\r\n"
	maxDrop       = 0xFFFF

	respSuccess = "Success"
	respFailure = "Failure"
	respInvalid = "Invalid"

	// maxLineLength bounds a response line.
	maxLineLength = 512
)

// Framer encodes one command per request line. Property addresses are the
// GET command codes; a store sends the matching SET command followed by the
// encoded value.
type Framer struct{}

var _ comm.Framer = Framer{}

// EncodeRequest implements comm.Framer.
func (Framer) EncodeRequest(kind comm.RequestKind, ctrl *comm.Controller, props []comm.Property) ([]byte, error) {
	if len(props) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrOneCommand, len(props))
	}
	if ctrl.Drop() < 0 || ctrl.Drop() > maxDrop {
		return nil, fmt.Errorf("%w: %d", ErrDropRange, ctrl.Drop())
	}

	cmd := props[0].Address()
	if kind == comm.Store {
		set, ok := setCommands[cmd]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrReadOnly, cmd)
		}
		b, err := props[0].EncodeValue()
		if err != nil {
			return nil, err
		}
		cmd = set + string(b)
	}

	line := fmt.Sprintf("%s%04X%s", requestPrefix, ctrl.Drop(), cmd)
	if hasChecksum(ctrl) {
		line += checksum(line)
	}
	return []byte(line + lineEnd), nil
}

// DecodeResponse implements comm.Framer.
func (Framer) DecodeResponse(kind comm.RequestKind, ctrl *comm.Controller, props []comm.Property, frame []byte) ([][]byte, error) {
	line := strings.TrimSpace(string(frame))

	// blank lines and echoed requests on shared serial lines
	if line == "" || strings.HasPrefix(line, requestPrefix) {
		return nil, comm.ErrForeignFrame
	}

	if hasChecksum(ctrl) && line != respSuccess && line != respFailure && line != respInvalid {
		var err error
		if line, err = verifyChecksum(line); err != nil {
			return nil, err
		}
	}

	switch line {
	case respFailure, respInvalid:
		return nil, comm.ProtocolError(props[0].Address() + ": " + line)
	}

	if kind == comm.Store {
		if line != respSuccess {
			return nil, comm.ProtocolError(props[0].Address() + " set error: " + line)
		}
		return nil, nil
	}
	return [][]byte{[]byte(line)}, nil
}

// ExpectsResponse implements comm.Framer.
func (Framer) ExpectsResponse(comm.RequestKind) bool {
	return true
}

func hasChecksum(ctrl *comm.Controller) bool {
	v, _ := ctrl.Param("checksum")
	ok, _ := strconv.ParseBool(v)
	return ok
}

// checksum is the byte sum of s modulo 256 as two hex digits.
func checksum(s string) string {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// verifyChecksum strips and checks a trailing checksum.
func verifyChecksum(line string) (string, error) {
	if len(line) < 2 {
		return "", comm.ParsingError("response too short for checksum: %q", line)
	}
	body, sum := line[:len(line)-2], line[len(line)-2:]
	if want := checksum(body); !strings.EqualFold(sum, want) {
		return "", comm.ChecksumError("response checksum %s, computed %s", sum, want)
	}
	return body, nil
}
