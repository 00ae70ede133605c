package smartsensor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// Command codes.
const (
	cmdGetTime    = "SB"
	cmdSetTime    = "S4"
	cmdGetVersion = "S0"
)

// setCommands maps a GET command to the SET command storing the same value.
var setCommands = map[string]string{
	cmdGetTime: cmdSetTime,
}

// TimeCodec converts the sensor clock: 8 hex digits of Unix seconds.
var TimeCodec = comm.Codec[time.Time]{
	Encode: func(t time.Time) ([]byte, error) {
		secs := t.Unix()
		if secs < 0 || secs > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: %s out of range", ErrBadStamp, t)
		}
		return fmt.Appendf(nil, "%08X", secs), nil
	},
	Decode: func(b []byte) (time.Time, error) {
		s := strings.TrimSpace(string(b))
		if len(s) != 8 {
			return time.Time{}, fmt.Errorf("%w: %q", ErrBadStamp, s)
		}
		secs, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrBadStamp, s)
		}
		return time.Unix(int64(secs), 0).UTC(), nil
	},
}

// VersionCodec reads the firmware version line.
var VersionCodec = comm.Codec[string]{
	Encode: func(string) ([]byte, error) {
		return nil, ErrReadOnly
	},
	Decode: func(b []byte) (string, error) {
		return strings.TrimSpace(string(b)), nil
	},
}
