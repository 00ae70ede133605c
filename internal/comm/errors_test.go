package comm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsFault(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    FaultKind
		wantTimeout bool
		wantEvent   EventType
	}{
		{"deadline", context.DeadlineExceeded, FaultTransport, true, EventPollTimeout},
		{"wrapped deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), FaultTransport, true, EventPollTimeout},
		{"plain error", errors.New("connection reset"), FaultTransport, false, EventCommError},
		{"checksum", ChecksumError("crc %04x", 0xBEEF), FaultChecksum, false, EventChecksumError},
		{"parsing", ParsingError("bad"), FaultParsing, false, EventParsingError},
		{"wrapped protocol", fmt.Errorf("phase: %w", ProtocolError("genErr")), FaultProtocol, false, EventControllerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := AsFault(tt.err)
			assert.Equal(t, tt.wantKind, f.Kind)
			assert.Equal(t, tt.wantTimeout, f.Timeout)
			assert.Equal(t, tt.wantEvent, f.EventType())
		})
	}
}

func TestFault_IsCommFault(t *testing.T) {
	assert.True(t, TimeoutError("x").IsCommFault())
	assert.True(t, ChecksumError("x").IsCommFault())
	assert.True(t, ParsingError("x").IsCommFault())
	assert.False(t, ContentionError("x").IsCommFault())
	assert.False(t, ProtocolError("x").IsCommFault())
}

func TestEventType_Names(t *testing.T) {
	assert.Equal(t, "POLL_TIMEOUT_ERROR", EventPollTimeout.String())
	assert.Equal(t, 65, int(EventCommFailed))

	et, ok := ParseEventType("CHECKSUM_ERROR")
	assert.True(t, ok)
	assert.Equal(t, EventChecksumError, et)

	_, ok = ParseEventType("NOPE")
	assert.False(t, ok)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("Command")
	assert.NoError(t, err)
	assert.Equal(t, PriorityCommand, p)

	_, err = ParsePriority("whenever")
	assert.Error(t, err)

	assert.True(t, PriorityUrgent.MoreUrgent(PriorityIdle))
	assert.Equal(t, "device_data", PriorityDeviceData.String())
}
