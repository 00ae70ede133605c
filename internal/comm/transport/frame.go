package transport

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameReader reads one complete frame from r.
type FrameReader func(r *bufio.Reader) ([]byte, error)

// LengthPrefixed16 reads frames that start with a big-endian 2-byte size
// field counting the bytes after it. The returned frame includes the size
// field. Frames longer than max are a fatal desync.
func LengthPrefixed16(max int) FrameReader {
	return func(r *bufio.Reader) ([]byte, error) {
		var size [2]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}

		n := int(binary.BigEndian.Uint16(size[:]))
		if n+2 > max {
			return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrProtocolDesync, n+2, max)
		}

		frame := make([]byte, 2+n)
		copy(frame, size[:])
		if _, err := io.ReadFull(r, frame[2:]); err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		return frame, nil
	}
}

// Delimited reads frames terminated by delim. The delimiter is stripped.
// Lines longer than max are a fatal desync.
func Delimited(delim []byte, max int) FrameReader {
	last := delim[len(delim)-1]
	return func(r *bufio.Reader) ([]byte, error) {
		var line []byte
		for {
			chunk, err := r.ReadSlice(last)
			line = append(line, chunk...)
			if len(line) > max {
				return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrProtocolDesync, max)
			}
			if err == bufio.ErrBufferFull {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read line: %w", err)
			}
			if bytes.HasSuffix(line, delim) {
				return line[:len(line)-len(delim)], nil
			}
		}
	}
}
