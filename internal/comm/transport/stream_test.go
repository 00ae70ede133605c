package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		defaultPort string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{
			name:        "unix socket",
			url:         "unix:///run/knxd",
			wantNetwork: "unix",
			wantAddress: "/run/knxd",
		},
		{
			name:        "tcp with host and port",
			url:         "tcp://10.0.0.5:7000",
			wantNetwork: "tcp",
			wantAddress: "10.0.0.5:7000",
		},
		{
			name:        "tcp without host defaults",
			url:         "tcp://",
			defaultPort: "6720",
			wantNetwork: "tcp",
			wantAddress: "localhost:6720",
		},
		{
			name:        "tcp without port uses default",
			url:         "tcp://sensor-hub",
			defaultPort: "10001",
			wantNetwork: "tcp",
			wantAddress: "sensor-hub:10001",
		},
		{
			name:    "tcp without any port",
			url:     "tcp://sensor-hub",
			wantErr: true,
		},
		{
			name:    "unix without path",
			url:     "unix://",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			url:     "http://localhost:6720",
			wantErr: true,
		},
		{
			name:    "invalid URL",
			url:     "://invalid",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, address, err := ParseURL(tt.url, tt.defaultPort)

			if tt.wantErr {
				if err == nil {
					t.Error("ParseURL() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL() unexpected error: %v", err)
			}
			if network != tt.wantNetwork {
				t.Errorf("network = %q, want %q", network, tt.wantNetwork)
			}
			if address != tt.wantAddress {
				t.Errorf("address = %q, want %q", address, tt.wantAddress)
			}
		})
	}
}

func TestLengthPrefixed16(t *testing.T) {
	data := []byte{0x00, 0x03, 0xAA, 0xBB, 0xCC, 0x00, 0x02, 0x01, 0x02}
	rd := bufio.NewReader(strings.NewReader(string(data)))
	read := LengthPrefixed16(64)

	first, err := read(rd)
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}
	if string(first) != string(data[:5]) {
		t.Errorf("first frame = %X, want %X", first, data[:5])
	}

	second, err := read(rd)
	if err != nil {
		t.Fatalf("read() error = %v", err)
	}
	if len(second) != 4 {
		t.Errorf("second frame length = %d, want 4", len(second))
	}

	if _, err := read(rd); !errors.Is(err, io.EOF) {
		t.Errorf("read() at end error = %v, want EOF", err)
	}
}

func TestLengthPrefixed16_Oversized(t *testing.T) {
	rd := bufio.NewReader(strings.NewReader("\x01\x00"))

	_, err := LengthPrefixed16(16)(rd)
	if !errors.Is(err, ErrProtocolDesync) {
		t.Errorf("error = %v, want ErrProtocolDesync", err)
	}
}

func TestDelimited(t *testing.T) {
	rd := bufio.NewReader(strings.NewReader("Z0001SB\r\nSuccess\r\n"))
	read := Delimited([]byte("\r\n"), 128)

	for _, want := range []string{"Z0001SB", "Success"} {
		got, err := read(rd)
		if err != nil {
			t.Fatalf("read() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("read() = %q, want %q", got, want)
		}
	}
}

func TestDelimited_LineTooLong(t *testing.T) {
	rd := bufio.NewReader(strings.NewReader(strings.Repeat("A", 100) + "\r\n"))

	_, err := Delimited([]byte("\r\n"), 32)(rd)
	if !errors.Is(err, ErrProtocolDesync) {
		t.Errorf("error = %v, want ErrProtocolDesync", err)
	}
}

// echoServer answers every length-prefixed frame with the same frame.
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				rd := bufio.NewReader(c)
				read := LengthPrefixed16(1024)
				for {
					frame, err := read(rd)
					if err != nil {
						return
					}
					if _, err := c.Write(frame); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return "tcp://" + ln.Addr().String()
}

func frame(payload ...byte) []byte {
	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload))) //nolint:gosec // test payloads are tiny
	copy(buf[2:], payload)
	return buf
}

func TestStream_SendReceive(t *testing.T) {
	s, err := New(Config{URL: echoServer(t), ReadFrame: LengthPrefixed16(1024)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if s.IsConnected() {
		t.Error("stream connected before first Send")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Send(ctx, frame(0x01, 0x02)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(got) != string(frame(0x01, 0x02)) {
		t.Errorf("Receive() = %X", got)
	}

	stats := s.Stats()
	if stats.FramesTx != 1 || stats.FramesRx != 1 || !stats.Connected {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestStream_HandshakeRunsPerConnection(t *testing.T) {
	handshakes := 0
	s, err := New(Config{
		URL:       echoServer(t),
		ReadFrame: LengthPrefixed16(1024),
		OnConnect: func(_ context.Context, c FrameConn) error {
			handshakes++
			if err := c.WriteFrame(frame(0x00, 0x26)); err != nil {
				return err
			}
			_, err := c.ReadFrame()
			return err
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Send(ctx, frame(0x01)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	s.Drop()
	if err := s.Send(ctx, frame(0x02)); err != nil {
		t.Fatalf("Send() after Drop error = %v", err)
	}

	if handshakes != 2 {
		t.Errorf("handshakes = %d, want 2", handshakes)
	}
	if got := s.Stats().ReconnectsTotal; got != 1 {
		t.Errorf("ReconnectsTotal = %d, want 1", got)
	}
}

func TestStream_ReceiveHonoursContext(t *testing.T) {
	s, err := New(Config{URL: echoServer(t), ReadFrame: LengthPrefixed16(1024)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if err := s.Send(context.Background(), []byte{0x00}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = s.Receive(ctx)

	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Receive() error = %v, want timeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Receive() did not return promptly")
	}
}

func TestStream_ReceiveWithoutConnection(t *testing.T) {
	s, err := New(Config{URL: "tcp://127.0.0.1:1", ReadFrame: LengthPrefixed16(64)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := s.Receive(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Receive() error = %v, want ErrNotConnected", err)
	}
}

func TestStream_BackoffAfterDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s, err := New(Config{
		URL:               "tcp://" + addr,
		ReadFrame:         LengthPrefixed16(64),
		ConnectTimeout:    time.Second,
		ReconnectInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Send(context.Background(), frame(0x01)); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("first Send() error = %v, want ErrConnectionFailed", err)
	}
	if err := s.Send(context.Background(), frame(0x01)); !errors.Is(err, ErrBackoff) {
		t.Errorf("second Send() error = %v, want ErrBackoff", err)
	}
}

func TestStream_ClosedRejectsSend(t *testing.T) {
	s, err := New(Config{URL: "tcp://127.0.0.1:1", ReadFrame: LengthPrefixed16(64)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = s.Close()
	_ = s.Close()

	if err := s.Send(context.Background(), frame(0x01)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() error = %v, want ErrClosed", err)
	}
}

func TestNew_RequiresFrameReader(t *testing.T) {
	if _, err := New(Config{URL: "tcp://localhost:1"}); err == nil {
		t.Error("New() without ReadFrame expected error")
	}
}
