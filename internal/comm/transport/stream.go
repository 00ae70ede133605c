// Package transport provides stream sessions for field device links.
//
// A Stream connects lazily to a "tcp://host:port" or "unix:///path" URL,
// frames the byte stream with a FrameReader, and reconnects with
// exponential backoff after the poller drops it on a transport fault.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts and intervals.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReadTimeout bounds a read when the context has no deadline.
	defaultReadTimeout = 30 * time.Second

	// defaultReconnectInterval is the first delay after a failed dial.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval caps the reconnect delay.
	maxReconnectInterval = 2 * time.Minute

	// readBufferSize is the size of the buffered reader.
	readBufferSize = 4096
)

// FrameConn is the connection handed to a Handshake.
type FrameConn interface {
	WriteFrame(frame []byte) error
	ReadFrame() ([]byte, error)
}

// Handshake runs once on every new connection before it is used.
type Handshake func(ctx context.Context, conn FrameConn) error

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds stream session settings.
type Config struct {
	// URL is the endpoint: "tcp://host:port" or "unix:///path".
	URL string

	// DefaultPort is used when a tcp URL has no port.
	DefaultPort string

	// ReadFrame frames the incoming byte stream. Required.
	ReadFrame FrameReader

	// OnConnect is an optional handshake.
	OnConnect Handshake

	// ConnectTimeout bounds dialling and the handshake. Default: 10 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each write. Default: 5 seconds.
	WriteTimeout time.Duration

	// ReconnectInterval is the first reconnect delay. It grows by 1.5x per
	// failure up to 2 minutes. Default: 5 seconds.
	ReconnectInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Stats holds session statistics.
type Stats struct {
	FramesTx        uint64    `json:"frames_tx"`
	FramesRx        uint64    `json:"frames_rx"`
	ErrorsTotal     uint64    `json:"errors_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
	Connected       bool      `json:"connected"`
}

// Stream is a lazily connected, reconnecting stream session.
//
// Thread Safety:
//   - Send and Receive are meant for a single poller goroutine.
//   - Drop, Close and Stats are safe for concurrent use.
type Stream struct {
	cfg     Config
	network string
	address string

	mu        sync.Mutex
	conn      net.Conn
	rd        *bufio.Reader
	backoff   time.Duration
	nextDial  time.Time
	connected bool
	dialled   bool
	closed    bool

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// New creates a Stream. It does not dial; the first Send connects.
func New(cfg Config) (*Stream, error) {
	if cfg.ReadFrame == nil {
		return nil, fmt.Errorf("%w: no frame reader", ErrConnectionFailed)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	network, address, err := ParseURL(cfg.URL, cfg.DefaultPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Stream{cfg: cfg, network: network, address: address}, nil
}

// ParseURL parses a connection URL into network and address. A tcp URL
// without host defaults to localhost; without port to defaultPort.
func ParseURL(connURL, defaultPort string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix URL %q has no path", connURL)
		}
		return "unix", u.Path, nil
	case "tcp":
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		port := u.Port()
		if port == "" {
			port = defaultPort
		}
		if port == "" {
			return "", "", fmt.Errorf("tcp URL %q has no port", connURL)
		}
		return "tcp", net.JoinHostPort(host, port), nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// Address returns the dialled network address.
func (s *Stream) Address() string {
	return s.network + "://" + s.address
}

// Send writes one frame, connecting first if needed.
func (s *Stream) Send(ctx context.Context, frame []byte) error {
	conn, _, err := s.ensure(ctx)
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(deadline(ctx, s.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if _, err := conn.Write(frame); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("write: %w", err)
	}

	s.framesTx.Add(1)
	s.touch()
	return nil
}

// Receive reads the next frame. It returns when ctx is done even if the
// read is blocked.
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	conn, rd := s.conn, s.rd
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(deadline(ctx, defaultReadTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	frame, err := s.cfg.ReadFrame(rd)
	if err != nil {
		s.errorsTotal.Add(1)
		if errors.Is(err, ErrProtocolDesync) {
			s.logError("protocol desync, dropping connection", err)
			s.Drop()
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("read: %w", ctx.Err())
		}
		return nil, err
	}

	s.framesRx.Add(1)
	s.touch()
	return frame, nil
}

// Drop closes the current connection. The next Send reconnects.
func (s *Stream) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}

func (s *Stream) dropLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.rd = nil
	}
	if s.connected {
		s.connected = false
		s.logInfo("connection dropped", "address", s.Address())
	}
}

// Close closes the connection permanently. Safe to call multiple times.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.dropLocked()
	return nil
}

// IsConnected reports whether a connection is open.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Stats returns current session statistics.
func (s *Stream) Stats() Stats {
	st := Stats{
		FramesTx:        s.framesTx.Load(),
		FramesRx:        s.framesRx.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		Connected:       s.IsConnected(),
	}
	if ts := s.lastActivity.Load(); ts != 0 {
		st.LastActivity = time.Unix(0, ts)
	}
	return st
}

// WaitReady blocks until the reconnect backoff has elapsed or ctx is done.
// It returns at once while connected or when no dial failed.
func (s *Stream) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	wait := time.Until(s.nextDial)
	if s.conn != nil {
		wait = 0
	}
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBackoff, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// ensure returns the open connection, dialling if needed and allowed by
// the backoff schedule.
func (s *Stream) ensure(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrClosed
	}
	if s.conn != nil {
		return s.conn, s.rd, nil
	}
	if wait := time.Until(s.nextDial); wait > 0 {
		return nil, nil, fmt.Errorf("%w: next attempt in %s", ErrBackoff, wait.Round(time.Millisecond))
	}

	conn, rd, err := s.dial(ctx)
	if err != nil {
		s.errorsTotal.Add(1)
		s.scheduleRetry()
		s.logError("connect failed", err, "address", s.Address(), "backoff", s.backoff.String())
		return nil, nil, err
	}

	if s.dialled {
		s.reconnectsTotal.Add(1)
	}
	s.dialled = true
	s.backoff = 0
	s.nextDial = time.Time{}
	s.conn, s.rd, s.connected = conn, rd, true
	s.touch()
	s.logInfo("connected", "address", s.Address())
	return conn, rd, nil
}

func (s *Stream) dial(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, s.network, s.address)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, s.Address(), err)
	}
	rd := bufio.NewReaderSize(conn, readBufferSize)

	if s.cfg.OnConnect != nil {
		if err := conn.SetDeadline(deadline(ctx, s.cfg.ConnectTimeout)); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("%w: set deadline: %w", ErrConnectionFailed, err)
		}
		if err := s.cfg.OnConnect(ctx, &frameConn{conn: conn, rd: rd, read: s.cfg.ReadFrame}); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("%w: handshake: %w", ErrConnectionFailed, err)
		}
		if err := conn.SetDeadline(time.Time{}); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("%w: clear deadline: %w", ErrConnectionFailed, err)
		}
	}
	return conn, rd, nil
}

// scheduleRetry grows the backoff by 1.5x with a cap.
func (s *Stream) scheduleRetry() {
	if s.backoff == 0 {
		s.backoff = s.cfg.ReconnectInterval
	} else {
		s.backoff = time.Duration(float64(s.backoff) * 1.5)
	}
	if s.backoff > maxReconnectInterval {
		s.backoff = maxReconnectInterval
	}
	s.nextDial = time.Now().Add(s.backoff)
}

func (s *Stream) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Stream) logInfo(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (s *Stream) logError(msg string, err error, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// deadline returns the earlier of ctx's deadline and now+fallback.
func deadline(ctx context.Context, fallback time.Duration) time.Time {
	d := time.Now().Add(fallback)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

type frameConn struct {
	conn net.Conn
	rd   *bufio.Reader
	read FrameReader
}

func (c *frameConn) WriteFrame(frame []byte) error {
	_, err := c.conn.Write(frame)
	return err
}

func (c *frameConn) ReadFrame() ([]byte, error) {
	return c.read(c.rd)
}
