package comm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Driver supplies the protocol-specific parts of a link.
type Driver interface {
	// Protocol returns the protocol name used in link configuration.
	Protocol() string

	// NewSession creates the transport session of a link. It must not block
	// on the network; sessions connect lazily.
	NewSession(spec LinkSpec, logger Logger) (Session, error)

	// Framer returns the protocol framer.
	Framer() Framer

	// Coalesce returns the queue admission policy, or nil to accept all.
	Coalesce() CoalesceFunc
}

// PeriodicDriver is implemented by drivers with routine polling operations.
type PeriodicDriver interface {
	Driver

	// PeriodicOperations returns the operations run every poll interval.
	PeriodicOperations(ctrl *Controller) []*Operation
}

// ControllerValidator is implemented by drivers that check controller
// parameters before a link starts.
type ControllerValidator interface {
	ValidateController(spec ControllerSpec) error
}

// ControllerSpec describes one controller on a link.
type ControllerSpec struct {
	Name   string
	Drop   int
	Params map[string]string
}

// LinkSpec describes one link.
type LinkSpec struct {
	Name            string
	Protocol        string
	URI             string
	Enabled         bool
	Timeout         time.Duration
	Retries         int
	FailThreshold   int
	ProbeInterval   time.Duration
	ContentionDelay time.Duration
	PollInterval    time.Duration
	Controllers     []ControllerSpec
}

// LinkStatus is a snapshot of one running link.
type LinkStatus struct {
	Name         string             `json:"name"`
	Protocol     string             `json:"protocol"`
	URI          string             `json:"uri"`
	PollInterval time.Duration      `json:"poll_interval"`
	Stats        PollerStats        `json:"stats"`
	Controllers  []ControllerStatus `json:"controllers"`
}

// ManagerDeps holds the collaborators shared by every poller.
type ManagerDeps struct {
	Logger  Logger
	Metrics Metrics
	Events  EventSink
}

type link struct {
	spec   LinkSpec
	driver Driver
	poller *Poller
}

// Manager runs one Poller per enabled link.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	deps ManagerDeps

	// applyMu serializes Apply
	applyMu sync.Mutex

	mu      sync.RWMutex
	ctx     context.Context //nolint:containedctx // parent of poller goroutines
	drivers map[string]Driver
	links   map[string]*link
}

// NewManager creates a manager. Register drivers, then Start and Apply.
func NewManager(deps ManagerDeps) *Manager {
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = &LiveCounter{}
	}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	return &Manager{
		deps:    deps,
		ctx:     context.Background(),
		drivers: make(map[string]Driver),
		links:   make(map[string]*link),
	}
}

// RegisterDriver makes a protocol available to links.
func (m *Manager) RegisterDriver(d Driver) {
	m.mu.Lock()
	m.drivers[d.Protocol()] = d
	m.mu.Unlock()
}

// Start sets the context that bounds every poller started afterwards.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

// Apply reconciles running links with specs. Enabled links that are new or
// changed are (re)started; disabled, removed and changed links are stopped.
// Links that fail to start are reported and skipped.
//
// Pollers are stopped without holding the manager lock, so status readers
// are not blocked while a running operation finishes.
func (m *Manager) Apply(specs []LinkSpec) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	wanted := make(map[string]LinkSpec, len(specs))
	for _, s := range specs {
		if s.Enabled {
			wanted[s.Name] = s
		}
	}

	m.mu.Lock()
	stopping := make(map[string]*link)
	for name, l := range m.links {
		s, ok := wanted[name]
		if ok && reflect.DeepEqual(s, l.spec) {
			continue
		}
		stopping[name] = l
		delete(m.links, name)
	}
	m.mu.Unlock()

	for name, l := range stopping {
		l.poller.Stop()
		m.deps.Logger.Info("link stopped", "link", name)
	}

	var errs []error
	for _, s := range specs {
		if !s.Enabled {
			continue
		}
		m.mu.RLock()
		_, running := m.links[s.Name]
		m.mu.RUnlock()
		if running {
			continue
		}

		l, err := m.startLink(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("link %s: %w", s.Name, err))
			continue
		}
		m.mu.Lock()
		m.links[s.Name] = l
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (m *Manager) startLink(s LinkSpec) (*link, error) {
	m.mu.RLock()
	d, ok := m.drivers[s.Protocol]
	ctx := m.ctx
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, s.Protocol)
	}

	if v, ok := d.(ControllerValidator); ok {
		var errs []error
		for _, c := range s.Controllers {
			if err := v.ValidateController(c); err != nil {
				errs = append(errs, fmt.Errorf("controller %s: %w", c.Name, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}

	logger := withFields(m.deps.Logger, "component", "poller", "link", s.Name)
	session, err := d.NewSession(s, logger)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	p := NewPoller(PollerConfig{
		Link:          s.Name,
		Timeout:       s.Timeout,
		Retries:       s.Retries,
		FailThreshold: s.FailThreshold,
		ProbeInterval:   s.ProbeInterval,
		ContentionDelay: s.ContentionDelay,
		Coalesce:        d.Coalesce(),
	}, session, d.Framer(),
		WithLogger(logger),
		WithMetrics(m.deps.Metrics),
		WithEventSink(m.deps.Events),
	)
	for _, c := range s.Controllers {
		p.AddController(NewController(c.Name, s.Name, c.Drop, c.Params))
	}
	p.Start(ctx)

	m.deps.Logger.Info("link started", "link", s.Name, "protocol", s.Protocol,
		"controllers", len(s.Controllers))
	return &link{spec: s, driver: d, poller: p}, nil
}

// Enqueue adds op to the queue of the named link.
func (m *Manager) Enqueue(linkName string, op *Operation) error {
	m.mu.RLock()
	l, ok := m.links[linkName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLink, linkName)
	}
	return l.poller.Enqueue(op)
}

// Submit enqueues op on the link of its controller.
func (m *Manager) Submit(op *Operation) error {
	if op.Controller() == nil {
		return ErrNilController
	}
	return m.Enqueue(op.Controller().Link(), op)
}

// Controller looks up a controller on a running link.
func (m *Manager) Controller(linkName, name string) (*Controller, bool) {
	m.mu.RLock()
	l, ok := m.links[linkName]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return l.poller.Controller(name)
}

// Driver returns the driver of a running link.
func (m *Manager) Driver(linkName string) (Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[linkName]
	if !ok {
		return nil, false
	}
	return l.driver, true
}

// Links returns the status of every running link, sorted by name.
func (m *Manager) Links() []LinkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]LinkStatus, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Link returns the status of one running link.
func (m *Manager) Link(name string) (LinkStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[name]
	if !ok {
		return LinkStatus{}, false
	}
	return l.status(), true
}

// PeriodicOperations builds the routine operations of every controller on
// a link. It returns nil when the link's driver has none.
func (m *Manager) PeriodicOperations(linkName string) []*Operation {
	m.mu.RLock()
	l, ok := m.links[linkName]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	pd, ok := l.driver.(PeriodicDriver)
	if !ok {
		return nil
	}
	var ops []*Operation
	for _, c := range l.poller.Controllers() {
		ops = append(ops, pd.PeriodicOperations(c)...)
	}
	return ops
}

// Shutdown stops every poller concurrently. It returns early with an error
// if ctx expires before all pollers have stopped.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*link)
	m.mu.Unlock()

	var g errgroup.Group
	for name, l := range links {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				l.poller.Stop()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("stopping link %s: %w", name, ctx.Err())
			}
		})
	}
	return g.Wait()
}

func (l *link) status() LinkStatus {
	ctrls := l.poller.Controllers()
	st := LinkStatus{
		Name:         l.spec.Name,
		Protocol:     l.spec.Protocol,
		URI:          l.spec.URI,
		PollInterval: l.spec.PollInterval,
		Stats:        l.poller.Stats(),
		Controllers:  make([]ControllerStatus, 0, len(ctrls)),
	}
	for _, c := range ctrls {
		st.Controllers = append(st.Controllers, c.Status())
	}
	return st
}

// fieldLogger prefixes key/value pairs to every log call.
type fieldLogger struct {
	Logger
	fields []any
}

func withFields(l Logger, kv ...any) Logger {
	return &fieldLogger{Logger: l, fields: kv}
}

func (f *fieldLogger) Debug(msg string, kv ...any) { f.Logger.Debug(msg, slices.Concat(f.fields, kv)...) }
func (f *fieldLogger) Info(msg string, kv ...any)  { f.Logger.Info(msg, slices.Concat(f.fields, kv)...) }
func (f *fieldLogger) Warn(msg string, kv ...any)  { f.Logger.Warn(msg, slices.Concat(f.fields, kv)...) }
func (f *fieldLogger) Error(msg string, kv ...any) { f.Logger.Error(msg, slices.Concat(f.fields, kv)...) }
