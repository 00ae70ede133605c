package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

const (
	defaultResolution    = time.Second
	defaultPruneInterval = time.Hour
	pruneTimeout         = 30 * time.Second
)

// Logger is the logging subset used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}

// Links is the part of comm.Manager the scheduler drives.
type Links interface {
	Links() []comm.LinkStatus
	PeriodicOperations(link string) []*comm.Operation
	Enqueue(link string, op *comm.Operation) error
}

// Pruner deletes events older than a cutoff. *events.Store implements it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Config configures a Scheduler. Links is required.
type Config struct {
	Links Links

	// Pruner and Retention enable event pruning; both must be set.
	Pruner        Pruner
	Retention     time.Duration
	PruneInterval time.Duration

	// Resolution is how often due links are checked.
	Resolution time.Duration

	Logger Logger
}

// Scheduler enqueues periodic operations and prunes old events.
//
// Thread Safety:
//   - Start and Stop are called once; Tick may be called from tests.
type Scheduler struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	next      map[string]time.Time
	lastPrune time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a scheduler. Call Start to begin.
func New(cfg Config) *Scheduler {
	if cfg.Resolution <= 0 {
		cfg.Resolution = defaultResolution
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Scheduler{
		cfg:  cfg,
		now:  time.Now,
		next: make(map[string]time.Time),
		done: make(chan struct{}),
	}
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
// Every link is polled on the first tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Resolution)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for it.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// Tick enqueues the operations of every due link and prunes if due.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := s.dueLinks(now)
	prune := s.cfg.Pruner != nil && s.cfg.Retention > 0 &&
		(s.lastPrune.IsZero() || now.Sub(s.lastPrune) >= s.cfg.PruneInterval)
	if prune {
		s.lastPrune = now
	}
	s.mu.Unlock()

	for _, link := range due {
		s.poll(link)
	}
	if prune {
		s.prune(ctx, now)
	}
}

// dueLinks returns the links whose poll interval elapsed and schedules
// their next run. Links that disappeared are forgotten.
func (s *Scheduler) dueLinks(now time.Time) []string {
	links := s.cfg.Links.Links()
	seen := make(map[string]bool, len(links))

	var due []string
	for _, l := range links {
		seen[l.Name] = true
		if l.PollInterval <= 0 {
			continue
		}
		next, ok := s.next[l.Name]
		if ok && now.Before(next) {
			continue
		}
		due = append(due, l.Name)
		s.next[l.Name] = now.Add(l.PollInterval)
	}
	for name := range s.next {
		if !seen[name] {
			delete(s.next, name)
		}
	}
	return due
}

func (s *Scheduler) poll(link string) {
	ops := s.cfg.Links.PeriodicOperations(link)
	var queued, skipped int
	for _, op := range ops {
		err := s.cfg.Links.Enqueue(link, op)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, comm.ErrRejected):
			// The previous round is still queued.
			skipped++
		case errors.Is(err, comm.ErrQueueClosed), errors.Is(err, comm.ErrUnknownLink):
			s.cfg.Logger.Debug("link went away while polling", "link", link)
			return
		default:
			s.cfg.Logger.Warn("failed to enqueue periodic operation",
				"link", link, "op", op.Description(), "error", err)
		}
	}
	if len(ops) > 0 {
		s.cfg.Logger.Debug("periodic poll", "link", link, "queued", queued, "skipped", skipped)
	}
}

func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	pctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	n, err := s.cfg.Pruner.Prune(pctx, now.Add(-s.cfg.Retention))
	if err != nil {
		s.cfg.Logger.Warn("failed to prune comm events", "error", err)
		return
	}
	if n > 0 {
		s.cfg.Logger.Info("pruned comm events", "deleted", n, "retention", s.cfg.Retention.String())
	}
}
