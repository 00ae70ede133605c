package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

type fakeLinks struct {
	mu       sync.Mutex
	links    []comm.LinkStatus
	enqueued map[string]int
	err      error
}

func newFakeLinks(links ...comm.LinkStatus) *fakeLinks {
	return &fakeLinks{links: links, enqueued: make(map[string]int)}
}

func (f *fakeLinks) Links() []comm.LinkStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]comm.LinkStatus(nil), f.links...)
}

func (f *fakeLinks) PeriodicOperations(link string) []*comm.Operation {
	ctrl := comm.NewController(link+"-1", link, 1, nil)
	return []*comm.Operation{
		comm.NewOperation(comm.PriorityData, ctrl, "poll", nil),
		comm.NewOperation(comm.PriorityData, ctrl, "poll status", nil),
	}
}

func (f *fakeLinks) Enqueue(link string, _ *comm.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued[link]++
	return nil
}

func (f *fakeLinks) count(link string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enqueued[link]
}

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 3, p.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScheduler(cfg Config) (*Scheduler, *clock) {
	s := New(cfg)
	c := &clock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func TestTick_PollIntervals(t *testing.T) {
	links := newFakeLinks(
		comm.LinkStatus{Name: "signs", PollInterval: 30 * time.Second},
		comm.LinkStatus{Name: "detectors", PollInterval: 10 * time.Second},
		comm.LinkStatus{Name: "knx", PollInterval: 0},
	)
	s, c := newTestScheduler(Config{Links: links})
	ctx := context.Background()

	s.Tick(ctx)
	assert.Equal(t, 2, links.count("signs"))
	assert.Equal(t, 2, links.count("detectors"))
	assert.Equal(t, 0, links.count("knx"), "zero interval never polls")

	c.advance(10 * time.Second)
	s.Tick(ctx)
	assert.Equal(t, 2, links.count("signs"))
	assert.Equal(t, 4, links.count("detectors"))

	c.advance(5 * time.Second)
	s.Tick(ctx)
	assert.Equal(t, 4, links.count("detectors"))

	c.advance(15 * time.Second)
	s.Tick(ctx)
	assert.Equal(t, 4, links.count("signs"))
	assert.Equal(t, 6, links.count("detectors"))
}

func TestTick_ForgetsRemovedLinks(t *testing.T) {
	links := newFakeLinks(comm.LinkStatus{Name: "signs", PollInterval: time.Minute})
	s, _ := newTestScheduler(Config{Links: links})

	s.Tick(context.Background())
	links.mu.Lock()
	links.links = nil
	links.mu.Unlock()
	s.Tick(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.next)
}

func TestTick_EnqueueErrors(t *testing.T) {
	for _, err := range []error{comm.ErrRejected, comm.ErrQueueClosed, errors.New("boom")} {
		links := newFakeLinks(comm.LinkStatus{Name: "signs", PollInterval: time.Second})
		links.err = err
		s, _ := newTestScheduler(Config{Links: links})
		assert.NotPanics(t, func() { s.Tick(context.Background()) })
	}
}

func TestTick_Prune(t *testing.T) {
	links := newFakeLinks()
	pruner := &fakePruner{}
	s, c := newTestScheduler(Config{
		Links:         links,
		Pruner:        pruner,
		Retention:     24 * time.Hour,
		PruneInterval: time.Hour,
	})
	ctx := context.Background()
	start := c.t

	s.Tick(ctx)
	c.advance(30 * time.Minute)
	s.Tick(ctx)
	c.advance(30 * time.Minute)
	s.Tick(ctx)

	require.Len(t, pruner.cutoffs, 2)
	assert.Equal(t, start.Add(-24*time.Hour), pruner.cutoffs[0])
	assert.Equal(t, start.Add(time.Hour-24*time.Hour), pruner.cutoffs[1])
}

func TestTick_PruneDisabledWithoutRetention(t *testing.T) {
	pruner := &fakePruner{}
	s, _ := newTestScheduler(Config{Links: newFakeLinks(), Pruner: pruner})
	s.Tick(context.Background())
	assert.Empty(t, pruner.cutoffs)
}

func TestStartStop(t *testing.T) {
	links := newFakeLinks(comm.LinkStatus{Name: "signs", PollInterval: 5 * time.Millisecond})
	s := New(Config{Links: links, Resolution: time.Millisecond})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return links.count("signs") >= 6 }, 2*time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	n := links.count("signs")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, links.count("signs"))
}
