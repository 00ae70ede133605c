package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-comm/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "comm.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, migrations.Source()))
	return NewStore(db)
}

func event(t comm.EventType, link, ctrl string, at time.Time) comm.Event {
	return comm.Event{
		ID:         uuid.New(),
		Type:       t,
		Link:       link,
		Controller: ctrl,
		Operation:  "poll status",
		Detail:     t.String(),
		Time:       at,
	}
}

func TestStore_InsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	evs := []comm.Event{
		event(comm.EventCommError, "signs", "dms-1", base),
		event(comm.EventCommFailed, "signs", "dms-1", base.Add(time.Second)),
		event(comm.EventCommRestored, "signs", "dms-2", base.Add(2*time.Second)),
		event(comm.EventPollTimeout, "detectors", "ss-1", base.Add(3*time.Second)),
	}
	require.NoError(t, s.Insert(ctx, evs...))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, evs[3].ID, all[0].ID, "newest first")
	assert.Equal(t, evs[0].ID, all[3].ID)
	assert.True(t, evs[1].Time.Equal(all[2].Time))
	assert.Equal(t, comm.EventCommFailed, all[2].Type)
	assert.Equal(t, "poll status", all[2].Operation)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by link", Filter{Link: "signs"}, 3},
		{"by controller", Filter{Link: "signs", Controller: "dms-1"}, 2},
		{"by type", Filter{Types: []comm.EventType{comm.EventCommFailed, comm.EventCommRestored}}, 2},
		{"since", Filter{Since: base.Add(2 * time.Second)}, 2},
		{"until exclusive", Filter{Until: base.Add(time.Second)}, 1},
		{"limit", Filter{Limit: 3}, 3},
		{"no match", Filter{Link: "ramps"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestStore_InsertFillsIDAndTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, comm.Event{Type: comm.EventQueueDrained, Link: "signs"}))

	got, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, uuid.Nil, got[0].ID)
	assert.WithinDuration(t, time.Now(), got[0].Time, time.Minute)
}

func TestStore_InsertNothing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Insert(context.Background()))
}

func TestStore_ListRejectsInvertedRange(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	_, err := s.List(context.Background(), Filter{Since: now, Until: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Insert(ctx,
		event(comm.EventCommError, "signs", "dms-1", now.Add(-48*time.Hour)),
		event(comm.EventCommError, "signs", "dms-1", now.Add(-25*time.Hour)),
		event(comm.EventCommError, "signs", "dms-1", now.Add(-time.Hour)),
	))

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestStore_Snapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 12, 14, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSnapshots(ctx, []Snapshot{
		{Link: "signs", Controller: "dms-2", Status: "ok", UpdatedAt: at},
		{Link: "signs", Controller: "dms-1", ErrorStatus: "lamp failure", UpdatedAt: at},
	}))
	require.NoError(t, s.SaveSnapshots(ctx, []Snapshot{
		{Link: "signs", Controller: "dms-1", CommFailed: true, UpdatedAt: at.Add(time.Minute)},
	}))

	got, err := s.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "dms-1", got[0].Controller)
	assert.True(t, got[0].CommFailed)
	assert.Empty(t, got[0].ErrorStatus, "upsert replaces every column")
	assert.True(t, at.Add(time.Minute).Equal(got[0].UpdatedAt))

	assert.Equal(t, "dms-2", got[1].Controller)
	assert.Equal(t, "ok", got[1].Status)
	assert.False(t, got[1].CommFailed)
}

func TestStore_SaveSnapshotsRequiresKeys(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveSnapshots(context.Background(), []Snapshot{{Link: "signs"}})
	assert.ErrorIs(t, err, ErrMissingField)

	got, err := s.Snapshots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
