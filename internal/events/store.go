package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/database"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Filter narrows an event query. Zero fields do not filter.
type Filter struct {
	Link       string
	Controller string
	Types      []comm.EventType
	Since      time.Time
	Until      time.Time

	// Limit caps the result (default 100, max 1000).
	Limit int
}

// Snapshot is the last persisted status of one controller.
type Snapshot struct {
	Link        string    `json:"link"`
	Controller  string    `json:"controller"`
	Status      string    `json:"status,omitempty"`
	ErrorStatus string    `json:"error_status,omitempty"`
	CommFailed  bool      `json:"comm_failed"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists comm events and controller snapshots.
//
// Timestamps are stored as UTC Unix milliseconds.
type Store struct {
	db *database.DB
}

// NewStore returns a store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Insert writes events in one transaction.
func (s *Store) Insert(ctx context.Context, evs ...comm.Event) error {
	if len(evs) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO comm_events (id, event_type, event_name, link, controller, operation, detail, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing event insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range evs {
			if ev.ID == uuid.Nil {
				ev.ID = uuid.New()
			}
			if ev.Time.IsZero() {
				ev.Time = time.Now()
			}
			if _, err := stmt.ExecContext(ctx,
				ev.ID.String(), int(ev.Type), ev.Type.String(),
				ev.Link, ev.Controller, ev.Operation, ev.Detail,
				ev.Time.UTC().UnixMilli(),
			); err != nil {
				return fmt.Errorf("inserting event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// List returns matching events, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]comm.Event, error) {
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return nil, fmt.Errorf("%w: until before since", ErrInvalidFilter)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var (
		where []string
		args  []any
	)
	if f.Link != "" {
		where = append(where, "link = ?")
		args = append(args, f.Link)
	}
	if f.Controller != "" {
		where = append(where, "controller = ?")
		args = append(args, f.Controller)
	}
	if len(f.Types) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.Types)), ",")
		where = append(where, "event_type IN ("+marks+")")
		for _, t := range f.Types {
			args = append(args, int(t))
		}
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UTC().UnixMilli())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.Until.UTC().UnixMilli())
	}

	query := "SELECT id, event_type, link, controller, operation, detail, ts FROM comm_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	out := make([]comm.Event, 0, limit)
	for rows.Next() {
		var (
			ev    comm.Event
			id    string
			typ   int
			milli int64
		)
		if err := rows.Scan(&id, &typ, &ev.Link, &ev.Controller, &ev.Operation, &ev.Detail, &milli); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing event id %q: %w", id, err)
		}
		ev.Type = comm.EventType(typ)
		ev.Time = time.UnixMilli(milli).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// Prune deletes events older than before and returns how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM comm_events WHERE ts < ?", before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// SaveSnapshots upserts controller snapshots in one transaction.
func (s *Store) SaveSnapshots(ctx context.Context, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, sn := range snaps {
			if sn.Link == "" || sn.Controller == "" {
				return fmt.Errorf("%w: snapshot needs link and controller", ErrMissingField)
			}
			if sn.UpdatedAt.IsZero() {
				sn.UpdatedAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO controller_snapshots (link, controller, status, error_status, comm_failed, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (link, controller) DO UPDATE SET
					status = excluded.status,
					error_status = excluded.error_status,
					comm_failed = excluded.comm_failed,
					updated_at = excluded.updated_at`,
				sn.Link, sn.Controller, sn.Status, sn.ErrorStatus, boolInt(sn.CommFailed),
				sn.UpdatedAt.UTC().UnixMilli(),
			); err != nil {
				return fmt.Errorf("saving snapshot %s/%s: %w", sn.Link, sn.Controller, err)
			}
		}
		return nil
	})
}

// Snapshots returns every stored snapshot ordered by link and controller.
func (s *Store) Snapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT link, controller, status, error_status, comm_failed, updated_at
		FROM controller_snapshots ORDER BY link, controller`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			sn     Snapshot
			failed int
			milli  int64
		)
		if err := rows.Scan(&sn.Link, &sn.Controller, &sn.Status, &sn.ErrorStatus, &failed, &milli); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		sn.CommFailed = failed != 0
		sn.UpdatedAt = time.UnixMilli(milli).UTC()
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
