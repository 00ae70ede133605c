package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/events"
)

// eventView is the API form of an event, with the type by name.
type eventView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Code       int       `json:"code"`
	Link       string    `json:"link"`
	Controller string    `json:"controller,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}

func newEventView(ev comm.Event) eventView {
	return eventView{
		ID:         ev.ID.String(),
		Type:       ev.Type.String(),
		Code:       int(ev.Type),
		Link:       ev.Link,
		Controller: ev.Controller,
		Operation:  ev.Operation,
		Detail:     ev.Detail,
		Time:       ev.Time,
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeUnavailable(w, "event log is not available")
		return
	}

	f, err := parseEventFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	evs, err := s.deps.Events.List(r.Context(), f)
	if errors.Is(err, events.ErrInvalidFilter) {
		writeBadRequest(w, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	out := make([]eventView, 0, len(evs))
	for _, ev := range evs {
		out = append(out, newEventView(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": out,
		"count":  len(out),
	})
}

// parseEventFilter reads link, controller, type (comma-separated names),
// since and until (RFC 3339) and limit.
func parseEventFilter(q url.Values) (events.Filter, error) {
	f := events.Filter{
		Link:       q.Get("link"),
		Controller: q.Get("controller"),
	}

	if v := q.Get("type"); v != "" {
		for _, name := range strings.Split(v, ",") {
			t, ok := comm.ParseEventType(strings.ToUpper(strings.TrimSpace(name)))
			if !ok {
				return f, fmt.Errorf("unknown event type %q", name)
			}
			f.Types = append(f.Types, t)
		}
	}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, fmt.Errorf("invalid since: %w", err)
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, fmt.Errorf("invalid until: %w", err)
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeUnavailable(w, "snapshot store is not available")
		return
	}
	snaps, err := s.deps.Events.Snapshots(r.Context())
	if err != nil {
		s.logger.Error("failed to list snapshots", "error", err)
		writeInternalError(w, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []events.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"count":     len(snaps),
	})
}
