package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/occurrence"
)

const maxWindowDays = 366

type occurrencesResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

type occurrenceDTO struct {
	ID               string           `json:"id"`
	TaskID           string           `json:"task_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Color            string           `json:"color,omitempty"`
	Status           model.TaskStatus `json:"status"`
	StartUTC         time.Time        `json:"start_utc"`
	EndUTC           time.Time        `json:"end_utc"`
	OriginalStartUTC time.Time        `json:"original_start_utc"`
	Source           model.Source     `json:"source"`
	IsRecurring      bool             `json:"is_recurring"`
	HasOverride      bool             `json:"has_override"`
}

func toDTO(o model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		ID:               o.ID,
		TaskID:           o.TaskID,
		Title:            o.Title,
		Description:      o.Description,
		Color:            o.Color,
		Status:           o.Status,
		StartUTC:         o.StartUTC,
		EndUTC:           o.EndUTC,
		OriginalStartUTC: o.OriginalStartUTC,
		Source:           o.Source,
		IsRecurring:      o.IsRecurring,
		HasOverride:      o.HasOverride,
	}
}

// windowQuery is a parsed ?start=&end=&tz=&days= query.
type windowQuery struct {
	window model.Window
	loc    *time.Location
}

// parseWindow reads the query window. start and end are RFC 3339. Without
// start the window begins at midnight today in the display zone; without end
// it spans days days (default 7). No window may span more than maxWindowDays.
func (s *Server) parseWindow(q url.Values, defaultDays int) (windowQuery, error) {
	loc := s.loc
	tzName := s.cfg.Timezone
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return windowQuery{}, &occurrence.InvalidTimezoneError{Name: tz, Err: err}
		}
		loc, tzName = l, tz
	}

	days := defaultDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxWindowDays {
			return windowQuery{}, fmt.Errorf("days must be between 1 and %d", maxWindowDays)
		}
		days = n
	}

	var start time.Time
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return windowQuery{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	} else {
		now := s.now().In(loc)
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	}

	var end time.Time
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return windowQuery{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	} else {
		end = start.In(loc).AddDate(0, 0, days)
	}
	if end.After(start.In(loc).AddDate(0, 0, maxWindowDays)) {
		return windowQuery{}, fmt.Errorf("window must not span more than %d days", maxWindowDays)
	}

	return windowQuery{
		window: model.Window{Start: start.UTC(), End: end.UTC(), Timezone: tzName},
		loc:    loc,
	}, nil
}

// expand returns the user's occurrences for w, served from the LRU cache
// while the repository revision is unchanged.
func (s *Server) expand(r *http.Request, w model.Window) ([]model.Occurrence, error) {
	user := userFrom(r.Context())
	key := fmt.Sprintf("%s|%d|%d|%s|%d", user, w.Start.UnixNano(), w.End.UnixNano(), w.Timezone, s.repo.Revision())
	if v, ok := s.cache.Get(key); ok {
		if occ, ok := v.([]model.Occurrence); ok {
			return occ, nil
		}
	}

	set, err := s.repo.LoadTaskSet(r.Context(), user)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	rs, err := occurrence.NewRuleStore(set)
	if err != nil {
		return nil, err
	}
	occ, err := s.expander.Expand(rs, w)
	if err != nil {
		return nil, err
	}

	s.cache.Add(key, occ)
	appLog.Debug("expanded window", "user", user, "tasks", rs.Len(), "occurrences", len(occ))
	return occ, nil
}

// handleOccurrences returns the expanded occurrences of a window.
//
// GET /api/occurrences?start=2025-08-01T00:00:00Z&end=2025-09-01T00:00:00Z&tz=America/Los_Angeles
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	wq, err := s.parseWindow(r.URL.Query(), 7)
	if err != nil {
		writeBadWindow(w, err)
		return
	}

	occ, err := s.expand(r, wq.window)
	if err != nil {
		writeFailure(w, "expand occurrences", err)
		return
	}

	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, toDTO(o))
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{
		Occurrences:     dtos,
		RangeStart:      wq.window.Start,
		RangeEnd:        wq.window.End,
		DisplayTimeZone: wq.loc.String(),
	})
}

// handleOccurrencesICS exports the same window as a VCALENDAR.
func (s *Server) handleOccurrencesICS(w http.ResponseWriter, r *http.Request) {
	wq, err := s.parseWindow(r.URL.Query(), 7)
	if err != nil {
		writeBadWindow(w, err)
		return
	}

	occ, err := s.expand(r, wq.window)
	if err != nil {
		writeFailure(w, "expand occurrences", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="occurrences.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.EncodeOccurrences(occ, s.now())))
}

func writeBadWindow(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err.Error())
}
