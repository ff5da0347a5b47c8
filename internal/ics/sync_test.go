package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

type recordingReplacer struct {
	calls map[string]model.TaskSet
	fail  error
}

func (r *recordingReplacer) ReplaceSource(_ context.Context, userID, sourceID string, set model.TaskSet) error {
	if r.fail != nil {
		return r.fail
	}
	if r.calls == nil {
		r.calls = make(map[string]model.TaskSet)
	}
	r.calls[userID+"/"+sourceID] = set
	return nil
}

const brokenRuleFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:bad@example.com
DTSTART:20250804T160000Z
RRULE:FREQ=SOMETIMES
SUMMARY:Broken
END:VEVENT
BEGIN:VEVENT
UID:ok@example.com
DTSTART:20250804T160000Z
SUMMARY:Fine
END:VEVENT
END:VCALENDAR
`

func TestSyncer_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/work.ics":
			_, _ = w.Write(crlf(weeklyFeed))
		case "/broken.ics":
			_, _ = w.Write(crlf(brokenRuleFeed))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	repo := &recordingReplacer{}
	s := NewSyncer(NewFetcher(t.TempDir()), repo, []Source{
		{ID: "work", URL: srv.URL + "/work.ics"},
		{ID: "broken", URL: srv.URL + "/broken.ics"},
		{ID: "gone", URL: srv.URL + "/gone.ics"},
	}, "local", time.UTC)

	err := s.Run(context.Background())
	require.Error(t, err)

	require.Contains(t, repo.calls, "local/work")
	assert.Len(t, repo.calls["local/work"].Tasks, 2)

	require.Contains(t, repo.calls, "local/broken")
	broken := repo.calls["local/broken"]
	require.Len(t, broken.Tasks, 1)
	assert.Equal(t, "Fine", broken.Tasks[0].Title)

	assert.NotContains(t, repo.calls, "local/gone")
}

func TestSyncer_StoreFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(crlf(weeklyFeed))
	}))
	defer srv.Close()

	storeErr := errors.New("disk full")
	s := NewSyncer(NewFetcher(t.TempDir()), &recordingReplacer{fail: storeErr},
		[]Source{{ID: "work", URL: srv.URL}}, "local", nil)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, storeErr)
}

func TestSyncer_NoSources(t *testing.T) {
	s := NewSyncer(NewFetcher(t.TempDir()), &recordingReplacer{}, nil, "local", nil)
	assert.NoError(t, s.Run(context.Background()))
}
