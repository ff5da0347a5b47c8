package occurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

func utc(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}

// weeklyStandup is "weekly on Monday, 09:00-10:00, America/Los_Angeles"
// anchored at 2025-08-04.
func weeklyStandup() model.Task {
	return model.Task{
		ID:               "standup",
		Title:            "Standup",
		Color:            "#1e40af",
		Status:           model.StatusTodo,
		RRule:            "FREQ=WEEKLY;BYDAY=MO",
		Timezone:         "America/Los_Angeles",
		DTStart:          mo.Some(utc(2025, 8, 4, 16, 0)),
		EstimatedMinutes: 60,
	}
}

func augustWindow() model.Window {
	return model.Window{Start: utc(2025, 8, 1, 0, 0), End: utc(2025, 8, 31, 0, 0)}
}

func starts(occ []model.Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.StartUTC)
	}
	return out
}

func assertWellFormed(t *testing.T, occ []model.Occurrence, w model.Window) {
	t.Helper()
	for i, o := range occ {
		assert.True(t, o.EndUTC.After(o.StartUTC), "occurrence %s: end must be after start", o.ID)
		assert.True(t, w.Contains(o.StartUTC), "occurrence %s outside window", o.ID)
		if i > 0 {
			prev := occ[i-1]
			ordered := prev.StartUTC.Before(o.StartUTC) ||
				(prev.StartUTC.Equal(o.StartUTC) && prev.TaskID <= o.TaskID)
			assert.True(t, ordered, "occurrences %s and %s out of order", prev.ID, o.ID)
		}
	}
}

func TestExpand_WeeklyRuleInLosAngeles(t *testing.T) {
	set := model.TaskSet{Tasks: []model.Task{weeklyStandup()}}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		utc(2025, 8, 4, 16, 0),
		utc(2025, 8, 11, 16, 0),
		utc(2025, 8, 18, 16, 0),
		utc(2025, 8, 25, 16, 0),
	}, starts(occ))

	for _, o := range occ {
		assert.Equal(t, model.SourceRRule, o.Source)
		assert.True(t, o.IsRecurring)
		assert.False(t, o.HasOverride)
		assert.Equal(t, time.Hour, o.Duration())
		assert.Equal(t, "Standup", o.Title)
		assert.Equal(t, o.StartUTC, o.OriginalStartUTC)
	}
	assert.Equal(t, "standup:2025-08-04T16:00:00.000Z", occ[0].ID)
	assertWellFormed(t, occ, augustWindow())
}

func TestExpand_ExceptionRemovesInstance(t *testing.T) {
	set := model.TaskSet{
		Tasks:      []model.Task{weeklyStandup()},
		Exceptions: []model.TaskException{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 11, 16, 0)}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		utc(2025, 8, 4, 16, 0),
		utc(2025, 8, 18, 16, 0),
		utc(2025, 8, 25, 16, 0),
	}, starts(occ))
}

func TestExpand_RDateAddsOccurrence(t *testing.T) {
	set := model.TaskSet{
		Tasks:  []model.Task{weeklyStandup()},
		RDates: []model.TaskRDate{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 6, 16, 0)}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 5)

	rd := occ[1]
	assert.Equal(t, utc(2025, 8, 6, 16, 0), rd.StartUTC)
	assert.Equal(t, model.SourceRDate, rd.Source)
	// No explicit end: the task's estimate is used.
	assert.Equal(t, utc(2025, 8, 6, 17, 0), rd.EndUTC)
	assertWellFormed(t, occ, augustWindow())
}

func TestExpand_RDateExplicitEnd(t *testing.T) {
	set := model.TaskSet{
		Tasks: []model.Task{weeklyStandup()},
		RDates: []model.TaskRDate{{
			TaskID:          "standup",
			OccurrenceStart: utc(2025, 8, 6, 16, 0),
			OccurrenceEnd:   mo.Some(utc(2025, 8, 6, 16, 30)),
		}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 5)
	assert.Equal(t, 30*time.Minute, occ[1].Duration())
}

func TestExpand_RDateDoesNotDuplicateRuleInstance(t *testing.T) {
	set := model.TaskSet{
		Tasks:  []model.Task{weeklyStandup()},
		RDates: []model.TaskRDate{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 4, 16, 0)}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 4)
	assert.Equal(t, model.SourceRRule, occ[0].Source)
}

func TestExpand_RDateReaddsExceptedSlot(t *testing.T) {
	set := model.TaskSet{
		Tasks:      []model.Task{weeklyStandup()},
		Exceptions: []model.TaskException{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 4, 16, 0)}},
		RDates:     []model.TaskRDate{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 4, 16, 0)}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 4)
	assert.Equal(t, model.SourceRDate, occ[0].Source)
}

func TestExpand_OverrideMovesInstance(t *testing.T) {
	tests := []struct {
		name      string
		newStart  time.Time
		wantCount int
		wantMoved bool
	}{
		{"moved within window", utc(2025, 8, 20, 18, 0), 4, true},
		{"moved out of window", utc(2025, 9, 3, 18, 0), 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := model.TaskSet{
				Tasks: []model.Task{weeklyStandup()},
				Overrides: []model.TaskOverride{{
					TaskID:          "standup",
					OccurrenceStart: utc(2025, 8, 18, 16, 0),
					NewStart:        mo.Some(tt.newStart),
				}},
			}

			occ, err := Expand(set, augustWindow())
			require.NoError(t, err)
			require.Len(t, occ, tt.wantCount)
			assertWellFormed(t, occ, augustWindow())

			for _, o := range occ {
				assert.NotEqual(t, utc(2025, 8, 18, 16, 0), o.StartUTC, "original slot must be replaced")
			}

			var moved []model.Occurrence
			for _, o := range occ {
				if o.Source == model.SourceOverrideMoved {
					moved = append(moved, o)
				}
			}
			if !tt.wantMoved {
				assert.Empty(t, moved)
				return
			}
			require.Len(t, moved, 1)
			m := moved[0]
			assert.Equal(t, tt.newStart, m.StartUTC)
			assert.Equal(t, tt.newStart.Add(time.Hour), m.EndUTC, "duration is kept")
			assert.Equal(t, utc(2025, 8, 18, 16, 0), m.OriginalStartUTC)
			assert.Equal(t, model.OccurrenceID("standup", tt.newStart), m.ID)
			assert.True(t, m.HasOverride)
		})
	}
}

func TestExpand_OverrideMovesInstanceIntoWindow(t *testing.T) {
	set := model.TaskSet{
		Tasks: []model.Task{weeklyStandup()},
		Overrides: []model.TaskOverride{
			{
				// Far outside the scanned span.
				TaskID:          "standup",
				OccurrenceStart: utc(2025, 10, 6, 16, 0),
				NewStart:        mo.Some(utc(2025, 8, 29, 17, 0)),
				NewEnd:          mo.Some(utc(2025, 8, 29, 17, 45)),
			},
			{
				// Inside the slack but outside the window.
				TaskID:          "standup",
				OccurrenceStart: utc(2025, 9, 1, 16, 0),
				NewStart:        mo.Some(utc(2025, 8, 28, 16, 0)),
			},
			{
				// A Tuesday is not an instance of the rule.
				TaskID:          "standup",
				OccurrenceStart: utc(2025, 10, 7, 16, 0),
				NewStart:        mo.Some(utc(2025, 8, 27, 16, 0)),
			},
		},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	assertWellFormed(t, occ, augustWindow())

	assert.Equal(t, []time.Time{
		utc(2025, 8, 4, 16, 0),
		utc(2025, 8, 11, 16, 0),
		utc(2025, 8, 18, 16, 0),
		utc(2025, 8, 25, 16, 0),
		utc(2025, 8, 28, 16, 0),
		utc(2025, 8, 29, 17, 0),
	}, starts(occ))
	assert.Equal(t, 45*time.Minute, occ[5].Duration())
	assert.Equal(t, model.SourceOverrideMoved, occ[4].Source)
	assert.Equal(t, utc(2025, 9, 1, 16, 0), occ[4].OriginalStartUTC)
}

func TestExpand_ExceptionWinsOverOverride(t *testing.T) {
	target := utc(2025, 8, 11, 16, 0)
	set := model.TaskSet{
		Tasks:      []model.Task{weeklyStandup()},
		Exceptions: []model.TaskException{{TaskID: "standup", OccurrenceStart: target}},
		Overrides: []model.TaskOverride{{
			TaskID:          "standup",
			OccurrenceStart: target,
			NewStart:        mo.Some(utc(2025, 8, 12, 16, 0)),
			Title:           mo.Some("Moved standup"),
		}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 3)
	for _, o := range occ {
		assert.NotEqual(t, target, o.OriginalStartUTC)
		assert.NotEqual(t, "Moved standup", o.Title)
	}
}

func TestExpand_OverridePatchesWithoutMove(t *testing.T) {
	set := model.TaskSet{
		Tasks: []model.Task{weeklyStandup()},
		Overrides: []model.TaskOverride{
			{TaskID: "standup", OccurrenceStart: utc(2025, 8, 25, 16, 0), Title: mo.Some("Retro")},
			{TaskID: "standup", OccurrenceStart: utc(2025, 8, 25, 16, 0), Color: mo.Some("#dc2626"), Status: mo.Some(model.StatusDone)},
		},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 4)

	last := occ[3]
	assert.Equal(t, model.SourceRRule, last.Source)
	assert.True(t, last.HasOverride)
	assert.Equal(t, "Retro", last.Title)
	assert.Equal(t, "#dc2626", last.Color)
	assert.Equal(t, model.StatusDone, last.Status)
	assert.Equal(t, utc(2025, 8, 25, 16, 0), last.StartUTC)
}

func TestExpand_OverrideResizeOnly(t *testing.T) {
	set := model.TaskSet{
		Tasks: []model.Task{weeklyStandup()},
		Overrides: []model.TaskOverride{{
			TaskID:          "standup",
			OccurrenceStart: utc(2025, 8, 4, 16, 0),
			NewEnd:          mo.Some(utc(2025, 8, 4, 18, 0)),
		}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 4)
	assert.Equal(t, model.SourceOverrideMoved, occ[0].Source)
	assert.Equal(t, utc(2025, 8, 4, 16, 0), occ[0].StartUTC)
	assert.Equal(t, 2*time.Hour, occ[0].Duration())
}

func TestExpand_SingleTasks(t *testing.T) {
	w := augustWindow()
	tasks := []model.Task{
		{
			ID:             "review",
			Title:          "Project Review",
			ScheduledStart: mo.Some(utc(2025, 8, 6, 14, 15)),
			ScheduledEnd:   mo.Some(utc(2025, 8, 6, 15, 45)),
		},
		{ID: "at-start", ScheduledStart: mo.Some(w.Start)},
		{ID: "at-end", ScheduledStart: mo.Some(w.End)},
		{ID: "before", ScheduledStart: mo.Some(utc(2025, 7, 31, 23, 0))},
		{ID: "unscheduled", Title: "Buy groceries"},
		{ID: "estimated", ScheduledStart: mo.Some(utc(2025, 8, 7, 9, 0)), EstimatedMinutes: 120},
	}

	occ, err := Expand(model.TaskSet{Tasks: tasks}, w)
	require.NoError(t, err)
	require.Len(t, occ, 3)
	assertWellFormed(t, occ, w)

	assert.Equal(t, "at-start", occ[0].TaskID)
	assert.Equal(t, time.Hour, occ[0].Duration(), "default duration")

	assert.Equal(t, "review", occ[1].TaskID)
	assert.Equal(t, model.SourceSingle, occ[1].Source)
	assert.Equal(t, utc(2025, 8, 6, 14, 15), occ[1].StartUTC)
	assert.Equal(t, utc(2025, 8, 6, 15, 45), occ[1].EndUTC)
	assert.False(t, occ[1].IsRecurring)
	assert.Equal(t, "review:2025-08-06T14:15:00.000Z", occ[1].ID)

	assert.Equal(t, "estimated", occ[2].TaskID)
	assert.Equal(t, 2*time.Hour, occ[2].Duration())
}

func TestExpand_RuleTakesPrecedenceOverScheduledDate(t *testing.T) {
	task := weeklyStandup()
	task.DTStart = mo.None[time.Time]()
	// The scheduled start anchors the rule; it is not emitted as SINGLE.
	task.ScheduledStart = mo.Some(utc(2025, 8, 4, 16, 0))
	task.ScheduledEnd = mo.Some(utc(2025, 8, 4, 17, 0))

	occ, err := Expand(model.TaskSet{Tasks: []model.Task{task}}, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 4)
	for _, o := range occ {
		assert.Equal(t, model.SourceRRule, o.Source)
	}
}

func TestExpand_TieBreakByTaskID(t *testing.T) {
	at := utc(2025, 8, 10, 12, 0)
	tasks := []model.Task{
		{ID: "b", ScheduledStart: mo.Some(at)},
		{ID: "a", ScheduledStart: mo.Some(at)},
		{ID: "c", ScheduledStart: mo.Some(at.Add(-time.Minute))},
	}

	occ, err := Expand(model.TaskSet{Tasks: tasks}, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{occ[0].TaskID, occ[1].TaskID, occ[2].TaskID})
}

func TestExpand_Idempotent(t *testing.T) {
	set := model.TaskSet{
		Tasks: []model.Task{
			weeklyStandup(),
			{ID: "review", ScheduledStart: mo.Some(utc(2025, 8, 6, 14, 15))},
		},
		Exceptions: []model.TaskException{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 11, 16, 0)}},
		RDates:     []model.TaskRDate{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 6, 16, 0)}},
		Overrides: []model.TaskOverride{{
			TaskID:          "standup",
			OccurrenceStart: utc(2025, 8, 18, 16, 0),
			NewStart:        mo.Some(utc(2025, 8, 20, 18, 0)),
		}},
	}

	first, err := Expand(set, augustWindow())
	require.NoError(t, err)
	second, err := Expand(set, augustWindow())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assertWellFormed(t, first, augustWindow())
}

func TestExpand_DaylightSavingTransition(t *testing.T) {
	w := model.Window{Start: utc(2025, 10, 20, 0, 0), End: utc(2025, 11, 11, 0, 0)}

	occ, err := Expand(model.TaskSet{Tasks: []model.Task{weeklyStandup()}}, w)
	require.NoError(t, err)

	// 09:00 wall clock stays fixed; the UTC offset moves from -7 to -8.
	assert.Equal(t, []time.Time{
		utc(2025, 10, 20, 16, 0),
		utc(2025, 10, 27, 16, 0),
		utc(2025, 11, 3, 17, 0),
		utc(2025, 11, 10, 17, 0),
	}, starts(occ))
}

func TestExpand_ZonelessTaskUsesWindowTimezone(t *testing.T) {
	task := weeklyStandup()
	task.Timezone = ""

	w := model.Window{Start: utc(2025, 10, 27, 0, 0), End: utc(2025, 11, 11, 0, 0), Timezone: "America/Los_Angeles"}
	occ, err := Expand(model.TaskSet{Tasks: []model.Task{task}}, w)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2025, 10, 27, 16, 0),
		utc(2025, 11, 3, 17, 0),
		utc(2025, 11, 10, 17, 0),
	}, starts(occ))

	// Evaluated in UTC the wall clock is 16:00 all along.
	w.Timezone = ""
	occ, err = Expand(model.TaskSet{Tasks: []model.Task{task}}, w)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2025, 10, 27, 16, 0),
		utc(2025, 11, 3, 16, 0),
		utc(2025, 11, 10, 16, 0),
	}, starts(occ))
}

func TestExpand_UnboundedWindow(t *testing.T) {
	w := model.Window{Start: utc(2025, 8, 1, 0, 0)}

	_, err := Expand(model.TaskSet{Tasks: []model.Task{weeklyStandup()}}, w)
	var ruleErr *InvalidRuleError
	require.True(t, errors.As(err, &ruleErr), "got %v", err)
	assert.Equal(t, "standup", ruleErr.TaskID)

	counted := weeklyStandup()
	counted.RRule = "RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=3"
	occ, err := Expand(model.TaskSet{Tasks: []model.Task{counted}}, w)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2025, 8, 4, 16, 0),
		utc(2025, 8, 11, 16, 0),
		utc(2025, 8, 18, 16, 0),
	}, starts(occ))
}

func TestExpand_Errors(t *testing.T) {
	badRule := weeklyStandup()
	badRule.RRule = "FREQ=SOMETIMES"

	noAnchor := weeklyStandup()
	noAnchor.DTStart = mo.None[time.Time]()

	badZone := weeklyStandup()
	badZone.Timezone = "Mars/Olympus_Mons"

	tests := []struct {
		name   string
		tasks  []model.Task
		window model.Window
		check  func(t *testing.T, err error)
	}{
		{
			name:   "malformed rule",
			tasks:  []model.Task{badRule},
			window: augustWindow(),
			check: func(t *testing.T, err error) {
				var target *InvalidRuleError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "standup", target.TaskID)
				assert.Contains(t, err.Error(), "standup")
			},
		},
		{
			name:   "missing anchor",
			tasks:  []model.Task{noAnchor},
			window: augustWindow(),
			check: func(t *testing.T, err error) {
				var target *InvalidRuleError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "missing DTSTART", target.Reason)
			},
		},
		{
			name:   "unknown task timezone",
			tasks:  []model.Task{badZone},
			window: augustWindow(),
			check: func(t *testing.T, err error) {
				var target *InvalidTimezoneError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, "Mars/Olympus_Mons", target.Name)
				assert.Equal(t, "standup", target.TaskID)
			},
		},
		{
			name:   "unknown window timezone",
			tasks:  []model.Task{weeklyStandup()},
			window: model.Window{Start: utc(2025, 8, 1, 0, 0), End: utc(2025, 8, 2, 0, 0), Timezone: "Nowhere/City"},
			check: func(t *testing.T, err error) {
				var target *InvalidTimezoneError
				require.True(t, errors.As(err, &target))
				assert.Empty(t, target.TaskID)
			},
		},
		{
			name:   "window end before start",
			tasks:  []model.Task{weeklyStandup()},
			window: model.Window{Start: utc(2025, 8, 2, 0, 0), End: utc(2025, 8, 1, 0, 0)},
			check: func(t *testing.T, err error) {
				var target *InvalidWindowError
				require.True(t, errors.As(err, &target))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occ, err := Expand(model.TaskSet{Tasks: tt.tasks}, tt.window)
			require.Error(t, err)
			assert.Nil(t, occ)
			tt.check(t, err)
		})
	}
}

func TestExpander_CapExceeded(t *testing.T) {
	task := model.Task{
		ID:       "ticker",
		RRule:    "FREQ=MINUTELY",
		Timezone: "UTC",
		DTStart:  mo.Some(utc(2025, 8, 1, 0, 0)),
	}
	store, err := NewRuleStore(model.TaskSet{Tasks: []model.Task{task}})
	require.NoError(t, err)

	_, err = NewExpander(ExpanderConfig{MaxOccurrencesPerTask: 100}).Expand(store, augustWindow())
	var target *InvalidRuleError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "ticker", target.TaskID)

	short := model.Window{Start: utc(2025, 8, 1, 0, 0), End: utc(2025, 8, 1, 1, 0)}
	occ, err := NewExpander(ExpanderConfig{MaxOccurrencesPerTask: 100}).Expand(store, short)
	require.NoError(t, err)
	assert.Len(t, occ, 60)
}

func TestExpander_EmptyWindow(t *testing.T) {
	at := utc(2025, 8, 4, 16, 0)
	occ, err := Expand(model.TaskSet{Tasks: []model.Task{weeklyStandup()}}, model.Window{Start: at, End: at})
	require.NoError(t, err)
	assert.Empty(t, occ)
}

func TestExpand_RDateAtMovedStart(t *testing.T) {
	set := model.TaskSet{
		Tasks: []model.Task{weeklyStandup()},
		Overrides: []model.TaskOverride{{
			TaskID:          "standup",
			OccurrenceStart: utc(2025, 8, 18, 16, 0),
			NewStart:        mo.Some(utc(2025, 8, 20, 18, 0)),
		}},
		RDates: []model.TaskRDate{{TaskID: "standup", OccurrenceStart: utc(2025, 8, 20, 18, 0)}},
	}

	occ, err := Expand(set, augustWindow())
	require.NoError(t, err)
	require.Len(t, occ, 4)

	ids := make(map[string]int)
	for _, o := range occ {
		ids[o.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "occurrence ID %s repeated", id)
	}
	assert.Equal(t, model.SourceOverrideMoved, occ[2].Source)
}

func TestExpand_AnchorFarInPast(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		anchor time.Time
		window model.Window
		want   int
	}{
		{
			name:   "minutely since 2000",
			rule:   "FREQ=MINUTELY",
			anchor: utc(2000, 1, 1, 0, 0),
			window: model.Window{Start: utc(2025, 8, 1, 0, 0), End: utc(2025, 8, 1, 1, 0)},
			want:   60,
		},
		{
			name:   "secondly since 2000",
			rule:   "FREQ=SECONDLY",
			anchor: utc(2000, 1, 1, 0, 0),
			window: model.Window{Start: utc(2025, 8, 1, 0, 0), End: utc(2025, 8, 1, 0, 1)},
			want:   60,
		},
		{
			name:   "daily since 1990",
			rule:   "FREQ=DAILY",
			anchor: utc(1990, 3, 1, 9, 0),
			window: augustWindow(),
			want:   30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := model.Task{ID: "old", RRule: tt.rule, Timezone: "UTC", DTStart: mo.Some(tt.anchor)}
			started := time.Now()
			occ, err := Expand(model.TaskSet{Tasks: []model.Task{task}}, tt.window)
			require.NoError(t, err)
			assert.Len(t, occ, tt.want)
			assert.Less(t, time.Since(started), 2*time.Second)
		})
	}
}

func TestCollect_MovedAnchorKeepsInstances(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	tests := []struct {
		name   string
		rule   string
		anchor time.Time
	}{
		{"biweekly two days", "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE", time.Date(2015, 1, 5, 9, 0, 0, 0, la)},
		{"every third day", "FREQ=DAILY;INTERVAL=3", time.Date(2015, 1, 1, 7, 30, 0, 0, la)},
		{"inside dst gap", "FREQ=DAILY", time.Date(2015, 1, 1, 2, 30, 0, 0, la)},
		{"every five hours", "FREQ=HOURLY;INTERVAL=5", time.Date(2015, 6, 1, 1, 0, 0, 0, la)},
		{"weekdays until", "FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR;UNTIL=20260101T000000Z", time.Date(2015, 1, 2, 8, 0, 0, 0, la)},
	}

	// Spans the 2025 spring-forward in Los Angeles.
	lo := utc(2025, 3, 1, 0, 0)
	hi := utc(2025, 3, 31, 0, 0)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := model.Task{ID: "t", RRule: tt.rule, DTStart: mo.Some(tt.anchor)}
			c, err := compileRule(task, la)
			require.NoError(t, err)

			want := c.rule.Between(lo, hi, true)
			got, err := c.collect(lo, hi, 1000)
			require.NoError(t, err)
			require.NotEmpty(t, want)
			assert.Equal(t, formatAll(want), formatAll(got))
		})
	}
}

func TestExpander_ScanBudgetExceeded(t *testing.T) {
	task := model.Task{
		ID:       "counted",
		RRule:    "FREQ=DAILY;COUNT=100000",
		Timezone: "UTC",
		DTStart:  mo.Some(utc(2000, 1, 1, 9, 0)),
	}
	store, err := NewRuleStore(model.TaskSet{Tasks: []model.Task{task}})
	require.NoError(t, err)

	_, err = NewExpander(ExpanderConfig{MaxOccurrencesPerTask: 100}).Expand(store, augustWindow())
	var target *InvalidRuleError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "counted", target.TaskID)

	// The default limit walks far enough.
	occ, err := Expand(model.TaskSet{Tasks: []model.Task{task}}, augustWindow())
	require.NoError(t, err)
	assert.Len(t, occ, 30)
}

func formatAll(ts []time.Time) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.UTC().Format(time.RFC3339))
	}
	return out
}
