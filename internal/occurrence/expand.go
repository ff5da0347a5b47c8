package occurrence

import (
	"fmt"
	"sort"
	"time"

	"taskcal/internal/model"
)

const (
	defaultMaxOccurrencesPerTask = 5000
	defaultDuration              = time.Hour
)

// ExpanderConfig controls how recurrence expansion is performed.
type ExpanderConfig struct {
	// MaxOccurrencesPerTask caps how many rule instances one task may produce
	// for a single call. Exceeding it fails the call with InvalidRuleError.
	// If zero, defaultMaxOccurrencesPerTask is used.
	MaxOccurrencesPerTask int

	// DefaultDuration is used for instances whose task has neither an
	// estimate nor a scheduled span. If zero, one hour.
	DefaultDuration time.Duration

	// DefaultLocation evaluates rules of tasks without a zone when the window
	// names none either. If nil, UTC.
	DefaultLocation *time.Location
}

// Expander turns a RuleStore into concrete occurrences for a window. It holds
// only configuration and is safe for concurrent use.
type Expander struct {
	cfg ExpanderConfig
}

// NewExpander fills zero config fields with defaults.
func NewExpander(cfg ExpanderConfig) *Expander {
	if cfg.MaxOccurrencesPerTask <= 0 {
		cfg.MaxOccurrencesPerTask = defaultMaxOccurrencesPerTask
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaultDuration
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	return &Expander{cfg: cfg}
}

// Expand validates set and expands it over w with the default configuration.
func Expand(set model.TaskSet, w model.Window) ([]model.Occurrence, error) {
	store, err := NewRuleStore(set)
	if err != nil {
		return nil, err
	}
	return NewExpander(ExpanderConfig{}).Expand(store, w)
}

// Expand produces the occurrences of every task in store whose effective start
// lies in [w.Start, w.End), sorted by start then task ID.
//
// Per task the order is: rule instances, minus exceptions, then overrides,
// then added dates. An exception therefore wins over an override targeting the
// same instance, and a moved instance is judged by its new start.
func (e *Expander) Expand(store *RuleStore, w model.Window) ([]model.Occurrence, error) {
	if !w.Unbounded() && w.End.Before(w.Start) {
		return nil, &InvalidWindowError{Start: w.Start, End: w.End}
	}
	w.Start = w.Start.UTC()
	w.End = w.End.UTC()

	fallback := e.cfg.DefaultLocation
	if w.Timezone != "" {
		loc, err := loadLocation(w.Timezone)
		if err != nil {
			return nil, &InvalidTimezoneError{Name: w.Timezone, Err: err}
		}
		fallback = loc
	}

	out := make([]model.Occurrence, 0)
	for _, entry := range store.entries {
		var (
			occ []model.Occurrence
			err error
		)
		if entry.task.IsRecurring() {
			occ, err = e.expandRecurring(entry, w, fallback)
		} else {
			occ = e.expandSingle(entry, w)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, occ...)
	}

	sortOccurrences(out)
	return out, nil
}

// expandSingle emits the task's scheduled instance plus any added dates.
func (e *Expander) expandSingle(entry *taskEntry, w model.Window) []model.Occurrence {
	t := entry.task
	dur := e.taskDuration(t)
	seen := make(map[int64]struct{})
	out := make([]model.Occurrence, 0, 1)

	if start, ok := t.ScheduledStart.Get(); ok {
		start = start.UTC()
		seen[instanceKey(start)] = struct{}{}
		if w.Contains(start) {
			end := start.Add(dur)
			if se, ok := t.ScheduledEnd.Get(); ok && se.After(start) {
				end = se.UTC()
			}
			out = append(out, newOccurrence(t, start, end, model.SourceSingle))
		}
	}

	return append(out, e.expandRDates(entry, w, dur, seen)...)
}

func (e *Expander) expandRecurring(entry *taskEntry, w model.Window, fallback *time.Location) ([]model.Occurrence, error) {
	t := entry.task

	rule := entry.rule
	if rule == nil {
		var err error
		if rule, err = compileRule(t, fallback); err != nil {
			return nil, err
		}
	}

	if w.Unbounded() && !rule.bounded {
		return nil, &InvalidRuleError{
			TaskID: t.ID,
			Rule:   t.RRule,
			Reason: "rule has neither COUNT nor UNTIL and the window is unbounded",
		}
	}

	// Widen by one rule period on each side to catch boundary-spanning
	// instances; anything outside the window is dropped after overrides.
	lo := w.Start.Add(-rule.period)
	var hi time.Time
	if !w.Unbounded() {
		hi = w.End.Add(rule.period)
	}

	starts, err := rule.collect(lo, hi, e.cfg.MaxOccurrencesPerTask)
	if err != nil {
		return nil, &InvalidRuleError{TaskID: t.ID, Rule: t.RRule, Err: err}
	}

	dur := e.taskDuration(t)
	seen := make(map[int64]struct{}, len(starts))
	out := make([]model.Occurrence, 0, len(starts))
	var moved []int64

	for _, s := range starts {
		key := instanceKey(s)
		seen[key] = struct{}{}
		if _, excluded := entry.exceptions[key]; excluded {
			continue
		}
		occ := newOccurrence(t, s.UTC(), s.UTC().Add(dur), model.SourceRRule)
		if ov, ok := entry.overrides[key]; ok {
			occ = applyOverride(occ, ov, dur)
			moved = append(moved, instanceKey(occ.StartUTC))
		}
		if w.Contains(occ.StartUTC) {
			out = append(out, occ)
		}
	}

	// Overrides can pull an instance into the window from a slot the scan
	// above never reached. Their target must still be a real rule instance.
	for _, key := range entry.overrideOrder {
		if _, done := seen[key]; done {
			continue
		}
		ov := entry.overrides[key]
		if !ov.Moves() {
			continue
		}
		if _, excluded := entry.exceptions[key]; excluded {
			continue
		}
		orig := ov.OccurrenceStart
		if !orig.Before(lo) && (hi.IsZero() || !orig.After(hi)) {
			// Inside the scanned span but not generated: not an instance.
			continue
		}
		if !rule.isInstance(orig.In(rule.location())) {
			continue
		}
		seen[key] = struct{}{}
		occ := applyOverride(newOccurrence(t, orig, orig.Add(dur), model.SourceRRule), ov, dur)
		moved = append(moved, instanceKey(occ.StartUTC))
		if w.Contains(occ.StartUTC) {
			out = append(out, occ)
		}
	}

	// Added dates must not duplicate a surviving rule instance, at its
	// original slot or where an override moved it.
	for key := range entry.exceptions {
		delete(seen, key)
	}
	for _, key := range moved {
		seen[key] = struct{}{}
	}
	return append(out, e.expandRDates(entry, w, dur, seen)...), nil
}

// expandRDates emits one RDATE occurrence per added date whose start is not
// already in seen and lies in the window.
func (e *Expander) expandRDates(entry *taskEntry, w model.Window, dur time.Duration, seen map[int64]struct{}) []model.Occurrence {
	out := make([]model.Occurrence, 0, len(entry.rdates))
	for _, rd := range entry.rdates {
		key := instanceKey(rd.OccurrenceStart)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !w.Contains(rd.OccurrenceStart) {
			continue
		}
		end := rd.OccurrenceStart.Add(dur)
		if re, ok := rd.OccurrenceEnd.Get(); ok && re.After(rd.OccurrenceStart) {
			end = re
		}
		out = append(out, newOccurrence(entry.task, rd.OccurrenceStart, end, model.SourceRDate))
	}
	return out
}

// taskDuration derives the length of an instance that has no explicit end.
func (e *Expander) taskDuration(t model.Task) time.Duration {
	if t.EstimatedMinutes > 0 {
		return time.Duration(t.EstimatedMinutes) * time.Minute
	}
	start, okStart := t.ScheduledStart.Get()
	end, okEnd := t.ScheduledEnd.Get()
	if okStart && okEnd && end.After(start) {
		return end.Sub(start)
	}
	return e.cfg.DefaultDuration
}

func newOccurrence(t model.Task, start, end time.Time, src model.Source) model.Occurrence {
	return model.Occurrence{
		ID:               model.OccurrenceID(t.ID, start),
		TaskID:           t.ID,
		Title:            t.Title,
		Description:      t.Description,
		Color:            t.Color,
		Status:           t.Status,
		StartUTC:         start,
		EndUTC:           end,
		OriginalStartUTC: start,
		Source:           src,
		IsRecurring:      t.IsRecurring(),
	}
}

// applyOverride patches display attributes and, for moves, the time span.
// A new start without a new end keeps the instance's duration.
func applyOverride(occ model.Occurrence, ov model.TaskOverride, dur time.Duration) model.Occurrence {
	occ.HasOverride = true
	if v, ok := ov.Title.Get(); ok {
		occ.Title = v
	}
	if v, ok := ov.Color.Get(); ok {
		occ.Color = v
	}
	if v, ok := ov.Status.Get(); ok {
		occ.Status = v
	}
	if !ov.Moves() {
		return occ
	}

	start := ov.NewStart.OrElse(occ.StartUTC)
	end := start.Add(occ.Duration())
	if v, ok := ov.NewEnd.Get(); ok {
		end = v
	}
	if !end.After(start) {
		end = start.Add(dur)
	}

	occ.StartUTC = start
	occ.EndUTC = end
	occ.ID = model.OccurrenceID(occ.TaskID, start)
	occ.Source = model.SourceOverrideMoved
	return occ
}

func sortOccurrences(occ []model.Occurrence) {
	sort.Slice(occ, func(i, j int) bool {
		a, b := occ[i], occ[j]
		if !a.StartUTC.Equal(b.StartUTC) {
			return a.StartUTC.Before(b.StartUTC)
		}
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if !a.OriginalStartUTC.Equal(b.OriginalStartUTC) {
			return a.OriginalStartUTC.Before(b.OriginalStartUTC)
		}
		return a.Source < b.Source
	})
}

// String is used in debug logging by callers.
func (c ExpanderConfig) String() string {
	return fmt.Sprintf("max_per_task=%d default_duration=%s default_location=%v",
		c.MaxOccurrencesPerTask, c.DefaultDuration, c.DefaultLocation)
}
