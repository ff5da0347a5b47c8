package occurrence

import (
	"time"

	"github.com/samber/mo"

	"taskcal/internal/model"
)

// taskEntry is one task with its recurrence metadata, indexed for lookup by
// original instance start.
type taskEntry struct {
	task model.Task
	// loc is nil when the task carries no zone; the window decides then.
	loc *time.Location
	// rule is precompiled when loc is known.
	rule *compiledRule

	exceptions    map[int64]struct{}
	overrides     map[int64]model.TaskOverride
	overrideOrder []int64
	rdates        []model.TaskRDate
}

// RuleStore is a read-only view over task definitions and their exceptions,
// added dates and overrides. It is validated once when built and never
// mutated afterwards, so one store may serve concurrent expansions.
type RuleStore struct {
	entries []*taskEntry
	byID    map[string]*taskEntry
}

func instanceKey(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// NewRuleStore validates and indexes set. Timezones and rule syntax are
// checked here; metadata pointing at unknown tasks is dropped. When a task ID
// repeats, the first definition is kept.
func NewRuleStore(set model.TaskSet) (*RuleStore, error) {
	s := &RuleStore{
		entries: make([]*taskEntry, 0, len(set.Tasks)),
		byID:    make(map[string]*taskEntry, len(set.Tasks)),
	}

	for _, t := range set.Tasks {
		if _, dup := s.byID[t.ID]; dup {
			continue
		}
		e, err := newTaskEntry(t)
		if err != nil {
			return nil, err
		}
		s.entries = append(s.entries, e)
		s.byID[t.ID] = e
	}

	for _, ex := range set.Exceptions {
		if e, ok := s.byID[ex.TaskID]; ok {
			e.exceptions[instanceKey(ex.OccurrenceStart)] = struct{}{}
		}
	}

	for _, rd := range set.RDates {
		e, ok := s.byID[rd.TaskID]
		if !ok {
			continue
		}
		rd.OccurrenceStart = rd.OccurrenceStart.UTC()
		if end, ok := rd.OccurrenceEnd.Get(); ok {
			rd.OccurrenceEnd = someUTC(end)
		}
		e.rdates = append(e.rdates, rd)
	}

	for _, ov := range set.Overrides {
		e, ok := s.byID[ov.TaskID]
		if !ok {
			continue
		}
		ov = normalizeOverride(ov)
		key := instanceKey(ov.OccurrenceStart)
		if prev, seen := e.overrides[key]; seen {
			e.overrides[key] = mergeOverride(prev, ov)
			continue
		}
		e.overrides[key] = ov
		e.overrideOrder = append(e.overrideOrder, key)
	}

	return s, nil
}

func newTaskEntry(t model.Task) (*taskEntry, error) {
	loc, err := loadLocation(t.Timezone)
	if err != nil {
		return nil, &InvalidTimezoneError{TaskID: t.ID, Name: t.Timezone, Err: err}
	}

	e := &taskEntry{
		task:       t,
		loc:        loc,
		exceptions: make(map[int64]struct{}),
		overrides:  make(map[int64]model.TaskOverride),
	}

	if !t.IsRecurring() {
		return e, nil
	}

	// Zone-less rules are recompiled per window, but syntax is checked now.
	compileLoc := loc
	if compileLoc == nil {
		compileLoc = time.UTC
	}
	rule, err := compileRule(t, compileLoc)
	if err != nil {
		return nil, err
	}
	if loc != nil {
		e.rule = rule
	}
	return e, nil
}

func someUTC(t time.Time) mo.Option[time.Time] {
	return mo.Some(t.UTC())
}

func normalizeOverride(ov model.TaskOverride) model.TaskOverride {
	ov.OccurrenceStart = ov.OccurrenceStart.UTC()
	if v, ok := ov.NewStart.Get(); ok {
		ov.NewStart = someUTC(v)
	}
	if v, ok := ov.NewEnd.Get(); ok {
		ov.NewEnd = someUTC(v)
	}
	return ov
}

// mergeOverride layers next over prev field by field.
func mergeOverride(prev, next model.TaskOverride) model.TaskOverride {
	if next.NewStart.IsPresent() {
		prev.NewStart = next.NewStart
	}
	if next.NewEnd.IsPresent() {
		prev.NewEnd = next.NewEnd
	}
	if next.Title.IsPresent() {
		prev.Title = next.Title
	}
	if next.Color.IsPresent() {
		prev.Color = next.Color
	}
	if next.Status.IsPresent() {
		prev.Status = next.Status
	}
	return prev
}

// Len returns the number of distinct tasks in the store.
func (s *RuleStore) Len() int {
	return len(s.entries)
}

// Task looks up a task definition by ID.
func (s *RuleStore) Task(id string) (model.Task, bool) {
	e, ok := s.byID[id]
	if !ok {
		return model.Task{}, false
	}
	return e.task, true
}
