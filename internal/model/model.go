package model

import (
	"time"

	"github.com/samber/mo"
)

// TaskStatus mirrors the task lifecycle used by the calendar and goal views.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

// Priority is a display attribute only; expansion ignores it.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Task is a stored task/event definition. Tasks with a non-empty RRule are
// recurring; everything else is a single scheduled instance (or unscheduled).
type Task struct {
	ID     string
	UserID string
	// SourceID is empty for tasks created in the app and holds the ICS feed ID
	// for imported ones.
	SourceID string

	Title       string
	Description string
	Color       string
	Status      TaskStatus
	Priority    Priority

	// RRule is an RFC 5545 recurrence rule body, e.g. "FREQ=WEEKLY;BYDAY=MO".
	RRule string
	// DTStart anchors the rule. Its wall clock in Timezone is what repeats.
	DTStart mo.Option[time.Time]
	// Timezone is the IANA zone the rule is defined in.
	Timezone string

	// ScheduledStart / ScheduledEnd place a non-recurring task on the calendar.
	ScheduledStart mo.Option[time.Time]
	ScheduledEnd   mo.Option[time.Time]

	// EstimatedMinutes is the planned duration, used when an instance has no
	// explicit end.
	EstimatedMinutes int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRecurring reports whether the task is driven by a recurrence rule.
func (t Task) IsRecurring() bool {
	return t.RRule != ""
}

// TaskUpdate is a partial edit of a task. Rescheduling a single task from
// the calendar sets ScheduledStart and ScheduledEnd.
type TaskUpdate struct {
	Title          mo.Option[string]
	Color          mo.Option[string]
	Status         mo.Option[TaskStatus]
	ScheduledStart mo.Option[time.Time]
	ScheduledEnd   mo.Option[time.Time]
}

// Apply returns t with every present field of u set.
func (u TaskUpdate) Apply(t Task) Task {
	if v, ok := u.Title.Get(); ok {
		t.Title = v
	}
	if v, ok := u.Color.Get(); ok {
		t.Color = v
	}
	if v, ok := u.Status.Get(); ok {
		t.Status = v
	}
	if v, ok := u.ScheduledStart.Get(); ok {
		t.ScheduledStart = mo.Some(v.UTC())
	}
	if v, ok := u.ScheduledEnd.Get(); ok {
		t.ScheduledEnd = mo.Some(v.UTC())
	}
	return t
}

// TaskException suppresses one recurrence instance, identified by its
// original start.
type TaskException struct {
	TaskID          string
	OccurrenceStart time.Time // UTC
}

// TaskRDate adds an explicit occurrence that the rule does not produce.
type TaskRDate struct {
	TaskID          string
	OccurrenceStart time.Time // UTC
	OccurrenceEnd   mo.Option[time.Time]
}

// TaskOverride patches one original recurrence instance. A NewStart or NewEnd
// marks the instance as moved.
type TaskOverride struct {
	TaskID          string
	OccurrenceStart time.Time // UTC, the original slot

	NewStart mo.Option[time.Time]
	NewEnd   mo.Option[time.Time]

	Title  mo.Option[string]
	Color  mo.Option[string]
	Status mo.Option[TaskStatus]
}

// Moves reports whether the override relocates or resizes the instance.
func (o TaskOverride) Moves() bool {
	return o.NewStart.IsPresent() || o.NewEnd.IsPresent()
}

// TaskSet bundles task definitions with their recurrence metadata. It is the
// unit loaded by the store, produced by the ICS importer and consumed by the
// expander.
type TaskSet struct {
	Tasks      []Task
	Exceptions []TaskException
	RDates     []TaskRDate
	Overrides  []TaskOverride
}

// Append merges other into s.
func (s *TaskSet) Append(other TaskSet) {
	s.Tasks = append(s.Tasks, other.Tasks...)
	s.Exceptions = append(s.Exceptions, other.Exceptions...)
	s.RDates = append(s.RDates, other.RDates...)
	s.Overrides = append(s.Overrides, other.Overrides...)
}

// Window is a half-open query range [Start, End). A zero End means unbounded.
// Timezone is only used for wall-clock rule evaluation of tasks that do not
// carry their own zone.
type Window struct {
	Start    time.Time
	End      time.Time
	Timezone string
}

// Unbounded reports whether the window has no upper limit.
func (w Window) Unbounded() bool {
	return w.End.IsZero()
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.Unbounded() || t.Before(w.End)
}
