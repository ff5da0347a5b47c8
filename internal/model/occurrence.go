package model

import "time"

// Source tags where an occurrence came from.
type Source string

const (
	SourceSingle        Source = "SINGLE"
	SourceRRule         Source = "RRULE"
	SourceRDate         Source = "RDATE"
	SourceOverrideMoved Source = "OVERRIDE_MOVED"
)

// idLayout matches the millisecond ISO-8601 form browsers produce, so IDs
// round-trip with the calendar UI.
const idLayout = "2006-01-02T15:04:05.000Z"

// Occurrence is one concrete calendar instance produced by expansion.
type Occurrence struct {
	// ID is "<taskID>:<startUTC>" using the effective (possibly moved) start.
	ID     string
	TaskID string

	Title       string
	Description string
	Color       string
	Status      TaskStatus

	StartUTC time.Time
	EndUTC   time.Time
	// OriginalStartUTC is the slot the instance was generated for. It equals
	// StartUTC unless an override moved it, and is what new overrides target.
	OriginalStartUTC time.Time

	Source      Source
	IsRecurring bool
	HasOverride bool
}

// OccurrenceID builds the stable instance identifier.
func OccurrenceID(taskID string, start time.Time) string {
	return taskID + ":" + start.UTC().Format(idLayout)
}

// Duration returns EndUTC - StartUTC.
func (o Occurrence) Duration() time.Duration {
	return o.EndUTC.Sub(o.StartUTC)
}
