package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"taskcal/internal/model"
)

const (
	propTaskID        = ical.ComponentProperty("X-TASKCAL-TASK-ID")
	propOriginalStart = ical.ComponentProperty("X-TASKCAL-ORIGINAL-START")
	propSource        = ical.ComponentProperty("X-TASKCAL-SOURCE")
)

// EncodeOccurrences renders expanded occurrences as a flat VCALENDAR, one
// VEVENT per occurrence keyed by the occurrence ID.
func EncodeOccurrences(occ []model.Occurrence, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//taskcal//occurrences//EN")

	stamp := now.UTC()
	for _, o := range occ {
		ev := cal.AddEvent(o.ID)
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(o.StartUTC)
		ev.SetEndAt(o.EndUTC)
		ev.SetSummary(o.Title)
		if o.Description != "" {
			ev.SetDescription(o.Description)
		}
		if o.Color != "" {
			ev.SetProperty(propColor, o.Color)
		}
		ev.SetProperty(ical.ComponentPropertyStatus, icsStatus(o.Status))
		ev.SetProperty(propTaskID, o.TaskID)
		ev.SetProperty(propSource, string(o.Source))
		if o.IsRecurring {
			ev.SetProperty(propOriginalStart, o.OriginalStartUTC.UTC().Format("20060102T150405Z"))
		}
	}
	return cal.Serialize()
}

func icsStatus(s model.TaskStatus) string {
	switch s {
	case model.StatusDone:
		return "COMPLETED"
	case model.StatusInProgress:
		return "IN-PROCESS"
	default:
		return "CONFIRMED"
	}
}
