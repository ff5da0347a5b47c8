package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/samber/mo"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

const (
	propRDate        = ical.ComponentProperty("RDATE")
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propColor        = ical.ComponentProperty("COLOR")
)

// vevent is the subset of a VEVENT the importer maps onto tasks.
type vevent struct {
	uid     string
	seq     int
	summary string
	desc    string
	color   string
	status  string

	start    time.Time
	end      time.Time
	tzName   string
	hasStart bool

	rrule      string
	exdates    []time.Time
	rdates     []model.TaskRDate
	recurrence mo.Option[time.Time]
}

// TaskID derives a stable task ID from the feed and the event UID so that
// re-imports keep the same IDs.
func TaskID(sourceID, uid string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ics:"+sourceID+"/"+uid)).String()
}

// ParseICS maps the VEVENTs of one feed onto a TaskSet. Floating and
// date-only values are read in loc.
//
// Master events become tasks (recurring when they carry an RRULE), EXDATE and
// RDATE become exceptions and rdates, and RECURRENCE-ID events become
// overrides of their master. A cancelled instance becomes an exception.
// Events that fail to parse are logged and skipped.
func ParseICS(src Source, body []byte, loc *time.Location) (model.TaskSet, error) {
	if len(body) == 0 {
		return model.TaskSet{}, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return model.TaskSet{}, fmt.Errorf("parse calendar %s: %w", src.ID, err)
	}

	masters := make(map[string]vevent)
	order := make([]string, 0)
	var instances []vevent

	for _, comp := range cal.Events() {
		ev, perr := readVEvent(comp, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", perr)
			continue
		}
		if ev.recurrence.IsPresent() {
			instances = append(instances, ev)
			continue
		}
		prev, dup := masters[ev.uid]
		if !dup {
			order = append(order, ev.uid)
		}
		if !dup || ev.seq >= prev.seq {
			masters[ev.uid] = ev
		}
	}

	var set model.TaskSet
	for _, uid := range order {
		ev := masters[uid]
		if strings.EqualFold(ev.status, "CANCELLED") {
			continue
		}
		task := ev.task(src.ID)
		set.Tasks = append(set.Tasks, task)
		for _, ex := range ev.exdates {
			set.Exceptions = append(set.Exceptions, model.TaskException{TaskID: task.ID, OccurrenceStart: ex.UTC()})
		}
		for _, rd := range ev.rdates {
			rd.TaskID = task.ID
			set.RDates = append(set.RDates, rd)
		}
	}

	for _, inst := range instances {
		master, ok := masters[inst.uid]
		if !ok || strings.EqualFold(master.status, "CANCELLED") {
			// Orphan instance: keep it as a one-off so it is not lost.
			orphan := inst
			orphan.rrule = ""
			task := orphan.task(src.ID)
			task.ID = TaskID(src.ID, inst.uid+"@"+inst.recurrence.MustGet().UTC().Format(time.RFC3339))
			set.Tasks = append(set.Tasks, task)
			continue
		}
		taskID := TaskID(src.ID, inst.uid)
		slot := inst.recurrence.MustGet().UTC()

		if strings.EqualFold(inst.status, "CANCELLED") {
			set.Exceptions = append(set.Exceptions, model.TaskException{TaskID: taskID, OccurrenceStart: slot})
			continue
		}
		set.Overrides = append(set.Overrides, inst.override(taskID, slot, master))
	}

	appLog.Debug("ics parse completed", "id", src.ID,
		"tasks", len(set.Tasks), "exceptions", len(set.Exceptions),
		"rdates", len(set.RDates), "overrides", len(set.Overrides))
	return set, nil
}

func (ev vevent) task(sourceID string) model.Task {
	t := model.Task{
		ID:          TaskID(sourceID, ev.uid),
		SourceID:    sourceID,
		Title:       ev.summary,
		Description: ev.desc,
		Color:       ev.color,
		Status:      mapStatus(ev.status),
		Priority:    model.PriorityMedium,
		Timezone:    ev.tzName,
	}
	if ev.hasStart {
		t.ScheduledStart = mo.Some(ev.start.UTC())
		if ev.end.After(ev.start) {
			t.ScheduledEnd = mo.Some(ev.end.UTC())
			t.EstimatedMinutes = int(ev.end.Sub(ev.start) / time.Minute)
		}
	}
	if ev.rrule != "" && ev.hasStart {
		t.RRule = ev.rrule
		t.DTStart = mo.Some(ev.start.UTC())
	}
	return t
}

func (ev vevent) override(taskID string, slot time.Time, master vevent) model.TaskOverride {
	ov := model.TaskOverride{TaskID: taskID, OccurrenceStart: slot}
	if ev.hasStart && !ev.start.Equal(slot) {
		ov.NewStart = mo.Some(ev.start.UTC())
	}
	if ev.hasStart && ev.end.After(ev.start) {
		masterDur := master.end.Sub(master.start)
		if !ev.start.Equal(slot) || ev.end.Sub(ev.start) != masterDur {
			ov.NewEnd = mo.Some(ev.end.UTC())
		}
	}
	if ev.summary != "" && ev.summary != master.summary {
		ov.Title = mo.Some(ev.summary)
	}
	if ev.color != "" && ev.color != master.color {
		ov.Color = mo.Some(ev.color)
	}
	if ev.status != "" && !strings.EqualFold(ev.status, master.status) {
		ov.Status = mo.Some(mapStatus(ev.status))
	}
	return ov
}

func readVEvent(ve *ical.VEvent, loc *time.Location) (vevent, error) {
	var out vevent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.desc = p.Value
	}
	if p := ve.GetProperty(propColor); p != nil {
		out.color = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		v, err := parseTimeValue(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.start, out.tzName, out.hasStart = v.t, v.tzName, true
	}
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		if v, err := parseTimeValue(p.Value, p.ICalParameters, loc); err == nil {
			out.end = v.t
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rrule = strings.TrimSpace(p.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range splitList(p.Value) {
			if v, err := parseTimeValue(part, p.ICalParameters, loc); err == nil {
				out.exdates = append(out.exdates, v.t)
			}
		}
	}

	for _, p := range ve.GetProperties(propRDate) {
		for _, part := range splitList(p.Value) {
			startStr, endStr, period := strings.Cut(part, "/")
			v, err := parseTimeValue(startStr, p.ICalParameters, loc)
			if err != nil {
				continue
			}
			rd := model.TaskRDate{OccurrenceStart: v.t.UTC()}
			if period {
				if e, err := parseTimeValue(endStr, p.ICalParameters, loc); err == nil && e.t.After(v.t) {
					rd.OccurrenceEnd = mo.Some(e.t.UTC())
				}
			}
			out.rdates = append(out.rdates, rd)
		}
	}

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		v, err := parseTimeValue(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		out.recurrence = mo.Some(v.t)
	}

	return out, nil
}

type timeValue struct {
	t      time.Time
	tzName string
}

// parseTimeValue reads an ICS DATE or DATE-TIME honoring TZID. UTC values
// report zone "UTC"; floating and date-only values are read in loc.
func parseTimeValue(v string, params map[string][]string, loc *time.Location) (timeValue, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return timeValue{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return timeValue{t: t, tzName: "UTC"}, err
	}

	in := loc
	if tzs := params["TZID"]; len(tzs) > 0 && tzs[0] != "" {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			in = l
		} else {
			return timeValue{}, fmt.Errorf("unknown TZID %q: %w", tzs[0], err)
		}
	}

	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, in)
		return timeValue{t: t, tzName: in.String()}, err
	}
	t, err := time.ParseInLocation("20060102", v, in)
	return timeValue{t: t, tzName: in.String()}, err
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mapStatus(s string) model.TaskStatus {
	switch strings.ToUpper(s) {
	case "COMPLETED":
		return model.StatusDone
	case "IN-PROCESS":
		return model.StatusInProgress
	default:
		return model.StatusTodo
	}
}
