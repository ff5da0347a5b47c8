package store

import (
	"time"

	"github.com/samber/mo"

	"taskcal/internal/model"
)

type taskRecord struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"index;not null"`
	SourceID         string `gorm:"index"`
	Title            string
	Description      string
	Color            string
	Status           string `gorm:"default:TODO"`
	Priority         string `gorm:"default:MEDIUM"`
	RRule            string
	DTStart          *time.Time
	Timezone         string
	ScheduledStart   *time.Time
	ScheduledEnd     *time.Time
	EstimatedMinutes int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (taskRecord) TableName() string { return "tasks" }

type exceptionRecord struct {
	ID              uint      `gorm:"primaryKey"`
	TaskID          string    `gorm:"uniqueIndex:idx_exception_slot;not null"`
	OccurrenceStart time.Time `gorm:"uniqueIndex:idx_exception_slot;not null"`
	CreatedAt       time.Time
}

func (exceptionRecord) TableName() string { return "task_exceptions" }

type rdateRecord struct {
	ID              uint   `gorm:"primaryKey"`
	TaskID          string `gorm:"index;not null"`
	OccurrenceStart time.Time
	OccurrenceEnd   *time.Time
	CreatedAt       time.Time
}

func (rdateRecord) TableName() string { return "task_rdates" }

type overrideRecord struct {
	ID              uint      `gorm:"primaryKey"`
	TaskID          string    `gorm:"uniqueIndex:idx_override_slot;not null"`
	OccurrenceStart time.Time `gorm:"uniqueIndex:idx_override_slot;not null"`
	NewStart        *time.Time
	NewEnd          *time.Time
	Title           *string
	Color           *string
	Status          *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (overrideRecord) TableName() string { return "task_overrides" }

func utcPtr(o mo.Option[time.Time]) *time.Time {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	v = v.UTC()
	return &v
}

func utcOption(p *time.Time) mo.Option[time.Time] {
	if p == nil {
		return mo.None[time.Time]()
	}
	return mo.Some(p.UTC())
}

func newTaskRecord(t model.Task) taskRecord {
	return taskRecord{
		ID:               t.ID,
		UserID:           t.UserID,
		SourceID:         t.SourceID,
		Title:            t.Title,
		Description:      t.Description,
		Color:            t.Color,
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		RRule:            t.RRule,
		DTStart:          utcPtr(t.DTStart),
		Timezone:         t.Timezone,
		ScheduledStart:   utcPtr(t.ScheduledStart),
		ScheduledEnd:     utcPtr(t.ScheduledEnd),
		EstimatedMinutes: t.EstimatedMinutes,
	}
}

func (r taskRecord) toModel() model.Task {
	return model.Task{
		ID:               r.ID,
		UserID:           r.UserID,
		SourceID:         r.SourceID,
		Title:            r.Title,
		Description:      r.Description,
		Color:            r.Color,
		Status:           model.TaskStatus(r.Status),
		Priority:         model.Priority(r.Priority),
		RRule:            r.RRule,
		DTStart:          utcOption(r.DTStart),
		Timezone:         r.Timezone,
		ScheduledStart:   utcOption(r.ScheduledStart),
		ScheduledEnd:     utcOption(r.ScheduledEnd),
		EstimatedMinutes: r.EstimatedMinutes,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func newOverrideRecord(o model.TaskOverride) overrideRecord {
	rec := overrideRecord{
		TaskID:          o.TaskID,
		OccurrenceStart: o.OccurrenceStart.UTC(),
		NewStart:        utcPtr(o.NewStart),
		NewEnd:          utcPtr(o.NewEnd),
		Title:           o.Title.ToPointer(),
		Color:           o.Color.ToPointer(),
	}
	if s, ok := o.Status.Get(); ok {
		v := string(s)
		rec.Status = &v
	}
	return rec
}

func (r overrideRecord) toModel() model.TaskOverride {
	o := model.TaskOverride{
		TaskID:          r.TaskID,
		OccurrenceStart: r.OccurrenceStart.UTC(),
		NewStart:        utcOption(r.NewStart),
		NewEnd:          utcOption(r.NewEnd),
		Title:           mo.PointerToOption(r.Title),
		Color:           mo.PointerToOption(r.Color),
	}
	if r.Status != nil {
		o.Status = mo.Some(model.TaskStatus(*r.Status))
	}
	return o
}
