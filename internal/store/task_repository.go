package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskcal/internal/model"
)

// ErrNotFound is returned when a task does not exist or belongs to another user.
var ErrNotFound = errors.New("task not found")

// TaskRepository persists tasks and their recurrence metadata.
type TaskRepository struct {
	db       *gorm.DB
	revision atomic.Int64
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Revision increases on every successful write. Callers use it to invalidate
// cached expansions.
func (r *TaskRepository) Revision() int64 {
	return r.revision.Load()
}

func (r *TaskRepository) bump() {
	r.revision.Add(1)
}

// LoadTaskSet returns every task owned by userID together with its exceptions,
// rdates and overrides.
func (r *TaskRepository) LoadTaskSet(ctx context.Context, userID string) (model.TaskSet, error) {
	db := r.db.WithContext(ctx)

	var tasks []taskRecord
	if err := db.Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error; err != nil {
		return model.TaskSet{}, fmt.Errorf("load tasks: %w", err)
	}

	owned := db.Model(&taskRecord{}).Select("id").Where("user_id = ?", userID)

	var exceptions []exceptionRecord
	if err := db.Where("task_id IN (?)", owned).
		Order("task_id ASC, occurrence_start ASC").
		Find(&exceptions).Error; err != nil {
		return model.TaskSet{}, fmt.Errorf("load exceptions: %w", err)
	}

	var rdates []rdateRecord
	if err := db.Where("task_id IN (?)", owned).
		Order("task_id ASC, occurrence_start ASC").
		Find(&rdates).Error; err != nil {
		return model.TaskSet{}, fmt.Errorf("load rdates: %w", err)
	}

	var overrides []overrideRecord
	if err := db.Where("task_id IN (?)", owned).
		Order("task_id ASC, occurrence_start ASC").
		Find(&overrides).Error; err != nil {
		return model.TaskSet{}, fmt.Errorf("load overrides: %w", err)
	}

	set := model.TaskSet{
		Tasks:      make([]model.Task, 0, len(tasks)),
		Exceptions: make([]model.TaskException, 0, len(exceptions)),
		RDates:     make([]model.TaskRDate, 0, len(rdates)),
		Overrides:  make([]model.TaskOverride, 0, len(overrides)),
	}
	for _, t := range tasks {
		set.Tasks = append(set.Tasks, t.toModel())
	}
	for _, e := range exceptions {
		set.Exceptions = append(set.Exceptions, model.TaskException{
			TaskID:          e.TaskID,
			OccurrenceStart: e.OccurrenceStart.UTC(),
		})
	}
	for _, d := range rdates {
		set.RDates = append(set.RDates, model.TaskRDate{
			TaskID:          d.TaskID,
			OccurrenceStart: d.OccurrenceStart.UTC(),
			OccurrenceEnd:   utcOption(d.OccurrenceEnd),
		})
	}
	for _, o := range overrides {
		set.Overrides = append(set.Overrides, o.toModel())
	}
	return set, nil
}

// CreateTask stores a new task for userID. An empty ID is filled with a
// random UUID. The stored task is returned.
func (r *TaskRepository) CreateTask(ctx context.Context, userID string, task model.Task) (model.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.UserID = userID
	if task.Status == "" {
		task.Status = model.StatusTodo
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}

	rec := newTaskRecord(task)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}
	r.bump()
	return rec.toModel(), nil
}

// GetTask loads one task owned by userID.
func (r *TaskRepository) GetTask(ctx context.Context, userID, taskID string) (model.Task, error) {
	var rec taskRecord
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	return rec.toModel(), nil
}

// UpdateTask applies u to the task and returns the stored result.
func (r *TaskRepository) UpdateTask(ctx context.Context, userID, taskID string, u model.TaskUpdate) (model.Task, error) {
	var updated model.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec taskRecord
		err := tx.Where("id = ? AND user_id = ?", taskID, userID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		next := newTaskRecord(u.Apply(rec.toModel()))
		next.CreatedAt = rec.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		updated = next.toModel()
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("update task: %w", err)
	}
	r.bump()
	return updated, nil
}

// DeleteTask removes the task together with its exceptions, rdates and
// overrides.
func (r *TaskRepository) DeleteTask(ctx context.Context, userID, taskID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", taskID, userID).Delete(&taskRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		for _, rec := range []any{&exceptionRecord{}, &rdateRecord{}, &overrideRecord{}} {
			if err := tx.Where("task_id = ?", taskID).Delete(rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	r.bump()
	return nil
}

// AddException suppresses the instance of taskID originally starting at start.
// Adding the same exception twice is a no-op.
func (r *TaskRepository) AddException(ctx context.Context, userID, taskID string, start time.Time) error {
	if _, err := r.GetTask(ctx, userID, taskID); err != nil {
		return err
	}
	rec := exceptionRecord{TaskID: taskID, OccurrenceStart: start.UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("add exception: %w", err)
	}
	r.bump()
	return nil
}

// AddRDate records an extra occurrence for taskID.
func (r *TaskRepository) AddRDate(ctx context.Context, userID string, rdate model.TaskRDate) error {
	if _, err := r.GetTask(ctx, userID, rdate.TaskID); err != nil {
		return err
	}
	rec := rdateRecord{
		TaskID:          rdate.TaskID,
		OccurrenceStart: rdate.OccurrenceStart.UTC(),
		OccurrenceEnd:   utcPtr(rdate.OccurrenceEnd),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("add rdate: %w", err)
	}
	r.bump()
	return nil
}

// SaveOverride upserts the override for (TaskID, OccurrenceStart). A second
// save for the same slot replaces every field of the first.
func (r *TaskRepository) SaveOverride(ctx context.Context, userID string, ov model.TaskOverride) error {
	if _, err := r.GetTask(ctx, userID, ov.TaskID); err != nil {
		return err
	}
	rec := newOverrideRecord(ov)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}, {Name: "occurrence_start"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"new_start", "new_end", "title", "color", "status", "updated_at",
			}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save override: %w", err)
	}
	r.bump()
	return nil
}

// ReplaceSource atomically swaps every task that userID imported from
// sourceID for the tasks in set. Metadata in set that references a task
// outside set is ignored.
func (r *TaskRepository) ReplaceSource(ctx context.Context, userID, sourceID string, set model.TaskSet) error {
	if sourceID == "" {
		return errors.New("replace source: empty source id")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&taskRecord{}).Select("id").
			Where("user_id = ? AND source_id = ?", userID, sourceID)

		if err := tx.Where("task_id IN (?)", old).Delete(&exceptionRecord{}).Error; err != nil {
			return fmt.Errorf("delete exceptions: %w", err)
		}
		if err := tx.Where("task_id IN (?)", old).Delete(&rdateRecord{}).Error; err != nil {
			return fmt.Errorf("delete rdates: %w", err)
		}
		if err := tx.Where("task_id IN (?)", old).Delete(&overrideRecord{}).Error; err != nil {
			return fmt.Errorf("delete overrides: %w", err)
		}
		if err := tx.Where("user_id = ? AND source_id = ?", userID, sourceID).
			Delete(&taskRecord{}).Error; err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}

		keep := make(map[string]struct{}, len(set.Tasks))
		tasks := make([]taskRecord, 0, len(set.Tasks))
		for _, t := range set.Tasks {
			if _, dup := keep[t.ID]; dup || t.ID == "" {
				continue
			}
			keep[t.ID] = struct{}{}
			t.UserID = userID
			t.SourceID = sourceID
			if t.Status == "" {
				t.Status = model.StatusTodo
			}
			if t.Priority == "" {
				t.Priority = model.PriorityMedium
			}
			tasks = append(tasks, newTaskRecord(t))
		}
		if len(tasks) == 0 {
			return nil
		}
		if err := tx.Create(&tasks).Error; err != nil {
			return fmt.Errorf("insert tasks: %w", err)
		}

		var exceptions []exceptionRecord
		for _, e := range set.Exceptions {
			if _, ok := keep[e.TaskID]; ok {
				exceptions = append(exceptions, exceptionRecord{TaskID: e.TaskID, OccurrenceStart: e.OccurrenceStart.UTC()})
			}
		}
		if len(exceptions) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&exceptions).Error; err != nil {
				return fmt.Errorf("insert exceptions: %w", err)
			}
		}

		var rdates []rdateRecord
		for _, d := range set.RDates {
			if _, ok := keep[d.TaskID]; ok {
				rdates = append(rdates, rdateRecord{
					TaskID:          d.TaskID,
					OccurrenceStart: d.OccurrenceStart.UTC(),
					OccurrenceEnd:   utcPtr(d.OccurrenceEnd),
				})
			}
		}
		if len(rdates) > 0 {
			if err := tx.Create(&rdates).Error; err != nil {
				return fmt.Errorf("insert rdates: %w", err)
			}
		}

		// Last override for a slot wins, matching SaveOverride.
		slot := make(map[string]int)
		var overrides []overrideRecord
		for _, o := range set.Overrides {
			if _, ok := keep[o.TaskID]; !ok {
				continue
			}
			key := o.TaskID + "|" + o.OccurrenceStart.UTC().Format(time.RFC3339Nano)
			rec := newOverrideRecord(o)
			if i, seen := slot[key]; seen {
				overrides[i] = rec
				continue
			}
			slot[key] = len(overrides)
			overrides = append(overrides, rec)
		}
		if len(overrides) > 0 {
			if err := tx.Create(&overrides).Error; err != nil {
				return fmt.Errorf("insert overrides: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace source %s: %w", sourceID, err)
	}
	r.bump()
	return nil
}
