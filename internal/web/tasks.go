package web

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/mo"

	"taskcal/internal/model"
	"taskcal/internal/occurrence"
)

type createTaskRequest struct {
	Title            string     `json:"title" validate:"required,max=200"`
	Description      string     `json:"description" validate:"max=4000"`
	Color            string     `json:"color" validate:"omitempty,hexcolor"`
	Status           string     `json:"status" validate:"omitempty,oneof=TODO IN_PROGRESS DONE"`
	Priority         string     `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	RRule            string     `json:"rrule" validate:"max=1000"`
	DTStart          *time.Time `json:"dtstart"`
	Timezone         string     `json:"timezone" validate:"omitempty,timezone"`
	ScheduledStart   *time.Time `json:"scheduled_start"`
	ScheduledEnd     *time.Time `json:"scheduled_end"`
	EstimatedMinutes int        `json:"estimated_minutes" validate:"gte=0,lte=10080"`
}

func (req createTaskRequest) task() model.Task {
	return model.Task{
		Title:            req.Title,
		Description:      req.Description,
		Color:            req.Color,
		Status:           model.TaskStatus(req.Status),
		Priority:         model.Priority(req.Priority),
		RRule:            req.RRule,
		DTStart:          optionUTC(req.DTStart),
		Timezone:         req.Timezone,
		ScheduledStart:   optionUTC(req.ScheduledStart),
		ScheduledEnd:     optionUTC(req.ScheduledEnd),
		EstimatedMinutes: req.EstimatedMinutes,
	}
}

// updateTaskRequest is a partial edit; absent fields are left unchanged.
type updateTaskRequest struct {
	Title          *string    `json:"title" validate:"omitnil,min=1,max=200"`
	Color          *string    `json:"color" validate:"omitempty,hexcolor"`
	Status         *string    `json:"status" validate:"omitnil,oneof=TODO IN_PROGRESS DONE"`
	ScheduledStart *time.Time `json:"scheduled_start"`
	ScheduledEnd   *time.Time `json:"scheduled_end"`
}

func (req updateTaskRequest) update() model.TaskUpdate {
	u := model.TaskUpdate{
		Title:          mo.PointerToOption(req.Title),
		Color:          mo.PointerToOption(req.Color),
		ScheduledStart: optionUTC(req.ScheduledStart),
		ScheduledEnd:   optionUTC(req.ScheduledEnd),
	}
	if req.Status != nil {
		u.Status = mo.Some(model.TaskStatus(*req.Status))
	}
	return u
}

type exceptionRequest struct {
	OccurrenceStart *time.Time `json:"occurrence_start" validate:"required"`
}

type rdateRequest struct {
	OccurrenceStart *time.Time `json:"occurrence_start" validate:"required"`
	OccurrenceEnd   *time.Time `json:"occurrence_end"`
}

type overrideRequest struct {
	OccurrenceStart *time.Time `json:"occurrence_start" validate:"required"`
	NewStart        *time.Time `json:"new_start"`
	NewEnd          *time.Time `json:"new_end"`
	Title           *string    `json:"title" validate:"omitempty,max=200"`
	Color           *string    `json:"color" validate:"omitempty,hexcolor"`
	Status          *string    `json:"status" validate:"omitempty,oneof=TODO IN_PROGRESS DONE"`
}

type taskDTO struct {
	ID               string           `json:"id"`
	SourceID         string           `json:"source_id,omitempty"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Color            string           `json:"color,omitempty"`
	Status           model.TaskStatus `json:"status"`
	Priority         model.Priority   `json:"priority"`
	RRule            string           `json:"rrule,omitempty"`
	DTStart          *time.Time       `json:"dtstart,omitempty"`
	Timezone         string           `json:"timezone,omitempty"`
	ScheduledStart   *time.Time       `json:"scheduled_start,omitempty"`
	ScheduledEnd     *time.Time       `json:"scheduled_end,omitempty"`
	EstimatedMinutes int              `json:"estimated_minutes"`
	CreatedAt        time.Time        `json:"created_at"`
}

func toTaskDTO(t model.Task) taskDTO {
	return taskDTO{
		ID:               t.ID,
		SourceID:         t.SourceID,
		Title:            t.Title,
		Description:      t.Description,
		Color:            t.Color,
		Status:           t.Status,
		Priority:         t.Priority,
		RRule:            t.RRule,
		DTStart:          t.DTStart.ToPointer(),
		Timezone:         t.Timezone,
		ScheduledStart:   t.ScheduledStart.ToPointer(),
		ScheduledEnd:     t.ScheduledEnd.ToPointer(),
		EstimatedMinutes: t.EstimatedMinutes,
		CreatedAt:        t.CreatedAt,
	}
}

func optionUTC(t *time.Time) mo.Option[time.Time] {
	if t == nil {
		return mo.None[time.Time]()
	}
	return mo.Some(t.UTC())
}

// handleCreateTask stores a task after checking that its rule and zone
// compile.
//
// POST /api/tasks
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if req.ScheduledStart != nil && req.ScheduledEnd != nil && req.ScheduledEnd.Before(*req.ScheduledStart) {
		writeError(w, http.StatusBadRequest, "scheduled_end must not be before scheduled_start")
		return
	}

	task := req.task()
	if _, err := occurrence.NewRuleStore(model.TaskSet{Tasks: []model.Task{task}}); err != nil {
		writeFailure(w, "create task", err)
		return
	}

	created, err := s.repo.CreateTask(r.Context(), userFrom(r.Context()), task)
	if err != nil {
		writeFailure(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTO(created))
}

// handleGetTask returns one task.
//
// GET /api/tasks/{taskID}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.repo.GetTask(r.Context(), userFrom(r.Context()), mux.Vars(r)["taskID"])
	if err != nil {
		writeFailure(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// handleUpdateTask edits a task in place. Moving a single task on the
// calendar sends scheduled_start and scheduled_end.
//
// PATCH /api/tasks/{taskID}
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	user := userFrom(r.Context())
	taskID := mux.Vars(r)["taskID"]

	current, err := s.repo.GetTask(r.Context(), user, taskID)
	if err != nil {
		writeFailure(w, "update task", err)
		return
	}
	u := req.update()
	next := u.Apply(current)
	start, okStart := next.ScheduledStart.Get()
	end, okEnd := next.ScheduledEnd.Get()
	if okStart && okEnd && end.Before(start) {
		writeError(w, http.StatusBadRequest, "scheduled_end must not be before scheduled_start")
		return
	}
	if _, err := occurrence.NewRuleStore(model.TaskSet{Tasks: []model.Task{next}}); err != nil {
		writeFailure(w, "update task", err)
		return
	}

	updated, err := s.repo.UpdateTask(r.Context(), user, taskID, u)
	if err != nil {
		writeFailure(w, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(updated))
}

// handleDeleteTask removes a task and its recurrence metadata.
//
// DELETE /api/tasks/{taskID}
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteTask(r.Context(), userFrom(r.Context()), mux.Vars(r)["taskID"]); err != nil {
		writeFailure(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddException suppresses one instance.
//
// POST /api/tasks/{taskID}/exceptions
func (s *Server) handleAddException(w http.ResponseWriter, r *http.Request) {
	var req exceptionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	taskID := mux.Vars(r)["taskID"]
	if err := s.repo.AddException(r.Context(), userFrom(r.Context()), taskID, req.OccurrenceStart.UTC()); err != nil {
		writeFailure(w, "add exception", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddRDate adds an extra instance.
//
// POST /api/tasks/{taskID}/rdates
func (s *Server) handleAddRDate(w http.ResponseWriter, r *http.Request) {
	var req rdateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	rd := model.TaskRDate{
		TaskID:          mux.Vars(r)["taskID"],
		OccurrenceStart: req.OccurrenceStart.UTC(),
		OccurrenceEnd:   optionUTC(req.OccurrenceEnd),
	}
	if err := s.repo.AddRDate(r.Context(), userFrom(r.Context()), rd); err != nil {
		writeFailure(w, "add rdate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveOverride edits or moves one instance.
//
// POST /api/tasks/{taskID}/overrides
func (s *Server) handleSaveOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	ov := model.TaskOverride{
		TaskID:          mux.Vars(r)["taskID"],
		OccurrenceStart: req.OccurrenceStart.UTC(),
		NewStart:        optionUTC(req.NewStart),
		NewEnd:          optionUTC(req.NewEnd),
		Title:           mo.PointerToOption(req.Title),
		Color:           mo.PointerToOption(req.Color),
	}
	if req.Status != nil {
		ov.Status = mo.Some(model.TaskStatus(*req.Status))
	}
	if err := s.repo.SaveOverride(r.Context(), userFrom(r.Context()), ov); err != nil {
		writeFailure(w, "save override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
