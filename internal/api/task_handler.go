package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/engine"
	"github.com/shaiso/datasync/internal/scheduler"
)

// ListTasks возвращает список задач.
// GET /api/v1/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if tasks == nil {
		tasks = []domain.SyncTask{}
	}
	List(w, tasks, len(tasks))
}

// CreateTask создаёт задачу и устанавливает её триггер.
// POST /api/v1/tasks
//
// Включённая задача без cron получает расписание по умолчанию (каждый час).
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, &req) {
		return
	}
	if req.Enabled && req.Cron == "" {
		req.Cron = domain.DefaultCron
	}
	if !validTaskDefinition(w, req.Cron, req.Content) {
		return
	}

	now := time.Now()
	task := &domain.SyncTask{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Cron:        req.Cron,
		Enabled:     req.Enabled,
		Content:     req.Content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if HandleRepoError(w, h.logger, h.tasks.Create(r.Context(), task), "") {
		return
	}
	h.reschedule(task)

	Created(w, task)
}

// GetTask возвращает задачу по ID.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "task")
	if !ok {
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}
	Success(w, task)
}

// UpdateTask обновляет задачу и переустанавливает триггер.
// PUT /api/v1/tasks/{id}
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "task")
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, &req) {
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	if req.Name != nil {
		task.Name = *req.Name
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Cron != nil {
		task.Cron = *req.Cron
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if req.Content != nil {
		task.Content = *req.Content
	}
	if !validTaskDefinition(w, task.Cron, task.Content) {
		return
	}
	task.UpdatedAt = time.Now()

	if HandleRepoError(w, h.logger, h.tasks.Update(r.Context(), task), "task not found") {
		return
	}
	h.reschedule(task)

	Success(w, task)
}

// DeleteTask удаляет задачу и её триггер.
// DELETE /api/v1/tasks/{id}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "task")
	if !ok {
		return
	}

	if HandleRepoError(w, h.logger, h.tasks.Delete(r.Context(), id), "task not found") {
		return
	}
	h.scheduler.Unschedule(id)

	NoContent(w)
}

// SetTaskEnabled включает или выключает расписание задачи.
// PUT /api/v1/tasks/{id}/enabled
//
// Ручной запуск выключенной задачи по-прежнему разрешён.
func (h *Handler) SetTaskEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "task")
	if !ok {
		return
	}

	var req SetEnabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	task.Enabled = req.Enabled
	if task.Enabled && task.Cron == "" {
		task.Cron = domain.DefaultCron
	}
	task.UpdatedAt = time.Now()

	if HandleRepoError(w, h.logger, h.tasks.Update(r.Context(), task), "task not found") {
		return
	}
	h.reschedule(task)

	Success(w, task)
}

// RunTask запускает задачу вне расписания.
// POST /api/v1/tasks/{id}/run
func (h *Handler) RunTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "task")
	if !ok {
		return
	}

	runID, err := h.scheduler.RunNow(r.Context(), id)
	if errors.Is(err, scheduler.ErrTaskRunning) {
		Conflict(w, "task is already running")
		return
	}
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Accepted(w, RunStartedResponse{TaskID: id, RunID: runID})
}

// CopyTask создаёт выключенную копию задачи.
// POST /api/v1/tasks/{id}/copy
func (h *Handler) CopyTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "task")
	if !ok {
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	cp := task.Copy()
	if HandleRepoError(w, h.logger, h.tasks.Create(r.Context(), cp), "") {
		return
	}

	Created(w, cp)
}

// LatestRun возвращает последний run задачи.
// GET /api/v1/tasks/{id}/latest-run
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "task")
	if !ok {
		return
	}

	run, err := h.runs.LatestByTask(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task has no runs") {
		return
	}
	Success(w, run)
}

// reschedule синхронизирует триггер с сохранённой задачей.
func (h *Handler) reschedule(task *domain.SyncTask) {
	if err := h.scheduler.Reschedule(task); err != nil {
		h.logger.Warn("reschedule failed", "task_id", task.ID, "error", err)
	}
}

// validTaskDefinition проверяет cron и JSON графа. При ошибке отвечает 400.
//
// Полная проверка графа (INPUT, OUTPUT, SQL) выполняется при запуске:
// задачу можно сохранить как черновик.
func validTaskDefinition(w http.ResponseWriter, cron string, content json.RawMessage) bool {
	if cron != "" {
		if err := scheduler.ValidateCronExpr(cron); err != nil {
			BadRequest(w, err.Error())
			return false
		}
	}
	if _, err := engine.Parse(content); err != nil {
		BadRequest(w, err.Error())
		return false
	}
	return true
}
