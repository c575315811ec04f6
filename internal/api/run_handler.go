package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией, новые первыми.
// GET /api/v1/runs?task_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := runFilter(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if runs == nil {
		runs = []domain.SyncRun{}
	}

	List(w, runs, len(runs))
}

// GetRun возвращает run с журналом узлов.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "run")
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}
	Success(w, run)
}

// runFilter собирает repo.RunFilter из query string.
func runFilter(r *http.Request) (repo.RunFilter, error) {
	q := r.URL.Query()
	var f repo.RunFilter

	if v := q.Get("task_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid task_id")
		}
		f.TaskID = &id
	}
	if v := q.Get("status"); v != "" {
		f.Status = domain.RunStatus(v)
		if !f.Status.IsValid() {
			return f, errors.New("invalid status")
		}
	}

	var err error
	if f.Limit, err = queryInt(q.Get("limit"), 50); err != nil {
		return f, errors.New("invalid limit")
	}
	if f.Offset, err = queryInt(q.Get("offset"), 0); err != nil {
		return f, errors.New("invalid offset")
	}
	return f, nil
}

// queryInt разбирает неотрицательное число из query string.
func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number")
	}
	return n, nil
}
