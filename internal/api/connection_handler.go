package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
)

// ListConnections возвращает подключения без паролей.
// GET /api/v1/connections
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connections.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]domain.Connection, len(conns))
	for i, c := range conns {
		result[i] = c.Redacted()
	}
	List(w, result, len(result))
}

// CreateConnection создаёт подключение.
// POST /api/v1/connections
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, &req) {
		return
	}

	now := time.Now()
	c := &domain.Connection{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	req.apply(c)

	if HandleRepoError(w, h.logger, h.connections.Create(r.Context(), c), "") {
		return
	}
	Created(w, c.Redacted())
}

// GetConnection возвращает подключение по ID.
// GET /api/v1/connections/{id}
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "connection")
	if !ok {
		return
	}

	c, err := h.connections.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "connection not found") {
		return
	}
	Success(w, c.Redacted())
}

// UpdateConnection заменяет подключение и сбрасывает открытый пул.
// PUT /api/v1/connections/{id}
func (h *Handler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "connection")
	if !ok {
		return
	}

	var req ConnectionRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, &req) {
		return
	}

	c, err := h.connections.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "connection not found") {
		return
	}
	req.apply(c)
	c.UpdatedAt = time.Now()

	if HandleRepoError(w, h.logger, h.connections.Update(r.Context(), c), "connection not found") {
		return
	}
	h.warehouse.Invalidate(id)

	Success(w, c.Redacted())
}

// DeleteConnection удаляет подключение.
// DELETE /api/v1/connections/{id}
func (h *Handler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "connection")
	if !ok {
		return
	}

	if HandleRepoError(w, h.logger, h.connections.Delete(r.Context(), id), "connection not found") {
		return
	}
	h.warehouse.Invalidate(id)

	NoContent(w)
}

// TestConnection проверяет, что база доступна.
// POST /api/v1/connections/{id}/test
//
// Недоступная база — не ошибка запроса: ответ 200 с ok=false.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "connection")
	if !ok {
		return
	}

	c, err := h.connections.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "connection not found") {
		return
	}

	if err := h.warehouse.Test(r.Context(), c); err != nil {
		Success(w, ConnectionTestResponse{OK: false, Error: err.Error()})
		return
	}
	Success(w, ConnectionTestResponse{OK: true})
}

// PreviewQuery выполняет SELECT с ограничением строк.
// POST /api/v1/connections/{id}/preview
func (h *Handler) PreviewQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "connection")
	if !ok {
		return
	}

	var req PreviewRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, &req) {
		return
	}

	rows, err := h.warehouse.Preview(r.Context(), id.String(), req.SQL)
	switch {
	case errors.Is(err, domain.ErrValidation):
		BadRequest(w, err.Error())
		return
	case err != nil:
		// недоступная база или ошибка SQL источника
		Error(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	List(w, rows, len(rows))
}
