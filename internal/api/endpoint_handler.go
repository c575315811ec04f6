package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/engine"
	"github.com/shaiso/datasync/internal/interpreter"
)

// ListEndpoints возвращает список endpoint.
// GET /api/v1/endpoints
func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := h.endpoints.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	if eps == nil {
		eps = []domain.Endpoint{}
	}
	List(w, eps, len(eps))
}

// CreateEndpoint создаёт endpoint.
// POST /api/v1/endpoints
func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req EndpointRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, &req) {
		return
	}
	if _, err := engine.Parse(req.Content); err != nil {
		BadRequest(w, err.Error())
		return
	}

	now := time.Now()
	ep := &domain.Endpoint{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
	req.apply(ep)

	if HandleRepoError(w, h.logger, h.endpoints.Create(r.Context(), ep), "") {
		return
	}
	Created(w, ep)
}

// GetEndpoint возвращает endpoint по ID.
// GET /api/v1/endpoints/{id}
func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "endpoint")
	if !ok {
		return
	}

	ep, err := h.endpoints.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}
	Success(w, ep)
}

// UpdateEndpoint заменяет endpoint.
// PUT /api/v1/endpoints/{id}
func (h *Handler) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "endpoint")
	if !ok {
		return
	}

	var req EndpointRequest
	if !decodeJSON(w, r, &req) || !validRequest(w, &req) {
		return
	}
	if _, err := engine.Parse(req.Content); err != nil {
		BadRequest(w, err.Error())
		return
	}

	ep, err := h.endpoints.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}
	req.apply(ep)
	ep.UpdatedAt = time.Now()

	if HandleRepoError(w, h.logger, h.endpoints.Update(r.Context(), ep), "endpoint not found") {
		return
	}
	Success(w, ep)
}

// DeleteEndpoint удаляет endpoint.
// DELETE /api/v1/endpoints/{id}
func (h *Handler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "endpoint")
	if !ok {
		return
	}

	if HandleRepoError(w, h.logger, h.endpoints.Delete(r.Context(), id), "endpoint not found") {
		return
	}
	NoContent(w)
}

// DebugEndpoint выполняет flow endpoint без проверки статуса и доступа.
// POST /api/v1/endpoints/{id}/debug
func (h *Handler) DebugEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "endpoint")
	if !ok {
		return
	}

	var req DebugRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	ep, err := h.endpoints.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "endpoint not found") {
		return
	}

	result, err := h.invoker.Debug(r.Context(), ep, req.Params)
	if err != nil {
		h.flowError(w, err)
		return
	}
	Success(w, result)
}

// Invoke выполняет опубликованный endpoint.
// ANY /invoke/{path...}
//
// Параметры flow: query string, затем поля JSON-объекта тела.
// Bearer-токен передаётся flow под ключом interpreter.KeyToken.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	params, err := invokeParams(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	result, err := h.invoker.Invoke(r.Context(), "/"+r.PathValue("path"), r.Method, params)
	if err != nil {
		h.flowError(w, err)
		return
	}
	Success(w, result)
}

// flowError преобразует ошибку выполнения flow в HTTP ответ.
func (h *Handler) flowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interpreter.ErrEndpointNotFound), errors.Is(err, interpreter.ErrEndpointOffline):
		NotFound(w, err.Error())
	case errors.Is(err, interpreter.ErrAuthRequired):
		Unauthorized(w, err.Error())
	case errors.Is(err, interpreter.ErrExecutionFailed), errors.Is(err, interpreter.ErrScript):
		Error(w, http.StatusInternalServerError, ErrCodeExecutionFailed, err.Error())
	default:
		InternalError(w, h.logger, err)
	}
}

func invokeParams(r *http.Request) (map[string]any, error) {
	params := make(map[string]any)
	for key, vals := range r.URL.Query() {
		if len(vals) == 1 {
			params[key] = vals[0]
		} else {
			params[key] = vals
		}
	}

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, errors.New("read request body")
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, errors.New("request body must be a JSON object")
			}
			for k, v := range fields {
				params[k] = v
			}
		}
	}

	// токен кладётся последним: тело запроса не может его подменить
	delete(params, interpreter.KeyToken)
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			params[interpreter.KeyToken] = strings.TrimSpace(token)
		}
	}
	return params, nil
}
