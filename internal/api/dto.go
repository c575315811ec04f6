package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validRequest проверяет DTO по тегам validate. При ошибке отвечает 400.
func validRequest(w http.ResponseWriter, req any) bool {
	err := validate.Struct(req)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		BadRequest(w, err.Error())
		return false
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	BadRequest(w, "invalid request: "+strings.Join(msgs, ", "))
	return false
}

// Task DTOs

// CreateTaskRequest — запрос на создание задачи.
type CreateTaskRequest struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description,omitempty"`
	Cron        string          `json:"cron,omitempty"`
	Enabled     bool            `json:"enabled"`
	Content     json.RawMessage `json:"content"`
}

// UpdateTaskRequest — запрос на обновление задачи.
type UpdateTaskRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string          `json:"description,omitempty"`
	Cron        *string          `json:"cron,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	Content     *json.RawMessage `json:"content,omitempty"`
}

// SetEnabledRequest — включение/выключение расписания.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// RunStartedResponse — ответ на ручной запуск.
type RunStartedResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	RunID  uuid.UUID `json:"run_id"`
}

// CronNextResponse — ближайшие срабатывания cron-выражения.
type CronNextResponse struct {
	Cron  string   `json:"cron"`
	Times []string `json:"times"`
}

// Endpoint DTOs

// EndpointRequest — запрос на создание или замену endpoint.
type EndpointRequest struct {
	Name    string                `json:"name" validate:"required,max=255"`
	Path    string                `json:"path" validate:"required"`
	Method  string                `json:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Access  domain.EndpointAccess `json:"access" validate:"omitempty,oneof=PUBLIC PRIVATE"`
	Status  domain.EndpointStatus `json:"status" validate:"omitempty,oneof=DRAFT ONLINE OFFLINE"`
	Content json.RawMessage       `json:"content"`
}

// apply переносит поля запроса в endpoint и нормализует маршрут.
func (req *EndpointRequest) apply(ep *domain.Endpoint) {
	ep.Name = req.Name
	ep.Path = req.Path
	ep.Method = req.Method
	ep.Access = req.Access
	ep.Status = req.Status
	ep.Content = req.Content
	ep.Normalize()
}

// DebugRequest — параметры отладочного вызова endpoint.
type DebugRequest struct {
	Params map[string]any `json:"params"`
}

// Connection DTOs

// ConnectionRequest — запрос на создание или замену подключения.
//
// Пустой Password при обновлении сохраняет прежний пароль.
type ConnectionRequest struct {
	Name     string                `json:"name" validate:"required,max=255"`
	Kind     domain.ConnectionKind `json:"kind" validate:"omitempty,oneof=POSTGRES"`
	Host     string                `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port     int                   `json:"port" validate:"omitempty,min=1,max=65535"`
	Database string                `json:"database" validate:"required"`
	Username string                `json:"username"`
	Password string                `json:"password,omitempty"`
	SSLMode  string                `json:"ssl_mode,omitempty" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

func (req *ConnectionRequest) apply(c *domain.Connection) {
	c.Name = req.Name
	c.Kind = req.Kind
	if c.Kind == "" {
		c.Kind = domain.ConnectionPostgres
	}
	c.Host = req.Host
	c.Port = req.Port
	c.Database = req.Database
	c.Username = req.Username
	if req.Password != "" {
		c.Password = req.Password
	}
	c.SSLMode = req.SSLMode
}

// PreviewRequest — SQL для предпросмотра.
type PreviewRequest struct {
	SQL string `json:"sql" validate:"required"`
}

// ConnectionTestResponse — результат проверки подключения.
type ConnectionTestResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
