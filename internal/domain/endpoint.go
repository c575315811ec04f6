package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EndpointAccess — уровень доступа endpoint.
type EndpointAccess string

const (
	// EndpointPublic — вызов без аутентификации.
	EndpointPublic EndpointAccess = "PUBLIC"

	// EndpointPrivate — требуется bearer-токен.
	EndpointPrivate EndpointAccess = "PRIVATE"
)

// EndpointStatus — статус публикации endpoint.
type EndpointStatus string

const (
	EndpointDraft   EndpointStatus = "DRAFT"
	EndpointOnline  EndpointStatus = "ONLINE"
	EndpointOffline EndpointStatus = "OFFLINE"
)

// Endpoint — пользовательский HTTP endpoint, реализованный flow.
//
// Flow выполняется Interpreter'ом:
// ENTRY → AUTH → QUERY → SCRIPT → OUTPUT.
type Endpoint struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// Path — путь относительно /invoke, например "/orders/daily".
	Path string `json:"path"`

	// Method — HTTP метод (GET, POST, ...).
	Method string `json:"method"`

	Access EndpointAccess `json:"access"`
	Status EndpointStatus `json:"status"`

	// Content — JSON графа узлов.
	Content json.RawMessage `json:"content"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Normalize приводит путь и метод к каноническому виду.
func (e *Endpoint) Normalize() {
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = "GET"
	}
	e.Path = NormalizePath(e.Path)
	if e.Access == "" {
		e.Access = EndpointPublic
	}
	if e.Status == "" {
		e.Status = EndpointDraft
	}
}

// NormalizePath добавляет ведущий слэш и убирает завершающий.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// IsOnline возвращает true, если endpoint опубликован.
func (e *Endpoint) IsOnline() bool {
	return e.Status == EndpointOnline
}
