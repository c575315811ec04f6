package engine

import (
	"errors"

	"github.com/shaiso/datasync/internal/domain"
)

// ErrMalformedGraph — документ графа не является корректным JSON.
var ErrMalformedGraph = errors.New("malformed flow graph")

// Ошибки валидации sync-flow. Все оборачивают domain.ErrValidation.
var (
	// ErrMissingInput — в графе нет INPUT узла.
	ErrMissingInput = errors.New("sync flow has no input node")

	// ErrMissingOutput — в графе нет OUTPUT узла.
	ErrMissingOutput = errors.New("sync flow has no output node")

	// ErrEmptySQL — у INPUT узла пустой SQL.
	ErrEmptySQL = errors.New("source SQL is empty")

	// ErrEmptyTable — у OUTPUT узла не задана таблица.
	ErrEmptyTable = errors.New("target table is empty")

	// ErrNoFields — у OUTPUT узла нет полей.
	ErrNoFields = errors.New("no output fields configured")

	// ErrMissingConnection — не указан ID подключения.
	ErrMissingConnection = errors.New("connection id is empty")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку и domain.ErrValidation.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{domain.ErrValidation}
	}
	return []error{e.Err, domain.ErrValidation}
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
