package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCron — расписание по умолчанию (каждый час, в формате с секундами).
const DefaultCron = "0 0 * * * ?"

// SyncTask — определение задачи синхронизации.
//
// Content содержит граф узлов из визуального редактора:
// один INPUT, ноль или более MAPPING и один OUTPUT.
// Разбор графа выполняет engine.ParseSyncSpec.
type SyncTask struct {
	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Cron — выражение расписания (5 или 6 полей).
	// Пустое значение — задача запускается только вручную.
	Cron string `json:"cron,omitempty"`

	// Enabled — включено ли расписание.
	Enabled bool `json:"enabled"`

	// Content — JSON графа {"nodes": [...], "edges": [...]}.
	Content json.RawMessage `json:"content"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Copy возвращает выключенную копию задачи с новым ID.
func (t *SyncTask) Copy() *SyncTask {
	now := time.Now()
	content := make(json.RawMessage, len(t.Content))
	copy(content, t.Content)
	return &SyncTask{
		ID:          uuid.New(),
		Name:        t.Name + "_copy",
		Description: t.Description,
		Cron:        t.Cron,
		Enabled:     false,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Schedulable возвращает true, если для задачи нужен cron-триггер.
func (t *SyncTask) Schedulable() bool {
	return t.Enabled && t.Cron != ""
}

// TargetField — описание колонки целевой таблицы.
type TargetField struct {
	// SourceName — имя колонки в строке после маппинга.
	// Пустое значение — используется Name.
	SourceName string `json:"sourceName,omitempty"`

	// Name — имя колонки в целевой таблице.
	Name string `json:"name" validate:"required"`

	// Type — SQL тип колонки, по умолчанию VARCHAR(255).
	Type string `json:"type,omitempty"`

	Comment string `json:"comment,omitempty"`

	// IsPK — колонка является первичным ключом.
	IsPK bool `json:"isPk,omitempty"`
}

// Source возвращает имя колонки во входной строке.
func (f TargetField) Source() string {
	if f.SourceName != "" {
		return f.SourceName
	}
	return f.Name
}

// Row — строка данных: имя колонки → значение.
type Row = map[string]any

// TableInfo — сведения о целевой таблице.
type TableInfo struct {
	Exists        bool
	Columns       []string
	HasPrimaryKey bool
}

// HasColumn проверяет наличие колонки без учёта регистра.
func (t *TableInfo) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// TableSpec — описание создаваемой целевой таблицы.
type TableSpec struct {
	Name   string
	Fields []TargetField

	// PrimaryKey — колонка, объявляемая первичным ключом.
	PrimaryKey string

	// Surrogate — добавить "id BIGSERIAL PRIMARY KEY".
	Surrogate bool
}

// WriteRequest — батч на загрузку в целевую таблицу.
type WriteRequest struct {
	Table      string
	Columns    []string
	Rows       [][]any
	PrimaryKey string
	Conflict   ConflictStrategy
}
