package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SuccessMessage — шаблон сообщения успешного run.
const SuccessMessage = "Successfully synchronized %d records."

// RecoveredMessage — сообщение для run, прерванного падением процесса.
const RecoveredMessage = "Task terminated unexpectedly due to application shutdown or crash."

// UnknownTotal — значение TotalCount, когда оценку объёма получить нельзя.
const UnknownTotal int64 = -1

// SyncRun — экземпляр выполнения задачи синхронизации.
//
// Run создаётся в статусе RUNNING до начала чтения источника,
// счётчик ProcessedCount обновляется после каждого батча,
// финализируется ровно один раз (SUCCESS или FAILURE).
type SyncRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// TaskID — ссылка на задачу.
	TaskID uuid.UUID `json:"task_id"`

	// TaskName — копия имени задачи на момент запуска.
	TaskName string `json:"task_name"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// DurationMs — продолжительность в миллисекундах (после финализации).
	DurationMs int64 `json:"duration_ms"`

	// TotalCount — оценка числа строк источника, -1 если неизвестно.
	TotalCount int64 `json:"total_count"`

	// ProcessedCount — сколько строк уже загружено в цель.
	ProcessedCount int64 `json:"processed_count"`

	// Message — итоговое сообщение (успех или текст ошибки).
	Message string `json:"message,omitempty"`

	// Trace — журнал узлов в порядке выполнения.
	Trace []TraceEntry `json:"trace,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewSyncRun создаёт run в статусе RUNNING для задачи.
func NewSyncRun(task *SyncTask) *SyncRun {
	now := time.Now()
	return &SyncRun{
		ID:        uuid.New(),
		TaskID:    task.ID,
		TaskName:  task.Name,
		Status:    RunStatusRunning,
		StartTime: now,
		CreatedAt: now,
	}
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *SyncRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkSucceeded переводит run в SUCCESS с итоговым сообщением.
func (r *SyncRun) MarkSucceeded(processed int64) {
	r.ProcessedCount = processed
	r.finish(RunStatusSuccess, fmt.Sprintf(SuccessMessage, processed))
}

// MarkFailed переводит run в FAILURE с текстом ошибки.
func (r *SyncRun) MarkFailed(msg string) {
	r.finish(RunStatusFailure, msg)
}

func (r *SyncRun) finish(status RunStatus, msg string) {
	now := time.Now()
	r.Status = status
	r.Message = msg
	r.EndTime = &now
	r.DurationMs = now.Sub(r.StartTime).Milliseconds()
}

// AddTrace добавляет запись в журнал run.
func (r *SyncRun) AddTrace(e TraceEntry) {
	r.Trace = append(r.Trace, e)
}

// TraceEntry — запись журнала выполнения отдельного узла.
type TraceEntry struct {
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	NodeName   string         `json:"node_name,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	DurationMs int64          `json:"duration_ms"`
	RowCount   int64          `json:"row_count"`
	Details    map[string]any `json:"details,omitempty"`
}

// StartTrace открывает запись журнала для узла.
func StartTrace(nodeID, nodeType, nodeName string) TraceEntry {
	return TraceEntry{
		NodeID:    nodeID,
		NodeType:  nodeType,
		NodeName:  nodeName,
		StartTime: time.Now(),
		Details:   map[string]any{},
	}
}

// Close фиксирует время окончания и число строк.
func (e TraceEntry) Close(rows int64) TraceEntry {
	e.EndTime = time.Now()
	e.DurationMs = e.EndTime.Sub(e.StartTime).Milliseconds()
	e.RowCount = rows
	return e
}
