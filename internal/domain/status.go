package domain

// RunStatus — статус выполнения синхронизации.
//
// Жизненный цикл:
//
//	RUNNING → SUCCESS
//	        ↘ FAILURE
//
// Run, оставшийся в RUNNING после падения процесса, переводится
// в FAILURE при следующем старте.
type RunStatus string

const (
	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSuccess — все батчи загружены.
	RunStatusSuccess RunStatus = "SUCCESS"

	// RunStatusFailure — run завершился с ошибкой.
	RunStatusFailure RunStatus = "FAILURE"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус из известного набора.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailure:
		return true
	default:
		return false
	}
}

// WriteMode — режим записи в целевую таблицу.
type WriteMode string

const (
	// WriteModeAppend — строки добавляются к существующим.
	WriteModeAppend WriteMode = "APPEND"

	// WriteModeOverwrite — таблица очищается перед загрузкой.
	WriteModeOverwrite WriteMode = "OVERWRITE"
)

// ConflictStrategy — поведение при конфликте первичного ключа.
type ConflictStrategy string

const (
	// ConflictUpdate — upsert: обновить все неключевые колонки.
	ConflictUpdate ConflictStrategy = "UPDATE"

	// ConflictIgnore — пропустить конфликтующие строки.
	ConflictIgnore ConflictStrategy = "IGNORE"

	// ConflictError — обычный INSERT, конфликт — ошибка.
	ConflictError ConflictStrategy = "ERROR"
)
