package pipeline

import "errors"

var (
	// ErrRunFinished — run уже финализирован и не может быть выполнен повторно.
	ErrRunFinished = errors.New("run already finished")

	// errAborted останавливает чтение источника после ошибки батча.
	errAborted = errors.New("run aborted")
)
