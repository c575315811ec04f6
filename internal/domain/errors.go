package domain

import "errors"

var (
	// ErrValidation — определение задачи некорректно (нет INPUT/OUTPUT, пустой SQL и т.д.).
	ErrValidation = errors.New("invalid sync definition")

	// ErrConnection — подключение не найдено или не открывается.
	ErrConnection = errors.New("connection unavailable")

	// ErrUnsupportedConnection — тип подключения не поддерживается.
	ErrUnsupportedConnection = errors.New("unsupported connection kind")

	// ErrTransientWrite — временная ошибка записи (deadlock, lock timeout), можно повторить.
	ErrTransientWrite = errors.New("transient write error")

	// ErrPermanentWrite — ошибка записи, повтор не поможет.
	ErrPermanentWrite = errors.New("permanent write error")
)
