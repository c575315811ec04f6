package interpreter

import "errors"

var (
	// ErrExecutionFailed — узел flow завершился с ошибкой.
	ErrExecutionFailed = errors.New("flow execution failed")

	// ErrAuthRequired — узел AUTH не нашёл токена вызывающего.
	ErrAuthRequired = errors.New("authentication required")

	// ErrScript — ошибка выполнения скрипта.
	ErrScript = errors.New("script error")

	// ErrEndpointNotFound — endpoint с таким путём и методом не найден.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrEndpointOffline — endpoint не опубликован.
	ErrEndpointOffline = errors.New("endpoint is not online")
)
