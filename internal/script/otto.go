package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robertkrimen/otto"
)

// DefaultTimeout — максимальное время выполнения одного скрипта.
const DefaultTimeout = 10 * time.Second

// ErrTimeout — скрипт выполнялся дольше допустимого.
var ErrTimeout = errors.New("script timed out")

// errHalt — значение panic для прерывания VM.
var errHalt = errors.New("halt")

// QueryFunc — чтение из подключения, доступное скрипту как db.query.
type QueryFunc func(ctx context.Context, connID, sql string, args ...any) ([]map[string]any, error)

// Env — возможности, доступные скрипту.
//
// Скрипт видит каждую переменную контекста под её именем,
// весь контекст как context, логгер log и db.query.
type Env struct {
	Vars   map[string]any
	Logger *slog.Logger
	Query  QueryFunc
}

// Config — конфигурация Engine.
type Config struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Engine выполняет JavaScript через otto.
//
// Каждый вызов Eval использует новую VM: состояние между
// вызовами не разделяется.
type Engine struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "script"),
	}
}

// Eval выполняет скрипт и возвращает значение последнего выражения.
func (e *Engine) Eval(ctx context.Context, src string, env Env) (result any, err error) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	logger := env.Logger
	if logger == nil {
		logger = e.logger
	}

	if err := e.bind(ctx, vm, env, logger); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			vm.Interrupt <- func() { panic(errHalt) }
		case <-ctx.Done():
			vm.Interrupt <- func() { panic(errHalt) }
		case <-done:
		}
	}()

	defer func() {
		if caught := recover(); caught != nil {
			if caught == errHalt {
				if ctx.Err() != nil {
					err = ctx.Err()
				} else {
					err = ErrTimeout
				}
				result = nil
				return
			}
			panic(caught)
		}
	}()

	value, err := vm.Run(src)
	if err != nil {
		return nil, err
	}
	if value.IsUndefined() || value.IsNull() {
		return nil, nil
	}
	return value.Export()
}

func (e *Engine) bind(ctx context.Context, vm *otto.Otto, env Env, logger *slog.Logger) error {
	for name, v := range env.Vars {
		if !isIdentifier(name) {
			continue
		}
		jsv, err := toJS(vm, v)
		if err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
		if err := vm.Set(name, jsv); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	ctxValue, err := toJS(vm, env.Vars)
	if err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	if err := vm.Set("context", ctxValue); err != nil {
		return err
	}

	logObj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, level := range levels {
		lvl := level
		if err := logObj.Set(name, func(call otto.FunctionCall) otto.Value {
			logger.Log(ctx, lvl, joinArgs(call), "source", "script")
			return otto.UndefinedValue()
		}); err != nil {
			return err
		}
	}
	if err := vm.Set("log", logObj); err != nil {
		return err
	}

	dbObj, err := vm.Object(`({})`)
	if err != nil {
		return err
	}
	if err := dbObj.Set("query", func(call otto.FunctionCall) otto.Value {
		if env.Query == nil {
			panic(call.Otto.MakeCustomError("DBError", "database access is not available"))
		}
		if len(call.ArgumentList) < 2 {
			panic(call.Otto.MakeCustomError("DBError", "db.query(connId, sql, ...args) expects at least 2 arguments"))
		}

		connID := call.Argument(0).String()
		sql := call.Argument(1).String()
		args := make([]any, 0, len(call.ArgumentList)-2)
		for _, a := range call.ArgumentList[2:] {
			v, _ := a.Export()
			args = append(args, v)
		}

		rows, err := env.Query(ctx, connID, sql, args...)
		if err != nil {
			panic(call.Otto.MakeCustomError("DBError", err.Error()))
		}

		// JSON.parse даёт настоящий JS массив (length, индексы, вложенные объекты)
		b, err := json.Marshal(rows)
		if err != nil {
			panic(call.Otto.MakeCustomError("DBError", err.Error()))
		}
		v, err := call.Otto.Call("JSON.parse", nil, string(b))
		if err != nil {
			panic(call.Otto.MakeCustomError("DBError", err.Error()))
		}
		return v
	}); err != nil {
		return err
	}
	return vm.Set("db", dbObj)
}

// toJS переводит коллекции в нативные объекты JS через JSON.
// Скаляры и значения, не сериализуемые в JSON, передаются как есть.
func toJS(vm *otto.Otto, v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, []map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return v, nil
		}
		return vm.Call("JSON.parse", nil, string(b))
	default:
		return v, nil
	}
}

func joinArgs(call otto.FunctionCall) string {
	parts := make([]string, len(call.ArgumentList))
	for i, a := range call.ArgumentList {
		parts[i] = a.String()
	}
	return strings.Join(parts, " ")
}

// isIdentifier проверяет, что имя можно объявить как переменную JS.
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
