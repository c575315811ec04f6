package interpreter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/datasync/internal/engine"
	"github.com/shaiso/datasync/internal/script"
)

// Типы узлов endpoint flow.
const (
	KindEntry        = "ENTRY"
	KindAuth         = "AUTH"
	KindAuthToken    = "AUTH_TOKEN"
	KindQuery        = "QUERY"
	KindScript       = "SCRIPT"
	KindGroovy       = "GROOVY"
	KindOutputGroovy = "OUTPUT_GROOVY"
	KindOutput       = "OUTPUT"
	KindResponse     = "RESPONSE"
)

// Ключи контекста выполнения.
const (
	KeyQueryResult  = "queryResult"
	KeyScriptResult = "scriptResult"

	// KeyToken — bearer-токен вызывающего (кладёт HTTP слой).
	KeyToken = "__token"
)

// QueryRunner выполняет чтение из подключения.
type QueryRunner interface {
	Query(ctx context.Context, connID, query string, args ...any) ([]map[string]any, error)
}

// ScriptEngine выполняет скрипт SCRIPT узла.
type ScriptEngine interface {
	Eval(ctx context.Context, src string, env script.Env) (any, error)
}

// Config — конфигурация Interpreter.
type Config struct {
	Queries QueryRunner
	Scripts ScriptEngine
	Logger  *slog.Logger
}

// Interpreter выполняет endpoint flow.
//
// Обход начинается с ENTRY узла и идёт по алгоритму Кана:
// узел выполняется, когда все его входящие рёбра пройдены.
// Каждый узел выполняется не более одного раза.
type Interpreter struct {
	queries QueryRunner
	scripts ScriptEngine
	logger  *slog.Logger
}

// New создаёт Interpreter.
func New(cfg Config) *Interpreter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Interpreter{
		queries: cfg.Queries,
		scripts: cfg.Scripts,
		logger:  cfg.Logger.With("component", "interpreter"),
	}
}

// Execute выполняет граф с параметрами вызова и возвращает результат
// последнего выполненного узла.
//
// Если ENTRY узла нет, выполняется первый QUERY или SCRIPT узел.
// Ошибка любого узла прерывает выполнение с ErrExecutionFailed.
func (i *Interpreter) Execute(ctx context.Context, g *engine.Graph, params map[string]any) (any, error) {
	execCtx := make(map[string]any, len(params)+2)
	for k, v := range params {
		execCtx[k] = v
	}

	entry := g.FirstOfKind(KindEntry)
	if entry == nil {
		fallback := g.FirstOfKind(KindQuery, KindScript, KindGroovy, KindOutputGroovy)
		if fallback == nil {
			return map[string]any{"message": "No executable node found"}, nil
		}
		result, err := i.executeNode(ctx, fallback, execCtx)
		if err != nil {
			return nil, i.fail(fallback, err)
		}
		return result, nil
	}

	inDegree := g.InDegrees()
	visited := make(map[string]bool, g.Size())
	queue := []*engine.Node{entry}

	var last any
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if visited[node.ID] {
			continue
		}
		visited[node.ID] = true

		result, err := i.executeNode(ctx, node, execCtx)
		if err != nil {
			return nil, i.fail(node, err)
		}
		last = result

		for _, next := range g.Successors(node.ID) {
			inDegree[next.ID]--
			if inDegree[next.ID] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return last, nil
}

func (i *Interpreter) fail(node *engine.Node, err error) error {
	i.logger.Warn("node execution failed",
		"node_id", node.ID,
		"kind", node.Kind,
		"error", err,
	)
	return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
}

// executeNode выполняет узел по его типу.
func (i *Interpreter) executeNode(ctx context.Context, node *engine.Node, execCtx map[string]any) (any, error) {
	switch node.Kind {
	case KindEntry:
		return visible(execCtx), nil
	case KindAuth, KindAuthToken:
		return i.handleAuth(execCtx)
	case KindQuery:
		return i.handleQuery(ctx, node, execCtx)
	case KindScript, KindGroovy, KindOutputGroovy:
		return i.handleScript(ctx, node, execCtx)
	case KindOutput, KindResponse:
		return handleOutput(node, execCtx), nil
	default:
		i.logger.Debug("unknown node type, skipping", "node_id", node.ID, "kind", node.Kind)
		return nil, nil
	}
}

func (i *Interpreter) handleAuth(execCtx map[string]any) (any, error) {
	token, _ := execCtx[KeyToken].(string)
	if strings.TrimSpace(token) == "" {
		return nil, ErrAuthRequired
	}
	return true, nil
}

func (i *Interpreter) handleQuery(ctx context.Context, node *engine.Node, execCtx map[string]any) (any, error) {
	if i.queries == nil {
		return nil, fmt.Errorf("query node %s: no query runner configured", node.ID)
	}

	connID := node.String("dataSourceId")
	if connID == "" {
		connID = node.String("connectionId")
	}

	sql := strings.TrimSpace(node.String("sql"))
	if sql == "" {
		return nil, fmt.Errorf("query node %s: empty SQL", node.ID)
	}
	if missing := unresolved(sql, execCtx); len(missing) > 0 {
		i.logger.Debug("unresolved placeholders, binding NULL", "node_id", node.ID, "vars", missing)
	}
	query, args := engine.Bind(sql, visible(execCtx))

	rows, err := i.queries.Query(ctx, connID, query, args...)
	if err != nil {
		return nil, err
	}

	execCtx[KeyQueryResult] = rows
	return rows, nil
}

func (i *Interpreter) handleScript(ctx context.Context, node *engine.Node, execCtx map[string]any) (any, error) {
	src := node.String("script")
	if strings.TrimSpace(src) == "" {
		return map[string]any{"error": "No script provided in script node"}, nil
	}
	if i.scripts == nil {
		return nil, fmt.Errorf("%w: no script engine configured", ErrScript)
	}

	env := script.Env{
		Vars:   visible(execCtx),
		Logger: i.logger.With("node_id", node.ID),
	}
	if i.queries != nil {
		env.Query = i.queries.Query
	}

	result, err := i.scripts.Eval(ctx, src, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	execCtx[KeyScriptResult] = result
	return result, nil
}

// handleOutput формирует ответ: STATIC литерал, иначе результат
// скрипта, иначе результат запроса, иначе весь контекст.
func handleOutput(node *engine.Node, execCtx map[string]any) any {
	if strings.EqualFold(node.String("type"), "STATIC") {
		return node.Config["content"]
	}
	if v, ok := execCtx[KeyScriptResult]; ok && v != nil {
		return v
	}
	if v, ok := execCtx[KeyQueryResult]; ok && v != nil {
		return v
	}
	return visible(execCtx)
}

// visible — копия контекста без служебных ключей (токена вызывающего).
func visible(execCtx map[string]any) map[string]any {
	out := make(map[string]any, len(execCtx))
	for k, v := range execCtx {
		if k == KeyToken {
			continue
		}
		out[k] = v
	}
	return out
}

// unresolved возвращает плейсхолдеры, для которых нет переменной.
func unresolved(sql string, execCtx map[string]any) []string {
	var missing []string
	for _, name := range engine.Placeholders(sql) {
		if _, ok := execCtx[name]; !ok || name == KeyToken {
			missing = append(missing, name)
		}
	}
	return missing
}
