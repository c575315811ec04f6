package interpreter

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/engine"
	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/script"
)

// fakeQueries — QueryRunner, запоминающий вызовы.
type fakeQueries struct {
	calls []string
	args  [][]any
	rows  []map[string]any
	err   error
}

func (f *fakeQueries) Query(_ context.Context, connID, query string, args ...any) ([]map[string]any, error) {
	f.calls = append(f.calls, connID+"|"+query)
	f.args = append(f.args, args)
	return f.rows, f.err
}

// fakeScripts — ScriptEngine, считающий вызовы по тексту скрипта.
type fakeScripts struct {
	calls  map[string]int
	vars   []map[string]any
	result any
	err    error
}

func (f *fakeScripts) Eval(_ context.Context, src string, env script.Env) (any, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[src]++
	f.vars = append(f.vars, env.Vars)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return src, nil
}

func mustGraph(t *testing.T, raw string) *engine.Graph {
	t.Helper()
	g, err := engine.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	return g
}

func TestExecute_EntryQueryOutput(t *testing.T) {
	rows := []map[string]any{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}}
	q := &fakeQueries{rows: rows}
	interp := New(Config{Queries: q})

	g := mustGraph(t, `{
		"nodes": [
			{"id": "e", "type": "entry"},
			{"id": "q", "type": "query", "data": {"config": {"dataSourceId": "c1", "sql": "SELECT * FROM t WHERE name = '${name}'"}}},
			{"id": "o", "type": "output"}
		],
		"edges": [{"source": "e", "target": "q"}, {"source": "q", "target": "o"}]
	}`)

	result, err := interp.Execute(context.Background(), g, map[string]any{"name": "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(result, rows) {
		t.Errorf("expected query rows, got %v", result)
	}

	if len(q.calls) != 1 || q.calls[0] != "c1|SELECT * FROM t WHERE name = $1" {
		t.Errorf("unexpected query calls: %v", q.calls)
	}
	if !reflect.DeepEqual(q.args, [][]any{{"a"}}) {
		t.Errorf("unexpected query args: %v", q.args)
	}
}

func TestExecute_QueryParamsAreBound(t *testing.T) {
	q := &fakeQueries{rows: []map[string]any{}}
	interp := New(Config{Queries: q})

	g := mustGraph(t, `{
		"nodes": [
			{"id": "e", "type": "entry"},
			{"id": "q", "type": "query", "data": {"config": {"dataSourceId": "c1",
				"sql": "SELECT * FROM users WHERE name = '${name}' AND org = ${org}"}}}
		],
		"edges": [{"source": "e", "target": "q"}]
	}`)

	name := "x'; DROP TABLE users; --"
	_, err := interp.Execute(context.Background(), g, map[string]any{"name": name, KeyToken: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.calls[0] != "c1|SELECT * FROM users WHERE name = $1 AND org = $2" {
		t.Errorf("parameter text leaked into SQL: %v", q.calls[0])
	}
	if !reflect.DeepEqual(q.args[0], []any{name, nil}) {
		t.Errorf("unexpected query args: %#v", q.args[0])
	}
}

func TestExecute_TokenNotBindable(t *testing.T) {
	q := &fakeQueries{rows: []map[string]any{}}
	interp := New(Config{Queries: q})

	g := mustGraph(t, `{"nodes": [{"id": "q", "type": "query", "data": {"sql": "SELECT ${__token}"}}]}`)

	if _, err := interp.Execute(context.Background(), g, map[string]any{KeyToken: "secret"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(q.args[0], []any{nil}) {
		t.Errorf("token must not be bound, got %v", q.args[0])
	}
}

func TestExecute_AtMostOncePerNode(t *testing.T) {
	// e → a → c
	// e → b → c
	s := &fakeScripts{}
	interp := New(Config{Scripts: s})

	g := mustGraph(t, `{
		"nodes": [
			{"id": "e", "type": "entry"},
			{"id": "a", "type": "script", "data": {"script": "A"}},
			{"id": "b", "type": "script", "data": {"script": "B"}},
			{"id": "c", "type": "script", "data": {"script": "C"}}
		],
		"edges": [
			{"source": "e", "target": "a"},
			{"source": "e", "target": "b"},
			{"source": "a", "target": "c"},
			{"source": "b", "target": "c"}
		]
	}`)

	result, err := interp.Execute(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"A", "B", "C"} {
		if s.calls[name] != 1 {
			t.Errorf("script %s executed %d times, expected 1", name, s.calls[name])
		}
	}
	if result != "C" {
		t.Errorf("expected last result C, got %v", result)
	}
}

func TestExecute_CycleNeverRuns(t *testing.T) {
	s := &fakeScripts{}
	interp := New(Config{Scripts: s})

	// a и b образуют цикл: входящая степень a никогда не станет нулевой
	g := mustGraph(t, `{
		"nodes": [
			{"id": "e", "type": "entry"},
			{"id": "a", "type": "script", "data": {"script": "A"}},
			{"id": "b", "type": "script", "data": {"script": "B"}}
		],
		"edges": [
			{"source": "e", "target": "a"},
			{"source": "a", "target": "b"},
			{"source": "b", "target": "a"}
		]
	}`)

	result, err := interp.Execute(context.Background(), g, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.calls) != 0 {
		t.Errorf("nodes on a cycle must not execute, got %v", s.calls)
	}

	ctxMap, ok := result.(map[string]any)
	if !ok || ctxMap["x"] != 1 {
		t.Errorf("expected entry context as last result, got %v", result)
	}
}

func TestExecute_NoEntryFallsBackToFirstQueryOrScript(t *testing.T) {
	q := &fakeQueries{rows: []map[string]any{{"n": 1}}}
	s := &fakeScripts{}
	interp := New(Config{Queries: q, Scripts: s})

	g := mustGraph(t, `{"nodes": [
		{"id": "o", "type": "output"},
		{"id": "q", "type": "query", "data": {"sql": "SELECT 1"}},
		{"id": "s", "type": "script", "data": {"script": "S"}}
	]}`)

	result, err := interp.Execute(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.calls) != 1 {
		t.Errorf("expected the query node to run, got %d calls", len(q.calls))
	}
	if len(s.calls) != 0 {
		t.Error("only the first executable node should run")
	}
	if rows, ok := result.([]map[string]any); !ok || len(rows) != 1 {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestExecute_NothingExecutable(t *testing.T) {
	interp := New(Config{})
	g := mustGraph(t, `{"nodes": [{"id": "o", "type": "output"}]}`)

	result, err := interp.Execute(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := result.(map[string]any)
	if !ok || m["message"] != "No executable node found" {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestExecute_AuthRequiresToken(t *testing.T) {
	interp := New(Config{})
	g := mustGraph(t, `{
		"nodes": [{"id": "e", "type": "entry"}, {"id": "a", "type": "auth"}, {"id": "o", "type": "output"}],
		"edges": [{"source": "e", "target": "a"}, {"source": "a", "target": "o"}]
	}`)

	_, err := interp.Execute(context.Background(), g, nil)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("expected ErrExecutionFailed, got %v", err)
	}
	if !errors.Is(err, ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired, got %v", err)
	}

	// С токеном проходит до OUTPUT, который возвращает контекст без токена
	result, err := interp.Execute(context.Background(), g, map[string]any{KeyToken: "secret", "id": "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["id"] != "7" {
		t.Fatalf("expected context as output, got %v", result)
	}
	if _, leaked := m[KeyToken]; leaked {
		t.Errorf("token leaked into output: %v", m)
	}
}

func TestExecute_EntryResultHidesToken(t *testing.T) {
	interp := New(Config{})
	g := mustGraph(t, `{"nodes": [{"id": "e", "type": "entry"}]}`)

	result, err := interp.Execute(context.Background(), g, map[string]any{KeyToken: "secret", "id": "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(result, map[string]any{"id": "7"}) {
		t.Errorf("unexpected entry result: %v", result)
	}
}

func TestExecute_ScriptDoesNotSeeToken(t *testing.T) {
	s := &fakeScripts{}
	interp := New(Config{Scripts: s})
	g := mustGraph(t, `{
		"nodes": [{"id": "e", "type": "entry"}, {"id": "a", "type": "auth"}, {"id": "s", "type": "script", "data": {"script": "S"}}],
		"edges": [{"source": "e", "target": "a"}, {"source": "a", "target": "s"}]
	}`)

	if _, err := interp.Execute(context.Background(), g, map[string]any{KeyToken: "secret", "id": "7"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.vars) != 1 || s.vars[0]["id"] != "7" {
		t.Fatalf("unexpected script vars: %v", s.vars)
	}
	if _, leaked := s.vars[0][KeyToken]; leaked {
		t.Errorf("token visible to script: %v", s.vars[0])
	}
}

func TestExecute_QueryErrorAborts(t *testing.T) {
	q := &fakeQueries{err: errors.New("relation \"t\" does not exist")}
	s := &fakeScripts{}
	interp := New(Config{Queries: q, Scripts: s})

	g := mustGraph(t, `{
		"nodes": [
			{"id": "e", "type": "entry"},
			{"id": "q", "type": "query", "data": {"sql": "SELECT * FROM t"}},
			{"id": "s", "type": "script", "data": {"script": "S"}}
		],
		"edges": [{"source": "e", "target": "q"}, {"source": "q", "target": "s"}]
	}`)

	_, err := interp.Execute(context.Background(), g, nil)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected original message, got %v", err)
	}
	if len(s.calls) != 0 {
		t.Error("successors must not run after a failure")
	}
}

func TestExecute_ScriptResultWinsInOutput(t *testing.T) {
	q := &fakeQueries{rows: []map[string]any{{"n": 1}}}
	s := &fakeScripts{result: map[string]any{"total": 1}}
	interp := New(Config{Queries: q, Scripts: s})

	g := mustGraph(t, `{
		"nodes": [
			{"id": "e", "type": "entry"},
			{"id": "q", "type": "query", "data": {"sql": "SELECT 1"}},
			{"id": "s", "type": "groovy", "data": {"script": "return total"}},
			{"id": "o", "type": "response"}
		],
		"edges": [
			{"source": "e", "target": "q"},
			{"source": "q", "target": "s"},
			{"source": "s", "target": "o"}
		]
	}`)

	result, err := interp.Execute(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(result, map[string]any{"total": 1}) {
		t.Errorf("expected script result, got %v", result)
	}
}

func TestExecute_StaticOutput(t *testing.T) {
	interp := New(Config{})
	g := mustGraph(t, `{
		"nodes": [
			{"id": "e", "type": "entry"},
			{"id": "o", "type": "output", "data": {"config": {"type": "STATIC", "content": "pong"}}}
		],
		"edges": [{"source": "e", "target": "o"}]
	}`)

	result, err := interp.Execute(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "pong" {
		t.Errorf("expected static content, got %v", result)
	}
}

func TestExecute_EmptyScript(t *testing.T) {
	interp := New(Config{Scripts: &fakeScripts{}})
	g := mustGraph(t, `{"nodes": [{"id": "s", "type": "script", "data": {"script": "  "}}]}`)

	result, err := interp.Execute(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["error"] != "No script provided in script node" {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestExecute_ScriptError(t *testing.T) {
	interp := New(Config{Scripts: &fakeScripts{err: errors.New("ReferenceError: x is not defined")}})
	g := mustGraph(t, `{"nodes": [{"id": "s", "type": "script", "data": {"script": "x"}}]}`)

	_, err := interp.Execute(context.Background(), g, nil)
	if !errors.Is(err, ErrScript) || !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("expected ErrScript wrapped in ErrExecutionFailed, got %v", err)
	}
}

func TestExecute_UnknownNodeIsSkipped(t *testing.T) {
	interp := New(Config{})
	g := mustGraph(t, `{
		"nodes": [{"id": "e", "type": "entry"}, {"id": "x", "type": "webhook"}],
		"edges": [{"source": "e", "target": "x"}]
	}`)

	result, err := interp.Execute(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("unknown node should yield nil, got %v", result)
	}
}

// fakeEndpoints — EndpointStore в памяти.
type fakeEndpoints map[string]*domain.Endpoint

func (f fakeEndpoints) FindByRoute(_ context.Context, path, method string) (*domain.Endpoint, error) {
	ep, ok := f[method+" "+path]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return ep, nil
}

func TestEndpoints_Invoke(t *testing.T) {
	content := []byte(`{
		"nodes": [{"id": "e", "type": "entry"}, {"id": "o", "type": "output", "data": {"config": {"type": "STATIC", "content": "ok"}}}],
		"edges": [{"source": "e", "target": "o"}]
	}`)

	store := fakeEndpoints{
		"GET /public":  {Path: "/public", Method: "GET", Access: domain.EndpointPublic, Status: domain.EndpointOnline, Content: content},
		"GET /private": {Path: "/private", Method: "GET", Access: domain.EndpointPrivate, Status: domain.EndpointOnline, Content: content},
		"GET /draft":   {Path: "/draft", Method: "GET", Access: domain.EndpointPublic, Status: domain.EndpointDraft, Content: content},
	}
	eps := NewEndpoints(store, New(Config{}), nil)
	ctx := context.Background()

	// путь и метод нормализуются
	result, err := eps.Invoke(ctx, "public/", "get", nil)
	if err != nil {
		t.Errorf("public endpoint: unexpected error %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %v", result)
	}

	if _, err := eps.Invoke(ctx, "/missing", "GET", nil); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("expected ErrEndpointNotFound, got %v", err)
	}

	if _, err := eps.Invoke(ctx, "/draft", "GET", nil); !errors.Is(err, ErrEndpointOffline) {
		t.Errorf("expected ErrEndpointOffline, got %v", err)
	}

	if _, err := eps.Invoke(ctx, "/private", "GET", nil); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("expected ErrAuthRequired, got %v", err)
	}

	if _, err := eps.Invoke(ctx, "/private", "GET", map[string]any{KeyToken: "t"}); err != nil {
		t.Errorf("private endpoint with token: unexpected error %v", err)
	}
}
