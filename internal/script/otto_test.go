package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestEval_ContextVariables(t *testing.T) {
	e := New(Config{})

	got, err := e.Eval(context.Background(), `a + b`, Env{
		Vars: map[string]any{"a": 2, "b": 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// otto возвращает числа как float64 или целые в зависимости от значения
	if fmt.Sprint(got) != "5" {
		t.Errorf("expected 5, got %v (%T)", got, got)
	}
}

func TestEval_ReturnsObject(t *testing.T) {
	e := New(Config{})

	got, err := e.Eval(context.Background(), `({greeting: "hello " + name})`, Env{
		Vars: map[string]any{"name": "bob"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if m["greeting"] != "hello bob" {
		t.Errorf("unexpected greeting: %v", m["greeting"])
	}
}

func TestEval_DBQuery(t *testing.T) {
	e := New(Config{})

	var gotConn, gotSQL string
	var gotArgs []any
	query := func(_ context.Context, connID, sql string, args ...any) ([]map[string]any, error) {
		gotConn, gotSQL, gotArgs = connID, sql, args
		return []map[string]any{{"n": 7}}, nil
	}

	got, err := e.Eval(context.Background(),
		`var rows = db.query("c1", "SELECT n FROM t WHERE id = $1", 10); rows.length + rows[0].n`,
		Env{Query: query})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotConn != "c1" || gotSQL != "SELECT n FROM t WHERE id = $1" {
		t.Errorf("unexpected query call: %s %s", gotConn, gotSQL)
	}
	if len(gotArgs) != 1 {
		t.Errorf("expected 1 arg, got %d", len(gotArgs))
	}
	if fmt.Sprint(got) != "8" {
		t.Errorf("expected 8, got %v", got)
	}
}

func TestEval_DBQueryError(t *testing.T) {
	e := New(Config{})

	query := func(context.Context, string, string, ...any) ([]map[string]any, error) {
		return nil, errors.New("relation does not exist")
	}

	_, err := e.Eval(context.Background(), `db.query("c1", "SELECT 1")`, Env{Query: query})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "relation does not exist") {
		t.Errorf("expected underlying message, got %v", err)
	}
}

func TestEval_SyntaxError(t *testing.T) {
	e := New(Config{})

	_, err := e.Eval(context.Background(), `var = ;`, Env{})
	if err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestEval_Timeout(t *testing.T) {
	e := New(Config{Timeout: 50 * time.Millisecond})

	_, err := e.Eval(context.Background(), `while (true) {}`, Env{})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestEval_UndefinedIsNil(t *testing.T) {
	e := New(Config{})

	got, err := e.Eval(context.Background(), `log.info("done")`, Env{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestIsIdentifier(t *testing.T) {
	cases := map[string]bool{
		"name":      true,
		"_private":  true,
		"a1":        true,
		"1a":        false,
		"with-dash": false,
		"":          false,
	}
	for name, want := range cases {
		if got := isIdentifier(name); got != want {
			t.Errorf("isIdentifier(%q) = %v, want %v", name, got, want)
		}
	}
}
