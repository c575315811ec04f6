package engine

import (
	"reflect"
	"strings"
	"testing"
)

func TestBind(t *testing.T) {
	vars := map[string]any{
		"name":  "alice",
		"count": 42,
		"empty": nil,
	}

	tests := []struct {
		name      string
		text      string
		wantQuery string
		wantArgs  []any
	}{
		{"no placeholders", "SELECT 1", "SELECT 1", nil},
		{"quoted value", "SELECT * FROM u WHERE name = '${name}'", "SELECT * FROM u WHERE name = $1", []any{"alice"}},
		{"number value", "LIMIT ${count}", "LIMIT $1", []any{42}},
		{"spaces inside braces", "${ name }", "$1", []any{"alice"}},
		{"missing key is null", "WHERE id = ${id}", "WHERE id = $1", []any{nil}},
		{"nil value", "${empty}", "$1", []any{nil}},
		{"repeated name reuses parameter", "${name}-${count}-${name}", "$1-$2-$1", []any{"alice", 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := Bind(tt.text, vars)
			if query != tt.wantQuery {
				t.Errorf("expected query %q, got %q", tt.wantQuery, query)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("expected args %v, got %v", tt.wantArgs, args)
			}
		})
	}
}

func TestBind_ValueNeverInQuery(t *testing.T) {
	// кавычка в значении не может закрыть литерал
	evil := "x' UNION SELECT password FROM users --"
	query, args := Bind("SELECT * FROM u WHERE name = '${name}'", map[string]any{"name": evil})

	if strings.Contains(query, "UNION") || strings.Contains(query, "'") {
		t.Errorf("value leaked into query: %q", query)
	}
	if len(args) != 1 || args[0] != evil {
		t.Errorf("expected value as parameter, got %v", args)
	}
}

func TestBind_CompositeValue(t *testing.T) {
	_, args := Bind("${ids}", map[string]any{"ids": []any{1, 2}})
	if args[0] != "[1 2]" {
		t.Errorf("expected string parameter, got %#v", args[0])
	}
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("SELECT ${a}, ${b} WHERE x = ${a}")
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}
}
