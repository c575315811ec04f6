package pipeline

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/engine"
)

// applyMappings применяет цепочку MAPPING узлов к батчу.
//
// Каждый узел строит новую строку только из перечисленных пар:
// колонка source переносится под именем target (или source, если
// target пуст), отсутствующие в строке колонки пропускаются.
// Узел без пар не меняет данные.
func applyMappings(rows []domain.Row, mappings []engine.MappingSpec) []domain.Row {
	current := rows
	for _, m := range mappings {
		if len(m.Pairs) == 0 {
			continue
		}
		next := make([]domain.Row, len(current))
		for i, row := range current {
			out := make(domain.Row, len(m.Pairs))
			for _, p := range m.Pairs {
				if p.Source == "" {
					continue
				}
				v, ok := row[p.Source]
				if !ok {
					continue
				}
				name := p.Target
				if name == "" {
					name = p.Source
				}
				out[name] = v
			}
			next[i] = out
		}
		current = next
	}
	return current
}

// project раскладывает строки по целевым полям с приведением типов.
func project(rows []domain.Row, fields []domain.TargetField, logger *slog.Logger) (columns []string, values [][]any) {
	columns = make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	values = make([][]any, len(rows))
	for r, row := range rows {
		vals := make([]any, len(fields))
		for i, f := range fields {
			v, err := coerce(row[f.Source()], f.Type)
			if err != nil {
				logger.Warn("type conversion failed",
					"field", f.Name,
					"type", f.Type,
					"value", v,
					"error", err,
				)
			}
			vals[i] = v
		}
		values[r] = vals
	}
	return columns, values
}

// coerce приводит значение к типу целевой колонки.
//
//	*INT*                     → int64
//	DECIMAL / DOUBLE / FLOAT  → float64
//	BOOLEAN                   → true для "true", "1", "yes"
//
// DATETIME, TIMESTAMP, JSON и прочие передаются как есть.
// При ошибке возвращается исходное значение вместе с ошибкой.
func coerce(v any, typ string) (any, error) {
	if v == nil || typ == "" {
		return v, nil
	}

	t := strings.ToUpper(typ)
	switch {
	case strings.Contains(t, "INT"):
		n, err := toInt64(v)
		if err != nil {
			return v, err
		}
		return n, nil
	case strings.Contains(t, "DECIMAL"), strings.Contains(t, "DOUBLE"), strings.Contains(t, "FLOAT"):
		f, err := toFloat64(v)
		if err != nil {
			return v, err
		}
		return f, nil
	case strings.Contains(t, "BOOLEAN"):
		if b, ok := v.(bool); ok {
			return b, nil
		}
		s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
		return s == "true" || s == "1" || s == "yes", nil
	default:
		return v, nil
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return strconv.ParseInt(strings.TrimSpace(fmt.Sprint(v)), 10, 64)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
	}
}

// keyValues собирает значения ключа источника (без учёта регистра имени).
// Строки без ключа пропускаются.
func keyValues(rows []domain.Row, key string) []any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		v, ok := row[key]
		if !ok || v == nil {
			for k, val := range row {
				if strings.EqualFold(k, key) {
					v = val
					break
				}
			}
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}
