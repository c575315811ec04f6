package warehouse

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/shaiso/datasync/internal/domain"
)

// maxParams — предел числа параметров одной команды PostgreSQL.
const maxParams = 65535

// quoteTable экранирует имя таблицы, допуская схему ("schema.table").
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// splitTable разделяет "schema.table". Пустая схема — текущая.
func splitTable(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// SanitizeType нормализует имя типа колонки для DDL.
//
//	"" / VARCHAR / STRING → VARCHAR(255)
//	INT / INTEGER         → INT
//	DATETIME / TIMESTAMP  → TIMESTAMP
//
// Остальные типы передаются как есть.
func SanitizeType(t string) string {
	t = strings.TrimSpace(t)
	switch strings.ToUpper(t) {
	case "", "VARCHAR", "STRING":
		return "VARCHAR(255)"
	case "INT", "INTEGER":
		return "INT"
	case "DATETIME", "TIMESTAMP":
		return "TIMESTAMP"
	default:
		return t
	}
}

// createTableSQL строит CREATE TABLE.
//
// Первичный ключ объявляется один раз: суррогатный id либо первая
// колонка, помеченная IsPK или совпадающая с PrimaryKey.
func createTableSQL(spec domain.TableSpec) string {
	defs := make([]string, 0, len(spec.Fields)+1)
	pkDeclared := false

	if spec.Surrogate {
		defs = append(defs, `"id" BIGSERIAL PRIMARY KEY`)
		pkDeclared = true
	}

	for _, f := range spec.Fields {
		def := pq.QuoteIdentifier(f.Name) + " " + SanitizeType(f.Type)
		isKey := f.IsPK || (spec.PrimaryKey != "" && strings.EqualFold(f.Name, spec.PrimaryKey))
		if isKey && !pkDeclared {
			def += " PRIMARY KEY"
			pkDeclared = true
		}
		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteTable(spec.Name), strings.Join(defs, ", "))
}

func commentSQL(table, column, comment string) string {
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s",
		quoteTable(table), pq.QuoteIdentifier(column), pq.QuoteLiteral(comment))
}

func addColumnSQL(table string, f domain.TargetField) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		quoteTable(table), pq.QuoteIdentifier(f.Name), SanitizeType(f.Type))
}

func addPrimaryKeySQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", quoteTable(table), pq.QuoteIdentifier(column))
}

// insertSQL строит многострочный INSERT с учётом стратегии конфликтов.
//
//	UPDATE + ключ → ON CONFLICT (key) DO UPDATE SET c = EXCLUDED.c для неключевых колонок
//	IGNORE + ключ → ON CONFLICT (key) DO NOTHING
//	ERROR или нет ключа → обычный INSERT
func insertSQL(table string, columns []string, rows [][]any, key string, conflict domain.ConflictStrategy) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(rows)*len(columns))

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pq.QuoteIdentifier(c)
	}

	b.WriteString("INSERT INTO ")
	b.WriteString(quoteTable(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
			var v any
			if i < len(row) {
				v = row[i]
			}
			args = append(args, v)
		}
		b.WriteByte(')')
	}

	if key == "" {
		return b.String(), args
	}

	switch conflict {
	case domain.ConflictUpdate:
		sets := make([]string, 0, len(columns))
		for i, c := range columns {
			if strings.EqualFold(c, key) {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
		if len(sets) == 0 {
			fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", pq.QuoteIdentifier(key))
		} else {
			fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", pq.QuoteIdentifier(key), strings.Join(sets, ", "))
		}
	case domain.ConflictIgnore:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", pq.QuoteIdentifier(key))
	}

	return b.String(), args
}

// dedupeByKey оставляет последнее вхождение каждого ключа, сохраняя
// порядок первых вхождений. Один INSERT ... ON CONFLICT DO UPDATE
// не может затронуть строку дважды.
func dedupeByKey(columns []string, rows [][]any, key string) [][]any {
	idx := -1
	for i, c := range columns {
		if strings.EqualFold(c, key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return rows
	}

	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		if idx >= len(row) || row[idx] == nil {
			out = append(out, row)
			continue
		}
		k := fmt.Sprintf("%T:%v", row[idx], row[idx])
		if p, ok := pos[k]; ok {
			out[p] = row
			continue
		}
		pos[k] = len(out)
		out = append(out, row)
	}
	return out
}

// chunkSize возвращает число строк в одной команде для данного числа колонок.
func chunkSize(columns int) int {
	if columns <= 0 {
		return 1
	}
	return maxParams / columns
}

// hasLimit проверяет наличие LIMIT в запросе (без учёта регистра).
func hasLimit(query string) bool {
	return strings.Contains(strings.ToLower(query), "limit")
}

// trimStatement убирает завершающие ";" и пробелы.
func trimStatement(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\n")
}
