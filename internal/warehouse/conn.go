package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/shaiso/datasync/internal/domain"
)

// Таймауты блокировок для DDL/TRUNCATE и для загрузки батчей.
const (
	truncateLockTimeout = "60s"
	writeLockTimeout    = "120s"
)

const cursorName = "datasync_cursor"

// Conn — выделенное подключение к PostgreSQL.
//
// Реализует pipeline.Source и pipeline.Target. Conn не безопасен
// для использования из нескольких горутин.
type Conn struct {
	conn   *sql.Conn
	logger *slog.Logger
}

// NewConn оборачивает выделенное подключение.
func NewConn(conn *sql.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{conn: conn, logger: logger}
}

// Close возвращает подключение в пул.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// --- Source ---

// Count возвращает число строк запроса.
func (c *Conn) Count(ctx context.Context, query string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS t", trimStatement(query))
	if err := c.conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count source rows: %w", err)
	}
	return n, nil
}

// Stream читает результат запроса серверным курсором в read-only транзакции.
func (c *Conn) Stream(ctx context.Context, query string, batchSize int, emit func([]domain.Row) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}

	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", cursorName, trimStatement(query))
	if _, err := tx.ExecContext(ctx, declare); err != nil {
		return fmt.Errorf("declare cursor: %w", err)
	}

	fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", batchSize, cursorName)
	for {
		rows, err := tx.QueryContext(ctx, fetch)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		batch, err := scanRows(rows)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := emit(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			break
		}
	}

	if _, err := tx.ExecContext(ctx, "CLOSE "+cursorName); err != nil {
		return fmt.Errorf("close cursor: %w", err)
	}
	return tx.Commit()
}

// Delete удаляет строки по значениям ключа. NULL значения пропускаются.
func (c *Conn) Delete(ctx context.Context, table, key string, values []any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(fmt.Errorf("begin delete tx: %w", err))
	}
	defer tx.Rollback()

	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", quoteTable(table), pq.QuoteIdentifier(key))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, classify(fmt.Errorf("prepare delete: %w", err))
	}
	defer stmt.Close()

	var total int64
	for _, v := range values {
		if v == nil {
			continue
		}
		res, err := stmt.ExecContext(ctx, v)
		if err != nil {
			return 0, classify(fmt.Errorf("delete from %s: %w", table, err))
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(fmt.Errorf("commit delete: %w", err))
	}
	return total, nil
}

// --- Target ---

// Inspect возвращает сведения о таблице через information_schema.
func (c *Conn) Inspect(ctx context.Context, table string) (*domain.TableInfo, error) {
	schema, name := splitTable(table)
	info := &domain.TableInfo{}

	err := c.conn.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
		)`, schema, name).Scan(&info.Exists)
	if err != nil {
		return nil, fmt.Errorf("check table %s: %w", table, err)
	}
	if !info.Exists {
		return info, nil
	}

	rows, err := c.conn.QueryContext(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
		ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		info.Columns = append(info.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = c.conn.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.table_constraints
			WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
			  AND constraint_type = 'PRIMARY KEY'
		)`, schema, name).Scan(&info.HasPrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("check primary key of %s: %w", table, err)
	}
	return info, nil
}

// CreateTable создаёт таблицу и комментарии колонок в одной транзакции.
func (c *Conn) CreateTable(ctx context.Context, spec domain.TableSpec) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ddl tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createTableSQL(spec)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	for _, f := range spec.Fields {
		if f.Comment == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, commentSQL(spec.Name, f.Name, f.Comment)); err != nil {
			return fmt.Errorf("comment on %s.%s: %w", spec.Name, f.Name, err)
		}
	}
	return tx.Commit()
}

// AddColumn добавляет колонку (и комментарий, если задан).
func (c *Conn) AddColumn(ctx context.Context, table string, field domain.TargetField) error {
	if _, err := c.conn.ExecContext(ctx, addColumnSQL(table, field)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, field.Name, err)
	}
	if field.Comment != "" {
		if _, err := c.conn.ExecContext(ctx, commentSQL(table, field.Name, field.Comment)); err != nil {
			return fmt.Errorf("comment on %s.%s: %w", table, field.Name, err)
		}
	}
	return nil
}

// AddPrimaryKey объявляет первичный ключ существующей таблицы.
func (c *Conn) AddPrimaryKey(ctx context.Context, table, column string) error {
	if _, err := c.conn.ExecContext(ctx, addPrimaryKeySQL(table, column)); err != nil {
		return fmt.Errorf("add primary key %s(%s): %w", table, column, err)
	}
	return nil
}

// Truncate очищает таблицу с lock_timeout 60s.
func (c *Conn) Truncate(ctx context.Context, table string) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin truncate tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL lock_timeout = '"+truncateLockTimeout+"'"); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+quoteTable(table)); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return tx.Commit()
}

// Write загружает батч в одной транзакции.
//
// Ошибки оборачиваются в domain.ErrTransientWrite или
// domain.ErrPermanentWrite.
func (c *Conn) Write(ctx context.Context, req *domain.WriteRequest) error {
	if len(req.Rows) == 0 || len(req.Columns) == 0 {
		return nil
	}

	rows := req.Rows
	if req.PrimaryKey != "" && req.Conflict == domain.ConflictUpdate {
		rows = dedupeByKey(req.Columns, rows, req.PrimaryKey)
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin write tx: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL lock_timeout = '"+writeLockTimeout+"'"); err != nil {
		return classify(fmt.Errorf("set lock timeout: %w", err))
	}

	size := chunkSize(len(req.Columns))
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		q, args := insertSQL(req.Table, req.Columns, rows[start:end], req.PrimaryKey, req.Conflict)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return classify(fmt.Errorf("insert into %s: %w", req.Table, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit write: %w", err))
	}
	return nil
}

// scanRows читает все строки результата. []byte превращаются в string.
func scanRows(rows *sql.Rows) ([]domain.Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []domain.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(domain.Row, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// appendLimit добавляет LIMIT n, если в запросе нет своего LIMIT.
func appendLimit(query string, n int) string {
	query = trimStatement(query)
	if hasLimit(query) {
		return query
	}
	return fmt.Sprintf("%s LIMIT %d", query, n)
}

// isSelect проверяет, что запрос читающий.
func isSelect(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH")
}
