package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
)

// --- in-memory warehouse ---

type memTable struct {
	columns []string
	hasPK   bool
	spec    domain.TableSpec
	rows    []domain.Row
}

type memWarehouse struct {
	mu sync.Mutex

	source []domain.Row
	tables map[string]*memTable

	// transientWrites — сколько первых Write вернут временную ошибку.
	transientWrites int
	writeCalls      int
	truncates       int
	addedPK         []string
	failPK          bool
	unknownConn     string

	// open — число незакрытых подключений, openAtStream — их число в начале чтения.
	open         int
	openAtStream int
	lastWrite    *domain.WriteRequest
}

func newMemWarehouse(source []domain.Row) *memWarehouse {
	return &memWarehouse{source: source, tables: map[string]*memTable{}}
}

func (w *memWarehouse) Source(_ context.Context, connID string) (Source, error) {
	if connID == w.unknownConn {
		return nil, fmt.Errorf("%w: connection %s not found", domain.ErrConnection, connID)
	}
	return w.connect(), nil
}

func (w *memWarehouse) Target(_ context.Context, connID string) (Target, error) {
	if connID == w.unknownConn {
		return nil, fmt.Errorf("%w: connection %s not found", domain.ErrConnection, connID)
	}
	return w.connect(), nil
}

func (w *memWarehouse) connect() *memConn {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.open++
	return &memConn{w: w}
}

func (w *memWarehouse) table(name string) *memTable {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tables[name]
}

func (w *memWarehouse) rowCount(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

func (w *memWarehouse) sourceCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.source)
}

type memConn struct {
	w      *memWarehouse
	closed bool
}

func (c *memConn) Close() error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.w.open--
	}
	return nil
}

func (c *memConn) Count(context.Context, string) (int64, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	return int64(len(c.w.source)), nil
}

func (c *memConn) Stream(_ context.Context, _ string, batchSize int, emit func([]domain.Row) error) error {
	c.w.mu.Lock()
	c.w.openAtStream = c.w.open
	snapshot := make([]domain.Row, len(c.w.source))
	copy(snapshot, c.w.source)
	c.w.mu.Unlock()

	for start := 0; start < len(snapshot); start += batchSize {
		end := min(start+batchSize, len(snapshot))
		batch := make([]domain.Row, 0, end-start)
		for _, r := range snapshot[start:end] {
			cp := make(domain.Row, len(r))
			for k, v := range r {
				cp[k] = v
			}
			batch = append(batch, cp)
		}
		if err := emit(batch); err != nil {
			return err
		}
	}
	return nil
}

func (c *memConn) Delete(_ context.Context, _ string, key string, values []any) (int64, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	drop := make(map[string]bool, len(values))
	for _, v := range values {
		drop[fmt.Sprint(v)] = true
	}
	kept := c.w.source[:0]
	var n int64
	for _, r := range c.w.source {
		if drop[fmt.Sprint(r[key])] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	c.w.source = kept
	return n, nil
}

func (c *memConn) Inspect(_ context.Context, table string) (*domain.TableInfo, error) {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	t, ok := c.w.tables[table]
	if !ok {
		return &domain.TableInfo{}, nil
	}
	return &domain.TableInfo{
		Exists:        true,
		Columns:       append([]string(nil), t.columns...),
		HasPrimaryKey: t.hasPK,
	}, nil
}

func (c *memConn) CreateTable(_ context.Context, spec domain.TableSpec) error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	t := &memTable{spec: spec}
	if spec.Surrogate {
		t.columns = append(t.columns, "id")
		t.hasPK = true
	}
	for _, f := range spec.Fields {
		t.columns = append(t.columns, f.Name)
		if f.IsPK || strings.EqualFold(f.Name, spec.PrimaryKey) {
			t.hasPK = true
		}
	}
	c.w.tables[spec.Name] = t
	return nil
}

func (c *memConn) AddColumn(_ context.Context, table string, field domain.TargetField) error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	t := c.w.tables[table]
	t.columns = append(t.columns, field.Name)
	return nil
}

func (c *memConn) AddPrimaryKey(_ context.Context, table, column string) error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	if c.w.failPK {
		return errors.New("could not create unique index: duplicate values")
	}
	c.w.tables[table].hasPK = true
	c.w.addedPK = append(c.w.addedPK, column)
	return nil
}

func (c *memConn) Truncate(_ context.Context, table string) error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()
	c.w.truncates++
	if t, ok := c.w.tables[table]; ok {
		t.rows = nil
	}
	return nil
}

func (c *memConn) Write(_ context.Context, req *domain.WriteRequest) error {
	c.w.mu.Lock()
	defer c.w.mu.Unlock()

	c.w.writeCalls++
	if c.w.transientWrites > 0 {
		c.w.transientWrites--
		return fmt.Errorf("%w: deadlock detected", domain.ErrTransientWrite)
	}

	c.w.lastWrite = req
	t := c.w.tables[req.Table]
	// ON CONFLICT без уникального индекса PostgreSQL отклоняет (42P10)
	if req.PrimaryKey != "" && req.Conflict != domain.ConflictError && !t.hasPK {
		return fmt.Errorf("%w: no unique constraint matching ON CONFLICT (%s)", domain.ErrPermanentWrite, req.PrimaryKey)
	}
	for _, vals := range req.Rows {
		row := make(domain.Row, len(req.Columns))
		for i, col := range req.Columns {
			row[col] = vals[i]
		}

		if req.PrimaryKey == "" || !t.hasPK {
			t.rows = append(t.rows, row)
			continue
		}

		existing := -1
		for i, r := range t.rows {
			if fmt.Sprint(r[req.PrimaryKey]) == fmt.Sprint(row[req.PrimaryKey]) {
				existing = i
				break
			}
		}
		if existing < 0 {
			t.rows = append(t.rows, row)
			continue
		}

		switch req.Conflict {
		case domain.ConflictUpdate:
			t.rows[existing] = row
		case domain.ConflictIgnore:
		default:
			return fmt.Errorf("%w: duplicate key %v", domain.ErrPermanentWrite, row[req.PrimaryKey])
		}
	}
	return nil
}

// --- run store ---

type memRuns struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]domain.SyncRun
	processed map[uuid.UUID][]int64
}

func newMemRuns() *memRuns {
	return &memRuns{
		runs:      map[uuid.UUID]domain.SyncRun{},
		processed: map[uuid.UUID][]int64{},
	}
}

func (r *memRuns) Create(_ context.Context, run *domain.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memRuns) Update(_ context.Context, run *domain.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memRuns) UpdateProcessed(_ context.Context, id uuid.UUID, processed int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.runs[id]
	if processed > run.ProcessedCount {
		run.ProcessedCount = processed
	}
	r.runs[id] = run
	r.processed[id] = append(r.processed[id], processed)
	return nil
}

func (r *memRuns) get(id uuid.UUID) domain.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

// --- events ---

type memEvents struct {
	mu       sync.Mutex
	started  int
	finished []domain.RunStatus
}

func (e *memEvents) PublishRunStarted(context.Context, *domain.SyncRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started++
	return nil
}

func (e *memEvents) PublishRunFinished(_ context.Context, run *domain.SyncRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, run.Status)
	return nil
}
