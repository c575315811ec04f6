package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/scheduler"
)

type memTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]domain.SyncTask
}

func newMemTasks(tasks ...domain.SyncTask) *memTasks {
	m := &memTasks{tasks: make(map[uuid.UUID]domain.SyncTask)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memTasks) Create(_ context.Context, t *domain.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tasks {
		if existing.Name == t.Name {
			return repo.ErrAlreadyExists
		}
	}
	m.tasks[t.ID] = *t
	return nil
}

func (m *memTasks) GetByID(_ context.Context, id uuid.UUID) (*domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

func (m *memTasks) List(context.Context) ([]domain.SyncTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncTask
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memTasks) Update(_ context.Context, t *domain.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return repo.ErrNotFound
	}
	m.tasks[t.ID] = *t
	return nil
}

func (m *memTasks) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

type memRuns struct {
	runs  []domain.SyncRun
	stats repo.RunStats
	since time.Time
	last  repo.RunFilter
}

func (m *memRuns) GetByID(_ context.Context, id uuid.UUID) (*domain.SyncRun, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memRuns) LatestByTask(_ context.Context, taskID uuid.UUID) (*domain.SyncRun, error) {
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].TaskID == taskID {
			r := m.runs[i]
			return &r, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memRuns) List(_ context.Context, f repo.RunFilter) ([]domain.SyncRun, error) {
	m.last = f
	var out []domain.SyncRun
	for _, r := range m.runs {
		if f.TaskID != nil && r.TaskID != *f.TaskID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memRuns) StatsSince(_ context.Context, since time.Time) (*repo.RunStats, error) {
	m.since = since
	s := m.stats
	return &s, nil
}

type memEndpoints struct {
	eps map[uuid.UUID]domain.Endpoint
}

func (m *memEndpoints) Create(_ context.Context, ep *domain.Endpoint) error {
	m.eps[ep.ID] = *ep
	return nil
}

func (m *memEndpoints) GetByID(_ context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	ep, ok := m.eps[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &ep, nil
}

func (m *memEndpoints) List(context.Context) ([]domain.Endpoint, error) {
	var out []domain.Endpoint
	for _, ep := range m.eps {
		out = append(out, ep)
	}
	return out, nil
}

func (m *memEndpoints) Update(_ context.Context, ep *domain.Endpoint) error {
	m.eps[ep.ID] = *ep
	return nil
}

func (m *memEndpoints) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.eps[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.eps, id)
	return nil
}

type memConnections struct {
	conns map[uuid.UUID]domain.Connection
}

func (m *memConnections) Create(_ context.Context, c *domain.Connection) error {
	m.conns[c.ID] = *c
	return nil
}

func (m *memConnections) GetByID(_ context.Context, id uuid.UUID) (*domain.Connection, error) {
	c, ok := m.conns[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

func (m *memConnections) List(context.Context) ([]domain.Connection, error) {
	var out []domain.Connection
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out, nil
}

func (m *memConnections) Update(_ context.Context, c *domain.Connection) error {
	m.conns[c.ID] = *c
	return nil
}

func (m *memConnections) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.conns[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.conns, id)
	return nil
}

type memSettings struct {
	values map[string]string
}

func (m *memSettings) All(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

type fakeScheduler struct {
	tasks       *memTasks
	running     map[uuid.UUID]bool
	rescheduled []domain.SyncTask
	unscheduled []uuid.UUID
	progress    []scheduler.TaskProgress
}

func (f *fakeScheduler) RunNow(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	if _, err := f.tasks.GetByID(ctx, taskID); err != nil {
		return uuid.Nil, err
	}
	if f.running[taskID] {
		return uuid.Nil, scheduler.ErrTaskRunning
	}
	return uuid.New(), nil
}

func (f *fakeScheduler) Reschedule(task *domain.SyncTask) error {
	f.rescheduled = append(f.rescheduled, *task)
	return nil
}

func (f *fakeScheduler) Unschedule(taskID uuid.UUID) {
	f.unscheduled = append(f.unscheduled, taskID)
}

func (f *fakeScheduler) Progress(context.Context) ([]scheduler.TaskProgress, error) {
	return f.progress, nil
}

type fakeInvoker struct {
	path   string
	method string
	params map[string]any
	result any
	err    error
}

func (f *fakeInvoker) Invoke(_ context.Context, path, method string, params map[string]any) (any, error) {
	f.path, f.method, f.params = path, method, params
	return f.result, f.err
}

func (f *fakeInvoker) Debug(_ context.Context, _ *domain.Endpoint, params map[string]any) (any, error) {
	f.params = params
	return f.result, f.err
}

type fakeWarehouse struct {
	testErr     error
	invalidated []uuid.UUID
	previewSQL  string
}

func (f *fakeWarehouse) Test(context.Context, *domain.Connection) error {
	return f.testErr
}

func (f *fakeWarehouse) Preview(_ context.Context, _ string, query string) ([]map[string]any, error) {
	f.previewSQL = query
	if query == "DELETE FROM t" {
		return nil, errors.Join(domain.ErrValidation, errors.New("only SELECT queries can be previewed"))
	}
	return []map[string]any{{"id": 1}}, nil
}

func (f *fakeWarehouse) Invalidate(id uuid.UUID) {
	f.invalidated = append(f.invalidated, id)
}
