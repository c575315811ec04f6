package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/interpreter"
	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/scheduler"
)

type testDeps struct {
	tasks     *memTasks
	runs      *memRuns
	endpoints *memEndpoints
	conns     *memConnections
	settings  *memSettings
	sched     *fakeScheduler
	invoker   *fakeInvoker
	wh        *fakeWarehouse
	mux       *http.ServeMux
}

func newTestAPI(tasks ...domain.SyncTask) *testDeps {
	d := &testDeps{
		tasks:     newMemTasks(tasks...),
		runs:      &memRuns{},
		endpoints: &memEndpoints{eps: map[uuid.UUID]domain.Endpoint{}},
		conns:     &memConnections{conns: map[uuid.UUID]domain.Connection{}},
		settings:  &memSettings{values: map[string]string{}},
		invoker:   &fakeInvoker{},
		wh:        &fakeWarehouse{},
		mux:       http.NewServeMux(),
	}
	d.sched = &fakeScheduler{tasks: d.tasks, running: map[uuid.UUID]bool{}}

	h := NewHandler(Config{
		Tasks:       d.tasks,
		Runs:        d.runs,
		Endpoints:   d.endpoints,
		Connections: d.conns,
		Settings:    d.settings,
		Scheduler:   d.sched,
		Invoker:     d.invoker,
		Warehouse:   d.wh,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.RegisterRoutes(d.mux)
	return d
}

func (d *testDeps) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	d.mux.ServeHTTP(rec, req)
	return rec
}

// decode разбирает {"data": ...} в v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, resp.Data)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (%s)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func sampleTask(name string) domain.SyncTask {
	return domain.SyncTask{ID: uuid.New(), Name: name, Cron: "0 0 * * * ?", Enabled: true}
}

func TestCreateTask(t *testing.T) {
	d := newTestAPI()

	rec := d.do(t, http.MethodPost, "/api/v1/tasks", `{"name": "orders", "enabled": true, "content": {"nodes": []}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var task domain.SyncTask
	decode(t, rec, &task)
	// включённая задача без cron получает расписание по умолчанию
	if task.Cron != domain.DefaultCron {
		t.Errorf("expected default cron, got %q", task.Cron)
	}
	if len(d.sched.rescheduled) != 1 || d.sched.rescheduled[0].ID != task.ID {
		t.Errorf("expected trigger installed for new task, got %v", d.sched.rescheduled)
	}
}

func TestCreateTask_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no name", `{"cron": "* * * * *"}`},
		{"bad cron", `{"name": "x", "cron": "every day"}`},
		{"bad content", `{"name": "x", "content": "not a graph"}`},
		{"bad json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestAPI()
			rec := d.do(t, http.MethodPost, "/api/v1/tasks", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateTask_DuplicateName(t *testing.T) {
	d := newTestAPI(sampleTask("orders"))

	rec := d.do(t, http.MethodPost, "/api/v1/tasks", `{"name": "orders"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestUpdateTask_Reschedules(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)

	rec := d.do(t, http.MethodPut, "/api/v1/tasks/"+task.ID.String(), `{"cron": "*/5 * * * *"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, _ := d.tasks.GetByID(t.Context(), task.ID)
	if stored.Cron != "*/5 * * * *" || stored.Name != "orders" {
		t.Errorf("unexpected stored task: %+v", stored)
	}
	if len(d.sched.rescheduled) != 1 || d.sched.rescheduled[0].Cron != "*/5 * * * *" {
		t.Errorf("expected reschedule with new cron, got %v", d.sched.rescheduled)
	}
}

func TestSetTaskEnabled(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)

	rec := d.do(t, http.MethodPut, "/api/v1/tasks/"+task.ID.String()+"/enabled", `{"enabled": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	stored, _ := d.tasks.GetByID(t.Context(), task.ID)
	if stored.Enabled {
		t.Error("task should be disabled")
	}
	if len(d.sched.rescheduled) != 1 || d.sched.rescheduled[0].Enabled {
		t.Errorf("expected reschedule of disabled task, got %v", d.sched.rescheduled)
	}

	// выключенную задачу можно запустить вручную
	rec = d.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/run", "")
	if rec.Code != http.StatusAccepted {
		t.Errorf("manual run of disabled task: expected 202, got %d", rec.Code)
	}
}

func TestDeleteTask_Unschedules(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)

	rec := d.do(t, http.MethodDelete, "/api/v1/tasks/"+task.ID.String(), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(d.sched.unscheduled) != 1 || d.sched.unscheduled[0] != task.ID {
		t.Errorf("expected trigger removed, got %v", d.sched.unscheduled)
	}

	rec = d.do(t, http.MethodDelete, "/api/v1/tasks/"+task.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestRunTask(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)

	rec := d.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/run", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var resp RunStartedResponse
	decode(t, rec, &resp)
	if resp.TaskID != task.ID || resp.RunID == uuid.Nil {
		t.Errorf("unexpected response %+v", resp)
	}

	d.sched.running[task.ID] = true
	rec = d.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/run", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("running task: expected 409, got %d", rec.Code)
	}

	rec = d.do(t, http.MethodPost, "/api/v1/tasks/"+uuid.NewString()+"/run", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown task: expected 404, got %d", rec.Code)
	}

	rec = d.do(t, http.MethodPost, "/api/v1/tasks/not-a-uuid/run", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestCopyTask(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)

	rec := d.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/copy", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var cp domain.SyncTask
	decode(t, rec, &cp)
	if cp.Name != "orders_copy" || cp.Enabled || cp.ID == task.ID {
		t.Errorf("unexpected copy %+v", cp)
	}
	// копия не получает триггер
	if len(d.sched.rescheduled) != 0 {
		t.Errorf("copy should not be scheduled, got %v", d.sched.rescheduled)
	}
}

func TestLatestRun(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)

	rec := d.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID.String()+"/latest-run", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("no runs: expected 404, got %d", rec.Code)
	}

	first := domain.NewSyncRun(&task)
	second := domain.NewSyncRun(&task)
	d.runs.runs = []domain.SyncRun{*first, *second}

	rec = d.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID.String()+"/latest-run", "")
	var run domain.SyncRun
	decode(t, rec, &run)
	if run.ID != second.ID {
		t.Errorf("expected latest run %s, got %s", second.ID, run.ID)
	}
}

func TestListRuns_Filter(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)

	ok := domain.NewSyncRun(&task)
	ok.MarkSucceeded(3)
	failed := domain.NewSyncRun(&task)
	failed.MarkFailed("boom")
	d.runs.runs = []domain.SyncRun{*ok, *failed}

	rec := d.do(t, http.MethodGet, "/api/v1/runs?task_id="+task.ID.String()+"&status=FAILURE&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var runs []domain.SyncRun
	decode(t, rec, &runs)
	if len(runs) != 1 || runs[0].ID != failed.ID {
		t.Errorf("expected only the failed run, got %v", runs)
	}
	if d.runs.last.Limit != 10 {
		t.Errorf("expected limit 10, got %d", d.runs.last.Limit)
	}

	for _, q := range []string{"status=DONE", "task_id=x", "limit=-1"} {
		if rec := d.do(t, http.MethodGet, "/api/v1/runs?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestGetRun(t *testing.T) {
	task := sampleTask("orders")
	d := newTestAPI(task)
	run := domain.NewSyncRun(&task)
	run.AddTrace(domain.StartTrace("in", "INPUT", "PostgreSQL input").Close(10))
	d.runs.runs = []domain.SyncRun{*run}

	rec := d.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String(), "")
	var got domain.SyncRun
	decode(t, rec, &got)
	if len(got.Trace) != 1 || got.Trace[0].RowCount != 10 {
		t.Errorf("expected trace in response, got %+v", got.Trace)
	}
}

func TestMonitor(t *testing.T) {
	d := newTestAPI()
	d.sched.progress = []scheduler.TaskProgress{{TaskID: uuid.New(), Name: "orders", Running: true}}
	d.runs.stats = repo.RunStats{Total: 3, Succeeded: 2, Failed: 1, Rows: 30}

	rec := d.do(t, http.MethodGet, "/api/v1/monitor/tasks", "")
	var progress []scheduler.TaskProgress
	decode(t, rec, &progress)
	if len(progress) != 1 || !progress[0].Running {
		t.Errorf("unexpected progress %v", progress)
	}

	rec = d.do(t, http.MethodGet, "/api/v1/monitor/stats", "")
	var stats repo.RunStats
	decode(t, rec, &stats)
	if stats != d.runs.stats {
		t.Errorf("expected %+v, got %+v", d.runs.stats, stats)
	}
	// статистика с начала текущих суток
	if h, m, s := d.runs.since.Clock(); h != 0 || m != 0 || s != 0 {
		t.Errorf("expected midnight, got %s", d.runs.since)
	}
}

func TestCronNext(t *testing.T) {
	d := newTestAPI()

	rec := d.do(t, http.MethodGet, "/api/v1/cron/next?cron=0+0+*+*+*+%3F&count=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CronNextResponse
	decode(t, rec, &resp)
	if len(resp.Times) != 3 {
		t.Fatalf("expected 3 times, got %v", resp.Times)
	}
	for _, s := range resp.Times {
		ts, err := time.ParseInLocation(time.DateTime, s, time.Local)
		if err != nil {
			t.Fatalf("bad time %q: %v", s, err)
		}
		if ts.Minute() != 0 || ts.Second() != 0 {
			t.Errorf("expected top of the hour, got %s", s)
		}
	}

	if rec := d.do(t, http.MethodGet, "/api/v1/cron/next?cron=bad", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad cron: expected 400, got %d", rec.Code)
	}
}

func TestEndpointCRUD(t *testing.T) {
	d := newTestAPI()

	rec := d.do(t, http.MethodPost, "/api/v1/endpoints", `{"name": "daily", "path": "orders/daily/", "method": "get", "content": {"nodes": []}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var ep domain.Endpoint
	decode(t, rec, &ep)
	if ep.Path != "/orders/daily" || ep.Method != "GET" || ep.Access != domain.EndpointPublic || ep.Status != domain.EndpointDraft {
		t.Errorf("endpoint not normalized: %+v", ep)
	}

	rec = d.do(t, http.MethodPut, "/api/v1/endpoints/"+ep.ID.String(), `{"name": "daily", "path": "/orders/daily", "status": "ONLINE", "access": "PRIVATE"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ := d.endpoints.GetByID(t.Context(), ep.ID)
	if !stored.IsOnline() || stored.Access != domain.EndpointPrivate {
		t.Errorf("update not applied: %+v", stored)
	}

	rec = d.do(t, http.MethodPost, "/api/v1/endpoints", `{"name": "x", "path": "/x", "access": "SECRET"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad access: expected 400, got %d", rec.Code)
	}

	rec = d.do(t, http.MethodDelete, "/api/v1/endpoints/"+ep.ID.String(), "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
}

func TestDebugEndpoint(t *testing.T) {
	d := newTestAPI()
	ep := domain.Endpoint{ID: uuid.New(), Name: "draft", Path: "/draft", Method: "GET", Status: domain.EndpointDraft}
	d.endpoints.eps[ep.ID] = ep
	d.invoker.result = []any{map[string]any{"n": 1}}

	rec := d.do(t, http.MethodPost, "/api/v1/endpoints/"+ep.ID.String()+"/debug", `{"params": {"day": "2024-01-01"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if d.invoker.params["day"] != "2024-01-01" {
		t.Errorf("params not passed: %v", d.invoker.params)
	}
}

func TestInvoke(t *testing.T) {
	d := newTestAPI()
	d.invoker.result = map[string]any{"total": 42.0}

	req := httptest.NewRequest(http.MethodPost, "/invoke/orders/daily?day=2024-01-01", strings.NewReader(`{"limit": 5, "__token": "forged"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	d.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if d.invoker.path != "/orders/daily" || d.invoker.method != http.MethodPost {
		t.Errorf("unexpected route %s %s", d.invoker.method, d.invoker.path)
	}
	if d.invoker.params["day"] != "2024-01-01" || d.invoker.params["limit"] != 5.0 {
		t.Errorf("params not merged: %v", d.invoker.params)
	}
	if d.invoker.params[interpreter.KeyToken] != "secret" {
		t.Errorf("token should come from header, got %v", d.invoker.params[interpreter.KeyToken])
	}

	var result map[string]any
	decode(t, rec, &result)
	if result["total"] != 42.0 {
		t.Errorf("unexpected result %v", result)
	}
}

func TestInvoke_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   ErrorCode
	}{
		{interpreter.ErrEndpointNotFound, http.StatusNotFound, ErrCodeNotFound},
		{interpreter.ErrEndpointOffline, http.StatusNotFound, ErrCodeNotFound},
		{interpreter.ErrAuthRequired, http.StatusUnauthorized, ErrCodeUnauthorized},
		{fmt.Errorf("%w: node q1: syntax error", interpreter.ErrExecutionFailed), http.StatusInternalServerError, ErrCodeExecutionFailed},
		{errors.New("db down"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			d := newTestAPI()
			d.invoker.err = tt.err

			rec := d.do(t, http.MethodGet, "/invoke/x", "")
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := errorCode(t, rec); got != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestInvoke_BodyMustBeObject(t *testing.T) {
	d := newTestAPI()

	rec := d.do(t, http.MethodPost, "/invoke/x", `[1, 2]`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestConnections(t *testing.T) {
	d := newTestAPI()

	rec := d.do(t, http.MethodPost, "/api/v1/connections", `{"name": "dwh", "host": "db.local", "port": 5432, "database": "dwh", "username": "etl", "password": "secret"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("password must not be returned")
	}

	var c domain.Connection
	decode(t, rec, &c)
	if c.Kind != domain.ConnectionPostgres {
		t.Errorf("expected POSTGRES by default, got %q", c.Kind)
	}

	// пустой пароль при обновлении сохраняет прежний
	rec = d.do(t, http.MethodPut, "/api/v1/connections/"+c.ID.String(), `{"name": "dwh", "host": "db2.local", "database": "dwh", "username": "etl"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ := d.conns.GetByID(t.Context(), c.ID)
	if stored.Password != "secret" || stored.Host != "db2.local" {
		t.Errorf("unexpected stored connection %+v", stored)
	}
	if len(d.wh.invalidated) != 1 {
		t.Errorf("expected cached pool invalidated, got %v", d.wh.invalidated)
	}

	rec = d.do(t, http.MethodPost, "/api/v1/connections", `{"name": "x", "kind": "MYSQL", "host": "h", "database": "d"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported kind: expected 400, got %d", rec.Code)
	}
}

func TestTestConnection(t *testing.T) {
	d := newTestAPI()
	c := domain.Connection{ID: uuid.New(), Name: "dwh", Kind: domain.ConnectionPostgres, Host: "h", Database: "d"}
	d.conns.conns[c.ID] = c

	rec := d.do(t, http.MethodPost, "/api/v1/connections/"+c.ID.String()+"/test", "")
	var resp ConnectionTestResponse
	decode(t, rec, &resp)
	if !resp.OK {
		t.Errorf("expected ok, got %+v", resp)
	}

	d.wh.testErr = errors.New("connection refused")
	rec = d.do(t, http.MethodPost, "/api/v1/connections/"+c.ID.String()+"/test", "")
	decode(t, rec, &resp)
	if resp.OK || resp.Error != "connection refused" {
		t.Errorf("expected failure details, got %+v", resp)
	}
}

func TestPreviewQuery(t *testing.T) {
	d := newTestAPI()
	id := uuid.NewString()

	rec := d.do(t, http.MethodPost, "/api/v1/connections/"+id+"/preview", `{"sql": "SELECT * FROM t"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = d.do(t, http.MethodPost, "/api/v1/connections/"+id+"/preview", `{"sql": "DELETE FROM t"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-select: expected 400, got %d", rec.Code)
	}
}

func TestConfig(t *testing.T) {
	d := newTestAPI()

	rec := d.do(t, http.MethodPut, "/api/v1/config", `{"sync.workers": "8"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var all map[string]string
	decode(t, rec, &all)
	if all["sync.workers"] != "8" {
		t.Errorf("unexpected config %v", all)
	}
}

func TestHealth(t *testing.T) {
	d := newTestAPI()

	rec := d.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = d.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics not served: %d", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
