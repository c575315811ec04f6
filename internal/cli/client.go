package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (CLI не импортирует internal/api) ---

// TaskResponse — задача из API.
type TaskResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Cron        string          `json:"cron,omitempty"`
	Enabled     bool            `json:"enabled"`
	Content     json.RawMessage `json:"content,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TraceEntry — запись журнала узла.
type TraceEntry struct {
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	NodeName   string         `json:"node_name,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	RowCount   int64          `json:"row_count"`
	Details    map[string]any `json:"details,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string       `json:"id"`
	TaskID         string       `json:"task_id"`
	TaskName       string       `json:"task_name"`
	Status         string       `json:"status"`
	StartTime      time.Time    `json:"start_time"`
	EndTime        *time.Time   `json:"end_time,omitempty"`
	DurationMs     int64        `json:"duration_ms"`
	TotalCount     int64        `json:"total_count"`
	ProcessedCount int64        `json:"processed_count"`
	Message        string       `json:"message,omitempty"`
	Trace          []TraceEntry `json:"trace,omitempty"`
}

// RunStartedResponse — ответ на ручной запуск.
type RunStartedResponse struct {
	TaskID string `json:"task_id"`
	RunID  string `json:"run_id"`
}

// TaskProgress — строка мониторинга.
type TaskProgress struct {
	TaskID         string     `json:"task_id"`
	Name           string     `json:"name"`
	Enabled        bool       `json:"enabled"`
	Cron           string     `json:"cron"`
	NextFireTime   *time.Time `json:"next_fire_time,omitempty"`
	Running        bool       `json:"running"`
	RunID          string     `json:"run_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	TotalCount     int64      `json:"total_count"`
	ProcessedCount int64      `json:"processed_count"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	Message        string     `json:"message,omitempty"`
}

// RunStats — статистика run за сегодня.
type RunStats struct {
	Total     int64 `json:"total"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Rows      int64 `json:"rows"`
}

// CronNextResponse — ближайшие срабатывания.
type CronNextResponse struct {
	Cron  string   `json:"cron"`
	Times []string `json:"times"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	TaskID string
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая сервером.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для datasync API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Tasks ---

// ListTasks возвращает все задачи.
func (c *Client) ListTasks() ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.get("/api/v1/tasks", nil, &tasks)
	return tasks, err
}

// GetTask возвращает задачу по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+url.PathEscape(id), nil, &task)
	return &task, err
}

// RunTask запускает задачу вне расписания.
func (c *Client) RunTask(id string) (*RunStartedResponse, error) {
	var resp RunStartedResponse
	err := c.send(http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/run", nil, &resp)
	return &resp, err
}

// SetTaskEnabled включает или выключает расписание задачи.
func (c *Client) SetTaskEnabled(id string, enabled bool) (*TaskResponse, error) {
	var task TaskResponse
	body := map[string]bool{"enabled": enabled}
	err := c.send(http.MethodPut, "/api/v1/tasks/"+url.PathEscape(id)+"/enabled", body, &task)
	return &task, err
}

// CopyTask создаёт выключенную копию задачи.
func (c *Client) CopyTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.send(http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/copy", nil, &task)
	return &task, err
}

// LatestRun возвращает последний run задачи.
func (c *Client) LatestRun(taskID string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/tasks/"+url.PathEscape(taskID)+"/latest-run", nil, &run)
	return &run, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.TaskID != "" {
		params.Set("task_id", opts.TaskID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.get("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id), nil, &run)
	return &run, err
}

// --- Monitoring ---

// Monitor возвращает состояние всех задач.
func (c *Client) Monitor() ([]TaskProgress, error) {
	var progress []TaskProgress
	err := c.get("/api/v1/monitor/tasks", nil, &progress)
	return progress, err
}

// Stats возвращает статистику run за сегодня.
func (c *Client) Stats() (*RunStats, error) {
	var stats RunStats
	err := c.get("/api/v1/monitor/stats", nil, &stats)
	return &stats, err
}

// CronNext возвращает ближайшие срабатывания cron-выражения.
func (c *Client) CronNext(expr string, count int) (*CronNextResponse, error) {
	params := url.Values{"cron": {expr}}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}
	var resp CronNextResponse
	err := c.get("/api/v1/cron/next", params, &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.send(http.MethodGet, path, nil, result)
}

// send выполняет запрос и разбирает поле data ответа в result.
func (c *Client) send(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
