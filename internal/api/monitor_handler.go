package api

import (
	"net/http"
	"time"

	"github.com/shaiso/datasync/internal/scheduler"
)

var startTime = time.Now()

// MonitorTasks возвращает состояние задач: триггер, выполнение, последний run.
// GET /api/v1/monitor/tasks
func (h *Handler) MonitorTasks(w http.ResponseWriter, r *http.Request) {
	progress, err := h.scheduler.Progress(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	List(w, progress, len(progress))
}

// MonitorStats возвращает статистику run за сегодня.
// GET /api/v1/monitor/stats
func (h *Handler) MonitorStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	stats, err := h.runs.StatsSince(r.Context(), today)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	Success(w, stats)
}

// CronNext возвращает ближайшие срабатывания cron-выражения.
// GET /api/v1/cron/next?cron=...&count=...
func (h *Handler) CronNext(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("cron")
	count, err := queryInt(r.URL.Query().Get("count"), 5)
	if err != nil || count > 100 {
		BadRequest(w, "invalid count")
		return
	}

	times, err := scheduler.NextExecutions(expr, time.Now(), count)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	out := make([]string, len(times))
	for i, t := range times {
		out[i] = t.Format(time.DateTime)
	}
	Success(w, CronNextResponse{Cron: expr, Times: out})
}

// GetConfig возвращает системные настройки.
// GET /api/v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.All(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}
	Success(w, all)
}

// SetConfig сохраняет переданные ключи настроек.
// PUT /api/v1/config
func (h *Handler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if !decodeJSON(w, r, &req) {
		return
	}

	for key, value := range req {
		if key == "" {
			BadRequest(w, "empty config key")
			return
		}
		if HandleRepoError(w, h.logger, h.settings.Set(r.Context(), key, value), "") {
			return
		}
	}

	h.GetConfig(w, r)
}

// Health — проверка живости процесса.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(startTime).Round(time.Second).String(),
	})
}
