package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/telemetry"
)

// TaskStore — чтение определений задач.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SyncTask, error)
	List(ctx context.Context) ([]domain.SyncTask, error)
}

// RunStore — чтение и финализация run.
type RunStore interface {
	ListByStatus(ctx context.Context, status domain.RunStatus) ([]domain.SyncRun, error)
	LatestByTask(ctx context.Context, taskID uuid.UUID) (*domain.SyncRun, error)
	Update(ctx context.Context, run *domain.SyncRun) error
}

// Runner создаёт и выполняет run (pipeline.Pipeline).
type Runner interface {
	Begin(ctx context.Context, task *domain.SyncTask) (*domain.SyncRun, error)
	Execute(ctx context.Context, task *domain.SyncTask, run *domain.SyncRun) error
}

// Config — конфигурация Manager.
type Config struct {
	Tasks  TaskStore
	Runs   RunStore
	Runner Runner
	Logger *slog.Logger

	// Location — часовой пояс cron-выражений (по умолчанию time.Local).
	Location *time.Location

	// SkipRecovery — не переводить RUNNING run в FAILURE при Start.
	// Выставляется, когда работают другие экземпляры сервера.
	SkipRecovery bool
}

// trigger — установленный cron-триггер задачи.
type trigger struct {
	entry    cron.EntryID
	schedule cron.Schedule
	expr     string
}

// Manager — планировщик и менеджер жизненного цикла run.
//
// Владеет единственным cron-движком. По каждой задаче одновременно
// выполняется не более одного run: срабатывание триггера во время
// выполнения пропускается, ручной запуск отклоняется с ErrTaskRunning.
type Manager struct {
	tasks  TaskStore
	runs   RunStore
	runner Runner
	logger *slog.Logger
	cron   *cron.Cron

	// baseCtx — контекст фоновых run, не зависит от контекста запроса.
	baseCtx context.Context

	mu        sync.Mutex
	started   bool
	recovered bool
	triggers map[uuid.UUID]trigger
	inFlight map[uuid.UUID]uuid.UUID // taskID → runID (uuid.Nil пока run создаётся)

	wg sync.WaitGroup
}

// New создаёт Manager. Cron-движок запускается в Start.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	logger := cfg.Logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}

	return &Manager{
		tasks:  cfg.Tasks,
		runs:   cfg.Runs,
		runner: cfg.Runner,
		logger: logger,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		baseCtx:   context.Background(),
		recovered: cfg.SkipRecovery,
		triggers:  make(map[uuid.UUID]trigger),
		inFlight:  make(map[uuid.UUID]uuid.UUID),
	}
}

// Start восстанавливает прерванные run (если Recover ещё не вызывался),
// запускает cron-движок и устанавливает триггеры всех задач.
//
// Порядок важен: восстановление завершается до первого нового run.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	done := m.recovered
	m.mu.Unlock()

	recovered := 0
	if !done {
		var err error
		if recovered, err = m.Recover(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.baseCtx = context.WithoutCancel(ctx)
	m.started = true
	m.mu.Unlock()

	m.cron.Start()

	tasks, err := m.tasks.List(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	scheduled := 0
	for i := range tasks {
		task := &tasks[i]
		if err := m.Reschedule(task); err != nil {
			m.logger.Warn("task not scheduled", "task_id", task.ID, "cron", task.Cron, "error", err)
			continue
		}
		if task.Schedulable() {
			scheduled++
		}
	}

	m.logger.Info("scheduler started",
		"tasks", len(tasks),
		"scheduled", scheduled,
		"recovered_runs", recovered,
	)
	return nil
}

// Recover переводит run, оставшиеся в RUNNING после падения процесса, в FAILURE.
//
// Run задач, которые этот Manager сейчас выполняет или создаёт, не трогаются.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	runs, err := m.runs.ListByStatus(ctx, domain.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}

	n := 0
	for i := range runs {
		run := &runs[i]
		if m.Running(run.TaskID) {
			continue
		}
		run.MarkFailed(domain.RecoveredMessage)
		if err := m.runs.Update(ctx, run); err != nil {
			m.logger.Error("recover run failed", "run_id", run.ID, "error", err)
			continue
		}
		telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()
		n++
	}
	if n > 0 {
		m.logger.Warn("interrupted runs marked as failed", "count", n)
	}

	m.mu.Lock()
	m.recovered = true
	m.mu.Unlock()
	return n, nil
}

// Stop останавливает cron-движок и ждёт завершения выполняющихся run
// (или отмены ctx).
func (m *Manager) Stop(ctx context.Context) error {
	cronDone := m.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reschedule заменяет триггер задачи.
//
// Триггер устанавливается, только если задача включена и cron не пуст.
// Некорректное выражение возвращает ErrInvalidCron, старый триггер при
// этом уже снят.
func (m *Manager) Reschedule(task *domain.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(task.ID)

	if !task.Schedulable() {
		return nil
	}

	sched, err := ParseCron(task.Cron)
	if err != nil {
		return err
	}

	taskID := task.ID
	entry := m.cron.Schedule(sched, cron.FuncJob(func() { m.fire(taskID) }))
	m.triggers[taskID] = trigger{entry: entry, schedule: sched, expr: task.Cron}

	m.logger.Debug("task scheduled", "task_id", taskID, "cron", task.Cron)
	return nil
}

// Unschedule снимает триггер задачи.
func (m *Manager) Unschedule(taskID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(taskID)
}

func (m *Manager) removeLocked(taskID uuid.UUID) {
	if t, ok := m.triggers[taskID]; ok {
		m.cron.Remove(t.entry)
		delete(m.triggers, taskID)
		m.logger.Debug("task unscheduled", "task_id", taskID)
	}
}

// Scheduled возвращает true, если у задачи есть триггер.
func (m *Manager) Scheduled(taskID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.triggers[taskID]
	return ok
}

// NextFireTime возвращает ближайшее срабатывание триггера задачи.
func (m *Manager) NextFireTime(taskID uuid.UUID) (time.Time, bool) {
	m.mu.Lock()
	t, ok := m.triggers[taskID]
	m.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return t.schedule.Next(time.Now()), true
}

// Running возвращает true, если по задаче выполняется run.
func (m *Manager) Running(taskID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[taskID]
	return ok
}

// RunNow создаёт run синхронно и выполняет его в фоне.
func (m *Manager) RunNow(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get task: %w", err)
	}

	run, err := m.begin(ctx, task)
	if err != nil {
		return uuid.Nil, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(m.runContext(), task, run)
	}()

	m.logger.Info("manual run started", "task_id", task.ID, "run_id", run.ID)
	return run.ID, nil
}

// fire — обработчик срабатывания cron-триггера.
func (m *Manager) fire(taskID uuid.UUID) {
	ctx := m.runContext()
	logger := telemetry.WithTaskID(m.logger, taskID.String())

	task, err := m.tasks.GetByID(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("scheduled task no longer exists, removing trigger")
		m.Unschedule(taskID)
		return
	}
	if err != nil {
		logger.Error("load scheduled task failed", "error", err)
		return
	}
	if !task.Enabled {
		logger.Info("task disabled, skipping trigger")
		return
	}

	run, err := m.begin(ctx, task)
	if errors.Is(err, ErrTaskRunning) {
		logger.Info("previous run still in progress, trigger skipped")
		return
	}
	if err != nil {
		logger.Error("start scheduled run failed", "error", err)
		return
	}

	m.wg.Add(1)
	defer m.wg.Done()
	m.execute(ctx, task, run)
}

// begin резервирует задачу и создаёт run в статусе RUNNING.
func (m *Manager) begin(ctx context.Context, task *domain.SyncTask) (*domain.SyncRun, error) {
	m.mu.Lock()
	if _, busy := m.inFlight[task.ID]; busy {
		m.mu.Unlock()
		return nil, ErrTaskRunning
	}
	m.inFlight[task.ID] = uuid.Nil
	m.mu.Unlock()

	run, err := m.runner.Begin(ctx, task)
	if err != nil {
		m.release(task.ID)
		return nil, fmt.Errorf("begin run: %w", err)
	}

	m.mu.Lock()
	m.inFlight[task.ID] = run.ID
	m.mu.Unlock()
	return run, nil
}

func (m *Manager) execute(ctx context.Context, task *domain.SyncTask, run *domain.SyncRun) {
	defer m.release(task.ID)

	if err := m.runner.Execute(ctx, task, run); err != nil {
		m.logger.Warn("run finished with error",
			"task_id", task.ID,
			"run_id", run.ID,
			"error", err,
		)
	}
}

func (m *Manager) release(taskID uuid.UUID) {
	m.mu.Lock()
	delete(m.inFlight, taskID)
	m.mu.Unlock()
}

func (m *Manager) runContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseCtx
}

// TaskProgress — состояние задачи для мониторинга.
type TaskProgress struct {
	TaskID       uuid.UUID  `json:"task_id"`
	Name         string     `json:"name"`
	Enabled      bool       `json:"enabled"`
	Cron         string     `json:"cron"`
	NextFireTime *time.Time `json:"next_fire_time,omitempty"`
	Running      bool       `json:"running"`

	// Поля последнего run (пустые, если run не было).
	RunID          *uuid.UUID       `json:"run_id,omitempty"`
	Status         domain.RunStatus `json:"status,omitempty"`
	TotalCount     int64            `json:"total_count"`
	ProcessedCount int64            `json:"processed_count"`
	StartTime      *time.Time       `json:"start_time,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// Progress возвращает состояние всех задач с последним run каждой.
func (m *Manager) Progress(ctx context.Context) ([]TaskProgress, error) {
	tasks, err := m.tasks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]TaskProgress, 0, len(tasks))
	for i := range tasks {
		task := &tasks[i]
		p := TaskProgress{
			TaskID:  task.ID,
			Name:    task.Name,
			Enabled: task.Enabled,
			Cron:    task.Cron,
			Running: m.Running(task.ID),
		}
		if next, ok := m.NextFireTime(task.ID); ok && !next.IsZero() {
			p.NextFireTime = &next
		}

		run, err := m.runs.LatestByTask(ctx, task.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("latest run of %s: %w", task.ID, err)
		default:
			id, start := run.ID, run.StartTime
			p.RunID = &id
			p.Status = run.Status
			p.TotalCount = run.TotalCount
			p.ProcessedCount = run.ProcessedCount
			p.StartTime = &start
			p.Message = run.Message
		}

		out = append(out, p)
	}
	return out, nil
}
