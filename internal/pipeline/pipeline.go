package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/engine"
	"github.com/shaiso/datasync/internal/telemetry"
)

// Значения по умолчанию пула воркеров.
const (
	DefaultWorkers   = 5
	DefaultQueueSize = 100
)

// Config — конфигурация Pipeline.
type Config struct {
	Warehouse Warehouse
	Runs      RunStore

	// Events — публикация событий run (может быть nil).
	Events EventPublisher

	Workers   int
	QueueSize int
	Retry     RetryPolicy
	Logger    *slog.Logger
}

// Pipeline выполняет задачи синхронизации.
//
// Один Pool воркеров разделяется всеми run. Каждый run завершается
// ровно одной финализацией (SUCCESS или FAILURE).
type Pipeline struct {
	warehouse Warehouse
	runs      RunStore
	events    EventPublisher
	retry     RetryPolicy
	pool      *Pool
	logger    *slog.Logger
}

// New создаёт Pipeline и запускает воркеры.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		warehouse: cfg.Warehouse,
		runs:      cfg.Runs,
		events:    cfg.Events,
		retry:     cfg.Retry.withDefaults(),
		pool:      NewPool(cfg.Workers, cfg.QueueSize),
		logger:    cfg.Logger.With("component", "pipeline"),
	}
}

// Close останавливает воркеры, дождавшись очереди.
func (p *Pipeline) Close() {
	p.pool.Close()
}

// runState — состояние одного выполнения.
type runState struct {
	task   *domain.SyncTask
	run    *domain.SyncRun
	spec   *engine.SyncSpec
	logger *slog.Logger

	// key — колонка ON CONFLICT после сверки схемы, пустая для обычного INSERT.
	key string

	processed atomic.Int64

	wg      sync.WaitGroup
	failed  atomic.Bool
	errOnce sync.Once
	err     error
}

// fail запоминает первую ошибку батча.
func (st *runState) fail(err error) {
	st.errOnce.Do(func() {
		st.err = err
		st.failed.Store(true)
	})
}

// Begin создаёт и сохраняет run в статусе RUNNING.
func (p *Pipeline) Begin(ctx context.Context, task *domain.SyncTask) (*domain.SyncRun, error) {
	run := domain.NewSyncRun(task)
	if err := p.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	p.publish(ctx, run, false)
	return run, nil
}

// Run создаёт run и выполняет его синхронно.
//
// Возвращённый run всегда финализирован, если err не связан с его созданием.
func (p *Pipeline) Run(ctx context.Context, task *domain.SyncTask) (*domain.SyncRun, error) {
	run, err := p.Begin(ctx, task)
	if err != nil {
		return nil, err
	}
	return run, p.Execute(ctx, task, run)
}

// Execute выполняет созданный Begin run и финализирует его.
//
// Шаги:
//  1. Разбор и валидация графа задачи
//  2. Подключение к приёмнику и источнику
//  3. Создание/расширение целевой таблицы
//  4. Оценка объёма источника, TRUNCATE для OVERWRITE
//  5. Потоковое чтение источника, батчи в пул воркеров
//  6. Ожидание всех батчей, финализация run
func (p *Pipeline) Execute(ctx context.Context, task *domain.SyncTask, run *domain.SyncRun) error {
	if run.IsFinished() {
		return ErrRunFinished
	}

	st := &runState{
		task: task,
		run:  run,
		logger: telemetry.WithRunID(
			telemetry.WithTaskID(p.logger, task.ID.String()),
			run.ID.String(),
		),
	}

	st.logger.Info("sync run started", "task_name", task.Name)

	traces, err := p.execute(ctx, st)
	p.finalize(ctx, st, traces, err)
	return err
}

func (p *Pipeline) execute(ctx context.Context, st *runState) ([]domain.TraceEntry, error) {
	g, err := engine.Parse(st.task.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	spec, err := engine.ParseSyncSpec(g)
	if err != nil {
		return nil, err
	}
	st.spec = spec

	traces := startTraces(spec)

	key, err := p.prepareTarget(ctx, &spec.Output, st.logger)
	if err != nil {
		return traces, err
	}
	st.key = key

	src, err := p.warehouse.Source(ctx, spec.Input.ConnectionID)
	if err != nil {
		return traces, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	st.run.TotalCount = p.estimate(ctx, src, spec.Input.SQL, st.logger)
	if err := p.runs.Update(ctx, st.run); err != nil {
		st.logger.Warn("persist total count failed", "error", err)
	}

	batches := 0
	streamErr := src.Stream(ctx, spec.Input.SQL, spec.Input.BatchSize, func(rows []domain.Row) error {
		if st.failed.Load() {
			return errAborted
		}
		batches++
		num := batches
		st.wg.Add(1)
		p.pool.Submit(func() {
			defer st.wg.Done()
			if st.failed.Load() {
				return
			}
			if err := p.processBatch(ctx, st, rows, num); err != nil {
				st.logger.Error("batch failed", "batch", num, "error", err)
				st.fail(err)
			}
		})
		return nil
	})

	st.wg.Wait()

	if st.err != nil {
		return traces, st.err
	}
	if streamErr != nil && !errors.Is(streamErr, errAborted) {
		return traces, fmt.Errorf("read source: %w", streamErr)
	}

	st.logger.Info("source exhausted", "batches", batches)
	return traces, nil
}

// prepareTarget сверяет схему и очищает таблицу в режиме OVERWRITE.
// Подключение закрывается до начала чтения источника: батчи берут
// собственные подключения из того же пула.
func (p *Pipeline) prepareTarget(ctx context.Context, out *engine.OutputSpec, logger *slog.Logger) (string, error) {
	tgt, err := p.warehouse.Target(ctx, out.ConnectionID)
	if err != nil {
		return "", fmt.Errorf("open target: %w", err)
	}
	defer tgt.Close()

	key, err := reconcileSchema(ctx, tgt, out, logger)
	if err != nil {
		return "", err
	}

	if out.WriteMode == domain.WriteModeOverwrite {
		if err := tgt.Truncate(ctx, out.Table); err != nil {
			return "", fmt.Errorf("truncate target: %w", err)
		}
		logger.Info("target table truncated", "table", out.Table)
	}
	return key, nil
}

// estimate возвращает число строк источника или domain.UnknownTotal,
// если запрос содержит LIMIT или подсчёт не удался.
func (p *Pipeline) estimate(ctx context.Context, src Source, query string, logger *slog.Logger) int64 {
	if strings.Contains(strings.ToLower(query), "limit") {
		return domain.UnknownTotal
	}
	n, err := src.Count(ctx, query)
	if err != nil {
		logger.Warn("count source rows failed", "error", err)
		return domain.UnknownTotal
	}
	return n
}

// startTraces открывает записи журнала INPUT, MAPPING и OUTPUT.
func startTraces(spec *engine.SyncSpec) []domain.TraceEntry {
	traces := make([]domain.TraceEntry, 0, len(spec.Mappings)+2)

	in := domain.StartTrace(spec.Input.NodeID, engine.KindInput, nodeName(spec.Input.Label, "PostgreSQL input"))
	in.Details["sql"] = spec.Input.SQL
	in.Details["batchSize"] = spec.Input.BatchSize
	traces = append(traces, in)

	for _, m := range spec.Mappings {
		e := domain.StartTrace(m.NodeID, engine.KindMapping, nodeName(m.Label, "Field mapping"))
		e.Details["mappingCount"] = len(m.Pairs)
		traces = append(traces, e)
	}

	out := domain.StartTrace(spec.Output.NodeID, engine.KindOutput, nodeName(spec.Output.Label, "PostgreSQL output"))
	out.Details["tableName"] = spec.Output.Table
	out.Details["writeMode"] = string(spec.Output.WriteMode)
	traces = append(traces, out)

	return traces
}

func nodeName(label, def string) string {
	if label != "" {
		return label
	}
	return def
}

// finalize фиксирует итог run. Вызывается ровно один раз на run.
func (p *Pipeline) finalize(ctx context.Context, st *runState, traces []domain.TraceEntry, runErr error) {
	ctx = context.WithoutCancel(ctx)
	run := st.run
	processed := st.processed.Load()

	for _, e := range traces {
		run.AddTrace(e.Close(processed))
	}

	if runErr == nil {
		run.MarkSucceeded(processed)
		st.logger.Info("sync run succeeded", "processed", processed, "total", run.TotalCount)
	} else {
		e := domain.StartTrace("", "ERROR", "Execution Error")
		e.Details["error"] = runErr.Error()
		run.AddTrace(e.Close(0))

		run.ProcessedCount = processed
		run.MarkFailed(runErr.Error())
		st.logger.Error("sync run failed", "processed", processed, "error", runErr)
	}

	if err := p.runs.Update(ctx, run); err != nil {
		st.logger.Error("persist run result failed", "error", err)
	}
	telemetry.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	p.publish(ctx, run, true)
}

func (p *Pipeline) publish(ctx context.Context, run *domain.SyncRun, finished bool) {
	if p.events == nil {
		return
	}
	var err error
	if finished {
		err = p.events.PublishRunFinished(ctx, run)
	} else {
		err = p.events.PublishRunStarted(ctx, run)
	}
	if err != nil {
		p.logger.Warn("publish run event failed", "run_id", run.ID, "finished", finished, "error", err)
	}
}
