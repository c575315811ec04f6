// datasync-server — HTTP API, планировщик задач синхронизации и
// потребитель запросов на запуск из RabbitMQ в одном процессе.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/datasync/internal/api"
	"github.com/shaiso/datasync/internal/config"
	"github.com/shaiso/datasync/internal/interpreter"
	"github.com/shaiso/datasync/internal/mq"
	"github.com/shaiso/datasync/internal/pipeline"
	"github.com/shaiso/datasync/internal/repo"
	"github.com/shaiso/datasync/internal/scheduler"
	"github.com/shaiso/datasync/internal/script"
	"github.com/shaiso/datasync/internal/telemetry"
	"github.com/shaiso/datasync/internal/warehouse"
)

// schedLockKey — ключ advisory lock лидера планировщика.
const schedLockKey int64 = 424242

// instanceLockKey — shared advisory lock, который держит каждый живой экземпляр.
const instanceLockKey int64 = 424243

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting datasync-server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе метаданных
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	taskRepo := repo.NewTaskRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	endpointRepo := repo.NewEndpointRepo(pool)
	connRepo := repo.NewConnectionRepo(pool)
	configRepo := repo.NewConfigRepo(pool)

	dir := warehouse.NewDirectory(warehouse.Config{
		Store:        connRepo,
		Logger:       logger,
		MaxOpenConns: cfg.Sync.MaxOpenConns,
	})
	defer dir.Close()

	interp := interpreter.New(interpreter.Config{
		Queries: dir,
		Scripts: script.New(script.Config{Logger: logger}),
		Logger:  logger,
	})
	endpoints := interpreter.NewEndpoints(endpointRepo, interp, logger)

	// RabbitMQ опционален: без AMQP_URL события run не публикуются
	var (
		mqConn *mq.Connection
		events pipeline.EventPublisher
	)
	if cfg.AMQPURL != "" {
		mqConn, err = mq.NewConnection(cfg.AMQPURL, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer mqConn.Close()

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Error("failed to setup topology", "error", err)
			os.Exit(1)
		}
		events = mq.NewPublisher(mqConn, logger)
	}

	pipe := pipeline.New(pipeline.Config{
		Warehouse: dir,
		Runs:      runRepo,
		Events:    events,
		Workers:   cfg.Sync.Workers,
		QueueSize: cfg.Sync.QueueSize,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BaseDelay:   cfg.Sync.RetryBaseDelay,
			MaxJitter:   pipeline.DefaultRetryPolicy.MaxJitter,
		},
		Logger: logger,
	})
	defer pipe.Close()

	instance, sole, err := claimInstance(ctx, pool)
	if err != nil {
		logger.Error("failed to register instance", "error", err)
		os.Exit(1)
	}
	defer instance.Release()

	mgr := scheduler.New(scheduler.Config{
		Tasks:        taskRepo,
		Runs:         runRepo,
		Runner:       pipe,
		Logger:       logger,
		SkipRecovery: !sole,
	})

	// Прерванные run восстанавливаются до приёма запросов на запуск
	if sole {
		if _, err := mgr.Recover(ctx); err != nil {
			logger.Error("failed to recover interrupted runs", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("other instances are running, startup recovery skipped")
	}

	// Планировщик запускает только лидер
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		runLeader(ctx, pool, mgr, logger)
	}()

	var consumer *mq.Consumer
	if mqConn != nil {
		consumer = mq.NewConsumer(mqConn, mq.ConsumerConfig{
			Queue:   mq.QueueSyncRequests,
			Handler: mq.SyncRequestHandler(mgr, logger),
			Logger:  logger,
		})
		if err := consumer.Start(ctx); err != nil {
			logger.Error("failed to start consumer", "error", err)
			os.Exit(1)
		}
	}

	handler := api.NewHandler(api.Config{
		Tasks:       taskRepo,
		Runs:        runRepo,
		Endpoints:   endpointRepo,
		Connections: connRepo,
		Settings:    configRepo,
		Scheduler:   mgr,
		Invoker:     endpoints,
		Warehouse:   dir,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if consumer != nil {
		consumer.Stop()
	}
	<-leaderDone
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// claimInstance регистрирует процесс shared advisory lock'ом.
//
// sole=true, если других живых экземпляров нет: только тогда RUNNING
// run в базе гарантированно остались от упавших процессов.
// Exclusive lock снимается после взятия shared, поэтому новый экземпляр
// не увидит окна без блокировки.
func claimInstance(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, bool, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var sole bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", instanceLockKey).Scan(&sole); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try instance lock: %w", err)
	}
	if _, err := conn.Exec(ctx, "select pg_advisory_lock_shared($1)", instanceLockKey); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("instance shared lock: %w", err)
	}
	if sole {
		if _, err := conn.Exec(ctx, "select pg_advisory_unlock($1)", instanceLockKey); err != nil {
			conn.Release()
			return nil, false, fmt.Errorf("instance unlock: %w", err)
		}
	}
	return conn, sole, nil
}

// runLeader ждёт advisory lock и запускает планировщик.
//
// Lock удерживается выделенным соединением до отмены ctx,
// поэтому триггеры срабатывают только в одном процессе.
func runLeader(ctx context.Context, pool *pgxpool.Pool, mgr *scheduler.Manager, logger *slog.Logger) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.Error("leader: acquire connection", "error", err)
		return
	}
	defer conn.Release()

	tk := time.NewTicker(5 * time.Second)
	defer tk.Stop()

	for {
		var ok bool
		if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("leader: lock error", "error", err)
		}
		if ok {
			break
		}

		select {
		case <-tk.C:
		case <-ctx.Done():
			return
		}
	}

	defer func() {
		_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
	}()

	logger.Info("leader: scheduler lock acquired")
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return
	}

	<-ctx.Done()
}
