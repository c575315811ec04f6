// Package scheduler запускает задачи синхронизации по cron и управляет
// жизненным циклом run.
//
// Структура:
//   - scheduler.go — Manager (триггеры, ручной запуск, восстановление, прогресс)
//   - cron.go      — разбор cron-выражений и предпросмотр срабатываний
//
// Использование:
//
//	mgr := scheduler.New(scheduler.Config{
//	    Tasks:  taskRepo,
//	    Runs:   runRepo,
//	    Runner: pipeline,
//	    Logger: logger,
//	})
//
//	// RUNNING run предыдущего процесса → FAILURE, затем триггеры
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(shutdownCtx)
//
//	runID, err := mgr.RunNow(ctx, taskID)
//
// Cron-выражения принимаются с секундами и без, в том числе в стиле
// Quartz ("0 0 * * * ?").
//
// Эксклюзивность: по одной задаче одновременно выполняется не более
// одного run. Срабатывание триггера во время выполнения пропускается,
// RunNow возвращает ErrTaskRunning.
//
// Leader Election:
//
// Manager не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
package scheduler
