// Package pipeline выполняет задачи синхронизации данных.
//
// # Обзор
//
// Pipeline читает строки источника серверным курсором, режет их на
// батчи и отдаёт батчи в общий Pool воркеров. Воркер применяет цепочку
// MAPPING узлов, раскладывает строку по полям OUTPUT узла с приведением
// типов и загружает батч одной командой с учётом стратегии конфликтов.
//
//	p := pipeline.New(pipeline.Config{
//	    Warehouse: directory,
//	    Runs:      runRepo,
//	    Events:    publisher,
//	    Logger:    logger,
//	})
//	defer p.Close()
//
//	run, err := p.Begin(ctx, task)
//	...
//	err = p.Execute(ctx, task, run)
//
// # Выполнение run
//
//  1. Разбор графа задачи (engine.ParseSyncSpec)
//  2. Создание или расширение целевой таблицы
//  3. Оценка объёма (COUNT, -1 при LIMIT в запросе)
//  4. TRUNCATE для режима OVERWRITE
//  5. Потоковое чтение и обработка батчей в пуле
//  6. Финализация: SUCCESS или FAILURE с журналом узлов
//
// # Пул воркеров
//
// Фиксированное число воркеров и ограниченная очередь. Если очередь
// заполнена, батч выполняется в горутине чтения (caller-runs).
//
// # Повторы
//
// Запись и удаление повторяются до 5 раз при domain.ErrTransientWrite
// с задержкой base * 2^attempt + джиттер. Прочие ошибки прерывают run.
//
// # Прогресс
//
// Счётчик обработанных строк — atomic.Int64 на run. После каждого
// батча значение сохраняется через RunStore.UpdateProcessed.
package pipeline
