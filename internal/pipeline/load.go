package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/telemetry"
)

// processBatch обрабатывает один батч в воркере:
// маппинг, проекция на поля, загрузка, счётчик прогресса, удаление из источника.
//
// Воркер открывает собственные подключения к приёмнику и источнику.
func (p *Pipeline) processBatch(ctx context.Context, st *runState, batch []domain.Row, num int) error {
	start := time.Now()
	logger := st.logger.With("batch", num)
	out := &st.spec.Output

	rows := applyMappings(batch, st.spec.Mappings)
	columns, values := project(rows, out.Fields, logger)
	mapped := time.Now()

	req := &domain.WriteRequest{
		Table:      out.Table,
		Columns:    columns,
		Rows:       values,
		PrimaryKey: st.key,
		Conflict:   out.Conflict,
	}
	if err := p.load(ctx, out.ConnectionID, req, logger); err != nil {
		return fmt.Errorf("batch %d: %w", num, err)
	}
	loaded := time.Now()

	processed := st.processed.Add(int64(len(batch)))
	telemetry.RowsSynced.Add(float64(len(values)))
	if err := p.runs.UpdateProcessed(ctx, st.run.ID, processed); err != nil {
		logger.Warn("update processed count failed", "error", err)
	}

	var deleted int64
	if out.DeletesSource() {
		n, err := p.deleteSource(ctx, st, batch, logger)
		if err != nil {
			return fmt.Errorf("batch %d: %w", num, err)
		}
		deleted = n
	}

	telemetry.BatchDuration.Observe(time.Since(start).Seconds())
	logger.Debug("batch processed",
		"size", len(batch),
		"processed", processed,
		"deleted", deleted,
		"mapping_ms", mapped.Sub(start).Milliseconds(),
		"insert_ms", loaded.Sub(mapped).Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// load записывает батч в приёмник с повтором временных ошибок.
func (p *Pipeline) load(ctx context.Context, connID string, req *domain.WriteRequest, logger *slog.Logger) error {
	tgt, err := p.warehouse.Target(ctx, connID)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer tgt.Close()

	return withRetry(ctx, p.retry, "write", logger, func() error {
		return tgt.Write(ctx, req)
	})
}

// deleteSource удаляет из источника строки батча по ключу источника.
func (p *Pipeline) deleteSource(ctx context.Context, st *runState, batch []domain.Row, logger *slog.Logger) (int64, error) {
	out := &st.spec.Output
	keys := keyValues(batch, out.SourcePrimaryKey)
	if len(keys) < len(batch) {
		logger.Warn("rows without source key skipped on delete",
			"key", out.SourcePrimaryKey,
			"skipped", len(batch)-len(keys),
		)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	src, err := p.warehouse.Source(ctx, st.spec.Input.ConnectionID)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	var deleted int64
	err = withRetry(ctx, p.retry, "delete", logger, func() error {
		n, err := src.Delete(ctx, out.SourceTable, out.SourcePrimaryKey, keys)
		deleted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete from source: %w", err)
	}
	return deleted, nil
}
