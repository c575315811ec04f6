package warehouse

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shaiso/datasync/internal/domain"
)

// SQLSTATE кодов, после которых запись можно повторить.
const (
	sqlstateLockNotAvailable = "55P03"
	sqlstateDeadlock         = "40P01"
)

// classify оборачивает ошибку записи в domain.ErrTransientWrite
// (deadlock, таймаут блокировки) или domain.ErrPermanentWrite.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTransientWrite) || errors.Is(err, domain.ErrPermanentWrite) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransientWrite, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrPermanentWrite, err)
}

// IsTransient проверяет, что ошибка PostgreSQL — deadlock или таймаут блокировки.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlstateLockNotAvailable || pgErr.Code == sqlstateDeadlock
}
