package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/shaiso/datasync/internal/domain"
	"github.com/shaiso/datasync/internal/telemetry"
)

// RetryPolicy — повтор записи после временных ошибок (deadlock, таймаут блокировки).
//
// Задержка перед попыткой n (n >= 1): BaseDelay * 2^n + rand(0..MaxJitter).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration
}

// DefaultRetryPolicy — 5 попыток, база 1s, джиттер до 1s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxJitter:   time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	return p
}

// backoff возвращает задержку перед попыткой attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if p.MaxJitter > 0 {
		d += rand.N(p.MaxJitter)
	}
	return d
}

// withRetry выполняет fn, повторяя при domain.ErrTransientWrite.
// Остальные ошибки возвращаются сразу.
func withRetry(ctx context.Context, policy RetryPolicy, op string, logger *slog.Logger, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrTransientWrite) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			break
		}

		delay := policy.backoff(attempt)
		telemetry.WriteRetries.WithLabelValues(op).Inc()
		logger.Warn("transient write error, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, policy.MaxAttempts, err)
}
