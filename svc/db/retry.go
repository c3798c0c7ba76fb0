package db

import (
	"context"
	"time"

	"pobbin/metrics"
	"pobbin/pkg/domain"
	"pobbin/svc/util"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultRetries   = 3
	DefaultRetryBase = 50 * time.Millisecond
	maxRetryDelay    = 2 * time.Second
	retryJitterPct   = 10
)

// Storage retries transient backend failures and converts what is left into
// domain errors. ErrNotFound is passed through untouched so callers can attach
// the id they were looking for.
type Storage struct {
	backend Backend
	retries uint64
	base    time.Duration
}

func NewStorage(b Backend, retries int, base time.Duration) *Storage {
	if retries < 0 {
		retries = 0
	}
	if base <= 0 {
		base = DefaultRetryBase
	}
	return &Storage{backend: b, retries: uint64(retries), base: base}
}

func (s *Storage) backoff() retry.Backoff {
	b := retry.NewExponential(s.base)
	b = retry.WithJitterPercent(retryJitterPct, b)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	return retry.WithMaxRetries(s.retries, b)
}

// retryable marks err for another attempt. A context error only ends the
// loop when the caller's own context is done; a backend query timeout is
// retried like any other transient failure.
func retryable(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrCircuitOpen) ||
		ctx.Err() != nil {
		return err
	}
	return retry.RetryableError(err)
}

func (s *Storage) do(ctx context.Context, op string, stage string, f func(context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.StorageDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()
	attempt := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.StorageRetries.WithLabelValues(op).Inc()
			util.Debug().Str("op", op).Int("attempt", attempt).Msg("retrying storage operation")
		}
		return retryable(ctx, f(ctx))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, ErrInvalidKey):
		return domain.BadRequest(domain.StageMapPath, "invalid storage key").WithCause(err)
	case ctx.Err() != nil:
		return domain.Internal(stage, err)
	}
	util.Warn().Err(err).Str("op", op).Int("attempts", attempt).Msg("storage operation failed")
	return domain.StorageError(stage, err)
}

func (s *Storage) Put(ctx context.Context, p *domain.Paste) error {
	if err := checkKey(p.Key); err != nil {
		return domain.BadRequest(domain.StageMapPath, "invalid storage key").WithCause(err)
	}
	return s.do(ctx, "put", domain.StageStore, func(ctx context.Context) error {
		return s.backend.Put(ctx, p)
	})
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, domain.BadRequest(domain.StageMapPath, "invalid storage key").WithCause(err)
	}
	var data []byte
	err := s.do(ctx, "get", domain.StageFetch, func(ctx context.Context) error {
		b, err := s.backend.Get(ctx, key)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *Storage) Close() error {
	return s.backend.Close()
}
