package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var (
	// ErrSourceUnavailable is returned when the save file is missing or
	// cannot be read. The current pass is aborted.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrUnchanged is returned by sources that can tell the save file has
	// not been modified since their previous extraction.
	ErrUnchanged = errors.New("source unchanged")
)

// Source is the public contract any snapshot source must satisfy.
type Source interface {
	// Extract reads the current game state and returns it as a Snapshot.
	Extract(ctx context.Context) (Snapshot, error)
}

// RetryPolicy configures Retry. MaxTries of 1 (or 0) disables retrying,
// which makes a failing extraction fail the whole pass.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Retry runs src.Extract under an exponential backoff. ErrUnchanged is never
// retried.
func Retry(ctx context.Context, src Source, policy RetryPolicy, log *zap.Logger) (Snapshot, error) {
	if policy.MaxTries <= 1 {
		return src.Extract(ctx)
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	op := func() (Snapshot, error) {
		snap, err := src.Extract(ctx)
		if errors.Is(err, ErrUnchanged) {
			return Snapshot{}, backoff.Permanent(err)
		}
		return snap, err
	}
	notify := func(err error, next time.Duration) {
		log.Warn("extraction failed, retrying", zap.Error(err), zap.Duration("next", next))
	}

	snap, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("extract: %w", err)
	}
	return snap, nil
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Extract implements Source.
func (f SourceFunc) Extract(ctx context.Context) (Snapshot, error) { return f(ctx) }
