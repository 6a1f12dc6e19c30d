package worker

import (
	"context"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/kafka"
	"go.uber.org/zap"
)

// Source is a committed-offset message stream, such as a Kafka consumer group.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// fetchLoop feeds out until ctx ends, backing off briefly after fetch errors.
func fetchLoop(ctx context.Context, src Source, out chan<- kafka.Message, log *zap.Logger) {
	defer close(out)
	for {
		m, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func commit(ctx context.Context, src Source, m kafka.Message, log *zap.Logger) {
	if err := src.Commit(context.WithoutCancel(ctx), m); err != nil {
		log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition), zap.Error(err))
	}
}

// retryUntil calls fn until it succeeds, stop reports the error as permanent, or ctx ends.
// Waits grow linearly by step and are capped at limit. It returns the last error of fn, or the
// context error when ctx ended first.
func retryUntil(ctx context.Context, step, limit time.Duration, stop func(error) bool, fn func() error, log *zap.Logger) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || stop(err) {
			return err
		}
		wait := time.Duration(attempt) * step
		if wait > limit {
			wait = limit
		}
		log.Warn("apply failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func never(error) bool { return false }
