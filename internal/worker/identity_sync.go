package worker

import (
	"context"
	"errors"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/identity"
	"github.com/Utkarshchaudhary009/Docverse/internal/kafka"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"go.uber.org/zap"
)

// EventApplier applies one identity-provider event.
type EventApplier interface {
	Apply(ctx context.Context, ev model.SyncEvent) error
}

// IdentitySyncWorker applies identity events one at a time, in log order. Events for one
// identity must not be reordered, and the volume is low. An event that fails for any reason
// other than being invalid blocks the stream until it applies: a lost deletion would leave
// the identity's credentials working.
type IdentitySyncWorker struct {
	Source       Source
	Applier      EventApplier
	ApplyTimeout time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	log *zap.Logger
}

func NewIdentitySyncWorker(src Source, applier EventApplier) *IdentitySyncWorker {
	return &IdentitySyncWorker{
		Source:       src,
		Applier:      applier,
		ApplyTimeout: 10 * time.Second,
		RetryBackoff: 500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		log:          logger.Named("worker.identity"),
	}
}

func (w *IdentitySyncWorker) Run(ctx context.Context) error {
	if w.MaxBackoff < w.RetryBackoff {
		w.MaxBackoff = w.RetryBackoff
	}
	msgs := make(chan kafka.Message, 16)
	go fetchLoop(ctx, w.Source, msgs, w.log)

	w.log.Info("identity sync worker started")
	for m := range msgs {
		if !w.processOne(ctx, m) {
			// later events must not be applied ahead of this one
			break
		}
	}
	for range msgs {
	}
	return nil
}

// processOne reports false when the event was neither applied nor skipped, which only
// happens when ctx ends.
func (w *IdentitySyncWorker) processOne(ctx context.Context, m kafka.Message) bool {
	ev, err := identity.DecodeEvent(m.Value)
	if err != nil {
		w.log.Warn("skipping identity event", zap.Int64("offset", m.Offset), zap.Error(err))
		commit(ctx, w.Source, m, w.log)
		return true
	}

	invalid := func(err error) bool { return errors.Is(err, identity.ErrInvalidEvent) }
	err = retryUntil(ctx, w.RetryBackoff, w.MaxBackoff, invalid, func() error {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.ApplyTimeout)
		defer cancel()
		return w.Applier.Apply(actx, ev)
	}, w.log.With(zap.String("external_ref", ev.ExternalRef)))

	switch {
	case err == nil:
		w.log.Info("identity event applied", zap.String("external_ref", ev.ExternalRef), zap.String("kind", string(ev.Kind)))
	case invalid(err):
		w.log.Warn("skipping invalid identity event", zap.String("external_ref", ev.ExternalRef), zap.Error(err))
	default:
		w.log.Warn("identity event left uncommitted for redelivery",
			zap.String("external_ref", ev.ExternalRef),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return false
	}
	commit(ctx, w.Source, m, w.log)
	return true
}
