package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
)

// Sink durably records one usage record. Write must be safe to retry with the same record.
type Sink interface {
	Write(ctx context.Context, rec model.UsageRecord) error
}

// Store is the audit trail plus the counters derived from it.
type Store interface {
	Append(ctx context.Context, rec model.UsageRecord) (bool, error)
	ApplyCounters(ctx context.Context, rec model.UsageRecord) (bool, error)
}

// Accountant writes straight to the system of record: append the audit row, then derive
// the counters from it. A counter failure leaves the appended row in place; the retry
// skips the append and counts exactly once.
type Accountant struct {
	store Store
}

func NewAccountant(store Store) *Accountant { return &Accountant{store: store} }

var _ Sink = (*Accountant)(nil)

func (a *Accountant) Write(ctx context.Context, rec model.UsageRecord) error {
	inserted, err := a.store.Append(ctx, rec)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	if !inserted {
		metrics.UsageRecordsTotal.WithLabelValues("duplicate").Inc()
	}
	if !Counted(rec) {
		return nil
	}
	if _, err := a.store.ApplyCounters(ctx, rec); err != nil {
		return fmt.Errorf("apply usage counters: %w", err)
	}
	return nil
}

// Counted reports whether rec consumes quota in the stored counters. Quota rejections are
// kept in the audit trail only.
func Counted(rec model.UsageRecord) bool {
	return rec.Status != http.StatusTooManyRequests
}

// Publisher hands a keyed message to a broker.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// KafkaSink forwards records to the usage topic; the usage worker applies them with an
// Accountant. Records are keyed by identity so one identity's records stay ordered.
type KafkaSink struct {
	pub Publisher
}

func NewKafkaSink(pub Publisher) *KafkaSink { return &KafkaSink{pub: pub} }

var _ Sink = (*KafkaSink)(nil)

func (s *KafkaSink) Write(ctx context.Context, rec model.UsageRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode usage record: %w", err)
	}
	return s.pub.Publish(ctx, []byte(strconv.FormatInt(rec.IdentityID, 10)), b)
}

var ErrInvalidRecord = errors.New("invalid usage record")

// Decode parses a record published by KafkaSink.
func Decode(b []byte) (model.UsageRecord, error) {
	var rec model.UsageRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if rec.RequestID == "" || rec.IdentityID <= 0 || rec.OccurredAt.IsZero() {
		return rec, fmt.Errorf("%w: missing request_id, identity_id or occurred_at", ErrInvalidRecord)
	}
	return rec, nil
}
