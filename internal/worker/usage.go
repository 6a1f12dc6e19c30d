package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/kafka"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/usage"
	"go.uber.org/zap"
)

// BatchInserter receives applied records in blocks for the reporting store.
type BatchInserter interface {
	InsertBatch(ctx context.Context, recs []model.UsageRecord) error
}

// UsageWorker consumes the usage topic:
//   - N processors apply records to the system of record through the sink, one lane per
//     partition group so offsets of a partition are committed in order,
//   - applied records are mirrored to the reporting store in size/time bounded batches.
//
// An offset is committed only once its record is applied (or is undecodable). A record that
// keeps failing is retried until shutdown and then redelivered; both stores are idempotent
// on request_id, so redelivery is harmless.
type UsageWorker struct {
	Source   Source
	Sink     usage.Sink
	Reporter BatchInserter

	Workers      int
	BatchSize    int
	BatchWait    time.Duration
	WriteTimeout time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	log *zap.Logger
}

func NewUsageWorker(src Source, sink usage.Sink, reporter BatchInserter) *UsageWorker {
	return &UsageWorker{
		Source:       src,
		Sink:         sink,
		Reporter:     reporter,
		Workers:      16,
		BatchSize:    500,
		BatchWait:    time.Second,
		WriteTimeout: 5 * time.Second,
		RetryBackoff: 200 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		log:          logger.Named("worker.usage"),
	}
}

// Run blocks until ctx is cancelled and the last batch is flushed.
func (w *UsageWorker) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 16
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}
	if w.MaxBackoff < w.RetryBackoff {
		w.MaxBackoff = w.RetryBackoff
	}

	msgs := make(chan kafka.Message, w.Workers*2)
	applied := make(chan model.UsageRecord, w.BatchSize*2)

	go fetchLoop(ctx, w.Source, msgs, w.log)

	lanes := make([]chan kafka.Message, w.Workers)
	var procs sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 2)
		procs.Add(1)
		go func(in <-chan kafka.Message) {
			defer procs.Done()
			for m := range in {
				w.processOne(ctx, m, applied)
			}
		}(lanes[i])
	}

	go func() {
		for m := range msgs {
			lanes[m.Partition%len(lanes)] <- m
		}
		for _, l := range lanes {
			close(l)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		w.runBatchWriter(ctx, applied)
	}()

	w.log.Info("usage worker started", zap.Int("workers", w.Workers), zap.Int("batch_size", w.BatchSize))
	procs.Wait()
	close(applied)
	<-writerDone
	return nil
}

func (w *UsageWorker) processOne(ctx context.Context, m kafka.Message, out chan<- model.UsageRecord) {
	rec, err := usage.Decode(m.Value)
	if err != nil {
		// poison message: nothing will ever make it valid
		w.log.Warn("skipping usage message", zap.Int64("offset", m.Offset), zap.Error(err))
		commit(ctx, w.Source, m, w.log)
		return
	}

	attempts := 0
	err = retryUntil(ctx, w.RetryBackoff, w.MaxBackoff, never, func() error {
		if attempts++; attempts > 1 {
			metrics.UsageRecordsTotal.WithLabelValues("retried").Inc()
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.WriteTimeout)
		defer cancel()
		return w.Sink.Write(wctx, rec)
	}, w.log.With(zap.String("request_id", rec.RequestID)))
	if err != nil {
		metrics.UsageRecordsTotal.WithLabelValues("failed").Inc()
		w.log.Warn("usage record left uncommitted for redelivery",
			zap.String("request_id", rec.RequestID),
			zap.Int64("offset", m.Offset),
			zap.Int("partition", m.Partition),
			zap.Error(err),
		)
		return
	}

	metrics.UsageRecordsTotal.WithLabelValues("written").Inc()
	out <- rec
	commit(ctx, w.Source, m, w.log)
}

// runBatchWriter flushes on size, on tick, and once more when in is closed.
func (w *UsageWorker) runBatchWriter(ctx context.Context, in <-chan model.UsageRecord) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	batch := make([]model.UsageRecord, 0, w.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.WriteTimeout)
		defer cancel()
		if err := w.Reporter.InsertBatch(fctx, batch); err != nil {
			w.log.Error("reporting batch failed", zap.Int("records", len(batch)), zap.Error(err))
		} else {
			w.log.Debug("reporting batch flushed", zap.Int("records", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}
