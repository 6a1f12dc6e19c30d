package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("usage recorder closed")

// Task is the handle of one submitted record.
type Task struct {
	Record model.UsageRecord

	done chan struct{}
	err  error
}

func newTask(rec model.UsageRecord) *Task {
	return &Task{Record: rec, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the record is written or given up on.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the final outcome. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends. Cancelling ctx does not cancel the task.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Options struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Recorder writes usage records off the request path. Submit never blocks: records go to a
// bounded queue served by a fixed pool, and spill onto their own goroutine when it is full.
// Writes run on their own context, so a caller that goes away does not lose its record.
type Recorder struct {
	sink Sink
	opts Options
	log  *zap.Logger

	queue    chan *Task
	workers  sync.WaitGroup
	overflow sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewRecorder(sink Sink, opts Options) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	r := &Recorder{
		sink:  sink,
		opts:  opts,
		log:   logger.Named("usage"),
		queue: make(chan *Task, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		r.workers.Add(1)
		go r.work()
	}
	return r
}

func (r *Recorder) Submit(rec model.UsageRecord) *Task {
	t := newTask(rec)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		t.finish(ErrClosed)
		return t
	}

	select {
	case r.queue <- t:
	default:
		metrics.UsageRecordsTotal.WithLabelValues("overflow").Inc()
		r.overflow.Add(1)
		go func() {
			defer r.overflow.Done()
			r.run(t)
		}()
	}
	return t
}

// Close stops intake and waits for every submitted record, or for ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		r.workers.Wait()
		r.overflow.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		r.log.Warn("usage recorder closed before draining", zap.Int("queued", len(r.queue)))
		return ctx.Err()
	}
}

func (r *Recorder) work() {
	defer r.workers.Done()
	for t := range r.queue {
		r.run(t)
	}
}

func (r *Recorder) run(t *Task) {
	var err error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		err = r.sink.Write(ctx, t.Record)
		cancel()
		if err == nil {
			break
		}
		if attempt < r.opts.MaxAttempts {
			metrics.UsageRecordsTotal.WithLabelValues("retried").Inc()
			time.Sleep(time.Duration(attempt) * r.opts.RetryBackoff)
		}
	}

	if err != nil {
		metrics.UsageRecordsTotal.WithLabelValues("failed").Inc()
		r.log.Error("usage record dropped",
			zap.String("request_id", t.Record.RequestID),
			zap.Int64("identity_id", t.Record.IdentityID),
			zap.Int("attempts", r.opts.MaxAttempts),
			zap.Error(err),
		)
	} else {
		metrics.UsageRecordsTotal.WithLabelValues("written").Inc()
	}
	t.finish(err)
}
