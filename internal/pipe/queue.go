package pipe

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"feedhub/internal/convertor"
	"feedhub/internal/formater"
	"feedhub/internal/instrumentation"
	"feedhub/internal/models"
	"feedhub/internal/sink"
)

// QueueConfig sizes a Queue.
type QueueConfig struct {
	Capacity int // primary channel capacity
	Workers  int // workers per pool; the overflow pool has the same size
	// OverflowLimit caps the overflow queue; zero leaves it unbounded.
	OverflowLimit int
}

// Stats is a point-in-time view of a Queue.
type Stats struct {
	Capacity      int    `json:"capacity"`
	Workers       int    `json:"workers"`
	PrimaryDepth  int    `json:"primary_depth"`
	OverflowDepth int    `json:"overflow_depth"`
	Enqueued      uint64 `json:"enqueued"`
	Overflowed    uint64 `json:"overflowed"`
	Dropped       uint64 `json:"dropped"`
	Delivered     uint64 `json:"delivered"`
	Failed        uint64 `json:"failed"`
	Ignored       uint64 `json:"ignored"`
	Started       bool   `json:"started"`
	Closed        bool   `json:"closed"`
}

// Queue decouples event delivery from sink I/O. Records go onto a bounded
// primary channel with a non-blocking send; when it is full they go onto an
// overflow queue instead. Two pools of workers drain them: primary workers
// with ids "0".."n-1" and overflow workers with ids "b0".."b{n-1}". Each
// worker owns the formater and sink built for it.
//
// Ordering is kept neither across keys nor between the two pools.
type Queue[R any] struct {
	conv        convertor.Convertor[R]
	newFormater FormaterFactory
	newSink     sink.Factory
	cfg         QueueConfig

	primary  chan R
	overflow *overflowQueue[R]

	// mu orders sends against close: senders hold it shared, closers exclusive.
	mu      sync.RWMutex
	closed  bool
	intake  chan struct{} // closed together with the queues
	started atomic.Bool
	wg      sync.WaitGroup
	discard sync.Once

	enqueued   atomic.Uint64
	overflowed atomic.Uint64
	dropped    atomic.Uint64
	delivered  atomic.Uint64
	failed     atomic.Uint64
	ignored    atomic.Uint64

	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// NewQueue allocates the channels. Workers start with Start.
func NewQueue[R any](
	conv convertor.Convertor[R],
	newFormater FormaterFactory,
	newSink sink.Factory,
	cfg QueueConfig,
	metrics *instrumentation.Metrics,
	logger *slog.Logger,
) *Queue[R] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Queue[R]{
		conv:        conv,
		newFormater: newFormater,
		newSink:     newSink,
		cfg:         cfg,
		primary:     make(chan R, cfg.Capacity),
		overflow:    newOverflowQueue[R](cfg.OverflowLimit),
		intake:      make(chan struct{}),
		metrics:     metrics,
		logger:      logger.With("component", "pipe_queue"),
	}
}

type worker struct {
	id   string
	pool string
	f    formater.Formater
	s    sink.Sink
}

// Start builds every worker's formater and sink, then launches the primary
// and overflow pools. If any sink fails to build, the ones already built are
// closed and nothing is started. Workers exit after Stop once both queues are
// drained, or as soon as ctx is done. Cancelling ctx also closes intake, and
// records still queued at that point are counted as dropped.
func (q *Queue[R]) Start(ctx context.Context) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}
	if !q.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	workers := make([]worker, 0, 2*q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		for _, w := range []worker{
			{id: strconv.Itoa(i), pool: instrumentation.PoolPrimary},
			{id: "b" + strconv.Itoa(i), pool: instrumentation.PoolOverflow},
		} {
			s, err := q.newSink(w.id)
			if err != nil {
				for _, built := range workers {
					built.s.Close()
				}
				q.started.Store(false)
				return fmt.Errorf("build sink for worker %s: %w", w.id, err)
			}
			w.f = q.newFormater()
			w.s = s
			workers = append(workers, w)
		}
	}

	for _, w := range workers {
		q.wg.Add(1)
		go q.run(ctx, w)
	}
	go q.watch(ctx)

	q.logger.Info("queue_started",
		"capacity", q.cfg.Capacity,
		"workers", q.cfg.Workers,
		"content_type", workers[0].f.ContentType(),
	)
	return nil
}

func (q *Queue[R]) run(ctx context.Context, w worker) {
	defer q.wg.Done()
	defer func() {
		if err := w.s.Close(); err != nil {
			q.logger.Warn("sink_close_failed", "worker", w.id, "error", err)
		}
		q.logger.Debug("worker_stopped", "worker", w.id, "pool", w.pool)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		rec, ok := q.receive(ctx, w.pool)
		if !ok {
			return
		}
		q.metrics.RecordQueueDepth(len(q.primary), q.overflow.len())
		q.deliver(ctx, w, rec)
	}
}

func (q *Queue[R]) receive(ctx context.Context, pool string) (R, bool) {
	if pool == instrumentation.PoolOverflow {
		return q.overflow.pop(ctx)
	}
	select {
	case rec, ok := <-q.primary:
		return rec, ok
	case <-ctx.Done():
		var zero R
		return zero, false
	}
}

func (q *Queue[R]) deliver(ctx context.Context, w worker, rec R) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("worker_panic",
				"worker", w.id,
				"dest", sink.DestOf(rec, ""),
				"panic", fmt.Sprint(r),
			)
			q.metrics.RecordError("pipe_queue", "panic")
		}
	}()

	start := time.Now()
	err := w.s.Exec(ctx, rec, w.f)
	q.metrics.RecordDelivery(w.pool, float64(time.Since(start).Microseconds())/1000, err)
	if err != nil {
		q.failed.Add(1)
		reportFailure(q.logger, q.metrics, w.id, rec, err)
		return
	}
	q.delivered.Add(1)
}

// OnEvent converts ev and enqueues the result. It never blocks on sink I/O.
// Events from source id 0 are vendor control traffic and are skipped.
func (q *Queue[R]) OnEvent(ev models.Event) {
	defer recoverEvent(q.logger, q.metrics, ev)

	if ev.Source() == 0 {
		q.ignored.Add(1)
		q.metrics.RecordIgnored()
		return
	}
	q.metrics.RecordEvent()

	start := time.Now()
	rec, ok := q.conv.Convert(ev)
	q.metrics.RecordConverted(float64(time.Since(start).Microseconds()), ok)
	if !ok {
		return
	}
	_ = q.Enqueue(rec)
}

// Enqueue offers rec to the primary channel, falling back to the overflow
// queue when the channel is full. The returned error is already logged:
// ErrQueueClosed after Stop, or the overflow push failure that lost rec.
func (q *Queue[R]) Enqueue(rec R) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		q.metrics.RecordDropped("closed")
		q.logger.Error("queue_closed", "dest", sink.DestOf(rec, ""))
		return ErrQueueClosed
	}

	select {
	case q.primary <- rec:
		q.enqueued.Add(1)
		q.metrics.RecordEnqueued()
		q.metrics.RecordQueueDepth(len(q.primary), q.overflow.len())
		return nil
	default:
	}

	q.logger.Warn("primary_queue_full",
		"capacity", q.cfg.Capacity,
		"dest", sink.DestOf(rec, ""),
	)
	if err := q.overflow.push(rec); err != nil {
		q.dropped.Add(1)
		q.metrics.RecordDropped("overflow_push_failed")
		q.logger.Error("overflow_push_failed",
			"data_loss", true,
			"dest", sink.DestOf(rec, ""),
			"error", err,
		)
		return err
	}
	q.overflowed.Add(1)
	q.metrics.RecordOverflowed()
	q.metrics.RecordQueueDepth(len(q.primary), q.overflow.len())
	return nil
}

// Stop closes intake and waits up to timeout for workers to drain both
// queues. Later Enqueue calls fail with ErrQueueClosed.
func (q *Queue[R]) Stop(timeout time.Duration) error {
	q.closeIntake()

	if !q.started.Load() {
		return ErrNotStarted
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.discardLeftover()
		q.logger.Info("queue_stopped", "delivered", q.delivered.Load(), "failed", q.failed.Load())
		return nil
	case <-time.After(timeout):
		q.logger.Error("queue_stop_timeout",
			"timeout_ms", timeout.Milliseconds(),
			"primary_depth", len(q.primary),
			"overflow_depth", q.overflow.len(),
		)
		return ErrStopTimeout
	}
}

// closeIntake marks the queue closed and closes both queues. It reports
// whether this call did the closing.
func (q *Queue[R]) closeIntake() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true
	close(q.primary)
	q.overflow.close()
	close(q.intake)
	return true
}

// watch closes intake when the worker context ends before Stop, so no record
// is accepted once every worker is gone.
func (q *Queue[R]) watch(ctx context.Context) {
	select {
	case <-q.intake:
		return
	case <-ctx.Done():
	}
	if !q.closeIntake() {
		return
	}
	q.logger.Warn("queue_cancelled", "reason", context.Cause(ctx))
	q.wg.Wait()
	q.discardLeftover()
}

// discardLeftover counts records no worker will deliver. Callers wait for
// every worker to exit first.
func (q *Queue[R]) discardLeftover() {
	q.discard.Do(func() {
		lost := 0
		for range q.primary {
			lost++
		}
		lost += q.overflow.drain()
		if lost == 0 {
			return
		}
		q.dropped.Add(uint64(lost))
		q.metrics.RecordDroppedN("cancelled", lost)
		q.metrics.RecordQueueDepth(0, 0)
		q.logger.Error("queue_records_lost",
			"data_loss", true,
			"count", lost,
		)
	})
}

// Stats reports current depths and counters.
func (q *Queue[R]) Stats() Stats {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	return Stats{
		Capacity:      q.cfg.Capacity,
		Workers:       q.cfg.Workers,
		PrimaryDepth:  len(q.primary),
		OverflowDepth: q.overflow.len(),
		Enqueued:      q.enqueued.Load(),
		Overflowed:    q.overflowed.Load(),
		Dropped:       q.dropped.Load(),
		Delivered:     q.delivered.Load(),
		Failed:        q.failed.Load(),
		Ignored:       q.ignored.Load(),
		Started:       q.started.Load(),
		Closed:        closed,
	}
}
