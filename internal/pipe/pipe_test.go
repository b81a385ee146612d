package pipe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/convertor"
	"feedhub/internal/formater"
	"feedhub/internal/instrumentation"
	"feedhub/internal/models"
	"feedhub/internal/sink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMetrics() *instrumentation.Metrics {
	return instrumentation.NewMetrics(prometheus.NewRegistry())
}

type delivery struct {
	worker string
	rec    any
	ct     string
}

// recorder collects deliveries from every sink it builds.
type recorder struct {
	mu      sync.Mutex
	got     []delivery
	built   []string
	closed  []string
	execErr error
	block   chan struct{}
	panicOn string
}

func (r *recorder) factory(id string) (sink.Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built = append(r.built, id)
	return &recordingSink{id: id, r: r}, nil
}

func (r *recorder) deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.got...)
}

type recordingSink struct {
	id string
	r  *recorder
}

func (s *recordingSink) Exec(ctx context.Context, rec any, f formater.Formater) error {
	if s.r.block != nil {
		<-s.r.block
	}
	if code, ok := rec.(string); ok && code == s.r.panicOn {
		panic("sink exploded")
	}
	if _, err := f.Format(rec); err != nil {
		return err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.execErr != nil {
		return s.r.execErr
	}
	s.r.got = append(s.r.got, delivery{worker: s.id, rec: rec, ct: f.ContentType()})
	return nil
}

func (s *recordingSink) Close() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.closed = append(s.r.closed, s.id)
	return nil
}

func jsonFormater() formater.Formater { return formater.JSON{} }

// passthrough emits the event symbol as the record.
type passthrough struct{}

func (passthrough) Convert(ev models.Event) (string, bool) {
	return ev.Symbol(), ev.Symbol() != ""
}

func ev(src int32, sym string, fields ...models.Field) *models.Message {
	return &models.Message{Src: src, Sym: sym, Type: models.EventUpdate, Fields: fields}
}

func TestQueue_SaturationRoutesToOverflowWorker(t *testing.T) {
	rec := &recorder{}
	m := newMetrics()
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 1, Workers: 1}, m, discardLogger())

	require.NoError(t, q.Enqueue("first"))
	require.NoError(t, q.Enqueue("second"))

	stats := q.Stats()
	assert.Equal(t, 1, stats.PrimaryDepth)
	assert.Equal(t, 1, stats.OverflowDepth)
	assert.Equal(t, uint64(1), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Overflowed)
	assert.Equal(t, uint64(0), stats.Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsOverflowed))

	require.NoError(t, q.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(rec.deliveries()) == 2 }, time.Second, 5*time.Millisecond)

	byRecord := map[any]string{}
	for _, d := range rec.deliveries() {
		byRecord[d.rec] = d.worker
		assert.Equal(t, "json", d.ct)
	}
	assert.Equal(t, "0", byRecord["first"])
	assert.Equal(t, "b0", byRecord["second"])

	require.NoError(t, q.Stop(time.Second))
	assert.Equal(t, uint64(2), q.Stats().Delivered)
}

func TestQueue_WorkerIdentities(t *testing.T) {
	rec := &recorder{}
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 8, Workers: 3}, newMetrics(), discardLogger())

	require.NoError(t, q.Start(context.Background()))
	assert.ElementsMatch(t, []string{"0", "1", "2", "b0", "b1", "b2"}, rec.built)
	assert.ErrorIs(t, q.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, q.Stop(time.Second))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.ElementsMatch(t, rec.built, rec.closed)
}

func TestQueue_OverflowPushFailureIsDataLoss(t *testing.T) {
	m := newMetrics()
	q := NewQueue[string](passthrough{}, jsonFormater, (&recorder{}).factory,
		QueueConfig{Capacity: 1, Workers: 1, OverflowLimit: 1}, m, discardLogger())

	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.ErrorIs(t, q.Enqueue("c"), ErrQueueFull)

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint64(1), stats.Overflowed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("overflow_push_failed")))
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	m := newMetrics()
	q := NewQueue[string](passthrough{}, jsonFormater, (&recorder{}).factory, QueueConfig{Capacity: 4, Workers: 1}, m, discardLogger())
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Stop(time.Second))
	require.NoError(t, q.Stop(time.Second))

	assert.ErrorIs(t, q.Enqueue("late"), ErrQueueClosed)
	assert.True(t, q.Stats().Closed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("closed")))
	assert.ErrorIs(t, q.Start(context.Background()), ErrQueueClosed)
}

func TestQueue_StopWithoutStart(t *testing.T) {
	q := NewQueue[string](passthrough{}, jsonFormater, (&recorder{}).factory, QueueConfig{}, newMetrics(), discardLogger())
	assert.ErrorIs(t, q.Stop(time.Second), ErrNotStarted)
}

func TestQueue_StopDrainsBacklog(t *testing.T) {
	rec := &recorder{}
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 2, Workers: 2}, newMetrics(), discardLogger())

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(s))
	}
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Stop(time.Second))

	var got []any
	for _, d := range rec.deliveries() {
		got = append(got, d.rec)
	}
	assert.ElementsMatch(t, []any{"a", "b", "c", "d", "e"}, got)
}

func TestQueue_StopTimeout(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 1, Workers: 1}, newMetrics(), discardLogger())
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Enqueue("stuck"))

	assert.ErrorIs(t, q.Stop(20*time.Millisecond), ErrStopTimeout)
	close(rec.block)
}

func TestQueue_ContextCancelStopsWorkers(t *testing.T) {
	rec := &recorder{}
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 1, Workers: 2}, newMetrics(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.closed) == 4
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_CancelClosesIntake(t *testing.T) {
	m := newMetrics()
	q := NewQueue[string](passthrough{}, jsonFormater, (&recorder{}).factory, QueueConfig{Capacity: 1, Workers: 1}, m, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return q.Stats().Closed }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, q.Enqueue("a"), ErrQueueClosed)
	assert.ErrorIs(t, q.Enqueue("b"), ErrQueueClosed)
	require.NoError(t, q.Stop(time.Second))

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("closed")))
}

func TestQueue_CancelCountsQueuedRecordsAsLost(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	m := newMetrics()
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 1, Workers: 1}, m, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx))

	// Occupy both workers, then leave one record in each queue.
	require.NoError(t, q.Enqueue("a"))
	require.Eventually(t, func() bool { return q.Stats().PrimaryDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue("b"))
	require.NoError(t, q.Enqueue("c"))
	require.Eventually(t, func() bool { return q.Stats().OverflowDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue("d"))

	cancel()
	require.Eventually(t, func() bool { return q.Stats().Closed }, time.Second, time.Millisecond)
	close(rec.block)
	require.NoError(t, q.Stop(time.Second))

	var got []any
	for _, d := range rec.deliveries() {
		got = append(got, d.rec)
	}
	assert.ElementsMatch(t, []any{"a", "c"}, got)

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 0, stats.PrimaryDepth)
	assert.Equal(t, 0, stats.OverflowDepth)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("cancelled")))
}

func TestQueue_FailuresDoNotStopWorkers(t *testing.T) {
	rec := &recorder{panicOn: "boom"}
	m := newMetrics()
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 8, Workers: 1}, m, discardLogger())
	require.NoError(t, q.Start(context.Background()))

	require.NoError(t, q.Enqueue("boom"))
	require.NoError(t, q.Enqueue("after"))
	require.NoError(t, q.Stop(time.Second))

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("pipe_queue", "panic")))
}

func TestQueue_DeliveryErrorsCounted(t *testing.T) {
	rec := &recorder{execErr: errors.New("broker down")}
	m := newMetrics()
	q := NewQueue[string](passthrough{}, jsonFormater, rec.factory, QueueConfig{Capacity: 8, Workers: 1}, m, discardLogger())
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Enqueue("x"))
	require.NoError(t, q.Enqueue("y"))
	require.NoError(t, q.Stop(time.Second))

	assert.Equal(t, uint64(2), q.Stats().Failed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("sink", "delivery")))
}

func TestQueue_SinkBuildFailure(t *testing.T) {
	rec := &recorder{}
	calls := 0
	factory := func(id string) (sink.Sink, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("no route to broker")
		}
		return rec.factory(id)
	}
	q := NewQueue[string](passthrough{}, jsonFormater, factory, QueueConfig{Capacity: 1, Workers: 2}, newMetrics(), discardLogger())

	err := q.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 1")
	assert.ElementsMatch(t, []string{"0", "b0"}, rec.closed)
	assert.False(t, q.Stats().Started)
}

func TestQueue_OnEvent(t *testing.T) {
	rec := &recorder{}
	m := newMetrics()
	conv := convertor.NewBasic(convertor.BasicConfig{}, discardLogger())
	q := NewQueue[models.BasicRecord](conv, jsonFormater, rec.factory, QueueConfig{Capacity: 4, Workers: 1}, m, discardLogger())
	require.NoError(t, q.Start(context.Background()))

	q.OnEvent(ev(0, "CTRL"))
	q.OnEvent(ev(533, "NVDA",
		models.Field{ID: convertor.TokenAskPrice, Value: models.DoubleValue(450.1)},
		models.Field{ID: convertor.TokenExchange, Value: models.StringValue("XNAS")},
	))
	q.OnEvent(ev(533, "NVDA", models.Field{ID: convertor.TokenBidPrice, Value: models.DoubleValue(449.9)}))
	require.NoError(t, q.Stop(time.Second))

	got := rec.deliveries()
	require.Len(t, got, 1)
	quote := got[0].rec.(*models.Quote)
	assert.Equal(t, "api/V1/QUO/XNAS/NVDA", quote.Dest())
	assert.Equal(t, 450.1, quote.AskPrice)
	assert.Equal(t, 449.9, quote.BidPrice)

	assert.Equal(t, uint64(1), q.Stats().Ignored)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsEmitted))
}

// panicky panics on every conversion.
type panicky struct{}

func (panicky) Convert(models.Event) (string, bool) { panic("bad reader") }

func TestQueue_OnEventRecoversConvertorPanic(t *testing.T) {
	m := newMetrics()
	q := NewQueue[string](panicky{}, jsonFormater, (&recorder{}).factory, QueueConfig{}, m, discardLogger())
	assert.NotPanics(t, func() { q.OnEvent(ev(533, "X")) })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("pipe", "panic")))
}

func TestPipe_DeliversInline(t *testing.T) {
	rec := &recorder{}
	s, _ := rec.factory("")
	m := newMetrics()
	p := NewPipe[string](passthrough{}, formater.JSON{}, s, time.Second, m, discardLogger())

	p.OnEvent(ev(533, "NVDA"))
	p.OnEvent(ev(533, ""))

	got := rec.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "NVDA", got[0].rec)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("inline", "ok")))
	require.NoError(t, p.Close())
}

func TestPipe_FormatFailureLoggedNotPropagated(t *testing.T) {
	rec := &recorder{}
	s, _ := rec.factory("")
	m := newMetrics()
	p := NewPipe[string](passthrough{}, formater.TOML{}, s, 0, m, discardLogger())

	assert.NotPanics(t, func() { p.OnEvent(ev(533, "NVDA")) })
	assert.Empty(t, rec.deliveries())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("formater", "encode")))
}
