package convertor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedhub/internal/models"
	"feedhub/internal/reader"
)

func newBasic() *Basic {
	return NewBasic(BasicConfig{}, discardLogger())
}

func TestBasic_FirstEventSeedsWithoutEmitting(t *testing.T) {
	c := newBasic()

	rec, ok := c.Convert(msg(533, "NVDA", fld(TokenAskPrice, models.DoubleValue(450.1))))
	assert.False(t, ok)
	assert.Nil(t, rec)

	s, ok := c.State(533, "NVDA")
	require.True(t, ok)
	assert.Equal(t, 450.1, s.AskPrice)
	assert.Equal(t, 0.0, s.BidPrice)
	assert.Equal(t, "NVDA", s.Code)
	assert.Equal(t, "", s.Exchange)
	assert.Equal(t, models.PhaseClosed, s.MarketPhase)
}

func TestBasic_SecondEventEmitsQuoteWithRetainedFields(t *testing.T) {
	c := newBasic()
	c.Convert(msg(533, "NVDA",
		fld(TokenAskPrice, models.DoubleValue(450.1)),
		fld(TokenExchange, models.StringValue("XNAS")),
	))

	rec, ok := c.Convert(msg(533, "NVDA", fld(TokenBidPrice, models.DoubleValue(449.9))))
	require.True(t, ok)

	q, isQuote := rec.(*models.Quote)
	require.True(t, isQuote)
	assert.Equal(t, 450.1, q.AskPrice)
	assert.Equal(t, 449.9, q.BidPrice)
	assert.Equal(t, "api/V1/QUO/XNAS/NVDA", q.Dest())
	assert.Equal(t, models.RecordQuote, q.Kind())
}

func TestBasic_Classification(t *testing.T) {
	tests := []struct {
		name   string
		fields []models.Field
		want   models.RecordKind
	}{
		{"close only", []models.Field{fld(TokenClose, models.DoubleValue(451))}, models.RecordTick},
		{"ask only", []models.Field{fld(TokenAskPrice, models.DoubleValue(451))}, models.RecordQuote},
		{"bid only", []models.Field{fld(TokenBidPrice, models.DoubleValue(450))}, models.RecordQuote},
		{"both prefers tick", []models.Field{
			fld(TokenBidPrice, models.DoubleValue(450)),
			fld(TokenClose, models.DoubleValue(451)),
		}, models.RecordTick},
		{"neither", []models.Field{fld(TokenVolume, models.IntValue(100))}, ""},
		{"unknown tokens only", []models.Field{fld(9999, models.StringValue("x"))}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newBasic()
			c.Convert(msg(533, "NVDA"))

			rec, ok := c.Convert(msg(533, "NVDA", tt.fields...))
			if tt.want == "" {
				assert.False(t, ok)
				assert.Nil(t, rec)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, rec.Kind())
		})
	}
}

func TestBasic_TickCarriesMergedState(t *testing.T) {
	c := newBasic()
	c.Convert(msg(533, "AAPL",
		fld(TokenExchange, models.StringValue("XNAS")),
		fld(TokenOpen, models.DoubleValue(189)),
		fld(TokenHigh, models.DoubleValue(192)),
		fld(TokenLow, models.DoubleValue(188.5)),
		fld(TokenTotalAmount, models.IntValue(1000000)),
		fld(TokenMarketPhase, models.IntValue(4)),
	))

	rec, ok := c.Convert(msg(533, "AAPL",
		fld(TokenClose, models.DoubleValue(190.25)),
		fld(TokenVolume, models.IntValue(200)),
		fld(TokenTotalVolume, models.DoubleValue(5000.7)),
		fld(TokenTS, models.TimestampValue(1700000000.25)),
	))
	require.True(t, ok)

	tick := rec.(*models.Tick)
	assert.Equal(t, &models.Tick{
		Route:       "api/V1/TIC/XNAS/AAPL",
		Exchange:    "XNAS",
		Code:        "AAPL",
		TS:          1700000000.25,
		Open:        189,
		High:        192,
		Low:         188.5,
		Close:       190.25,
		Amount:      0,
		TotalAmount: 1000000,
		Volume:      200,
		TotalVolume: 5000,
		MarketPhase: models.PhaseTrading,
	}, tick)
}

func TestBasic_ForeignSourceRejected(t *testing.T) {
	c := newBasic()
	for i := 0; i < 2; i++ {
		rec, ok := c.Convert(msg(7, "NVDA", fld(TokenClose, models.DoubleValue(1))))
		assert.False(t, ok)
		assert.Nil(t, rec)
	}
	assert.Equal(t, 0, c.States().Len())
}

func TestBasic_CustomConfig(t *testing.T) {
	c := NewBasic(BasicConfig{Source: 42, RoutePrefix: "feed/v2"}, discardLogger())
	c.Convert(msg(42, "ES", fld(TokenExchange, models.StringValue("CME"))))

	rec, ok := c.Convert(msg(42, "ES", fld(TokenAskPrice, models.DoubleValue(5000.25))))
	require.True(t, ok)
	assert.Equal(t, "feed/v2/QUO/CME/ES", rec.Dest())
}

func TestBasic_MalformedValuesDegradeToZero(t *testing.T) {
	c := newBasic()
	c.Convert(msg(533, "X", fld(TokenAskPrice, models.StringValue("oops"))))
	s, _ := c.State(533, "X")
	assert.Equal(t, 0.0, s.AskPrice)

	rec, ok := c.Convert(msg(533, "X",
		fld(TokenBidPrice, models.UnknownValue()),
		fld(TokenBidVolume, models.StringValue("n/a")),
	))
	require.True(t, ok)
	q := rec.(*models.Quote)
	assert.Equal(t, 0.0, q.BidPrice)
	assert.Equal(t, int64(0), q.BidVolume)
}

func TestBasic_ConcurrentFirstTouchSeedsOnce(t *testing.T) {
	c := newBasic()

	var wg sync.WaitGroup
	var mu sync.Mutex
	emitted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Convert(msg(533, "RACE", fld(TokenAskPrice, models.DoubleValue(1)))); ok {
				mu.Lock()
				emitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, c.States().Len())
	assert.Equal(t, 15, emitted)
}

// lockCheckHandler reads the instrument state from inside every log call.
// The read blocks if the caller still holds the entry lock.
type lockCheckHandler struct {
	c       *Basic
	mu      sync.Mutex
	blocked int
	logged  int
}

func (h *lockCheckHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *lockCheckHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h *lockCheckHandler) WithGroup(string) slog.Handler           { return h }

func (h *lockCheckHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message != "unknown_token" {
		return nil
	}
	read := make(chan struct{})
	go func() {
		h.c.State(533, "NVDA")
		close(read)
	}()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.logged++
	select {
	case <-read:
	case <-time.After(200 * time.Millisecond):
		h.blocked++
	}
	return nil
}

func TestBasic_UnknownTokensLoggedOutsideEntryLock(t *testing.T) {
	h := &lockCheckHandler{}
	c := NewBasic(BasicConfig{}, slog.New(h))
	h.c = c

	c.Convert(msg(533, "NVDA", fld(TokenAskPrice, models.DoubleValue(1))))
	_, ok := c.Convert(msg(533, "NVDA",
		fld(TokenBidPrice, models.DoubleValue(0.9)),
		fld(9999, models.StringValue("x")),
		fld(9998, models.IntValue(1)),
	))
	require.True(t, ok)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 2, h.logged)
	assert.Zero(t, h.blocked)
}

func TestBasic_EvictionBetweenGetAndUpdateKeepsDelta(t *testing.T) {
	c := newBasic()
	c.Convert(msg(533, "NVDA", fld(TokenAskPrice, models.DoubleValue(450.1))))

	entry, ok := c.states.Get(Key(533, "NVDA"))
	require.True(t, ok)
	require.Equal(t, 1, c.states.EvictIdle(time.Now().Add(time.Hour)))

	quote := msg(533, "NVDA", fld(TokenBidPrice, models.DoubleValue(449.9)))
	_, applied := c.update(entry, quote)
	assert.False(t, applied)

	// The key starts over: the event seeds fresh state and emits nothing.
	_, emitted := c.Convert(quote)
	assert.False(t, emitted)
	st, ok := c.State(533, "NVDA")
	require.True(t, ok)
	assert.Equal(t, 449.9, st.BidPrice)
	assert.Zero(t, st.AskPrice)
}

func TestStatefulMap_EvictedKeyStartsOver(t *testing.T) {
	c := NewStatefulMap(reader.SerConfig{}, discardLogger())
	c.Convert(msg(533, "NVDA", fld(10, models.DoubleValue(1))))
	require.Equal(t, 1, c.States().EvictIdle(time.Now().Add(time.Hour)))

	m, ok := c.Convert(msg(533, "NVDA", fld(12, models.DoubleValue(2))))
	require.True(t, ok)
	_, hasAsk := m["(10)T10"]
	assert.False(t, hasAsk)
	assert.Equal(t, 2.0, m["(12)T12"].Float64())
}
