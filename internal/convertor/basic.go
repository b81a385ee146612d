package convertor

import (
	"context"
	"log/slog"

	"feedhub/internal/models"
	"feedhub/internal/reader"
	"feedhub/internal/state"
)

// Token ids of the basic instrument feed.
const (
	TokenAskPrice    int32 = 10
	TokenAskVolume   int32 = 11
	TokenBidPrice    int32 = 12
	TokenBidVolume   int32 = 13
	TokenTS          int32 = 16
	TokenExchangeTS  int32 = 55
	TokenPriceChg    int32 = 361
	TokenPctChg      int32 = 362
	TokenHigh        int32 = 389
	TokenLow         int32 = 395
	TokenOpen        int32 = 401
	TokenClose       int32 = 447
	TokenVolume      int32 = 448
	TokenTotalAmount int32 = 460
	TokenTotalVolume int32 = 463
	TokenMarketPhase int32 = 1709
	TokenExchange    int32 = 3240
)

const (
	DefaultInstrumentSource int32 = 533
	DefaultRoutePrefix            = "api/V1"
)

type tokenRule struct {
	apply func(s *models.BasicState, v models.Value)
	// class is the record shape this token triggers, empty when it only
	// updates state.
	class models.RecordKind
}

var basicTokens = map[int32]tokenRule{
	TokenAskPrice:    {func(s *models.BasicState, v models.Value) { s.AskPrice = v.Float64() }, models.RecordQuote},
	TokenAskVolume:   {func(s *models.BasicState, v models.Value) { s.AskVolume = v.Int64() }, ""},
	TokenBidPrice:    {func(s *models.BasicState, v models.Value) { s.BidPrice = v.Float64() }, models.RecordQuote},
	TokenBidVolume:   {func(s *models.BasicState, v models.Value) { s.BidVolume = v.Int64() }, ""},
	TokenTS:          {func(s *models.BasicState, v models.Value) { s.TS = v.Float64() }, ""},
	TokenExchangeTS:  {func(s *models.BasicState, v models.Value) { s.ExchangeTS = v.Int64() }, ""},
	TokenPriceChg:    {func(s *models.BasicState, v models.Value) { s.PriceChg = v.Float64() }, ""},
	TokenPctChg:      {func(s *models.BasicState, v models.Value) { s.PctChg = v.Float64() }, ""},
	TokenHigh:        {func(s *models.BasicState, v models.Value) { s.High = v.Float64() }, ""},
	TokenLow:         {func(s *models.BasicState, v models.Value) { s.Low = v.Float64() }, ""},
	TokenOpen:        {func(s *models.BasicState, v models.Value) { s.Open = v.Float64() }, ""},
	TokenClose:       {func(s *models.BasicState, v models.Value) { s.Close = v.Float64() }, models.RecordTick},
	TokenVolume:      {func(s *models.BasicState, v models.Value) { s.Volume = v.Int64() }, ""},
	TokenTotalAmount: {func(s *models.BasicState, v models.Value) { s.TotalAmount = v.Int64() }, ""},
	TokenTotalVolume: {func(s *models.BasicState, v models.Value) { s.TotalVolume = v.Int64() }, ""},
	TokenMarketPhase: {func(s *models.BasicState, v models.Value) { s.MarketPhase = models.MarketPhaseFromCode(v.Int64()) }, ""},
	TokenExchange:    {func(s *models.BasicState, v models.Value) { s.Exchange = v.Str() }, ""},
}

// BasicConfig configures a Basic convertor.
type BasicConfig struct {
	Source      int32
	RoutePrefix string
	Reader      reader.SerConfig
}

// Basic merges instrument deltas into a typed BasicState per key and emits a
// Tick or Quote when the delta carries a classifying token.
//
// The first event for a key only seeds state. Later events emit a Tick when
// they carry the close price, otherwise a Quote when they carry a bid or ask
// price, otherwise nothing. Tick wins when both are present.
type Basic struct {
	cfg    BasicConfig
	states *state.Map[models.BasicState]
	logger *slog.Logger
}

func NewBasic(cfg BasicConfig, logger *slog.Logger) *Basic {
	if cfg.Source == 0 {
		cfg.Source = DefaultInstrumentSource
	}
	if cfg.RoutePrefix == "" {
		cfg.RoutePrefix = DefaultRoutePrefix
	}
	return &Basic{
		cfg:    cfg,
		states: state.New[models.BasicState](0),
		logger: logger.With("component", "basic_convertor", "source", cfg.Source),
	}
}

func (c *Basic) Convert(ev models.Event) (models.BasicRecord, bool) {
	if ev.Source() != c.cfg.Source {
		c.logger.Warn("foreign_source",
			"event_source", ev.Source(),
			"symbol", ev.Symbol(),
			"kind", ev.Kind().String(),
		)
		return nil, false
	}

	key := Key(ev.Source(), ev.Symbol())
	var seed *models.BasicState
	for {
		if entry, ok := c.states.Get(key); ok {
			if rec, applied := c.update(entry, ev); applied {
				return rec, rec != nil
			}
			continue // evicted between Get and Update
		}

		if seed == nil {
			s := c.seed(ev)
			seed = &s
		}
		entry, inserted := c.states.GetOrInsertWith(key, func() models.BasicState { return *seed })
		if inserted {
			c.logger.Debug("state_seeded", "key", key, "exchange", seed.Exchange)
			return nil, false
		}
		// Another goroutine seeded the key first; treat this event as a delta.
		if rec, applied := c.update(entry, ev); applied {
			return rec, rec != nil
		}
	}
}

// seed builds an initial state by seeking each known token.
func (c *Basic) seed(ev models.Event) models.BasicState {
	r := reader.New(ev, c.cfg.Reader)
	dbl := models.DoubleValue(0)
	num := models.IntValue(0)

	return models.BasicState{
		Code:        ev.Symbol(),
		AskPrice:    r.FindOr(TokenAskPrice, dbl).Float64(),
		AskVolume:   r.FindOr(TokenAskVolume, dbl).Int64(),
		BidPrice:    r.FindOr(TokenBidPrice, dbl).Float64(),
		BidVolume:   r.FindOr(TokenBidVolume, dbl).Int64(),
		TS:          r.FindOr(TokenTS, models.TimestampValue(0)).Float64(),
		ExchangeTS:  r.FindOr(TokenExchangeTS, num).Int64(),
		PriceChg:    r.FindOr(TokenPriceChg, dbl).Float64(),
		PctChg:      r.FindOr(TokenPctChg, dbl).Float64(),
		High:        r.FindOr(TokenHigh, dbl).Float64(),
		Low:         r.FindOr(TokenLow, dbl).Float64(),
		Open:        r.FindOr(TokenOpen, dbl).Float64(),
		Close:       r.FindOr(TokenClose, dbl).Float64(),
		Volume:      r.FindOr(TokenVolume, num).Int64(),
		TotalAmount: r.FindOr(TokenTotalAmount, num).Int64(),
		TotalVolume: r.FindOr(TokenTotalVolume, num).Int64(),
		MarketPhase: models.MarketPhaseFromCode(r.FindOr(TokenMarketPhase, models.IntValue(1)).Int64()),
		Exchange:    r.FindOr(TokenExchange, models.StringValue("")).Str(),
	}
}

// update merges ev into entry. applied is false when the entry was evicted
// before the merge ran.
func (c *Basic) update(entry *state.Entry[models.BasicState], ev models.Event) (rec models.BasicRecord, applied bool) {
	r := reader.New(ev, c.cfg.Reader)
	debug := c.logger.Enabled(context.Background(), slog.LevelDebug)

	var unknown []models.Field
	applied = entry.Update(func(s *models.BasicState) {
		var tick, quote bool
		for f := range r.Fields() {
			rule, ok := basicTokens[f.ID]
			if !ok {
				if debug {
					unknown = append(unknown, f)
				}
				continue
			}
			rule.apply(s, f.Value)
			switch rule.class {
			case models.RecordTick:
				tick = true
			case models.RecordQuote:
				quote = true
			}
		}

		switch {
		case tick:
			rec = models.NewTick(c.route(models.RecordTick, s), s)
		case quote:
			rec = models.NewQuote(c.route(models.RecordQuote, s), s)
		}
	})

	// Logged after Update so no I/O happens under the entry lock.
	for _, f := range unknown {
		c.logger.Debug("unknown_token",
			"symbol", ev.Symbol(),
			"token", f.ID,
			"name", f.Name,
			"value", f.Value.String(),
		)
	}
	return rec, applied
}

func (c *Basic) route(kind models.RecordKind, s *models.BasicState) string {
	return c.cfg.RoutePrefix + "/" + string(kind) + "/" + s.Exchange + "/" + s.Code
}

// State returns a copy of the merged state for an instrument.
func (c *Basic) State(source int32, symbol string) (models.BasicState, bool) {
	e, ok := c.states.Get(Key(source, symbol))
	if !ok {
		return models.BasicState{}, false
	}
	return e.Snapshot(), true
}

// States exposes the underlying store.
func (c *Basic) States() *state.Map[models.BasicState] {
	return c.states
}
