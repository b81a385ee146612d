package models

// MarketPhase is the trading session phase of an instrument. It is encoded
// as its ordinal.
type MarketPhase uint8

const (
	PhasePreMarket MarketPhase = iota
	PhaseTrading
	PhasePostMarket
	PhaseClosed
)

func (p MarketPhase) String() string {
	switch p {
	case PhasePreMarket:
		return "pre_market"
	case PhaseTrading:
		return "trading"
	case PhasePostMarket:
		return "post_market"
	default:
		return "closed"
	}
}

// MarketPhaseFromCode maps the vendor phase code (token 1709).
func MarketPhaseFromCode(code int64) MarketPhase {
	switch code {
	case 2:
		return PhasePreMarket
	case 4:
		return PhaseTrading
	case 10:
		return PhasePostMarket
	default:
		return PhaseClosed
	}
}

// BasicState is the merged per-instrument state kept by the basic convertor.
type BasicState struct {
	Exchange    string      `json:"exchange"`
	Code        string      `json:"code"`
	TS          float64     `json:"ts"`
	ExchangeTS  int64       `json:"exchange_ts"`
	AskPrice    float64     `json:"ask_price"`
	AskVolume   int64       `json:"ask_volume"`
	BidPrice    float64     `json:"bid_price"`
	BidVolume   int64       `json:"bid_volume"`
	Open        float64     `json:"open"`
	High        float64     `json:"high"`
	Low         float64     `json:"low"`
	Close       float64     `json:"close"`
	Volume      int64       `json:"volume"`
	TotalAmount int64       `json:"total_amount"`
	TotalVolume int64       `json:"total_volume"`
	PriceChg    float64     `json:"price_chg"`
	PctChg      float64     `json:"pct_chg"`
	MarketPhase MarketPhase `json:"market_phase"`
}

// RecordKind distinguishes the two basic output shapes.
type RecordKind string

const (
	RecordTick  RecordKind = "TIC"
	RecordQuote RecordKind = "QUO"
)

// BasicRecord is the output of the basic convertor: either a *Tick or a *Quote.
type BasicRecord interface {
	Kind() RecordKind
	Dest() string
}

// Tick is the trade shape. Route is the publish destination and is never
// part of the encoded payload.
type Tick struct {
	Route       string      `json:"-" yaml:"-" toml:"-" codec:"-"`
	Exchange    string      `json:"exchange" yaml:"exchange" toml:"exchange" codec:"exchange"`
	Code        string      `json:"code" yaml:"code" toml:"code" codec:"code"`
	TS          float64     `json:"ts" yaml:"ts" toml:"ts" codec:"ts"`
	Open        float64     `json:"open" yaml:"open" toml:"open" codec:"open"`
	High        float64     `json:"high" yaml:"high" toml:"high" codec:"high"`
	Low         float64     `json:"low" yaml:"low" toml:"low" codec:"low"`
	Close       float64     `json:"close" yaml:"close" toml:"close" codec:"close"`
	Amount      int64       `json:"amount" yaml:"amount" toml:"amount" codec:"amount"`
	TotalAmount int64       `json:"total_amount" yaml:"total_amount" toml:"total_amount" codec:"total_amount"`
	Volume      int64       `json:"volume" yaml:"volume" toml:"volume" codec:"volume"`
	TotalVolume int64       `json:"total_volume" yaml:"total_volume" toml:"total_volume" codec:"total_volume"`
	MarketPhase MarketPhase `json:"market_phase" yaml:"market_phase" toml:"market_phase" codec:"market_phase"`
}

func (t *Tick) Kind() RecordKind { return RecordTick }
func (t *Tick) Dest() string     { return t.Route }

// Quote is the top-of-book shape.
type Quote struct {
	Route       string      `json:"-" yaml:"-" toml:"-" codec:"-"`
	Exchange    string      `json:"exchange" yaml:"exchange" toml:"exchange" codec:"exchange"`
	Code        string      `json:"code" yaml:"code" toml:"code" codec:"code"`
	TS          float64     `json:"ts" yaml:"ts" toml:"ts" codec:"ts"`
	AskPrice    float64     `json:"ask_price" yaml:"ask_price" toml:"ask_price" codec:"ask_price"`
	AskVolume   int64       `json:"ask_volume" yaml:"ask_volume" toml:"ask_volume" codec:"ask_volume"`
	BidPrice    float64     `json:"bid_price" yaml:"bid_price" toml:"bid_price" codec:"bid_price"`
	BidVolume   int64       `json:"bid_volume" yaml:"bid_volume" toml:"bid_volume" codec:"bid_volume"`
	MarketPhase MarketPhase `json:"market_phase" yaml:"market_phase" toml:"market_phase" codec:"market_phase"`
}

func (q *Quote) Kind() RecordKind { return RecordQuote }
func (q *Quote) Dest() string     { return q.Route }

// NewTick builds a tick from the current state.
func NewTick(route string, s *BasicState) *Tick {
	return &Tick{
		Route:       route,
		Exchange:    s.Exchange,
		Code:        s.Code,
		TS:          s.TS,
		Open:        s.Open,
		High:        s.High,
		Low:         s.Low,
		Close:       s.Close,
		TotalAmount: s.TotalAmount,
		Volume:      s.Volume,
		TotalVolume: s.TotalVolume,
		MarketPhase: s.MarketPhase,
	}
}

// NewQuote builds a quote from the current state.
func NewQuote(route string, s *BasicState) *Quote {
	return &Quote{
		Route:       route,
		Exchange:    s.Exchange,
		Code:        s.Code,
		TS:          s.TS,
		AskPrice:    s.AskPrice,
		AskVolume:   s.AskVolume,
		BidPrice:    s.BidPrice,
		BidVolume:   s.BidVolume,
		MarketPhase: s.MarketPhase,
	}
}
