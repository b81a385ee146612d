package metrics

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoBook is returned when one side of the book is empty.
var ErrNoBook = errors.New("incomplete top of book")

// SpreadMetrics contains top-of-book derived prices.
type SpreadMetrics struct {
	SpreadBps  float64 `json:"spread_bps"`  // Spread in basis points of the bid
	MidPrice   float64 `json:"mid_price"`   // (bid + ask) / 2
	MicroPrice float64 `json:"micro_price"` // Size-weighted mid
}

// CalculateSpread computes spread metrics from the best bid and ask.
//
//   - spread_bps: (ask - bid) / bid * 10000
//   - mid_price: (bid + ask) / 2
//   - micro_price: (ask * bid_size + bid * ask_size) / (bid_size + ask_size)
//
// Sizes of zero fall back to the mid price for micro_price, since a feed
// may publish prices before sizes.
func CalculateSpread(bidPrice float64, bidSize int64, askPrice float64, askSize int64) (*SpreadMetrics, error) {
	if bidPrice <= 0 || askPrice <= 0 {
		return nil, fmt.Errorf("%w: bid=%f ask=%f", ErrNoBook, bidPrice, askPrice)
	}
	if bidSize < 0 || askSize < 0 {
		return nil, fmt.Errorf("invalid sizes: bid=%d ask=%d", bidSize, askSize)
	}
	if askPrice < bidPrice {
		return nil, fmt.Errorf("crossed book: bid=%f > ask=%f", bidPrice, askPrice)
	}

	spreadBps := (askPrice - bidPrice) / bidPrice * 10000.0
	midPrice := (bidPrice + askPrice) / 2.0

	microPrice := midPrice
	if total := float64(bidSize + askSize); total > 0 {
		microPrice = (askPrice*float64(bidSize) + bidPrice*float64(askSize)) / total
	}

	return &SpreadMetrics{
		SpreadBps:  roundToDecimal(spreadBps, 4),
		MidPrice:   roundToDecimal(midPrice, 8),
		MicroPrice: roundToDecimal(microPrice, 8),
	}, nil
}

// roundToDecimal rounds a float64 to a specified number of decimal places.
func roundToDecimal(value float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(value*multiplier) / multiplier
}
