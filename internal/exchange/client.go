// Package exchange hosts connectors for the spot venue consumed by the strategy loop.
package exchange

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors classified by the strategy loop. Connectors wrap these so
// callers can use errors.Is without depending on venue-specific payloads.
var (
	// ErrDataUnavailable marks a failed or short historical candle fetch.
	ErrDataUnavailable = errors.New("exchange: candle data unavailable")
	// ErrQuoteUnavailable marks a failed or stale ticker read.
	ErrQuoteUnavailable = errors.New("exchange: quote unavailable")
	// ErrOrderRejected marks an order submission the venue declined.
	ErrOrderRejected = errors.New("exchange: order rejected")
)

// Side enumerates order directions.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Candle is one OHLCV bucket. Sequences are ordered oldest first.
type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Closed reports whether the candle has finished forming at the given instant.
func (c Candle) Closed(now time.Time) bool {
	return !c.CloseTime.After(now)
}

// MarketOrder is an immediate fill request at the prevailing price.
type MarketOrder struct {
	Symbol        string
	Side          Side
	Quantity      float64
	ClientOrderID string
}

// OCOOrder pairs a take-profit limit with a stop-loss leg; triggering one cancels the other.
type OCOOrder struct {
	Symbol         string
	Side           Side
	Quantity       float64
	StopPrice      float64
	StopLimitPrice float64
	LimitPrice     float64
	ClientOrderID  string
}

// OrderAck is the venue's acknowledgement of a submission.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        string
	ExecutedQty   float64
}

// Client is the full surface the bot consumes from a venue. Implementations are
// constructor-injected so tests can substitute fakes without process state.
type Client interface {
	Quote(ctx context.Context, symbol string) (float64, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	SubmitMarketOrder(ctx context.Context, order MarketOrder) (OrderAck, error)
	SubmitOCOOrder(ctx context.Context, order OCOOrder) (OrderAck, error)
}
