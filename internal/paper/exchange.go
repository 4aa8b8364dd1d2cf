// Package paper simulates order execution against an in-memory account so the
// bot can run the full cycle with no credentials at risk.
package paper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
)

// Exchange implements exchange.Client on top of a live market data source and a
// simulated account. Quotes and candles pass through; order submissions fill
// instantly at the current quote.
type Exchange struct {
	data      exchange.Client
	account   *Account
	ledger    *Ledger
	recorders []FillRecorder
	log       zerolog.Logger
	nextID    atomic.Int64
	now       func() time.Time
}

// NewExchange wires the simulated venue over the given market data source.
func NewExchange(data exchange.Client, account *Account, log zerolog.Logger, recorders ...FillRecorder) *Exchange {
	return &Exchange{
		data:      data,
		account:   account,
		ledger:    NewLedger(64),
		recorders: recorders,
		log:       log,
		now:       time.Now,
	}
}

// Ledger exposes the in-memory fill history for inspection.
func (e *Exchange) Ledger() *Ledger { return e.ledger }

// Account exposes the simulated balances.
func (e *Exchange) Account() *Account { return e.account }

// Quote delegates to the underlying market data source.
func (e *Exchange) Quote(ctx context.Context, symbol string) (float64, error) {
	return e.data.Quote(ctx, symbol)
}

// Candles delegates to the underlying market data source.
func (e *Exchange) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return e.data.Candles(ctx, symbol, interval, limit)
}

// SubmitMarketOrder fills the order against the account at the current quote.
func (e *Exchange) SubmitMarketOrder(ctx context.Context, order exchange.MarketOrder) (exchange.OrderAck, error) {
	price, err := e.data.Quote(ctx, order.Symbol)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("%w: no mark price: %v", exchange.ErrOrderRejected, err)
	}
	if err := e.account.MarketFill(order.Symbol, order.Side, order.Quantity, price); err != nil {
		return exchange.OrderAck{}, fmt.Errorf("%w: %v", exchange.ErrOrderRejected, err)
	}
	ack := exchange.OrderAck{
		OrderID:       e.nextID.Add(1),
		ClientOrderID: order.ClientOrderID,
		Status:        "FILLED",
		ExecutedQty:   order.Quantity,
	}
	e.record(Fill{
		OrderID: ack.OrderID,
		Symbol:  order.Symbol,
		Side:    order.Side,
		Type:    "MARKET",
		Qty:     order.Quantity,
		Price:   price,
		Ts:      e.now().UTC(),
	})
	e.log.Info().Str("symbol", order.Symbol).Str("side", string(order.Side)).Float64("qty", order.Quantity).Float64("px", price).Msg("paper market fill")
	return ack, nil
}

// SubmitOCOOrder acknowledges the exit pair after checking the account holds
// the quantity. The resting legs are not simulated further.
func (e *Exchange) SubmitOCOOrder(ctx context.Context, order exchange.OCOOrder) (exchange.OrderAck, error) {
	if order.Quantity <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("%w: quantity must be positive", exchange.ErrOrderRejected)
	}
	if held := e.account.Position(order.Symbol); held+epsilon < order.Quantity {
		return exchange.OrderAck{}, fmt.Errorf("%w: position %f below oco quantity %f", exchange.ErrOrderRejected, held, order.Quantity)
	}
	ack := exchange.OrderAck{
		OrderID:       e.nextID.Add(1),
		ClientOrderID: order.ClientOrderID,
		Status:        "EXECUTING",
	}
	e.record(Fill{
		OrderID: ack.OrderID,
		Symbol:  order.Symbol,
		Side:    order.Side,
		Type:    "OCO",
		Qty:     order.Quantity,
		Price:   order.LimitPrice,
		Ts:      e.now().UTC(),
	})
	e.log.Info().Str("symbol", order.Symbol).Float64("tp", order.LimitPrice).Float64("sl", order.StopPrice).Msg("paper oco accepted")
	return ack, nil
}

func (e *Exchange) record(fill Fill) {
	e.ledger.Record(fill)
	for _, recorder := range e.recorders {
		recorder.Record(fill)
	}
}
