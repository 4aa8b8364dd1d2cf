// Package execution handles the entry + bracket order sequence against a venue.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
	"github.com/mcadmsolutions/MiBotBinance/internal/metrics"
)

// ErrBracketRejected marks an entry that filled but whose protective exit the
// venue declined, leaving the position unprotected.
var ErrBracketRejected = errors.New("execution: bracket rejected")

// pricePrecision is the quote decimals the instrument accepts. A production
// system must source this from the venue's tick size per symbol.
const pricePrecision = 2

// State tracks position protection across the two-call entry/exit sequence.
type State string

const (
	StateNone           State = "NONE"
	StateEntrySubmitted State = "ENTRY_SUBMITTED"
	StateProtected      State = "PROTECTED"
	StateUnprotected    State = "UNPROTECTED"
)

// Params are the execution knobs taken from strategy configuration.
type Params struct {
	Symbol        string
	Quantity      float64
	TakeProfitPct float64
	StopLossPct   float64
}

// Result reports where the sequence ended and the acks collected along the way.
type Result struct {
	State          State
	EntryAck       exchange.OrderAck
	BracketAck     exchange.OrderAck
	ReferencePrice float64
	TakeProfit     float64
	StopLoss       float64
}

// UnprotectedPositionError is returned when the entry filled but the bracket
// was declined. It carries the entry order id so operators can intervene.
type UnprotectedPositionError struct {
	EntryOrderID int64
	TakeProfit   float64
	StopLoss     float64
	Err          error
}

func (e *UnprotectedPositionError) Error() string {
	return fmt.Sprintf("position unprotected: entry order %d filled, bracket declined: %v", e.EntryOrderID, e.Err)
}

func (e *UnprotectedPositionError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrBracketRejected) match the typed error.
func (e *UnprotectedPositionError) Is(target error) bool { return target == ErrBracketRejected }

// BracketLevels derives take-profit and stop-loss prices from the reference
// price and the configured percentages, rounded half-up to the instrument
// price precision.
func BracketLevels(referencePrice, takeProfitPct, stopLossPct float64) (takeProfit, stopLoss float64) {
	ref := decimal.NewFromFloat(referencePrice)
	hundred := decimal.NewFromInt(100)
	one := decimal.NewFromInt(1)

	tp := ref.Mul(one.Add(decimal.NewFromFloat(takeProfitPct).Div(hundred))).Round(pricePrecision)
	sl := ref.Mul(one.Sub(decimal.NewFromFloat(stopLossPct).Div(hundred))).Round(pricePrecision)
	return tp.InexactFloat64(), sl.InexactFloat64()
}

// Executor submits the market entry and its OCO exit. Single attempt per step,
// no retries; the caller decides what a partial outcome means.
type Executor struct {
	client exchange.Client
	params Params
	log    zerolog.Logger
}

// NewExecutor wires a venue client and execution parameters.
func NewExecutor(client exchange.Client, params Params, log zerolog.Logger) *Executor {
	return &Executor{client: client, params: params, log: log}
}

// Execute runs the entry + bracket sequence using the pre-order quote as the
// reference price. The quote, not the actual fill, anchors the bracket levels;
// market fills may slip.
func (e *Executor) Execute(ctx context.Context, referencePrice float64) (Result, error) {
	result := Result{State: StateNone, ReferencePrice: referencePrice}

	entryAck, err := e.client.SubmitMarketOrder(ctx, exchange.MarketOrder{
		Symbol:        e.params.Symbol,
		Side:          exchange.Buy,
		Quantity:      e.params.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return result, fmt.Errorf("entry order: %w", err)
	}
	result.State = StateEntrySubmitted
	result.EntryAck = entryAck
	metrics.OrdersTotal.WithLabelValues(e.params.Symbol, "entry").Inc()
	e.log.Info().
		Str("symbol", e.params.Symbol).
		Int64("order_id", entryAck.OrderID).
		Float64("qty", e.params.Quantity).
		Float64("px", referencePrice).
		Msg("entry order executed")

	takeProfit, stopLoss := BracketLevels(referencePrice, e.params.TakeProfitPct, e.params.StopLossPct)
	result.TakeProfit = takeProfit
	result.StopLoss = stopLoss

	bracketAck, err := e.client.SubmitOCOOrder(ctx, exchange.OCOOrder{
		Symbol:         e.params.Symbol,
		Side:           exchange.Sell,
		Quantity:       e.params.Quantity,
		StopPrice:      stopLoss,
		StopLimitPrice: stopLoss,
		LimitPrice:     takeProfit,
		ClientOrderID:  uuid.NewString(),
	})
	if err != nil {
		result.State = StateUnprotected
		e.log.Error().
			Str("symbol", e.params.Symbol).
			Int64("entry_order_id", entryAck.OrderID).
			Float64("take_profit", takeProfit).
			Float64("stop_loss", stopLoss).
			Err(err).
			Msg("bracket declined, position unprotected")
		return result, &UnprotectedPositionError{
			EntryOrderID: entryAck.OrderID,
			TakeProfit:   takeProfit,
			StopLoss:     stopLoss,
			Err:          err,
		}
	}
	result.State = StateProtected
	result.BracketAck = bracketAck
	metrics.OrdersTotal.WithLabelValues(e.params.Symbol, "bracket").Inc()
	e.log.Info().
		Str("symbol", e.params.Symbol).
		Int64("order_id", bracketAck.OrderID).
		Float64("take_profit", takeProfit).
		Float64("stop_loss", stopLoss).
		Msg("bracket placed")

	return result, nil
}
