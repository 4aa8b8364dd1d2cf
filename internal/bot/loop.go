// Package bot drives the periodic fetch → compute → evaluate → execute cycle.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcadmsolutions/MiBotBinance/internal/config"
	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
	"github.com/mcadmsolutions/MiBotBinance/internal/execution"
	"github.com/mcadmsolutions/MiBotBinance/internal/indicator"
	"github.com/mcadmsolutions/MiBotBinance/internal/metrics"
	"github.com/mcadmsolutions/MiBotBinance/internal/strategy"
)

// Cycle failure categories used for logging and metrics labels.
const (
	CategoryDataUnavailable  = "data_unavailable"
	CategoryQuoteUnavailable = "quote_unavailable"
	CategoryOrderRejected    = "order_rejected"
	CategoryBracketRejected  = "bracket_rejected"
	CategoryUnclassified     = "unclassified"
)

// Classify maps a cycle error onto its failure category.
func Classify(err error) string {
	switch {
	case errors.Is(err, execution.ErrBracketRejected):
		return CategoryBracketRejected
	case errors.Is(err, exchange.ErrOrderRejected):
		return CategoryOrderRejected
	case errors.Is(err, exchange.ErrDataUnavailable):
		return CategoryDataUnavailable
	case errors.Is(err, exchange.ErrQuoteUnavailable):
		return CategoryQuoteUnavailable
	default:
		return CategoryUnclassified
	}
}

// Status is the single-writer health snapshot stored after every cycle and
// read by the liveness reporter.
type Status struct {
	LastCycle time.Time
	LastError string
}

// Executor abstracts the entry + bracket sequence so tests can script outcomes.
type Executor interface {
	Execute(ctx context.Context, referencePrice float64) (execution.Result, error)
}

// Runner owns the strategy loop. One cycle per poll interval, forever; no
// cycle failure escapes the loop boundary.
type Runner struct {
	client   exchange.Client
	executor Executor
	params   config.Strategy
	log      zerolog.Logger
	status   atomic.Pointer[Status]
	now      func() time.Time
}

// NewRunner wires the venue client and executor into a loop runner.
func NewRunner(client exchange.Client, executor Executor, params config.Strategy, log zerolog.Logger) *Runner {
	return &Runner{
		client:   client,
		executor: executor,
		params:   params,
		log:      log,
		now:      time.Now,
	}
}

// Status returns the last completed cycle snapshot; zero before the first cycle.
func (r *Runner) Status() Status {
	if st := r.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

// Run executes one cycle immediately, then one per poll interval until the
// context is canceled. It never returns early on cycle failure.
func (r *Runner) Run(ctx context.Context) {
	r.log.Info().
		Str("symbol", r.params.Symbol).
		Str("timeframe", r.params.Timeframe).
		Dur("interval", r.params.PollInterval()).
		Msg("strategy loop started")

	ticker := time.NewTicker(r.params.PollInterval())
	defer ticker.Stop()

	r.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("strategy loop stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes a single cycle, classifying and absorbing any failure.
func (r *Runner) RunCycle(ctx context.Context) {
	metrics.CyclesTotal.Inc()
	err := r.safeCycle(ctx)

	st := Status{LastCycle: r.now().UTC()}
	if err != nil {
		category := Classify(err)
		metrics.CycleErrorsTotal.WithLabelValues(category).Inc()
		event := r.log.Warn()
		if category == CategoryBracketRejected {
			event = r.log.Error()
		}
		event.Str("category", category).Err(err).Msg("cycle failed")
		st.LastError = err.Error()
	}
	r.status.Store(&st)
}

func (r *Runner) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cycle panic: %v", rec)
		}
	}()
	return r.cycle(ctx)
}

func (r *Runner) cycle(ctx context.Context) error {
	price, err := r.client.Quote(ctx, r.params.Symbol)
	if err != nil {
		return fmt.Errorf("fetch quote: %w", err)
	}

	candles, err := r.client.Candles(ctx, r.params.Symbol, r.params.Timeframe, r.lookback())
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) < r.params.MinCandles() {
		return fmt.Errorf("%w: fetched %d candles, need %d", exchange.ErrDataUnavailable, len(candles), r.params.MinCandles())
	}

	snap, err := indicator.Compute(candles, r.params.EMAShort, r.params.EMALong, r.params.RSIWindow, r.now())
	if err != nil {
		return fmt.Errorf("compute indicators: %w", err)
	}

	sig := strategy.Evaluate(snap, price, r.params.RSIThreshold)
	if !sig.Fire {
		metrics.SignalsTotal.WithLabelValues("no_signal").Inc()
		r.log.Info().
			Float64("px", price).
			Float64("ema_short", snap.EMAShort).
			Float64("ema_long", snap.EMALong).
			Float64("rsi", snap.RSI).
			Float64("high", snap.High).
			Str("conditions", sig.Reason()).
			Msg("no signal")
		return nil
	}

	metrics.SignalsTotal.WithLabelValues("fire").Inc()
	r.log.Info().
		Float64("px", price).
		Float64("rsi", snap.RSI).
		Str("conditions", sig.Reason()).
		Msg("entry signal")

	if _, err := r.executor.Execute(ctx, price); err != nil {
		return err
	}
	return nil
}

// lookback sizes the candle request: the configured window, or just enough for
// the indicators plus one bar that may still be forming.
func (r *Runner) lookback() int {
	if need := r.params.MinCandles(); r.params.Lookback < need {
		return need + 1
	}
	return r.params.Lookback
}
