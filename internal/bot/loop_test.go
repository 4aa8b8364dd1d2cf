package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcadmsolutions/MiBotBinance/internal/config"
	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
	"github.com/mcadmsolutions/MiBotBinance/internal/execution"
)

type fakeExchange struct {
	quote      float64
	quoteErrs  []error
	quoteCalls int

	candles      []exchange.Candle
	candlesErr   error
	candleCalls  int
	panicOnQuote bool
}

func (f *fakeExchange) Quote(ctx context.Context, symbol string) (float64, error) {
	if f.panicOnQuote {
		panic("boom")
	}
	call := f.quoteCalls
	f.quoteCalls++
	if call < len(f.quoteErrs) && f.quoteErrs[call] != nil {
		return 0, f.quoteErrs[call]
	}
	return f.quote, nil
}

func (f *fakeExchange) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	f.candleCalls++
	if f.candlesErr != nil {
		return nil, f.candlesErr
	}
	return f.candles, nil
}

func (f *fakeExchange) SubmitMarketOrder(ctx context.Context, order exchange.MarketOrder) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, errors.New("not used")
}

func (f *fakeExchange) SubmitOCOOrder(ctx context.Context, order exchange.OCOOrder) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, errors.New("not used")
}

type fakeExecutor struct {
	calls  []float64
	result execution.Result
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, referencePrice float64) (execution.Result, error) {
	f.calls = append(f.calls, referencePrice)
	return f.result, f.err
}

func testStrategy() config.Strategy {
	return config.Strategy{
		Symbol:           "BTCUSDT",
		Timeframe:        "15m",
		EMAShort:         9,
		EMALong:          21,
		RSIWindow:        14,
		RSIThreshold:     99.9,
		TakeProfitPct:    1.5,
		StopLossPct:      0.75,
		Quantity:         0.001,
		PollIntervalSecs: 1,
	}
}

// risingCandles builds a closed uptrend with a single small dip so the short
// EMA leads the long one while RSI stays below 100.
func risingCandles(n int) []exchange.Candle {
	start := time.Now().Add(-time.Duration(n+1) * 15 * time.Minute)
	candles := make([]exchange.Candle, n)
	for i := range candles {
		px := 100 + float64(i)
		if i == n-5 {
			px -= 2
		}
		open := start.Add(time.Duration(i) * 15 * time.Minute)
		candles[i] = exchange.Candle{
			OpenTime:  open,
			Open:      px,
			High:      px + 1,
			Low:       px - 1,
			Close:     px,
			Volume:    5,
			CloseTime: open.Add(15 * time.Minute),
		}
	}
	return candles
}

func TestCycleFiresAndExecutes(t *testing.T) {
	candles := risingCandles(30)
	breakout := candles[len(candles)-1].High + 1
	client := &fakeExchange{quote: breakout, candles: candles}
	exec := &fakeExecutor{result: execution.Result{State: execution.StateProtected}}
	runner := NewRunner(client, exec, testStrategy(), zerolog.Nop())

	runner.RunCycle(context.Background())

	if len(exec.calls) != 1 {
		t.Fatalf("expected one execution, got %d", len(exec.calls))
	}
	if exec.calls[0] != breakout {
		t.Fatalf("executor should receive the pre-order quote, got %.2f", exec.calls[0])
	}
	st := runner.Status()
	if st.LastCycle.IsZero() {
		t.Fatalf("status not recorded")
	}
	if st.LastError != "" {
		t.Fatalf("unexpected error recorded: %s", st.LastError)
	}
}

func TestCycleNoSignalSkipsExecutor(t *testing.T) {
	candles := risingCandles(30)
	client := &fakeExchange{quote: candles[len(candles)-1].High + 1, candles: candles}
	exec := &fakeExecutor{}
	params := testStrategy()
	params.RSIThreshold = 1 // momentum condition can never hold
	runner := NewRunner(client, exec, params, zerolog.Nop())

	runner.RunCycle(context.Background())

	if len(exec.calls) != 0 {
		t.Fatalf("executor must not run without a signal")
	}
	if st := runner.Status(); st.LastError != "" {
		t.Fatalf("no-signal cycle is not an error: %s", st.LastError)
	}
}

func TestCycleSurvivesFetchFailure(t *testing.T) {
	candles := risingCandles(30)
	client := &fakeExchange{
		quote:     50, // below breakout, no fire
		quoteErrs: []error{fmt.Errorf("%w: connection refused", exchange.ErrQuoteUnavailable)},
		candles:   candles,
	}
	exec := &fakeExecutor{}
	runner := NewRunner(client, exec, testStrategy(), zerolog.Nop())

	runner.RunCycle(context.Background())
	st := runner.Status()
	if st.LastError == "" {
		t.Fatalf("first cycle should record the failure")
	}

	runner.RunCycle(context.Background())
	st = runner.Status()
	if st.LastError != "" {
		t.Fatalf("second cycle should succeed, got %s", st.LastError)
	}
	if client.quoteCalls != 2 {
		t.Fatalf("expected the loop to keep fetching, got %d calls", client.quoteCalls)
	}
}

func TestCycleShortWindowIsDataUnavailable(t *testing.T) {
	client := &fakeExchange{quote: 100, candles: risingCandles(5)}
	runner := NewRunner(client, &fakeExecutor{}, testStrategy(), zerolog.Nop())

	runner.RunCycle(context.Background())
	st := runner.Status()
	if !strings.Contains(st.LastError, "candles") {
		t.Fatalf("expected short-window failure, got %q", st.LastError)
	}
}

func TestCycleRecoversPanic(t *testing.T) {
	client := &fakeExchange{panicOnQuote: true}
	runner := NewRunner(client, &fakeExecutor{}, testStrategy(), zerolog.Nop())

	runner.RunCycle(context.Background())
	st := runner.Status()
	if !strings.Contains(st.LastError, "panic") {
		t.Fatalf("expected recovered panic in status, got %q", st.LastError)
	}
}

func TestCycleBracketRejectionSurfaced(t *testing.T) {
	candles := risingCandles(30)
	client := &fakeExchange{quote: candles[len(candles)-1].High + 1, candles: candles}
	exec := &fakeExecutor{
		result: execution.Result{State: execution.StateUnprotected},
		err: &execution.UnprotectedPositionError{
			EntryOrderID: 101,
			Err:          fmt.Errorf("%w: market closed", exchange.ErrOrderRejected),
		},
	}
	runner := NewRunner(client, exec, testStrategy(), zerolog.Nop())

	runner.RunCycle(context.Background())
	st := runner.Status()
	if st.LastError == "" {
		t.Fatalf("bracket rejection must not look like a clean cycle")
	}
	if !strings.Contains(st.LastError, "101") {
		t.Fatalf("entry order id missing from status: %q", st.LastError)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"data": {fmt.Errorf("fetch candles: %w", exchange.ErrDataUnavailable), CategoryDataUnavailable},
		"quote": {fmt.Errorf("fetch quote: %w", exchange.ErrQuoteUnavailable), CategoryQuoteUnavailable},
		"order": {fmt.Errorf("entry order: %w", exchange.ErrOrderRejected), CategoryOrderRejected},
		"bracket": {&execution.UnprotectedPositionError{
			EntryOrderID: 7,
			Err:          fmt.Errorf("%w: nope", exchange.ErrOrderRejected),
		}, CategoryBracketRejected},
		"unknown": {errors.New("mystery"), CategoryUnclassified},
	}
	for name, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", name, tc.want, got)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	candles := risingCandles(30)
	client := &fakeExchange{quote: 50, candles: candles}
	runner := NewRunner(client, &fakeExecutor{}, testStrategy(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	// First cycle runs immediately; cancel and expect a prompt return.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
	if runner.Status().LastCycle.IsZero() {
		t.Fatalf("expected at least one completed cycle")
	}
}
