package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
)

type fakeClient struct {
	marketErr error
	ocoErr    error
	markets   []exchange.MarketOrder
	ocos      []exchange.OCOOrder
}

func (f *fakeClient) Quote(ctx context.Context, symbol string) (float64, error) {
	return 0, errors.New("not used")
}

func (f *fakeClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) SubmitMarketOrder(ctx context.Context, order exchange.MarketOrder) (exchange.OrderAck, error) {
	f.markets = append(f.markets, order)
	if f.marketErr != nil {
		return exchange.OrderAck{}, f.marketErr
	}
	return exchange.OrderAck{OrderID: 101, ClientOrderID: order.ClientOrderID, Status: "FILLED", ExecutedQty: order.Quantity}, nil
}

func (f *fakeClient) SubmitOCOOrder(ctx context.Context, order exchange.OCOOrder) (exchange.OrderAck, error) {
	f.ocos = append(f.ocos, order)
	if f.ocoErr != nil {
		return exchange.OrderAck{}, f.ocoErr
	}
	return exchange.OrderAck{OrderID: 202, ClientOrderID: order.ClientOrderID, Status: "EXECUTING"}, nil
}

func testParams() Params {
	return Params{Symbol: "BTCUSDT", Quantity: 0.001, TakeProfitPct: 1.5, StopLossPct: 0.75}
}

func TestBracketLevelsRounding(t *testing.T) {
	tp, sl := BracketLevels(50000, 1.5, 0.75)
	if tp != 50750.00 {
		t.Fatalf("expected take profit 50750.00, got %.2f", tp)
	}
	if sl != 49625.00 {
		t.Fatalf("expected stop loss 49625.00, got %.2f", sl)
	}
}

func TestBracketLevelsHalfUp(t *testing.T) {
	// 2 * 1.0025 = 2.0050 exactly; half-up rounding gives 2.01.
	tp, _ := BracketLevels(2, 0.25, 0.25)
	if tp != 2.01 {
		t.Fatalf("expected half-up rounding to 2.01, got %.4f", tp)
	}
	// 2 * 0.9975 = 1.9950 exactly; half-up gives 2.00.
	_, sl := BracketLevels(2, 0.25, 0.25)
	if sl != 2.00 {
		t.Fatalf("expected half-up rounding to 2.00, got %.4f", sl)
	}
}

func TestExecuteProtected(t *testing.T) {
	client := &fakeClient{}
	var buf bytes.Buffer
	exec := NewExecutor(client, testParams(), zerolog.New(&buf))

	result, err := exec.Execute(context.Background(), 50000)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.State != StateProtected {
		t.Fatalf("expected PROTECTED, got %s", result.State)
	}
	if result.EntryAck.OrderID != 101 || result.BracketAck.OrderID != 202 {
		t.Fatalf("unexpected acks: %+v", result)
	}
	if len(client.markets) != 1 || len(client.ocos) != 1 {
		t.Fatalf("expected one entry and one bracket submission")
	}

	oco := client.ocos[0]
	if oco.Side != exchange.Sell {
		t.Fatalf("bracket must be sell side")
	}
	if oco.StopPrice != 49625.00 || oco.StopLimitPrice != 49625.00 {
		t.Fatalf("unexpected stop prices: %+v", oco)
	}
	if oco.LimitPrice != 50750.00 {
		t.Fatalf("unexpected limit price: %.2f", oco.LimitPrice)
	}
	if oco.Quantity != client.markets[0].Quantity {
		t.Fatalf("bracket quantity must match entry")
	}
	if client.markets[0].ClientOrderID == "" {
		t.Fatalf("entry should carry a client order id")
	}

	out := buf.String()
	if !strings.Contains(out, "entry order executed") || !strings.Contains(out, "bracket placed") {
		t.Fatalf("missing log lines: %s", out)
	}
}

func TestExecuteEntryRejected(t *testing.T) {
	client := &fakeClient{marketErr: fmt.Errorf("%w: insufficient balance", exchange.ErrOrderRejected)}
	exec := NewExecutor(client, testParams(), zerolog.Nop())

	result, err := exec.Execute(context.Background(), 50000)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, exchange.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	if errors.Is(err, ErrBracketRejected) {
		t.Fatalf("entry rejection must not classify as bracket rejection")
	}
	if result.State != StateNone {
		t.Fatalf("expected NONE, got %s", result.State)
	}
	if len(client.ocos) != 0 {
		t.Fatalf("no bracket may be submitted after a rejected entry")
	}
}

func TestExecuteBracketRejected(t *testing.T) {
	client := &fakeClient{ocoErr: fmt.Errorf("%w: market closed", exchange.ErrOrderRejected)}
	var buf bytes.Buffer
	exec := NewExecutor(client, testParams(), zerolog.New(&buf))

	result, err := exec.Execute(context.Background(), 50000)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrBracketRejected) {
		t.Fatalf("expected ErrBracketRejected, got %v", err)
	}

	var unprotected *UnprotectedPositionError
	if !errors.As(err, &unprotected) {
		t.Fatalf("expected UnprotectedPositionError, got %T", err)
	}
	if unprotected.EntryOrderID != 101 {
		t.Fatalf("expected entry order id 101, got %d", unprotected.EntryOrderID)
	}
	if result.State != StateUnprotected {
		t.Fatalf("expected UNPROTECTED, got %s", result.State)
	}
	if !strings.Contains(buf.String(), "position unprotected") {
		t.Fatalf("expected elevated-severity log with entry id: %s", buf.String())
	}
}
