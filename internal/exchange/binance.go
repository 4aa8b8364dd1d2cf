package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const defaultRequestTimeout = 10 * time.Second

// BinanceClient talks to a Binance-style spot REST API. Order endpoints are
// HMAC-SHA256 signed; every call carries an explicit deadline so a hung venue
// delays at most one cycle instead of stalling the loop.
type BinanceClient struct {
	baseURL        string
	apiKey         string
	apiSecret      string
	http           *http.Client
	requestTimeout time.Duration
	log            zerolog.Logger
	now            func() time.Time
}

// BinanceOption configures BinanceClient construction parameters.
type BinanceOption func(*BinanceClient)

// WithRequestTimeout overrides the default per-call deadline.
func WithRequestTimeout(d time.Duration) BinanceOption {
	return func(c *BinanceClient) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client (used by tests).
func WithHTTPClient(h *http.Client) BinanceOption {
	return func(c *BinanceClient) {
		if h != nil {
			c.http = h
		}
	}
}

// NewBinanceClient constructs a REST client for the given base URL and credentials.
func NewBinanceClient(baseURL, apiKey, apiSecret string, log zerolog.Logger, opts ...BinanceOption) *BinanceClient {
	c := &BinanceClient{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		http:           &http.Client{Timeout: defaultRequestTimeout},
		requestTimeout: defaultRequestTimeout,
		log:            log,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type binanceOrderAck struct {
	OrderID       int64  `json:"orderId"`
	OrderListID   int64  `json:"orderListId"`
	ClientOrderID string `json:"clientOrderId"`
	ListClientID  string `json:"listClientOrderId"`
	Status        string `json:"status"`
	ListStatus    string `json:"listOrderStatus"`
	ExecutedQty   string `json:"executedQty"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Quote returns the last traded price for the symbol.
func (c *BinanceClient) Quote(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.get(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	var tick binanceTicker
	if err := json.Unmarshal(body, &tick); err != nil {
		return 0, fmt.Errorf("%w: decode ticker: %v", ErrQuoteUnavailable, err)
	}
	px, err := strconv.ParseFloat(tick.Price, 64)
	if err != nil || px <= 0 {
		return 0, fmt.Errorf("%w: invalid ticker price %q", ErrQuoteUnavailable, tick.Price)
	}
	return px, nil
}

// Candles returns up to limit klines for the symbol and interval, oldest first.
func (c *BinanceClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode klines: %v", ErrDataUnavailable, err)
	}
	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// SubmitMarketOrder places an immediate-fill order on the signed order endpoint.
func (c *BinanceClient) SubmitMarketOrder(ctx context.Context, order MarketOrder) (OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(order.Quantity))
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}
	body, err := c.postSigned(ctx, "/api/v3/order", params)
	if err != nil {
		return OrderAck{}, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	return decodeOrderAck(body)
}

// SubmitOCOOrder places the paired take-profit/stop-loss exit.
func (c *BinanceClient) SubmitOCOOrder(ctx context.Context, order OCOOrder) (OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("quantity", formatQty(order.Quantity))
	params.Set("price", formatPrice(order.LimitPrice))
	params.Set("stopPrice", formatPrice(order.StopPrice))
	params.Set("stopLimitPrice", formatPrice(order.StopLimitPrice))
	params.Set("stopLimitTimeInForce", "GTC")
	if order.ClientOrderID != "" {
		params.Set("listClientOrderId", order.ClientOrderID)
	}
	body, err := c.postSigned(ctx, "/api/v3/order/oco", params)
	if err != nil {
		return OrderAck{}, fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	return decodeOrderAck(body)
}

func (c *BinanceClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *BinanceClient) postSigned(ctx context.Context, path string, params url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.sign(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req)
}

func (c *BinanceClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr binanceError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("status %d code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func (c *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeOrderAck(body []byte) (OrderAck, error) {
	var raw binanceOrderAck
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderAck{}, fmt.Errorf("%w: decode ack: %v", ErrOrderRejected, err)
	}
	ack := OrderAck{
		OrderID:       raw.OrderID,
		ClientOrderID: raw.ClientOrderID,
		Status:        raw.Status,
	}
	// OCO responses identify the order list rather than a single order.
	if ack.OrderID == 0 && raw.OrderListID != 0 {
		ack.OrderID = raw.OrderListID
	}
	if ack.ClientOrderID == "" {
		ack.ClientOrderID = raw.ListClientID
	}
	if ack.Status == "" {
		ack.Status = raw.ListStatus
	}
	if raw.ExecutedQty != "" {
		if qty, err := strconv.ParseFloat(raw.ExecutedQty, 64); err == nil {
			ack.ExecutedQty = qty
		}
	}
	return ack, nil
}

func parseKlineRow(row []any) (Candle, error) {
	if len(row) < 7 {
		return Candle{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("kline open time %v", row[0])
	}
	closeTime, ok := row[6].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("kline close time %v", row[6])
	}
	prices := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		str, ok := row[i].(string)
		if !ok {
			return Candle{}, fmt.Errorf("kline field %d not a string: %v", i, row[i])
		}
		px, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		prices[i-1] = px
	}
	return Candle{
		OpenTime:  time.UnixMilli(int64(openTime)),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		CloseTime: time.UnixMilli(int64(closeTime)),
	}, nil
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
