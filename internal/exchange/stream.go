package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultQuoteStaleAfter = 30 * time.Second

// QuoteStream wraps a Client and replaces the REST ticker with a cached price
// maintained from the venue's trade websocket. Historical candles and order
// submissions still go through the wrapped client.
type QuoteStream struct {
	Client

	wsURL      string
	symbol     string
	staleAfter time.Duration
	log        zerolog.Logger

	mu       sync.RWMutex
	price    float64
	priceAt  time.Time
	nowClock func() time.Time
}

// StreamOption configures QuoteStream construction parameters.
type StreamOption func(*QuoteStream)

// WithStaleAfter overrides how old a cached price may be before Quote refuses it.
func WithStaleAfter(d time.Duration) StreamOption {
	return func(q *QuoteStream) {
		if d > 0 {
			q.staleAfter = d
		}
	}
}

// NewQuoteStream builds a streaming quote source over the given websocket endpoint.
func NewQuoteStream(inner Client, wsURL, symbol string, log zerolog.Logger, opts ...StreamOption) *QuoteStream {
	q := &QuoteStream{
		Client:     inner,
		wsURL:      strings.TrimSuffix(wsURL, "/"),
		symbol:     strings.ToUpper(symbol),
		staleAfter: defaultQuoteStaleAfter,
		log:        log,
		nowClock:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Quote returns the cached streamed price, or ErrQuoteUnavailable when the
// cache is empty or older than the staleness bound.
func (q *QuoteStream) Quote(ctx context.Context, symbol string) (float64, error) {
	if !strings.EqualFold(symbol, q.symbol) {
		return 0, fmt.Errorf("%w: stream tracks %s, not %s", ErrQuoteUnavailable, q.symbol, symbol)
	}
	q.mu.RLock()
	price, at := q.price, q.priceAt
	q.mu.RUnlock()
	if price <= 0 {
		return 0, fmt.Errorf("%w: no trade received yet", ErrQuoteUnavailable)
	}
	if age := q.nowClock().Sub(at); age > q.staleAfter {
		return 0, fmt.Errorf("%w: last trade %s old", ErrQuoteUnavailable, age.Round(time.Second))
	}
	return price, nil
}

type streamEnvelope struct {
	Stream string      `json:"stream"`
	Data   streamTrade `json:"data"`
}

type streamTrade struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// Run consumes the trade stream until the context is canceled, reconnecting
// with exponential backoff on transport failures.
func (q *QuoteStream) Run(ctx context.Context) error {
	url := fmt.Sprintf("%s/stream?streams=%s@trade", q.wsURL, strings.ToLower(q.symbol))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := q.consume(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Warn().Err(err).Msg("quote stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (q *QuoteStream) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	q.log.Info().Str("symbol", q.symbol).Msg("connected quote stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					q.log.Warn().Err(err).Msg("quote stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env streamEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			q.log.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		px, err := strconv.ParseFloat(env.Data.Price, 64)
		if err != nil || px <= 0 {
			q.log.Warn().Str("price", env.Data.Price).Msg("invalid price from stream")
			continue
		}

		q.mu.Lock()
		q.price = px
		q.priceAt = time.UnixMilli(env.Data.TradeTime)
		if env.Data.TradeTime == 0 {
			q.priceAt = q.nowClock()
		}
		q.mu.Unlock()
	}
}
