// Package indicator derives EMA and RSI values from candle close series.
package indicator

import (
	"fmt"
	"time"

	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
)

// Snapshot holds the indicator row for the most recent fully closed candle.
type Snapshot struct {
	Close    float64
	High     float64
	EMAShort float64
	EMALong  float64
	RSI      float64
}

// EMA computes the exponential moving average of the series, seeded with the
// simple average of the first window values. Returns false when the series is
// shorter than the window.
func EMA(closes []float64, window int) (float64, bool) {
	if window < 1 || len(closes) < window {
		return 0, false
	}
	var seed float64
	for _, px := range closes[:window] {
		seed += px
	}
	ema := seed / float64(window)
	k := 2.0 / float64(window+1)
	for _, px := range closes[window:] {
		ema = px*k + ema*(1-k)
	}
	return ema, true
}

// RSI computes the relative strength index over the series using Wilder's
// smoothing of average gains and losses. Needs window+1 values for the first
// window deltas; returns false with fewer.
func RSI(closes []float64, window int) (float64, bool) {
	if window < 1 || len(closes) < window+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= window; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(window)
	avgLoss /= float64(window)

	for i := window + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(window-1) + gain) / float64(window)
		avgLoss = (avgLoss*float64(window-1) + loss) / float64(window)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// Compute builds the snapshot for the last fully closed candle. A trailing
// candle still forming at now is dropped so the rule never acts on an
// incomplete bar. Too few candles after the drop is ErrDataUnavailable.
func Compute(candles []exchange.Candle, emaShort, emaLong, rsiWindow int, now time.Time) (Snapshot, error) {
	for len(candles) > 0 && !candles[len(candles)-1].Closed(now) {
		candles = candles[:len(candles)-1]
	}

	required := emaLong
	if rsiWindow >= required {
		required = rsiWindow + 1
	}
	if len(candles) < required {
		return Snapshot{}, fmt.Errorf("%w: %d closed candles, need %d", exchange.ErrDataUnavailable, len(candles), required)
	}

	closes := make([]float64, len(candles))
	for i, candle := range candles {
		closes[i] = candle.Close
	}

	emaS, ok := EMA(closes, emaShort)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: short EMA undefined over %d closes", exchange.ErrDataUnavailable, len(closes))
	}
	emaL, ok := EMA(closes, emaLong)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: long EMA undefined over %d closes", exchange.ErrDataUnavailable, len(closes))
	}
	rsi, ok := RSI(closes, rsiWindow)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: RSI undefined over %d closes", exchange.ErrDataUnavailable, len(closes))
	}

	last := candles[len(candles)-1]
	return Snapshot{
		Close:    last.Close,
		High:     last.High,
		EMAShort: emaS,
		EMALong:  emaL,
		RSI:      rsi,
	}, nil
}
