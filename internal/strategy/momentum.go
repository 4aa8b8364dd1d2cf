// Package strategy contains the pure entry rule evaluated once per cycle.
package strategy

import (
	"fmt"

	"github.com/mcadmsolutions/MiBotBinance/internal/indicator"
)

// Signal carries the entry decision plus the sub-conditions that produced it,
// retained for diagnostic logging.
type Signal struct {
	Fire     bool
	Trend    bool // short EMA above long EMA
	Momentum bool // RSI below the overbought threshold
	Breakout bool // quote above the last closed candle's high
}

// Reason renders the sub-condition breakdown for log output.
func (s Signal) Reason() string {
	return fmt.Sprintf("trend=%t momentum=%t breakout=%t", s.Trend, s.Momentum, s.Breakout)
}

// Evaluate applies the entry rule to an indicator snapshot and the current
// quote. Pure and deterministic; all comparisons are strict so equality never
// fires.
func Evaluate(snap indicator.Snapshot, price, rsiThreshold float64) Signal {
	sig := Signal{
		Trend:    snap.EMAShort > snap.EMALong,
		Momentum: snap.RSI < rsiThreshold,
		Breakout: price > snap.High,
	}
	sig.Fire = sig.Trend && sig.Momentum && sig.Breakout
	return sig
}
