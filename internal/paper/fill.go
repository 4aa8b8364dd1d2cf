package paper

import (
	"time"

	"github.com/mcadmsolutions/MiBotBinance/internal/exchange"
)

// Fill records one simulated order acknowledgement for later analysis.
type Fill struct {
	OrderID int64         `json:"order_id"`
	Symbol  string        `json:"symbol"`
	Side    exchange.Side `json:"side"`
	Type    string        `json:"type"` // MARKET or OCO
	Qty     float64       `json:"qty"`
	Price   float64       `json:"price"`
	Ts      time.Time     `json:"ts"`
}

// FillRecorder captures paper fills for later inspection.
type FillRecorder interface {
	Record(Fill)
}
