package model

import "time"

// Side is the direction of a trade event.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SignalEvent is one accepted trade decision.
type SignalEvent struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	Price  float64   `json:"price"`
	Size   float64   `json:"size"`
}
