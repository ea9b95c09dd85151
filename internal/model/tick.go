package model

import "time"

// Tick represents a single ticker message from the exchange feed.
// Time is already normalized into the configured market location.
type Tick struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Ask    float64   `json:"ask"`
	Bid    float64   `json:"bid"`
	High   float64   `json:"high"`
	Last   float64   `json:"last"`
	Low    float64   `json:"low"`
	Volume float64   `json:"volume"` // exchange-reported rolling volume
}

// Mid returns the midpoint between the best bid and ask.
func (t Tick) Mid() float64 {
	return (t.Ask + t.Bid) / 2
}
