package model

import "time"

// ExecutionReceipt is the exchange's acknowledgement of a filled market order.
// Price is authoritative for the ledger entry in live mode.
type ExecutionReceipt struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	ExecutedAt time.Time `json:"executed_at"`
}
