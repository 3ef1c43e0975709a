// internal/storage/models/split.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingSplit is the one-time record of a detected deposit divided into the
// operating pool and the fee pool. At most one exists per session.
type FundingSplit struct {
	SessionID      string          `json:"session_id"`
	Total          decimal.Decimal `json:"total"`
	Operating      decimal.Decimal `json:"operating"`
	Fee            decimal.Decimal `json:"fee"`
	FeeAddress     string          `json:"fee_address"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}
