// internal/storage/models/trade.go
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/arturshev/solana-volume-bot/internal/types"
)

// Trade is one completed or failed exchange attempt. Append-only.
type Trade struct {
	SessionID     string          `json:"session_id"`
	Seq           uint64          `json:"seq"`
	Side          types.Side      `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	TxRef         string          `json:"tx_ref,omitempty"`
	Success       bool            `json:"success"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FeeTransfer is the audit entry for routing the fee pool to the platform
// address.
type FeeTransfer struct {
	SessionID string          `json:"session_id"`
	Amount    decimal.Decimal `json:"amount"`
	TxRef     string          `json:"tx_ref"`
	CreatedAt time.Time       `json:"created_at"`
}
