// internal/storage/models/session.go
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/arturshev/solana-volume-bot/internal/types"
)

// State is a session's position in the lifecycle state machine.
type State string

const (
	StateCreated    State = "CREATED"
	StateMonitoring State = "MONITORING"
	StateFunded     State = "FUNDED"
	StateTrading    State = "TRADING"
	StateDepleted   State = "DEPLETED"
	StateStopped    State = "STOPPED"
	StateFailed     State = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateDepleted, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// Session is the durable record of one funding-to-depletion workflow.
// Owned by the orchestrator; everything needed to resume the trading loop
// after a restart is reconstructible from this record alone.
type Session struct {
	ID            string `json:"id"`
	TargetAsset   string `json:"target_asset"`
	Market        string `json:"market"`
	WalletAddress string `json:"wallet_address"`
	State         State  `json:"state"`

	OperatingBalance decimal.Decimal `json:"operating_balance"`
	TradeCount       uint64          `json:"trade_count"`
	// TradeAttempts counts every attempt including failures; it keys
	// ephemeral trade wallets so each attempt gets a fresh address.
	TradeAttempts       uint64          `json:"trade_attempts"`
	FailedTrades        uint64          `json:"failed_trades"`
	ConsecutiveFailures uint64          `json:"consecutive_failures"`
	Volume              decimal.Decimal `json:"volume"`
	// LastSide is the side of the last successful trade; empty before the
	// first success. Alternation is derived from it, so a failed trade does
	// not advance the alternation.
	LastSide types.Side `json:"last_side,omitempty"`

	FailureReason  string     `json:"failure_reason,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
