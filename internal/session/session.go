// internal/session/session.go
// Package session implements the orchestrator: the per-session state machine
// and the continuous trading loop that drives a deposit from funding to
// depletion.
package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/arturshev/solana-volume-bot/internal/storage/models"
	"github.com/arturshev/solana-volume-bot/internal/types"
)

// validTransitions encodes the lifecycle
// CREATED → MONITORING → FUNDED → TRADING → {DEPLETED | STOPPED | FAILED}.
// STOPPED and FAILED are reachable from any non-terminal state.
var validTransitions = map[models.State][]models.State{
	models.StateCreated:    {models.StateMonitoring, models.StateStopped, models.StateFailed},
	models.StateMonitoring: {models.StateFunded, models.StateStopped, models.StateFailed},
	models.StateFunded:     {models.StateTrading, models.StateMonitoring, models.StateStopped, models.StateFailed},
	models.StateTrading:    {models.StateDepleted, models.StateStopped, models.StateFailed},
}

func canTransition(from, to models.State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func newSession(id, targetAsset, market, walletAddress string) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:               id,
		TargetAsset:      targetAsset,
		Market:           market,
		WalletAddress:    walletAddress,
		State:            models.StateCreated,
		OperatingBalance: decimal.Zero,
		Volume:           decimal.Zero,
		LastActivityAt:   now,
		CreatedAt:        now,
	}
}

// nextSide derives the strict BUY/SELL alternation from the last successful
// trade. A failed trade never advances the alternation.
func nextSide(lastSide types.Side) types.Side {
	if lastSide == "" {
		return types.SideBuy
	}
	return lastSide.Opposite()
}

// Snapshot is the caller-visible view of a session. It deliberately exposes
// nothing beyond the documented status fields.
type Snapshot struct {
	ID                  string          `json:"id"`
	TargetAsset         string          `json:"target_asset"`
	WalletAddress       string          `json:"wallet_address"`
	State               string          `json:"state"`
	OperatingBalance    decimal.Decimal `json:"operating_balance"`
	TradeCount          uint64          `json:"trade_count"`
	FailedTrades        uint64          `json:"failed_trades"`
	ConsecutiveFailures uint64          `json:"consecutive_failures"`
	Volume              decimal.Decimal `json:"volume"`
	LoopAlive           bool            `json:"loop_alive"`
	LastActivityAt      time.Time       `json:"last_activity_at"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

func snapshotOf(s *models.Session, loopAlive bool) *Snapshot {
	return &Snapshot{
		ID:                  s.ID,
		TargetAsset:         s.TargetAsset,
		WalletAddress:       s.WalletAddress,
		State:               string(s.State),
		OperatingBalance:    s.OperatingBalance,
		TradeCount:          s.TradeCount,
		FailedTrades:        s.FailedTrades,
		ConsecutiveFailures: s.ConsecutiveFailures,
		Volume:              s.Volume,
		LoopAlive:           loopAlive,
		LastActivityAt:      s.LastActivityAt,
		CreatedAt:           s.CreatedAt,
		CompletedAt:         s.CompletedAt,
	}
}
