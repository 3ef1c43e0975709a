// internal/events/types.go
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/arturshev/solana-volume-bot/internal/types"
)

// EventType represents the type of event.
type EventType string

const (
	SessionCreated  EventType = "session.created"
	SessionFunded   EventType = "session.funded"
	SessionDepleted EventType = "session.depleted"
	SessionStopped  EventType = "session.stopped"
	SessionFailed   EventType = "session.failed"
	TradeExecuted   EventType = "trade.executed"
	TradeFailed     EventType = "trade.failed"
	FeeCollected    EventType = "fee.collected"
)

// Event is the common interface for bus payloads.
type Event interface {
	Type() EventType
	Time() time.Time
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	SessionID string
}

func (e BaseEvent) Type() EventType { return e.EventType }
func (e BaseEvent) Time() time.Time { return e.EventTime }

// SessionEvent marks a lifecycle transition.
type SessionEvent struct {
	BaseEvent
	TargetAsset   string
	WalletAddress string
	State         string
	Reason        string
}

// TradeEvent reports one trade attempt outcome.
type TradeEvent struct {
	BaseEvent
	Seq     uint64
	Side    types.Side
	Amount  decimal.Decimal
	TxRef   string
	Success bool
	Error   string
}

// FeeEvent reports a completed fee transfer.
type FeeEvent struct {
	BaseEvent
	Amount decimal.Decimal
	TxRef  string
}

// NewSessionEvent builds a lifecycle event stamped now.
func NewSessionEvent(typ EventType, sessionID, targetAsset, walletAddress, state, reason string) SessionEvent {
	return SessionEvent{
		BaseEvent:     BaseEvent{EventType: typ, EventTime: time.Now(), SessionID: sessionID},
		TargetAsset:   targetAsset,
		WalletAddress: walletAddress,
		State:         state,
		Reason:        reason,
	}
}
