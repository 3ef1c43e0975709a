// internal/events/audit.go
package events

import (
	"context"

	"go.uber.org/zap"
)

// RegisterAuditLog subscribes a structured audit trail covering every event
// type the bus carries. It is the default production consumer; the entries
// land in the rotated JSON log alongside the loop's own output.
func RegisterAuditLog(bus *Bus, logger *zap.Logger) {
	log := logger.Named("audit")

	handler := HandlerFunc(func(_ context.Context, event Event) error {
		switch e := event.(type) {
		case SessionEvent:
			log.Info("Session lifecycle",
				zap.String("event", string(e.Type())),
				zap.String("session_id", e.SessionID),
				zap.String("state", e.State),
				zap.String("reason", e.Reason))
		case TradeEvent:
			log.Info("Trade attempt",
				zap.String("event", string(e.Type())),
				zap.String("session_id", e.SessionID),
				zap.Uint64("seq", e.Seq),
				zap.String("side", string(e.Side)),
				zap.String("amount", e.Amount.String()),
				zap.String("tx_ref", e.TxRef),
				zap.Bool("success", e.Success),
				zap.String("error", e.Error))
		case FeeEvent:
			log.Info("Fee collected",
				zap.String("session_id", e.SessionID),
				zap.String("amount", e.Amount.String()),
				zap.String("tx_ref", e.TxRef))
		default:
			log.Info("Event", zap.String("event", string(event.Type())))
		}
		return nil
	})

	for _, typ := range []EventType{
		SessionCreated, SessionFunded, SessionDepleted,
		SessionStopped, SessionFailed,
		TradeExecuted, TradeFailed, FeeCollected,
	} {
		bus.Subscribe(typ, handler)
	}
}
