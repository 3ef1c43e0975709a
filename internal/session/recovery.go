// internal/session/recovery.go
package session

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/metrics"
	"github.com/arturshev/solana-volume-bot/internal/storage/models"
)

// RecoverAll relaunches the loop for every persisted non-terminal session
// that does not already have one running. Called once at startup and again by
// every sweep tick, so a crashed loop is at worst one sweep interval away
// from resuming.
func (o *Orchestrator) RecoverAll(ctx context.Context) error {
	sessions, err := o.store.ListNonTerminalSessions(ctx)
	if err != nil {
		return err
	}
	metrics.SessionsActive.Set(float64(len(sessions)))

	recovered := 0
	for _, sess := range sessions {
		if o.loopAlive(sess.ID) {
			continue
		}
		if err := o.reattach(ctx, sess); err != nil {
			o.logger.Error("Failed to recover session",
				zap.String("session_id", sess.ID),
				zap.Error(err))
			continue
		}
		recovered++
	}

	if recovered > 0 {
		o.logger.Info("Sessions recovered", zap.Int("count", recovered))
	}
	return nil
}

// reattach reconciles one persisted session with reality before relaunching
// its loop. A TRADING session's recorded balance is checked against the
// chain: below the floor the session is closed out as depleted, and a
// shortfall clamps the recorded balance down so the loop never trades funds
// that are not there.
func (o *Orchestrator) reattach(ctx context.Context, sess *models.Session) error {
	if sess.State == models.StateTrading {
		if done, err := o.reconcileTradingBalance(ctx, sess); err != nil || done {
			return err
		}
	}

	o.logger.Info("Relaunching session loop",
		zap.String("session_id", sess.ID),
		zap.String("state", string(sess.State)))
	o.launch(sess)
	return nil
}

// reconcileTradingBalance returns done=true when the session reached a
// terminal state during reconciliation.
func (o *Orchestrator) reconcileTradingBalance(ctx context.Context, sess *models.Session) (bool, error) {
	rec, err := o.store.GetSessionWallet(ctx, sess.ID)
	if err != nil {
		// Missing record is handled by prepareRuntime after launch.
		return false, nil
	}
	o.wallets.Attach(rec)

	addr, err := solana.PublicKeyFromBase58(sess.WalletAddress)
	if err != nil {
		return false, err
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	balance, err := o.chain.GetBalance(cctx, addr)
	cancel()
	if err != nil {
		// Chain unreachable: trust the persisted balance and let the loop
		// find out.
		o.logger.Warn("Balance verification failed during recovery",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return false, nil
	}

	if balance.LessThan(o.tradeFloor) {
		o.logger.Info("Recovered session already depleted on chain",
			zap.String("session_id", sess.ID),
			zap.String("balance", balance.String()))
		if err := o.transition(ctx, sess, models.StateDepleted, ""); err != nil {
			return false, err
		}
		return true, nil
	}

	if balance.LessThan(sess.OperatingBalance) {
		o.logger.Warn("On-chain balance below recorded operating balance, clamping",
			zap.String("session_id", sess.ID),
			zap.String("recorded", sess.OperatingBalance.String()),
			zap.String("on_chain", balance.String()))
		sess.OperatingBalance = balance
		if err := o.store.SaveSession(ctx, sess); err != nil {
			return false, err
		}
	}
	return false, nil
}

// runSweep periodically restarts dead loops and purges terminal sessions
// past the retention window.
func (o *Orchestrator) runSweep() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}

		if err := o.RecoverAll(o.ctx); err != nil {
			o.logger.Error("Sweep recovery failed", zap.Error(err))
		}
		o.pruneHandles()

		if o.cfg.Retention() > 0 {
			cutoff := time.Now().UTC().Add(-o.cfg.Retention())
			purged, err := o.store.PurgeTerminal(o.ctx, cutoff)
			if err != nil {
				o.logger.Error("Terminal purge failed", zap.Error(err))
			} else if purged > 0 {
				o.logger.Info("Terminal sessions purged", zap.Int("count", purged))
			}
		}
	}
}

// pruneHandles drops handle entries whose loops have exited.
func (o *Orchestrator) pruneHandles() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, h := range o.handles {
		if !h.alive() {
			delete(o.handles, id)
		}
	}
}
