// internal/session/loop.go
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/events"
	"github.com/arturshev/solana-volume-bot/internal/ledger"
	"github.com/arturshev/solana-volume-bot/internal/metrics"
	"github.com/arturshev/solana-volume-bot/internal/storage"
	"github.com/arturshev/solana-volume-bot/internal/storage/models"
	"github.com/arturshev/solana-volume-bot/internal/types"
	"github.com/arturshev/solana-volume-bot/internal/wallet"
)

const wrappedSolMint = "So11111111111111111111111111111111111111112"

const feeTransferMaxTries = 5

// runtime carries the in-memory companions of a persisted session: the
// reconstructed signing key and parsed deposit address.
type runtime struct {
	sess        *models.Session
	key         solana.PrivateKey
	depositAddr solana.PublicKey
	logger      *zap.Logger
}

// persistCtx returns a short-lived context for writes that must land even
// when the loop context is already cancelled (stop and shutdown paths).
func persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// runSession drives one session through its lifecycle until a terminal state,
// a stop request or process shutdown.
func (o *Orchestrator) runSession(ctx context.Context, h *handle, sess *models.Session) {
	logger := o.logger.With(zap.String("session_id", sess.ID))

	rt, err := o.prepareRuntime(ctx, sess, logger)
	if err != nil {
		logger.Error("Session runtime unavailable", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			pctx, cancel := persistCtx()
			if err := o.transition(pctx, sess, models.StateStopped, "stopped by operator"); err != nil {
				logger.Error("Failed to persist stop", zap.Error(err))
			}
			cancel()
			return
		default:
		}

		switch sess.State {
		case models.StateCreated:
			if err := o.transition(ctx, sess, models.StateMonitoring, ""); err != nil {
				logger.Error("Failed to start monitoring", zap.Error(err))
				return
			}
		case models.StateMonitoring:
			if !o.waitForFunding(ctx, h, rt) {
				continue
			}
		case models.StateFunded:
			if err := o.activateTrading(ctx, rt); err != nil {
				logger.Warn("Funding activation failed, retrying", zap.Error(err))
				o.waitFor(ctx, h, o.cfg.RetryDelay())
			}
		case models.StateTrading:
			o.tradeLoop(ctx, h, rt)
			return
		default:
			return
		}
	}
}

// prepareRuntime loads the session wallet record and reconstructs its signing
// key. A missing or corrupt record is recoverable only before funding: the
// deposit address is regenerated and the session keeps monitoring. Later
// states cannot continue without the key and the session is failed.
func (o *Orchestrator) prepareRuntime(ctx context.Context, sess *models.Session, logger *zap.Logger) (*runtime, error) {
	rec, ok := o.wallets.Lookup(sess.WalletAddress)
	if ok {
		return o.buildRuntime(ctx, sess, rec, logger)
	}

	rec, err := o.store.GetSessionWallet(ctx, sess.ID)
	switch {
	case err == nil:
		o.wallets.Attach(rec)
	case errors.Is(err, storage.ErrNotFound):
		if sess.State != models.StateCreated && sess.State != models.StateMonitoring {
			ferr := fmt.Errorf("%w: session %s in state %s", ErrRecoveryInconsistent, sess.ID, sess.State)
			if terr := o.transition(ctx, sess, models.StateFailed, ferr.Error()); terr != nil {
				logger.Error("Failed to mark session failed", zap.Error(terr))
			}
			return nil, ferr
		}
		rec, err = o.wallets.RegenerateSessionWallet(sess.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to regenerate session wallet: %w", err)
		}
		if err := o.store.SaveWalletRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist regenerated wallet: %w", err)
		}
		sess.WalletAddress = rec.Address
		if err := o.store.SaveSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to persist new deposit address: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to load session wallet: %w", err)
	}

	return o.buildRuntime(ctx, sess, rec, logger)
}

// buildRuntime reconstructs the signing key and parses the deposit address.
func (o *Orchestrator) buildRuntime(ctx context.Context, sess *models.Session, rec *wallet.Record, logger *zap.Logger) (*runtime, error) {
	key, err := o.wallets.ReconstructSigningKey(rec)
	if err != nil {
		ferr := fmt.Errorf("session %s wallet unusable: %w", sess.ID, err)
		if terr := o.transition(ctx, sess, models.StateFailed, ferr.Error()); terr != nil {
			logger.Error("Failed to mark session failed", zap.Error(terr))
		}
		return nil, ferr
	}

	addr, err := solana.PublicKeyFromBase58(sess.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("bad deposit address %s: %w", sess.WalletAddress, err)
	}

	return &runtime{sess: sess, key: key, depositAddr: addr, logger: logger}, nil
}

// waitForFunding polls the deposit address until its balance meets the
// applicable minimum, then transitions to FUNDED and returns true. Returns
// false on stop, shutdown or a failed transition.
func (o *Orchestrator) waitForFunding(ctx context.Context, h *handle, rt *runtime) bool {
	ticker := time.NewTicker(o.cfg.PollInterval())
	defer ticker.Stop()

	for {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
		balance, err := o.chain.GetBalance(cctx, rt.depositAddr)
		cancel()

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return false
			}
			rt.logger.Warn("Balance poll failed", zap.Error(err))
		case o.splits.MeetsMinimum(rt.sess.WalletAddress, balance):
			rt.logger.Info("Funding detected", zap.String("balance", balance.String()))
			if err := o.transition(ctx, rt.sess, models.StateFunded, ""); err != nil {
				rt.logger.Error("Failed to persist funded state", zap.Error(err))
				return false
			}
			return true
		case balance.IsPositive():
			// Below the minimum: not a funding event, keep watching.
			rt.logger.Debug("Deposit below minimum",
				zap.String("balance", balance.String()))
		}

		select {
		case <-ctx.Done():
			return false
		case <-h.stop:
			return false
		case <-ticker.C:
		}
	}
}

// activateTrading records the funding split exactly once, routes the fee and
// moves the session into TRADING. Safe to re-enter after a crash at any
// point: an existing split is reused, never recomputed.
func (o *Orchestrator) activateTrading(ctx context.Context, rt *runtime) error {
	split, err := o.splits.ExistingSplit(ctx, rt.sess.ID)
	switch {
	case err == nil:
		rt.logger.Info("Reusing recorded funding split",
			zap.String("operating", split.Operating.String()))
	case errors.Is(err, storage.ErrNotFound):
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
		observed, berr := o.chain.GetBalance(cctx, rt.depositAddr)
		cancel()
		if berr != nil {
			return fmt.Errorf("failed to read deposit balance: %w", berr)
		}

		split, err = o.splits.RecordSplit(ctx, rt.sess.ID, rt.sess.WalletAddress,
			observed, splitKey(rt.sess.ID, observed))
		if errors.Is(err, ledger.ErrDuplicateSplit) {
			// Lost the race against another writer for the same deposit.
			split, err = o.splits.ExistingSplit(ctx, rt.sess.ID)
		}
		if errors.Is(err, ledger.ErrBelowMinimum) {
			rt.logger.Warn("Deposit fell below minimum before split, resuming monitoring")
			return o.transition(ctx, rt.sess, models.StateMonitoring, "")
		}
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("failed to look up split: %w", err)
	}

	o.collectFee(ctx, rt, split)

	rt.sess.OperatingBalance = split.Operating
	return o.transition(ctx, rt.sess, models.StateTrading, "")
}

// splitKey derives the idempotency key for a funding event.
func splitKey(sessionID string, amount decimal.Decimal) string {
	sum := sha256.Sum256([]byte(sessionID + "|" + amount.String() + "|funding"))
	return hex.EncodeToString(sum[:])
}

// collectFee transfers the fee leg to the platform address unless the audit
// log shows it was already sent. A persistent transfer failure is logged but
// never blocks trading.
func (o *Orchestrator) collectFee(ctx context.Context, rt *runtime, split *models.FundingSplit) {
	collected, err := o.feeAlreadyCollected(ctx, rt.sess.ID)
	if err != nil {
		rt.logger.Error("Failed to check fee audit log, skipping transfer", zap.Error(err))
		return
	}
	if collected {
		return
	}

	feeAddr, err := solana.PublicKeyFromBase58(split.FeeAddress)
	if err != nil {
		rt.logger.Error("Bad fee address in split record",
			zap.String("fee_address", split.FeeAddress), zap.Error(err))
		return
	}

	sig, err := backoff.Retry(ctx, func() (solana.Signature, error) {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
		defer cancel()
		return o.chain.Transfer(cctx, rt.key, feeAddr, split.Fee)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(feeTransferMaxTries),
	)
	if err != nil {
		rt.logger.Error("Fee transfer failed after retries",
			zap.String("amount", split.Fee.String()), zap.Error(err))
		return
	}

	if err := o.splits.RecordFeeTransfer(ctx, rt.sess.ID, split.Fee, sig.String()); err != nil {
		rt.logger.Error("Failed to record fee transfer", zap.Error(err))
	}
	metrics.FeesCollected.Add(split.Fee.InexactFloat64())
	o.publish(events.FeeEvent{
		BaseEvent: events.BaseEvent{
			EventType: events.FeeCollected,
			EventTime: time.Now(),
			SessionID: rt.sess.ID,
		},
		Amount: split.Fee,
		TxRef:  sig.String(),
	})
}

func (o *Orchestrator) feeAlreadyCollected(ctx context.Context, sessionID string) (bool, error) {
	transfers, err := o.store.ListFeeTransfers(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range transfers {
		if t.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

// tradeLoop alternates BUY and SELL trades until the operating balance drops
// below the per-trade floor. Every outcome is persisted before the next
// iteration is scheduled, so a crash never replays or skips a trade.
func (o *Orchestrator) tradeLoop(ctx context.Context, h *handle, rt *runtime) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			pctx, cancel := persistCtx()
			if err := o.transition(pctx, rt.sess, models.StateStopped, "stopped by operator"); err != nil {
				rt.logger.Error("Failed to persist stop", zap.Error(err))
			}
			cancel()
			return
		default:
		}

		if rt.sess.OperatingBalance.LessThan(o.tradeFloor) {
			rt.logger.Info("Operating balance depleted",
				zap.String("balance", rt.sess.OperatingBalance.String()),
				zap.Uint64("trades", rt.sess.TradeCount),
				zap.String("volume", rt.sess.Volume.String()))
			if err := o.transition(ctx, rt.sess, models.StateDepleted, ""); err != nil {
				rt.logger.Error("Failed to persist depletion", zap.Error(err))
			}
			return
		}

		side := nextSide(rt.sess.LastSide)
		amount := o.tradeAmount(rt.sess.OperatingBalance)
		seq := rt.sess.TradeAttempts
		rt.sess.TradeAttempts++

		txRef, err := o.executeTrade(ctx, rt, seq, side, amount)
		if err != nil && ctx.Err() != nil {
			// Shutdown mid-trade: do not count the interrupted attempt.
			return
		}

		now := time.Now().UTC()
		trade := &models.Trade{
			SessionID: rt.sess.ID,
			Seq:       seq,
			Side:      side,
			Amount:    amount,
			CreatedAt: now,
		}
		delay := o.cfg.TradeDelay()

		if err != nil {
			trade.FailureReason = err.Error()
			rt.sess.FailedTrades++
			rt.sess.ConsecutiveFailures++
			delay += o.cfg.RetryDelay()
			metrics.TradesTotal.WithLabelValues(string(side), "failed").Inc()
			rt.logger.Warn("Trade failed",
				zap.Uint64("seq", seq),
				zap.String("side", string(side)),
				zap.String("amount", amount.String()),
				zap.Error(err))
			o.publish(tradeEvent(events.TradeFailed, rt.sess.ID, seq, side, amount, "", err))
		} else {
			trade.Success = true
			trade.TxRef = txRef
			rt.sess.OperatingBalance = rt.sess.OperatingBalance.Sub(amount)
			rt.sess.TradeCount++
			rt.sess.Volume = rt.sess.Volume.Add(amount)
			rt.sess.LastSide = side
			rt.sess.ConsecutiveFailures = 0
			metrics.TradesTotal.WithLabelValues(string(side), "success").Inc()
			metrics.TradeVolume.Add(amount.InexactFloat64())
			rt.logger.Info("Trade executed",
				zap.Uint64("seq", seq),
				zap.String("side", string(side)),
				zap.String("amount", amount.String()),
				zap.String("tx_ref", txRef),
				zap.String("remaining", rt.sess.OperatingBalance.String()))
			o.publish(tradeEvent(events.TradeExecuted, rt.sess.ID, seq, side, amount, txRef, nil))
		}
		rt.sess.LastActivityAt = now

		if err := o.store.AppendTrade(ctx, trade); err != nil {
			rt.logger.Error("Failed to append trade record", zap.Error(err))
		}
		if err := o.store.SaveSession(ctx, rt.sess); err != nil {
			// The loop must not outrun durable state; let the sweep
			// relaunch from the last persisted record.
			rt.logger.Error("Failed to persist session after trade, halting loop", zap.Error(err))
			return
		}

		o.waitFor(ctx, h, delay)
	}
}

// tradeAmount picks a random fraction of the balance within the configured
// bounds, clamped to the per-trade ceiling and raised to the floor, never
// exceeding the balance itself.
func (o *Orchestrator) tradeAmount(balance decimal.Decimal) decimal.Decimal {
	frac := o.cfg.TradeFractionMin + o.rng()*(o.cfg.TradeFractionMax-o.cfg.TradeFractionMin)
	amount := balance.Mul(decimal.NewFromFloat(frac)).RoundFloor(types.AmountPrecision)
	if amount.GreaterThan(o.tradeCeiling) {
		amount = o.tradeCeiling
	}
	if amount.LessThan(o.tradeFloor) {
		amount = o.tradeFloor
	}
	if amount.GreaterThan(balance) {
		amount = balance
	}
	return amount
}

// executeTrade runs one exchange through a fresh single-use wallet. The
// wallet record is persisted before any funds move.
func (o *Orchestrator) executeTrade(ctx context.Context, rt *runtime, seq uint64, side types.Side, amount decimal.Decimal) (string, error) {
	if amount.GreaterThan(rt.sess.OperatingBalance) {
		return "", ErrInsufficientBalance
	}

	tw, err := o.wallets.IssueTradeWallet(rt.sess.ID, seq, side)
	if err != nil {
		return "", fmt.Errorf("failed to issue trade wallet: %w", err)
	}
	if err := o.store.SaveWalletRecord(ctx, tw); err != nil {
		return "", fmt.Errorf("failed to persist trade wallet: %w", err)
	}
	tradeKey, err := o.wallets.ReconstructSigningKey(tw)
	if err != nil {
		return "", err
	}

	from, to := wrappedSolMint, rt.sess.TargetAsset
	if side == types.SideSell {
		from, to = to, from
	}

	if side == types.SideBuy {
		dest, err := solana.PublicKeyFromBase58(tw.Address)
		if err != nil {
			return "", fmt.Errorf("bad trade wallet address: %w", err)
		}
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
		_, err = o.chain.Transfer(cctx, rt.key, dest, amount)
		cancel()
		if err != nil {
			return "", fmt.Errorf("failed to fund trade wallet: %w", err)
		}
	}

	qctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	quote, err := o.provider.Quote(qctx, from, to, amount)
	cancel()
	if err != nil {
		return "", err
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	defer cancel()
	return o.provider.Submit(sctx, quote, tradeKey)
}

// waitFor sleeps for d, waking early on stop or shutdown.
func (o *Orchestrator) waitFor(ctx context.Context, h *handle, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-h.stop:
	case <-t.C:
	}
}

func tradeEvent(typ events.EventType, sessionID string, seq uint64, side types.Side, amount decimal.Decimal, txRef string, err error) events.TradeEvent {
	ev := events.TradeEvent{
		BaseEvent: events.BaseEvent{
			EventType: typ,
			EventTime: time.Now(),
			SessionID: sessionID,
		},
		Seq:     seq,
		Side:    side,
		Amount:  amount,
		TxRef:   txRef,
		Success: err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
