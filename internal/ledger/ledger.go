// internal/ledger/ledger.go
// Package ledger implements the exactly-once funding split: 75% of a
// detected deposit to the operating pool, 25% to the platform fee address.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/config"
	"github.com/arturshev/solana-volume-bot/internal/storage"
	"github.com/arturshev/solana-volume-bot/internal/storage/models"
	"github.com/arturshev/solana-volume-bot/internal/types"
)

var (
	// ErrDuplicateSplit is returned when a split already exists for the
	// session or the idempotency key has been seen before. A duplicate is a
	// hard stop for that funding event: fee collection must never happen
	// twice for one deposit.
	ErrDuplicateSplit = errors.New("funding split already recorded")
	// ErrBelowMinimum is returned when the observed amount is under the
	// applicable minimum. The message is identical for every caller.
	ErrBelowMinimum = errors.New("deposit below minimum")
)

// Share of every deposit routed to each pool.
var (
	feeShare = decimal.RequireFromString("0.25")
)

// SplitLedger records funding splits and fee transfers.
type SplitLedger struct {
	store      storage.Store
	feeAddress string
	minimum    decimal.Decimal
	reducedMin decimal.Decimal
	allowlist  config.Allowlist
	logger     *zap.Logger
}

// New constructs the ledger. The allowlist carries the addresses granted the
// reduced minimum; the distinction is applied here and never surfaced.
func New(store storage.Store, feeAddress string, minimum, reducedMin decimal.Decimal, allowlist config.Allowlist, logger *zap.Logger) *SplitLedger {
	return &SplitLedger{
		store:      store,
		feeAddress: feeAddress,
		minimum:    minimum,
		reducedMin: reducedMin,
		allowlist:  allowlist,
		logger:     logger.Named("ledger"),
	}
}

// FeeAddress returns the fixed platform fee destination.
func (l *SplitLedger) FeeAddress() string { return l.feeAddress }

func (l *SplitLedger) applicableMinimum(walletAddress string) decimal.Decimal {
	if l.allowlist.Contains(walletAddress) {
		return l.reducedMin
	}
	return l.minimum
}

// MeetsMinimum reports whether the balance qualifies as a funding event for
// the wallet.
func (l *SplitLedger) MeetsMinimum(walletAddress string, balance decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(l.applicableMinimum(walletAddress))
}

// ComputeSplit divides the amount 75/25 at 8 decimal places. The fee leg is
// rounded down and the operating leg takes the remainder, so the two legs
// always sum back to the total exactly.
func ComputeSplit(total decimal.Decimal) (operating, fee decimal.Decimal) {
	fee = total.Mul(feeShare).RoundFloor(types.AmountPrecision)
	operating = total.Sub(fee)
	return operating, fee
}

// RecordSplit validates and durably records the split for a funding event.
// At most one split may ever exist per session.
func (l *SplitLedger) RecordSplit(ctx context.Context, sessionID, walletAddress string, observed decimal.Decimal, idempotencyKey string) (*models.FundingSplit, error) {
	if observed.LessThan(l.applicableMinimum(walletAddress)) {
		return nil, ErrBelowMinimum
	}

	operating, fee := ComputeSplit(observed)
	split := &models.FundingSplit{
		SessionID:      sessionID,
		Total:          observed,
		Operating:      operating,
		Fee:            fee,
		FeeAddress:     l.feeAddress,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := l.store.CreateSplit(ctx, split); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrDuplicateSplit
		}
		return nil, fmt.Errorf("failed to persist split: %w", err)
	}

	l.logger.Info("Funding split recorded",
		zap.String("session_id", sessionID),
		zap.String("total", observed.String()),
		zap.String("operating", operating.String()),
		zap.String("fee", fee.String()))
	return split, nil
}

// ExistingSplit loads the already-recorded split for a session, if any.
func (l *SplitLedger) ExistingSplit(ctx context.Context, sessionID string) (*models.FundingSplit, error) {
	return l.store.GetSplit(ctx, sessionID)
}

// RecordFeeTransfer appends the audit entry for a completed fee transfer.
func (l *SplitLedger) RecordFeeTransfer(ctx context.Context, sessionID string, amount decimal.Decimal, txRef string) error {
	transfer := &models.FeeTransfer{
		SessionID: sessionID,
		Amount:    amount,
		TxRef:     txRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendFeeTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("failed to record fee transfer: %w", err)
	}
	l.logger.Info("Fee transfer recorded",
		zap.String("session_id", sessionID),
		zap.String("amount", amount.String()),
		zap.String("tx_ref", txRef))
	return nil
}

// TotalFeesCollected sums every recorded fee transfer.
func (l *SplitLedger) TotalFeesCollected(ctx context.Context) (decimal.Decimal, error) {
	transfers, err := l.store.ListFeeTransfers(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range transfers {
		total = total.Add(t.Amount)
	}
	return total, nil
}
