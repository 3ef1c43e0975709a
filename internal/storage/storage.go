// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/arturshev/solana-volume-bot/internal/storage/models"
	"github.com/arturshev/solana-volume-bot/internal/types"
	"github.com/arturshev/solana-volume-bot/internal/wallet"
)

var (
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by conditional inserts when the record (or its
	// idempotency key) already exists.
	ErrConflict = errors.New("record already exists")
)

// Store is the durable record of sessions, splits, wallets and trades.
// Writes are atomic with respect to process crash; a session write must be
// durable before the caller schedules its next loop iteration.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListNonTerminalSessions(ctx context.Context) ([]*models.Session, error)
	// PurgeTerminal deletes terminal sessions completed before the cutoff,
	// together with their splits, wallets and trade history. Returns the
	// number of sessions removed.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error)

	// Funding splits. CreateSplit is a conditional insert: it fails with
	// ErrConflict if a split already exists for the session or the
	// idempotency key has been seen before.
	CreateSplit(ctx context.Context, split *models.FundingSplit) error
	GetSplit(ctx context.Context, sessionID string) (*models.FundingSplit, error)

	// Wallet records
	SaveWalletRecord(ctx context.Context, rec *wallet.Record) error
	GetSessionWallet(ctx context.Context, sessionID string) (*wallet.Record, error)
	GetTradeWallet(ctx context.Context, sessionID string, seq uint64, side types.Side) (*wallet.Record, error)

	// Trade history (append-only)
	AppendTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, sessionID string) ([]*models.Trade, error)

	// Fee-transfer audit entries
	AppendFeeTransfer(ctx context.Context, transfer *models.FeeTransfer) error
	ListFeeTransfers(ctx context.Context) ([]*models.FeeTransfer, error)

	Close() error
}
