// internal/storage/badgerstore/badgerstore.go
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/storage"
	"github.com/arturshev/solana-volume-bot/internal/storage/models"
	"github.com/arturshev/solana-volume-bot/internal/types"
	"github.com/arturshev/solana-volume-bot/internal/wallet"
)

// Store implements storage.Store on Badger. One JSON document per record;
// Badger's WAL makes every transaction crash-atomic, which satisfies the
// write-new-then-rename durability requirement.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// New opens (or creates) the database at dir.
func New(dir string, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return &Store{db: db, logger: logger.Named("storage")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Key layout. Session-scoped records share the session id in their prefix so
// retention cleanup can sweep a whole session with prefix scans.
func sessionKey(id string) []byte { return []byte("session/" + id) }
func splitKey(id string) []byte   { return []byte("split/" + id) }
func idemKey(key string) []byte   { return []byte("idem/" + key) }

func sessionWalletKey(id string) []byte {
	return []byte("wallet/" + id + "/session")
}
func tradeWalletKey(id string, seq uint64, side types.Side) []byte {
	return []byte(fmt.Sprintf("wallet/%s/trade/%012d/%s", id, seq, side))
}
func tradeKey(id string, seq uint64) []byte {
	return []byte(fmt.Sprintf("trade/%s/%012d", id, seq))
}
func feeKey(id string, at time.Time) []byte {
	return []byte(fmt.Sprintf("fee/%s/%020d", id, at.UnixNano()))
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return txn.Set(key, data)
}

func (s *Store) getJSON(key []byte, out interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// SaveSession upserts the session record.
func (s *Store) SaveSession(_ context.Context, sess *models.Session) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, sessionKey(sess.ID), sess)
	})
}

// GetSession loads one session by id.
func (s *Store) GetSession(_ context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.getJSON(sessionKey(id), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListNonTerminalSessions scans every persisted session and keeps the ones
// still in flight. Used at startup recovery and by the self-healing sweep.
func (s *Store) ListNonTerminalSessions(_ context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("session/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sess models.Session
				if err := json.Unmarshal(val, &sess); err != nil {
					return fmt.Errorf("failed to decode session record: %w", err)
				}
				if !sess.State.IsTerminal() {
					sessions = append(sessions, &sess)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return sessions, err
}

// CreateSplit inserts the split and its idempotency marker in one
// transaction; either key already present means a duplicate funding event.
func (s *Store) CreateSplit(_ context.Context, split *models.FundingSplit) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(splitKey(split.SessionID)); err == nil {
			return storage.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(idemKey(split.IdempotencyKey)); err == nil {
			return storage.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := setJSON(txn, splitKey(split.SessionID), split); err != nil {
			return err
		}
		return txn.Set(idemKey(split.IdempotencyKey), []byte(split.SessionID))
	})
}

// GetSplit loads the funding split for a session.
func (s *Store) GetSplit(_ context.Context, sessionID string) (*models.FundingSplit, error) {
	var split models.FundingSplit
	if err := s.getJSON(splitKey(sessionID), &split); err != nil {
		return nil, err
	}
	return &split, nil
}

// SaveWalletRecord upserts an issued wallet record.
func (s *Store) SaveWalletRecord(_ context.Context, rec *wallet.Record) error {
	var key []byte
	switch rec.Kind {
	case wallet.KindSession:
		key = sessionWalletKey(rec.SessionID)
	case wallet.KindTrade:
		key = tradeWalletKey(rec.SessionID, rec.TradeSeq, rec.Side)
	default:
		return fmt.Errorf("unknown wallet kind %q", rec.Kind)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, key, rec)
	})
}

// GetSessionWallet loads the session wallet record.
func (s *Store) GetSessionWallet(_ context.Context, sessionID string) (*wallet.Record, error) {
	var rec wallet.Record
	if err := s.getJSON(sessionWalletKey(sessionID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetTradeWallet loads one ephemeral trade wallet record.
func (s *Store) GetTradeWallet(_ context.Context, sessionID string, seq uint64, side types.Side) (*wallet.Record, error) {
	var rec wallet.Record
	if err := s.getJSON(tradeWalletKey(sessionID, seq, side), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendTrade writes one trade attempt. Trade records are never mutated.
func (s *Store) AppendTrade(_ context.Context, trade *models.Trade) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, tradeKey(trade.SessionID, trade.Seq), trade)
	})
}

// ListTrades returns a session's trade history in sequence order.
func (s *Store) ListTrades(_ context.Context, sessionID string) ([]*models.Trade, error) {
	var trades []*models.Trade
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("trade/" + sessionID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var trade models.Trade
				if err := json.Unmarshal(val, &trade); err != nil {
					return fmt.Errorf("failed to decode trade record: %w", err)
				}
				trades = append(trades, &trade)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return trades, err
}

// AppendFeeTransfer writes one fee-transfer audit entry.
func (s *Store) AppendFeeTransfer(_ context.Context, transfer *models.FeeTransfer) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, feeKey(transfer.SessionID, transfer.CreatedAt), transfer)
	})
}

// ListFeeTransfers returns every recorded fee transfer.
func (s *Store) ListFeeTransfers(_ context.Context) ([]*models.FeeTransfer, error) {
	var transfers []*models.FeeTransfer
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("fee/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var transfer models.FeeTransfer
				if err := json.Unmarshal(val, &transfer); err != nil {
					return fmt.Errorf("failed to decode fee record: %w", err)
				}
				transfers = append(transfers, &transfer)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return transfers, err
}

// PurgeTerminal removes terminal sessions completed before the cutoff along
// with every record sharing their session id. Non-terminal sessions are
// never deleted.
func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	var candidates []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("session/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sess models.Session
				if err := json.Unmarshal(val, &sess); err != nil {
					return nil // skip undecodable records, never delete blindly
				}
				if sess.State.IsTerminal() && sess.CompletedAt != nil && sess.CompletedAt.Before(cutoff) {
					candidates = append(candidates, sess.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := s.deleteSessionScoped(id); err != nil {
			s.logger.Warn("Failed to purge session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("Purged terminal sessions", zap.Int("count", purged))
	}
	return purged, nil
}

func (s *Store) deleteSessionScoped(id string) error {
	prefixes := [][]byte{
		[]byte("wallet/" + id + "/"),
		[]byte("trade/" + id + "/"),
		[]byte("fee/" + id + "/"),
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			var keys [][]byte
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
		}
		if err := txn.Delete(splitKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(sessionKey(id))
	})
}
