// internal/wallet/manager.go
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/types"
)

// ErrKeyMaterialCorrupt is returned when stored key bytes do not decode to a
// valid signing key.
var ErrKeyMaterialCorrupt = errors.New("wallet key material corrupt")

// SeedSource supplies entropy for key derivation. Production uses the
// timestamp+nonce source; tests inject fixed seeds.
type SeedSource interface {
	Seed() ([]byte, error)
}

// clockSeedSource combines a high-resolution timestamp with a random nonce.
type clockSeedSource struct{}

func (clockSeedSource) Seed() ([]byte, error) {
	seed := make([]byte, 8+24)
	binary.BigEndian.PutUint64(seed[:8], uint64(time.Now().UnixNano()))
	if _, err := rand.Read(seed[8:]); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return seed, nil
}

// NewClockSeedSource returns the production seed source.
func NewClockSeedSource() SeedSource { return clockSeedSource{} }

// Manager issues session and ephemeral trade wallets and reconstructs
// signing keys from stored records. It keeps issued records in memory;
// durable persistence is the caller's responsibility.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*Record // keyed by address
	seeds   SeedSource
	logger  *zap.Logger
}

// NewManager constructs a Manager with the given seed source.
func NewManager(seeds SeedSource, logger *zap.Logger) *Manager {
	if seeds == nil {
		seeds = NewClockSeedSource()
	}
	return &Manager{
		records: make(map[string]*Record),
		seeds:   seeds,
		logger:  logger.Named("wallet"),
	}
}

// deriveKey hashes the seed together with the labels into ed25519 key
// material. The derivation is one-way in practice: a lost key cannot be
// re-derived from the labels alone.
func deriveKey(seed []byte, labels ...string) solana.PrivateKey {
	h := sha256.New()
	h.Write(seed)
	for _, label := range labels {
		h.Write([]byte{0})
		h.Write([]byte(label))
	}
	digest := h.Sum(nil)
	return solana.PrivateKey(ed25519.NewKeyFromSeed(digest))
}

func (m *Manager) issue(kind Kind, sessionID string, seq uint64, side types.Side, labels ...string) (*Record, error) {
	seed, err := m.seeds.Seed()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain seed: %w", err)
	}

	key := deriveKey(seed, labels...)
	rec := &Record{
		Address:   key.PublicKey().String(),
		SecretKey: base58.Encode(key),
		SessionID: sessionID,
		Kind:      kind,
		TradeSeq:  seq,
		Side:      side,
		IssuedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.records[rec.Address] = rec
	m.mu.Unlock()

	return rec, nil
}

// IssueSessionWallet derives the long-lived deposit wallet for a session.
func (m *Manager) IssueSessionWallet(sessionID string) (*Record, error) {
	rec, err := m.issue(KindSession, sessionID, 0, "", sessionID)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Session wallet issued",
		zap.String("session_id", sessionID),
		zap.String("address", rec.Address))
	return rec, nil
}

// IssueTradeWallet derives a single-use wallet for one exchange, keyed by
// session, sequence number and side so every trade gets a distinct address.
func (m *Manager) IssueTradeWallet(sessionID string, seq uint64, side types.Side) (*Record, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("invalid trade side %q", side)
	}
	rec, err := m.issue(KindTrade, sessionID, seq, side,
		sessionID, fmt.Sprintf("%d", seq), string(side))
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Trade wallet issued",
		zap.String("session_id", sessionID),
		zap.Uint64("seq", seq),
		zap.String("side", string(side)),
		zap.String("address", rec.Address))
	return rec, nil
}

// ReconstructSigningKey decodes the record's key material back into a
// signing key, verifying it matches the recorded address.
func (m *Manager) ReconstructSigningKey(rec *Record) (solana.PrivateKey, error) {
	raw, err := base58.Decode(rec.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMaterialCorrupt, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrKeyMaterialCorrupt, ed25519.PrivateKeySize, len(raw))
	}
	key := solana.PrivateKey(raw)
	if key.PublicKey().String() != rec.Address {
		return nil, fmt.Errorf("%w: key does not match address %s",
			ErrKeyMaterialCorrupt, rec.Address)
	}
	return key, nil
}

// RegenerateSessionWallet is the emergency fallback for a session whose
// wallet record lost its key material. The derivation seed is gone, so the
// new record holds a DIFFERENT address: funds sitting at the previously
// observed address are not recoverable through this path. Callers must treat
// the result as a fresh deposit address, not a recovery mechanism.
func (m *Manager) RegenerateSessionWallet(sessionID string) (*Record, error) {
	rec, err := m.issue(KindSession, sessionID, 0, "", sessionID, "regen")
	if err != nil {
		return nil, err
	}
	m.logger.Warn("Session wallet regenerated; previous address is unrecoverable",
		zap.String("session_id", sessionID),
		zap.String("new_address", rec.Address))
	return rec, nil
}

// Lookup returns the in-memory record for an address, if issued this process.
func (m *Manager) Lookup(address string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[address]
	return rec, ok
}

// Attach re-registers a persisted record after recovery so Lookup works for
// wallets issued by a previous process.
func (m *Manager) Attach(rec *Record) {
	m.mu.Lock()
	m.records[rec.Address] = rec
	m.mu.Unlock()
}
