// internal/wallet/record.go
package wallet

import (
	"time"

	"github.com/arturshev/solana-volume-bot/internal/types"
)

// Kind distinguishes long-lived session wallets from single-use trade wallets.
type Kind string

const (
	KindSession Kind = "session"
	KindTrade   Kind = "trade"
)

// Record is an issued keypair. SecretKey holds the base58-encoded 64-byte
// ed25519 key material; the Manager is the only component that turns it back
// into a signing key.
type Record struct {
	Address   string     `json:"address"`
	SecretKey string     `json:"secret_key"`
	SessionID string     `json:"session_id"`
	Kind      Kind       `json:"kind"`
	TradeSeq  uint64     `json:"trade_seq,omitempty"`
	Side      types.Side `json:"side,omitempty"`
	IssuedAt  time.Time  `json:"issued_at"`
}
