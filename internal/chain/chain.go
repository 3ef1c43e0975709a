// internal/chain/chain.go
package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Confirmation is the observed status of a submitted transaction.
type Confirmation int

const (
	ConfirmationPending Confirmation = iota
	ConfirmationConfirmed
	ConfirmationFailed
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmationConfirmed:
		return "confirmed"
	case ConfirmationFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Client is the ledger-side collaborator: balance queries plus native
// transfer submission and confirmation for a given address.
type Client interface {
	// GetBalance returns the SOL balance of the address.
	GetBalance(ctx context.Context, address solana.PublicKey) (decimal.Decimal, error)
	// Transfer moves SOL from the signing key's address to the recipient
	// and returns the transaction signature.
	Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, amount decimal.Decimal) (solana.Signature, error)
	// ConfirmTransaction reports the status of a previously submitted signature.
	ConfirmTransaction(ctx context.Context, signature solana.Signature) (Confirmation, error)
}
