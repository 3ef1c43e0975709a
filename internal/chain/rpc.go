// internal/chain/rpc.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arturshev/solana-volume-bot/internal/types"
)

// RPCClient implements Client over one or more Solana JSON-RPC endpoints,
// rotating between them on failure.
type RPCClient struct {
	endpoints []*rpc.Client
	urls      []string
	next      atomic.Uint64
	logger    *zap.Logger
}

// NewRPCClient validates the URL list and builds a rotating client.
func NewRPCClient(rpcURLs []string, logger *zap.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, errors.New("empty RPC URL list")
	}

	var endpoints []*rpc.Client
	var urls []string
	for _, urlStr := range rpcURLs {
		if _, err := url.Parse(urlStr); err != nil {
			logger.Warn("Invalid RPC URL", zap.String("url", urlStr), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, rpc.New(urlStr))
		urls = append(urls, urlStr)
	}

	if len(endpoints) == 0 {
		return nil, errors.New("no valid RPC URLs provided")
	}

	return &RPCClient{
		endpoints: endpoints,
		urls:      urls,
		logger:    logger.Named("chain"),
	}, nil
}

func (c *RPCClient) pick() (*rpc.Client, string) {
	i := c.next.Add(1) % uint64(len(c.endpoints))
	return c.endpoints[i], c.urls[i]
}

// GetBalance returns the confirmed SOL balance of the address.
func (c *RPCClient) GetBalance(ctx context.Context, address solana.PublicKey) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt < len(c.endpoints); attempt++ {
		client, endpointURL := c.pick()
		result, err := client.GetBalance(ctx, address, rpc.CommitmentConfirmed)
		if err != nil {
			lastErr = err
			c.logger.Warn("Balance query failed",
				zap.String("url", endpointURL),
				zap.String("address", address.String()),
				zap.Error(err))
			continue
		}
		return types.LamportsToSol(result.Value), nil
	}
	return decimal.Zero, fmt.Errorf("failed to get balance for %s: %w", address.String(), lastErr)
}

// Transfer builds, signs and submits a system transfer of the given SOL amount.
func (c *RPCClient) Transfer(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, amount decimal.Decimal) (solana.Signature, error) {
	lamports := types.SolToLamports(amount)
	if lamports == 0 {
		return solana.Signature{}, errors.New("transfer amount rounds to zero lamports")
	}

	client, _ := c.pick()
	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	fromPub := from.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, fromPub, to).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(fromPub),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(fromPub) {
			return &from
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Debug("Transfer submitted",
		zap.String("from", fromPub.String()),
		zap.String("to", to.String()),
		zap.String("amount_sol", amount.String()),
		zap.String("signature", sig.String()))
	return sig, nil
}

// ConfirmTransaction reports the signature status.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, signature solana.Signature) (Confirmation, error) {
	client, _ := c.pick()
	result, err := client.GetSignatureStatuses(ctx, true, signature)
	if err != nil {
		return ConfirmationPending, fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return ConfirmationPending, nil
	}

	status := result.Value[0]
	if status.Err != nil {
		return ConfirmationFailed, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return ConfirmationConfirmed, nil
	default:
		return ConfirmationPending, nil
	}
}
