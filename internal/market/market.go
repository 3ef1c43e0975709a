// internal/market/market.go
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// ErrNoRoute is returned when no tradeable pool exists for the asset pair.
var ErrNoRoute = errors.New("no viable market route")

// ExecutionError is a failure reported by the execution service for a
// submitted swap. It is a runtime-class error: callers retry, never abort.
type ExecutionError struct {
	Code   string
	Reason string
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("swap execution failed (%s): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("swap execution failed: %s", e.Reason)
}

// Quote is a priced route for one exchange. RoutePlan is the provider's
// opaque payload and must be echoed back unchanged on Submit.
type Quote struct {
	FromAsset      string
	ToAsset        string
	Amount         decimal.Decimal
	ExpectedOutput decimal.Decimal
	PriceImpact    decimal.Decimal
	RoutePlan      json.RawMessage
}

// Provider executes swaps against the external market service.
type Provider interface {
	Quote(ctx context.Context, fromAsset, toAsset string, amount decimal.Decimal) (*Quote, error)
	// Submit signs and submits the quoted swap, returning the transaction
	// reference assigned by the execution service.
	Submit(ctx context.Context, quote *Quote, signer solana.PrivateKey) (string, error)
}

// Validator discovers whether an asset has a tradeable market at all.
type Validator interface {
	// FindBestMarket returns the deepest market identifier for the asset,
	// or ErrNoRoute.
	FindBestMarket(ctx context.Context, assetAddress string) (string, error)
}
