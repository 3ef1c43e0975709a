// internal/market/http_provider.go
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultMaxTries = 3

// HTTPProvider talks to an aggregator-style swap API. It implements both
// Provider and Validator.
type HTTPProvider struct {
	client  *resty.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewHTTPProvider builds a provider for the given API base URL. Every call
// carries a hard timeout; a hung request is reported as a failure, not left
// to stall the caller.
func NewHTTPProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &HTTPProvider{
		client:  client,
		logger:  logger.Named("market"),
		timeout: timeout,
	}
}

type quoteResponse struct {
	ExpectedOutput string          `json:"expected_output"`
	PriceImpact    string          `json:"price_impact"`
	RoutePlan      json.RawMessage `json:"route_plan"`
	Error          *apiError       `json:"error,omitempty"`
}

type swapResponse struct {
	Transaction string    `json:"transaction"` // base64 unsigned transaction
	Error       *apiError `json:"error,omitempty"`
}

type executeResponse struct {
	Signature string    `json:"signature"`
	Error     *apiError `json:"error,omitempty"`
}

type marketResponse struct {
	Market string    `json:"market"`
	Error  *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Quote requests a priced route for the pair and amount.
func (p *HTTPProvider) Quote(ctx context.Context, fromAsset, toAsset string, amount decimal.Decimal) (*Quote, error) {
	resp, err := retryRequest(ctx, p.logger, func() (*resty.Response, error) {
		var body quoteResponse
		return p.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"input_mint":  fromAsset,
				"output_mint": toAsset,
				"amount":      amount.String(),
			}).
			SetResult(&body).
			Get("/v1/quote")
	})
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}

	body, ok := resp.Result().(*quoteResponse)
	if !ok || body == nil {
		return nil, &ExecutionError{Reason: "malformed quote response"}
	}
	if body.Error != nil {
		if body.Error.Code == "NO_ROUTE" {
			return nil, ErrNoRoute
		}
		return nil, &ExecutionError{Code: body.Error.Code, Reason: body.Error.Message}
	}

	expected, err := decimal.NewFromString(body.ExpectedOutput)
	if err != nil {
		return nil, &ExecutionError{Reason: fmt.Sprintf("bad expected_output %q", body.ExpectedOutput)}
	}
	impact, err := decimal.NewFromString(body.PriceImpact)
	if err != nil {
		impact = decimal.Zero
	}

	return &Quote{
		FromAsset:      fromAsset,
		ToAsset:        toAsset,
		Amount:         amount,
		ExpectedOutput: expected,
		PriceImpact:    impact,
		RoutePlan:      body.RoutePlan,
	}, nil
}

// Submit obtains the unsigned transaction for the quote, signs it with the
// trade key and hands it back for execution.
func (p *HTTPProvider) Submit(ctx context.Context, quote *Quote, signer solana.PrivateKey) (string, error) {
	swapResp, err := retryRequest(ctx, p.logger, func() (*resty.Response, error) {
		var body swapResponse
		return p.client.R().
			SetContext(ctx).
			SetBody(map[string]interface{}{
				"route_plan": quote.RoutePlan,
				"signer":     signer.PublicKey().String(),
			}).
			SetResult(&body).
			Post("/v1/swap")
	})
	if err != nil {
		return "", fmt.Errorf("swap request: %w", err)
	}

	swap, ok := swapResp.Result().(*swapResponse)
	if !ok || swap == nil {
		return "", &ExecutionError{Reason: "malformed swap response"}
	}
	if swap.Error != nil {
		return "", &ExecutionError{Code: swap.Error.Code, Reason: swap.Error.Message}
	}

	tx, err := solana.TransactionFromBase64(swap.Transaction)
	if err != nil {
		return "", &ExecutionError{Reason: fmt.Sprintf("undecodable swap transaction: %v", err)}
	}

	signerPub := signer.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signerPub) {
			return &signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign swap transaction: %w", err)
	}

	signed, err := tx.ToBase64()
	if err != nil {
		return "", fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	execResp, err := retryRequest(ctx, p.logger, func() (*resty.Response, error) {
		var body executeResponse
		return p.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"signed_transaction": signed}).
			SetResult(&body).
			Post("/v1/execute")
	})
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}

	exec, ok := execResp.Result().(*executeResponse)
	if !ok || exec == nil {
		return "", &ExecutionError{Reason: "malformed execute response"}
	}
	if exec.Error != nil {
		return "", &ExecutionError{Code: exec.Error.Code, Reason: exec.Error.Message}
	}
	if exec.Signature == "" {
		return "", &ExecutionError{Reason: "execution service returned empty signature"}
	}

	p.logger.Debug("Swap executed",
		zap.String("from", quote.FromAsset),
		zap.String("to", quote.ToAsset),
		zap.String("amount", quote.Amount.String()),
		zap.String("signature", exec.Signature))
	return exec.Signature, nil
}

// FindBestMarket returns the deepest market for the asset, or ErrNoRoute.
func (p *HTTPProvider) FindBestMarket(ctx context.Context, assetAddress string) (string, error) {
	resp, err := retryRequest(ctx, p.logger, func() (*resty.Response, error) {
		var body marketResponse
		return p.client.R().
			SetContext(ctx).
			SetResult(&body).
			Get("/v1/markets/" + assetAddress)
	})
	if err != nil {
		return "", fmt.Errorf("market lookup: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", ErrNoRoute
	}

	body, ok := resp.Result().(*marketResponse)
	if !ok || body == nil {
		return "", &ExecutionError{Reason: "malformed market response"}
	}
	if body.Error != nil {
		if body.Error.Code == "NOT_TRADEABLE" {
			return "", ErrNoRoute
		}
		return "", &ExecutionError{Code: body.Error.Code, Reason: body.Error.Message}
	}
	if body.Market == "" {
		return "", ErrNoRoute
	}
	return body.Market, nil
}

// retryRequest retries transient transport and 5xx failures with exponential
// backoff. 4xx responses are returned to the caller unretried.
func retryRequest(ctx context.Context, logger *zap.Logger, do func() (*resty.Response, error)) (*resty.Response, error) {
	return backoff.Retry(ctx, func() (*resty.Response, error) {
		resp, err := do()
		if err != nil {
			logger.Debug("Request transport error, retrying", zap.Error(err))
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server error: %s", resp.Status())
		}
		return resp, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(defaultMaxTries),
	)
}
