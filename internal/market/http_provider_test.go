package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestProvider(t *testing.T, handler http.Handler) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPProvider(srv.URL, 2*time.Second, zaptest.NewLogger(t))
}

// unsignedTransferTx returns a base64 transaction payable by key, the shape
// the execution service hands back for signing.
func unsignedTransferTx(t *testing.T, key *solana.Wallet) string {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1, key.PublicKey(), key.PublicKey()).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(key.PublicKey()),
	)
	require.NoError(t, err)
	b64, err := tx.ToBase64()
	require.NoError(t, err)
	return b64
}

func TestQuote(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "from-mint", r.URL.Query().Get("input_mint"))
		assert.Equal(t, "to-mint", r.URL.Query().Get("output_mint"))
		assert.Equal(t, "0.5", r.URL.Query().Get("amount"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"expected_output": "123.456",
			"price_impact":    "0.01",
			"route_plan":      map[string]string{"pool": "abc"},
		})
	}))

	quote, err := p.Quote(context.Background(), "from-mint", "to-mint", decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.True(t, quote.ExpectedOutput.Equal(decimal.RequireFromString("123.456")))
	assert.Equal(t, "from-mint", quote.FromAsset)
	assert.NotEmpty(t, quote.RoutePlan)
}

func TestQuoteNoRoute(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "NO_ROUTE", "message": "no pool"},
		})
	}))

	_, err := p.Quote(context.Background(), "a", "b", decimal.RequireFromString("1"))
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestQuoteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"expected_output": "1",
			"price_impact":    "0",
		})
	}))

	_, err := p.Quote(context.Background(), "a", "b", decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitSignsAndExecutes(t *testing.T) {
	key := solana.NewWallet()

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/swap":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"transaction": unsignedTransferTx(t, key),
			})
		case "/v1/execute":
			var body struct {
				SignedTransaction string `json:"signed_transaction"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

			tx, err := solana.TransactionFromBase64(body.SignedTransaction)
			require.NoError(t, err)
			require.NoError(t, tx.VerifySignatures(), "submitted transaction must be signed")

			_ = json.NewEncoder(w).Encode(map[string]string{"signature": "sig-executed"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	quote := &Quote{
		FromAsset: "a", ToAsset: "b",
		Amount:    decimal.RequireFromString("1"),
		RoutePlan: json.RawMessage(`{"pool":"abc"}`),
	}
	sig, err := p.Submit(context.Background(), quote, key.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "sig-executed", sig)
}

func TestSubmitExecutionError(t *testing.T) {
	key := solana.NewWallet()

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/swap":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"transaction": unsignedTransferTx(t, key),
			})
		case "/v1/execute":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"code": "SLIPPAGE", "message": "price moved"},
			})
		}
	}))

	quote := &Quote{Amount: decimal.RequireFromString("1"), RoutePlan: json.RawMessage(`{}`)}
	_, err := p.Submit(context.Background(), quote, key.PrivateKey)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "SLIPPAGE", execErr.Code)
}

func TestFindBestMarket(t *testing.T) {
	t.Run("tradeable", func(t *testing.T) {
		p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/markets/mint-1", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]string{"market": "mkt-deep"})
		}))
		mkt, err := p.FindBestMarket(context.Background(), "mint-1")
		require.NoError(t, err)
		assert.Equal(t, "mkt-deep", mkt)
	})

	t.Run("not found", func(t *testing.T) {
		p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		_, err := p.FindBestMarket(context.Background(), "mint-1")
		require.ErrorIs(t, err, ErrNoRoute)
	})

	t.Run("not tradeable", func(t *testing.T) {
		p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"code": "NOT_TRADEABLE", "message": "no pools"},
			})
		}))
		_, err := p.FindBestMarket(context.Background(), "mint-1")
		require.ErrorIs(t, err, ErrNoRoute)
	})
}
