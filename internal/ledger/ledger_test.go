package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arturshev/solana-volume-bot/internal/config"
	"github.com/arturshev/solana-volume-bot/internal/storage"
	"github.com/arturshev/solana-volume-bot/internal/storage/badgerstore"
)

const (
	testFeeAddr      = "FeeDest1111111111111111111111111111111111111"
	normalWallet     = "Wa11etNorma1111111111111111111111111111111111"
	privilegedWallet = "Wa11etPriv11111111111111111111111111111111111"
)

func newTestLedger(t *testing.T, allowlist config.Allowlist) (*SplitLedger, storage.Store) {
	t.Helper()
	store, err := badgerstore.New(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l := New(store, testFeeAddr,
		decimal.RequireFromString("0.1"),
		decimal.RequireFromString("0.01"),
		allowlist, zaptest.NewLogger(t))
	return l, store
}

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		total     string
		operating string
		fee       string
	}{
		{"1.0", "0.75", "0.25"},
		{"0.1", "0.075", "0.025"},
		{"0.2", "0.15", "0.05"},
		{"1.00000001", "0.75000001", "0.25"},
		{"0.00000003", "0.00000003", "0"},
		{"123.45678901", "92.59259176", "30.86419725"},
	}
	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			total := decimal.RequireFromString(tt.total)
			operating, fee := ComputeSplit(total)

			assert.True(t, operating.Equal(decimal.RequireFromString(tt.operating)),
				"operating = %s", operating)
			assert.True(t, fee.Equal(decimal.RequireFromString(tt.fee)),
				"fee = %s", fee)
			assert.True(t, operating.Add(fee).Equal(total),
				"legs must sum back to the total exactly")
		})
	}
}

func TestRecordSplitExactlyOnce(t *testing.T) {
	l, _ := newTestLedger(t, config.Allowlist{})
	ctx := context.Background()

	amount := decimal.RequireFromString("1.0")
	split, err := l.RecordSplit(ctx, "sess-1", normalWallet, amount, "idem-1")
	require.NoError(t, err)
	assert.True(t, split.Operating.Equal(decimal.RequireFromString("0.75")))
	assert.True(t, split.Fee.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, testFeeAddr, split.FeeAddress)

	// Same session again, even with a fresh idempotency key.
	_, err = l.RecordSplit(ctx, "sess-1", normalWallet, amount, "idem-2")
	require.ErrorIs(t, err, ErrDuplicateSplit)

	// Reused idempotency key on another session.
	_, err = l.RecordSplit(ctx, "sess-2", normalWallet, amount, "idem-1")
	require.ErrorIs(t, err, ErrDuplicateSplit)

	got, err := l.ExistingSplit(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(amount))
}

func TestRecordSplitBelowMinimum(t *testing.T) {
	l, _ := newTestLedger(t, config.Allowlist{privilegedWallet: {}})
	ctx := context.Background()

	_, err := l.RecordSplit(ctx, "sess-1", normalWallet,
		decimal.RequireFromString("0.05"), "idem-1")
	require.ErrorIs(t, err, ErrBelowMinimum)

	// The privileged wallet clears the same amount.
	split, err := l.RecordSplit(ctx, "sess-2", privilegedWallet,
		decimal.RequireFromString("0.05"), "idem-2")
	require.NoError(t, err)
	assert.True(t, split.Operating.Add(split.Fee).Equal(decimal.RequireFromString("0.05")))

	// Below even the reduced minimum: identical error either way.
	_, err = l.RecordSplit(ctx, "sess-3", privilegedWallet,
		decimal.RequireFromString("0.005"), "idem-3")
	require.ErrorIs(t, err, ErrBelowMinimum)
}

func TestMeetsMinimum(t *testing.T) {
	l, _ := newTestLedger(t, config.Allowlist{privilegedWallet: {}})

	assert.False(t, l.MeetsMinimum(normalWallet, decimal.RequireFromString("0.05")))
	assert.True(t, l.MeetsMinimum(normalWallet, decimal.RequireFromString("0.1")))
	assert.True(t, l.MeetsMinimum(privilegedWallet, decimal.RequireFromString("0.05")))
	assert.False(t, l.MeetsMinimum(privilegedWallet, decimal.RequireFromString("0.005")))
}

func TestFeeTransferAudit(t *testing.T) {
	l, _ := newTestLedger(t, config.Allowlist{})
	ctx := context.Background()

	require.NoError(t, l.RecordFeeTransfer(ctx, "sess-1", decimal.RequireFromString("0.25"), "sig-1"))
	require.NoError(t, l.RecordFeeTransfer(ctx, "sess-2", decimal.RequireFromString("0.025"), "sig-2"))

	total, err := l.TotalFeesCollected(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("0.275")), "total = %s", total)
}
