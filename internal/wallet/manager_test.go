package wallet

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arturshev/solana-volume-bot/internal/types"
)

type fixedSeedSource struct {
	seed []byte
}

func (f fixedSeedSource) Seed() ([]byte, error) { return f.seed, nil }

func TestIssueSessionWallet(t *testing.T) {
	m := NewManager(NewClockSeedSource(), zaptest.NewLogger(t))

	rec, err := m.IssueSessionWallet("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, KindSession, rec.Kind)
	assert.NotEmpty(t, rec.Address)
	assert.NotEmpty(t, rec.SecretKey)

	got, ok := m.Lookup(rec.Address)
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestWalletAddressesDistinct(t *testing.T) {
	m := NewManager(NewClockSeedSource(), zaptest.NewLogger(t))

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		rec, err := m.IssueSessionWallet("sess-distinct")
		require.NoError(t, err)
		_, dup := seen[rec.Address]
		require.False(t, dup, "address %s issued twice", rec.Address)
		seen[rec.Address] = struct{}{}
	}
}

func TestTradeWalletsDistinctPerAttempt(t *testing.T) {
	m := NewManager(fixedSeedSource{seed: []byte("fixed-seed")}, zaptest.NewLogger(t))

	a, err := m.IssueTradeWallet("sess-1", 0, types.SideBuy)
	require.NoError(t, err)
	b, err := m.IssueTradeWallet("sess-1", 1, types.SideSell)
	require.NoError(t, err)
	c, err := m.IssueTradeWallet("sess-2", 0, types.SideBuy)
	require.NoError(t, err)

	assert.NotEqual(t, a.Address, b.Address)
	assert.NotEqual(t, a.Address, c.Address)
	assert.NotEqual(t, b.Address, c.Address)
}

func TestTradeWalletRejectsInvalidSide(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))

	_, err := m.IssueTradeWallet("sess-1", 0, types.Side("HOLD"))
	require.Error(t, err)
}

func TestDerivationDeterministic(t *testing.T) {
	seed := []byte("deterministic-seed")
	m1 := NewManager(fixedSeedSource{seed: seed}, zaptest.NewLogger(t))
	m2 := NewManager(fixedSeedSource{seed: seed}, zaptest.NewLogger(t))

	a, err := m1.IssueSessionWallet("sess-1")
	require.NoError(t, err)
	b, err := m2.IssueSessionWallet("sess-1")
	require.NoError(t, err)
	assert.Equal(t, a.Address, b.Address)

	c, err := m2.IssueSessionWallet("sess-2")
	require.NoError(t, err)
	assert.NotEqual(t, a.Address, c.Address)
}

func TestReconstructSigningKey(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))

	rec, err := m.IssueSessionWallet("sess-1")
	require.NoError(t, err)

	key, err := m.ReconstructSigningKey(rec)
	require.NoError(t, err)
	assert.Equal(t, rec.Address, key.PublicKey().String())
}

func TestReconstructRejectsCorruptMaterial(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))

	rec, err := m.IssueSessionWallet("sess-1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(r *Record)
	}{
		{"undecodable", func(r *Record) { r.SecretKey = "!!!not-base58!!!" }},
		{"truncated", func(r *Record) { r.SecretKey = base58.Encode([]byte("short")) }},
		{"mismatched address", func(r *Record) { r.Address = "11111111111111111111111111111111" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := *rec
			tt.mutate(&bad)
			_, err := m.ReconstructSigningKey(&bad)
			require.ErrorIs(t, err, ErrKeyMaterialCorrupt)
		})
	}
}

func TestRegenerateSessionWalletYieldsNewAddress(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))

	orig, err := m.IssueSessionWallet("sess-1")
	require.NoError(t, err)

	regen, err := m.RegenerateSessionWallet("sess-1")
	require.NoError(t, err)
	assert.NotEqual(t, orig.Address, regen.Address)
	assert.Equal(t, KindSession, regen.Kind)

	key, err := m.ReconstructSigningKey(regen)
	require.NoError(t, err)
	assert.Equal(t, regen.Address, key.PublicKey().String())
}
