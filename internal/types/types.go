// =============================================
// File: internal/types/types.go
// =============================================
// Package types holds primitives shared across the trading packages.
package types

import "github.com/shopspring/decimal"

// Constants
const LamportsPerSOL = 1_000_000_000

// AmountPrecision is the fixed-point precision used for all SOL amounts.
const AmountPrecision = 8

// Side is the direction of a single exchange.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite flips the trade direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

var lamportsPerSol = decimal.NewFromInt(LamportsPerSOL)

// SolToLamports converts a SOL amount to integer lamports, truncating
// anything below one lamport.
func SolToLamports(sol decimal.Decimal) uint64 {
	return uint64(sol.Mul(lamportsPerSol).IntPart())
}

// LamportsToSol converts lamports to a SOL amount at 9 decimal places.
func LamportsToSol(lamports uint64) decimal.Decimal {
	return decimal.New(int64(lamports), 0).Div(lamportsPerSol)
}
