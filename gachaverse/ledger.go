package gachaverse

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// LedgerConfig is the data definition for the LedgerSystem type.
type LedgerConfig struct {
	// StartingGrant is credited when an account is lazily created on first touch.
	StartingGrant float64 `json:"starting_grant,omitempty"`
}

// The LedgerSystem owns per-account GACHA coin balances.
//
// Balances never go negative: a debit larger than the current balance fails
// before any write. Multi-step operations that debit and then perform a
// dependent write are expected to call Refund when the dependent write fails.
type LedgerSystem interface {
	System

	// Register ensures an account exists, creating it with the starting grant
	// when absent, and reports whether it was newly created.
	Register(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (balance float64, isNew bool, err error)

	// Balance returns the current balance, lazily creating the account with
	// the starting grant when absent.
	Balance(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (float64, error)

	// Credit adds amount to the account balance.
	Credit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, reason string) (newBalance float64, err error)

	// Debit removes amount from the account balance, failing with
	// ErrInsufficientFunds when amount exceeds the balance.
	Debit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, reason string) (newBalance float64, err error)

	// Refund is a compensating credit for a failed dependent operation. A
	// refund that itself fails is logged as an unresolved inconsistency and
	// not retried.
	Refund(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, reason string)
}
