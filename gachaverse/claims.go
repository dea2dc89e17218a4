package gachaverse

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ClaimsConfig is the data definition for the ClaimSystem type.
type ClaimsConfig struct {
	ExchangeRate float64 `json:"exchange_rate,omitempty"`
	MinExchange  float64 `json:"min_exchange,omitempty"`
	ListLimit    int     `json:"list_limit,omitempty"`
}

// Settlement states for claims and exchanges. A record in mint_failed or
// no_contract keeps its debit; only a retry can advance it to minted.
const (
	MintStatusPending    = "pending"
	MintStatusMinted     = "minted"
	MintStatusFailed     = "mint_failed"
	MintStatusNoContract = "no_contract"
)

// ClaimRecord tracks one item's on-chain claim. At most one record ever
// exists per item and it is never deleted or rolled back.
type ClaimRecord struct {
	ItemID    string `json:"item_id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	Rarity    string `json:"rarity"`
	Status    string `json:"status"`
	TxID      string `json:"tx_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ExchangeRecord tracks one coin-to-token exchange. The coin debit is final
// once the record exists, whatever the mint outcome.
type ExchangeRecord struct {
	ID          string  `json:"id"`
	Address     string  `json:"address"`
	GachaAmount float64 `json:"gacha_amount"`
	Tokens      int64   `json:"tokens"`
	Status      string  `json:"status"`
	TxID        string  `json:"tx_id,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

// ExchangeResult is the outcome of one exchange request.
type ExchangeResult struct {
	Record     *ExchangeRecord `json:"record"`
	NewBalance float64         `json:"new_balance"`
}

// RetryEntry is the per-record outcome of a retry sweep.
type RetryEntry struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Status string `json:"status"`
	TxID   string `json:"tx_id,omitempty"`
	Tokens int64  `json:"tokens,omitempty"`
}

// RetryResult aggregates a retry sweep over an account's unsettled records.
type RetryResult struct {
	Retried     int           `json:"retried"`
	Minted      int           `json:"minted"`
	Failed      int           `json:"failed"`
	TotalMinted int64         `json:"total_minted"`
	Entries     []*RetryEntry `json:"entries"`
}

// The ClaimSystem coordinates the two bridges out of the closed economy:
// claiming an item on-chain and exchanging coins for GVCoin tokens.
type ClaimSystem interface {
	System

	// SetExchangeMinter installs the mint target for exchanges. Claims
	// settle through their own minter.
	SetExchangeMinter(minter Minter)

	// ClaimItem records an at-most-once claim for an owned item and
	// attempts the mint. The record survives a failed mint.
	ClaimItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address, itemID string) (*ClaimRecord, error)

	// ListClaims returns the account's claim records, newest first.
	ListClaims(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*ClaimRecord, error)

	// Exchange debits coins and mints tokens at the configured rate. The
	// debit is not refunded when the mint fails, only when the exchange
	// record itself cannot be written.
	Exchange(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64) (*ExchangeResult, error)

	// ListExchanges returns the account's exchange records, newest first.
	ListExchanges(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*ExchangeRecord, error)

	// RetrySweep re-attempts every unsettled claim and exchange for an
	// account and reports per-record outcomes.
	RetrySweep(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*RetryResult, error)
}
