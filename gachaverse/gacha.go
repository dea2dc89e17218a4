package gachaverse

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// GachaConfig is the data definition for the GachaSystem type.
type GachaConfig struct {
	SpinCost     float64             `json:"spin_cost,omitempty"`
	HistoryLimit int                 `json:"history_limit,omitempty"`
	Catalog      []*GachaCatalogItem `json:"catalog,omitempty"`
}

// GachaCatalogItem is one template in the drop table. Weight is relative to
// the sum of all weights, it does not need to be a probability.
type GachaCatalogItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Rarity    string  `json:"rarity"`
	Weight    float64 `json:"weight"`
	SellPrice float64 `json:"sell_price"`
	ImageURL  string  `json:"image_url,omitempty"`
}

// SpinResult is the outcome of one paid spin.
type SpinResult struct {
	Item       *OwnedItem `json:"item"`
	SpinCost   float64    `json:"spin_cost"`
	NewBalance float64    `json:"new_balance"`
}

// SpinRecord is one line of an account's spin history, newest first.
type SpinRecord struct {
	ItemID     string `json:"item_id"`
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Rarity     string `json:"rarity"`
	CreatedAt  int64  `json:"created_at"`
}

// The GachaSystem resolves paid spins against a weighted drop table, paying
// through the ledger and minting the result into the collection.
type GachaSystem interface {
	System

	// Catalog returns the configured drop table.
	Catalog() []*GachaCatalogItem

	// Roll picks one entry from the table proportionally to its weight.
	Roll(entries []*GachaCatalogItem) (*GachaCatalogItem, error)

	// Spin debits the spin cost, rolls the table and mints the resulting
	// item. A mint failure after the debit refunds the cost.
	Spin(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*SpinResult, error)

	// History returns the most recent spins for an account, newest first.
	History(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, limit int) ([]*SpinRecord, error)
}
