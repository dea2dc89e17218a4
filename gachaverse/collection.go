package gachaverse

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// CollectionConfig is the data definition for the CollectionSystem type.
type CollectionConfig struct {
	ConverterCooldownSec int64                       `json:"converter_cooldown_sec,omitempty"`
	ConverterRewards     map[string]*ConverterReward `json:"converter_rewards,omitempty"`
}

// ConverterReward is what scrapping an item of a given rarity yields. The
// caller picks one of the two payouts, never both.
type ConverterReward struct {
	Energy float64 `json:"energy"`
	Coins  float64 `json:"coins"`
}

// Reward kinds accepted by Convert.
const (
	ConvertRewardEnergy = "energy"
	ConvertRewardCoins  = "coins"
)

// OwnedItem is one item instance. Ownership moves by rebinding Owner, item
// objects are never deleted; the sentinel owners record terminal
// dispositions.
type OwnedItem struct {
	ID         string  `json:"id"`
	Owner      string  `json:"owner"`
	WonBy      string  `json:"won_by"`
	TemplateID string  `json:"template_id"`
	Name       string  `json:"name"`
	Rarity     string  `json:"rarity"`
	SellPrice  float64 `json:"sell_price"`
	ImageURL   string  `json:"image_url,omitempty"`
	Source     string  `json:"source"`
	Locked     bool    `json:"locked,omitempty"`
	Claimed    bool    `json:"claimed,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// SellResult reports the outcome of selling an item back to the shop.
type SellResult struct {
	ItemID     string  `json:"item_id"`
	Price      float64 `json:"price"`
	NewBalance float64 `json:"new_balance"`
}

// ConvertResult reports the outcome of scrapping an item in the converter.
type ConvertResult struct {
	ItemID       string  `json:"item_id"`
	RewardKind   string  `json:"reward_kind"`
	EnergyGained float64 `json:"energy_gained,omitempty"`
	CoinsGained  float64 `json:"coins_gained,omitempty"`
	Energy       float64 `json:"energy,omitempty"`
	NewBalance   float64 `json:"new_balance,omitempty"`
	CooldownSec  int64   `json:"cooldown_sec"`
}

// The CollectionSystem is the registry of item instances and their owners,
// including the shop sell-back and the converter dispositions.
type CollectionSystem interface {
	System

	// List returns the items currently owned by an account.
	List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*OwnedItem, error)

	// GetItem returns one item instance by id.
	GetItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string) (*OwnedItem, error)

	// AddItem mints a new item instance from a catalog template.
	AddItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, template *GachaCatalogItem, source string) (*OwnedItem, error)

	// Transfer rebinds an item to a new owner, failing unless the current
	// owner matches from.
	Transfer(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID, from, to string) error

	// SetLocked marks an item as held by a pending trade offer. Locking an
	// already locked item fails with ErrItemEncumbered.
	SetLocked(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string, locked bool) error

	// MarkClaimed flags an item as having an on-chain claim record.
	MarkClaimed(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string) error

	// Sell transfers an unencumbered item to the shop and credits its price.
	Sell(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address, itemID string) (*SellResult, error)

	// Convert scraps an unencumbered item for an energy or coin reward by
	// rarity and starts the converter cooldown.
	Convert(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address, itemID, rewardKind string) (*ConvertResult, error)
}
