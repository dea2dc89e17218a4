package gachaverse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	collectionCollectionKey = "collection"
	collectionItemKeyFmt    = "item_%s"
	collectionOwnerKeyFmt   = "owner_%s"

	defaultConverterCooldownSec = 3

	collectionWriteAttempts = 3
)

// defaultConverterRewards is the built-in rarity reward table.
func defaultConverterRewards() map[string]*ConverterReward {
	return map[string]*ConverterReward{
		"Common": {Energy: 15, Coins: 2},
		"Rare":   {Energy: 30, Coins: 8},
		"SSR":    {Energy: 60, Coins: 25},
		"UR":     {Energy: 120, Coins: 60},
	}
}

// ownerIndex is the stored set of item ids held by one owner.
type ownerIndex struct {
	Owner string          `json:"owner"`
	Items map[string]bool `json:"items"`
}

// NakamaCollectionSystem implements the CollectionSystem interface using Nakama as the backend.
type NakamaCollectionSystem struct {
	config     *CollectionConfig
	gachaverse Gachaverse
}

// NewNakamaCollectionSystem creates a new instance of the collection system with the given configuration.
func NewNakamaCollectionSystem(config *CollectionConfig) *NakamaCollectionSystem {
	if config != nil {
		if config.ConverterCooldownSec == 0 {
			config.ConverterCooldownSec = defaultConverterCooldownSec
		}
		if len(config.ConverterRewards) == 0 {
			config.ConverterRewards = defaultConverterRewards()
		}
	}
	return &NakamaCollectionSystem{
		config: config,
	}
}

// GetType returns the system type for the collection system.
func (c *NakamaCollectionSystem) GetType() SystemType {
	return SystemTypeCollection
}

// GetConfig returns the configuration for the collection system.
func (c *NakamaCollectionSystem) GetConfig() any {
	return c.config
}

func (c *NakamaCollectionSystem) SetGachaverse(gv Gachaverse) {
	c.gachaverse = gv
}

// List returns the items currently owned by an account.
func (c *NakamaCollectionSystem) List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*OwnedItem, error) {
	index, _, err := c.readOwnerIndex(ctx, nk, address)
	if err != nil {
		logger.Error("Failed to read owner index for %s: %v", address, err)
		return nil, ErrInternal
	}
	if index == nil || len(index.Items) == 0 {
		return []*OwnedItem{}, nil
	}

	reads := make([]*runtime.StorageRead, 0, len(index.Items))
	for itemID := range index.Items {
		reads = append(reads, &runtime.StorageRead{
			Collection: collectionCollectionKey,
			Key:        fmt.Sprintf(collectionItemKeyFmt, itemID),
			UserID:     "",
		})
	}
	objects, err := nk.StorageRead(ctx, reads)
	if err != nil {
		logger.Error("Failed to read items for %s: %v", address, err)
		return nil, ErrInternal
	}

	items := make([]*OwnedItem, 0, len(objects))
	for _, object := range objects {
		item := &OwnedItem{}
		if err := json.Unmarshal([]byte(object.Value), item); err != nil {
			logger.Error("Corrupt item object %s: %v", object.Key, err)
			continue
		}
		// The index can lag a transfer, trust the item itself.
		if item.Owner != address {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// GetItem returns one item instance by id.
func (c *NakamaCollectionSystem) GetItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string) (*OwnedItem, error) {
	item, _, err := c.readItem(ctx, nk, itemID)
	if err != nil {
		logger.Error("Failed to read item %s: %v", itemID, err)
		return nil, ErrInternal
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// AddItem mints a new item instance from a catalog template.
func (c *NakamaCollectionSystem) AddItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, template *GachaCatalogItem, source string) (*OwnedItem, error) {
	now := time.Now().Unix()
	item := &OwnedItem{
		ID:         uuid.NewString(),
		Owner:      address,
		WonBy:      address,
		TemplateID: template.ID,
		Name:       template.Name,
		Rarity:     template.Rarity,
		SellPrice:  template.SellPrice,
		ImageURL:   template.ImageURL,
		Source:     source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Instance ids are fresh uuids, the create-only write guards against
	// the astronomically unlikely collision rather than a race.
	if err := c.writeItem(ctx, nk, item, "*"); err != nil {
		logger.Error("Failed to create item for %s: %v", address, err)
		return nil, ErrInternal
	}
	if err := c.indexAdd(ctx, nk, address, item.ID); err != nil {
		logger.Warn("Failed to index new item %s for %s: %v", item.ID, address, err)
	}
	return item, nil
}

// Transfer rebinds an item to a new owner.
func (c *NakamaCollectionSystem) Transfer(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID, from, to string) error {
	err := c.updateItem(ctx, logger, nk, itemID, func(item *OwnedItem) error {
		if item.Owner != from {
			return ErrItemNotFound
		}
		item.Owner = to
		item.Locked = false
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.indexRemove(ctx, nk, from, itemID); err != nil {
		logger.Warn("Failed to unindex item %s from %s: %v", itemID, from, err)
	}
	if to != OwnerShop && to != OwnerConverted {
		if err := c.indexAdd(ctx, nk, to, itemID); err != nil {
			logger.Warn("Failed to index item %s for %s: %v", itemID, to, err)
		}
	}
	return nil
}

// SetLocked marks an item as held by a pending trade offer.
func (c *NakamaCollectionSystem) SetLocked(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string, locked bool) error {
	return c.updateItem(ctx, logger, nk, itemID, func(item *OwnedItem) error {
		if locked && item.Locked {
			return ErrItemEncumbered
		}
		item.Locked = locked
		return nil
	})
}

// MarkClaimed flags an item as having an on-chain claim record.
func (c *NakamaCollectionSystem) MarkClaimed(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string) error {
	return c.updateItem(ctx, logger, nk, itemID, func(item *OwnedItem) error {
		item.Claimed = true
		return nil
	})
}

// Sell transfers an unencumbered item to the shop and credits its price.
func (c *NakamaCollectionSystem) Sell(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address, itemID string) (*SellResult, error) {
	ledger := c.gachaverse.GetLedgerSystem()
	if ledger == nil {
		return nil, ErrSystemNotAvailable
	}

	item, err := c.takeItem(ctx, logger, nk, address, itemID, OwnerShop)
	if err != nil {
		return nil, err
	}

	newBalance, err := ledger.Credit(ctx, logger, nk, address, item.SellPrice, "sell")
	if err != nil {
		// The item is already in the shop. Hand it back before failing.
		c.restoreItem(ctx, logger, nk, itemID, OwnerShop, address)
		return nil, ErrInternal
	}

	return &SellResult{
		ItemID:     itemID,
		Price:      item.SellPrice,
		NewBalance: newBalance,
	}, nil
}

// Convert scraps an unencumbered item for an energy or coin reward.
func (c *NakamaCollectionSystem) Convert(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address, itemID, rewardKind string) (*ConvertResult, error) {
	if rewardKind != ConvertRewardEnergy && rewardKind != ConvertRewardCoins {
		return nil, ErrBadInput
	}
	ledger := c.gachaverse.GetLedgerSystem()
	reactor := c.gachaverse.GetReactorSystem()
	if ledger == nil || reactor == nil {
		return nil, ErrSystemNotAvailable
	}

	state, err := reactor.Get(ctx, logger, nk, address)
	if err != nil {
		return nil, err
	}
	if state.CooldownRemaining(time.Now()) > 0 {
		return nil, ErrCooldownActive
	}

	item, err := c.takeItem(ctx, logger, nk, address, itemID, OwnerConverted)
	if err != nil {
		return nil, err
	}
	reward, ok := c.config.ConverterRewards[item.Rarity]
	if !ok {
		c.restoreItem(ctx, logger, nk, itemID, OwnerConverted, address)
		return nil, ErrBadInput
	}

	cooldown := time.Duration(c.config.ConverterCooldownSec) * time.Second
	result := &ConvertResult{
		ItemID:      itemID,
		RewardKind:  rewardKind,
		CooldownSec: c.config.ConverterCooldownSec,
	}

	switch rewardKind {
	case ConvertRewardEnergy:
		energy, err := reactor.GrantEnergy(ctx, logger, nk, address, reward.Energy, cooldown)
		if err != nil {
			c.restoreItem(ctx, logger, nk, itemID, OwnerConverted, address)
			return nil, ErrInternal
		}
		result.EnergyGained = reward.Energy
		result.Energy = energy
	case ConvertRewardCoins:
		newBalance, err := ledger.Credit(ctx, logger, nk, address, reward.Coins, "convert")
		if err != nil {
			c.restoreItem(ctx, logger, nk, itemID, OwnerConverted, address)
			return nil, ErrInternal
		}
		if err := reactor.StartCooldown(ctx, logger, nk, address, cooldown); err != nil {
			logger.Warn("Failed to start converter cooldown for %s: %v", address, err)
		}
		result.CoinsGained = reward.Coins
		result.NewBalance = newBalance
	}
	return result, nil
}

// takeItem validates ownership and encumbrance, then moves the item to a
// sentinel owner in one conditional update.
func (c *NakamaCollectionSystem) takeItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address, itemID, to string) (*OwnedItem, error) {
	var taken *OwnedItem
	err := c.updateItem(ctx, logger, nk, itemID, func(item *OwnedItem) error {
		if item.Owner != address {
			return ErrItemNotFound
		}
		if item.Locked || item.Claimed {
			return ErrItemEncumbered
		}
		item.Owner = to
		snapshot := *item
		taken = &snapshot
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.indexRemove(ctx, nk, address, itemID); err != nil {
		logger.Warn("Failed to unindex item %s from %s: %v", itemID, address, err)
	}
	return taken, nil
}

// restoreItem is the compensating move for a failed disposition.
func (c *NakamaCollectionSystem) restoreItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID, from, to string) {
	if err := c.Transfer(ctx, logger, nk, itemID, from, to); err != nil {
		logger.Error("UNRESOLVED INCONSISTENCY: failed to return item %s to %s: %v", itemID, to, err)
	}
}

// updateItem applies fn to a freshly read item under a conditional write,
// retrying on conflicts. An error from fn aborts without writing.
func (c *NakamaCollectionSystem) updateItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string, fn func(item *OwnedItem) error) error {
	for attempt := 0; attempt < collectionWriteAttempts; attempt++ {
		item, version, err := c.readItem(ctx, nk, itemID)
		if err != nil {
			logger.Error("Failed to read item %s: %v", itemID, err)
			return ErrInternal
		}
		if item == nil {
			return ErrItemNotFound
		}

		if err := fn(item); err != nil {
			return err
		}
		item.UpdatedAt = time.Now().Unix()

		if err := c.writeItem(ctx, nk, item, version); err != nil {
			logger.Warn("Conditional item write for %s failed, retrying: %v", itemID, err)
			continue
		}
		return nil
	}
	logger.Error("Item update for %s exhausted retries", itemID)
	return ErrInternal
}

func (c *NakamaCollectionSystem) readItem(ctx context.Context, nk runtime.NakamaModule, itemID string) (*OwnedItem, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: collectionCollectionKey,
			Key:        fmt.Sprintf(collectionItemKeyFmt, itemID),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	item := &OwnedItem{}
	if err := json.Unmarshal([]byte(objects[0].Value), item); err != nil {
		return nil, "", err
	}
	return item, objects[0].Version, nil
}

func (c *NakamaCollectionSystem) writeItem(ctx context.Context, nk runtime.NakamaModule, item *OwnedItem, version string) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	_, err = nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection: collectionCollectionKey,
			Key:        fmt.Sprintf(collectionItemKeyFmt, item.ID),
			UserID:     "",
			Value:      string(data),
			Version:    version,
		},
	})
	return err
}

func (c *NakamaCollectionSystem) readOwnerIndex(ctx context.Context, nk runtime.NakamaModule, address string) (*ownerIndex, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: collectionCollectionKey,
			Key:        fmt.Sprintf(collectionOwnerKeyFmt, address),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	index := &ownerIndex{}
	if err := json.Unmarshal([]byte(objects[0].Value), index); err != nil {
		return nil, "", err
	}
	return index, objects[0].Version, nil
}

func (c *NakamaCollectionSystem) indexAdd(ctx context.Context, nk runtime.NakamaModule, address, itemID string) error {
	return c.updateOwnerIndex(ctx, nk, address, func(index *ownerIndex) {
		index.Items[itemID] = true
	})
}

func (c *NakamaCollectionSystem) indexRemove(ctx context.Context, nk runtime.NakamaModule, address, itemID string) error {
	return c.updateOwnerIndex(ctx, nk, address, func(index *ownerIndex) {
		delete(index.Items, itemID)
	})
}

func (c *NakamaCollectionSystem) updateOwnerIndex(ctx context.Context, nk runtime.NakamaModule, address string, fn func(index *ownerIndex)) error {
	var lastErr error
	for attempt := 0; attempt < collectionWriteAttempts; attempt++ {
		index, version, err := c.readOwnerIndex(ctx, nk, address)
		if err != nil {
			return err
		}
		if index == nil {
			index = &ownerIndex{Owner: address, Items: map[string]bool{}}
			version = "*"
		}

		fn(index)

		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		if _, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{
			{
				Collection: collectionCollectionKey,
				Key:        fmt.Sprintf(collectionOwnerKeyFmt, address),
				UserID:     "",
				Value:      string(data),
				Version:    version,
			},
		}); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
