package gachaverse

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	gachaHistoryCollectionKey = "spin_history"
	gachaHistoryKeyFmt        = "history_%s"

	defaultSpinCost     = 10
	defaultHistoryLimit = 20

	// Stored history is a rolling window, older spins fall off.
	gachaHistoryStoreCap = 100

	gachaWriteAttempts = 3
)

// defaultGachaCatalog is the built-in drop table, used when the config file
// does not override it.
func defaultGachaCatalog() []*GachaCatalogItem {
	return []*GachaCatalogItem{
		{ID: "cap_rusty_bolt", Name: "Rusty Bolt", Rarity: "Common", Weight: 350, SellPrice: 5},
		{ID: "cap_cracked_chip", Name: "Cracked Chip", Rarity: "Common", Weight: 350, SellPrice: 5},
		{ID: "cap_neon_core", Name: "Neon Core", Rarity: "Rare", Weight: 250, SellPrice: 20},
		{ID: "cap_quantum_prism", Name: "Quantum Prism", Rarity: "SSR", Weight: 45, SellPrice: 50},
		{ID: "cap_genesis_dragon", Name: "Genesis Dragon", Rarity: "UR", Weight: 5, SellPrice: 150},
	}
}

// NakamaGachaSystem implements the GachaSystem interface using Nakama as the backend.
type NakamaGachaSystem struct {
	config     *GachaConfig
	gachaverse Gachaverse

	// randFn is swapped out in tests for deterministic rolls.
	randFn func() float64
}

// NewNakamaGachaSystem creates a new instance of the gacha system with the given configuration.
func NewNakamaGachaSystem(config *GachaConfig) *NakamaGachaSystem {
	if config != nil {
		if config.SpinCost == 0 {
			config.SpinCost = defaultSpinCost
		}
		if config.HistoryLimit == 0 {
			config.HistoryLimit = defaultHistoryLimit
		}
		if len(config.Catalog) == 0 {
			config.Catalog = defaultGachaCatalog()
		}
	}
	return &NakamaGachaSystem{
		config: config,
		randFn: rand.Float64,
	}
}

// GetType returns the system type for the gacha system.
func (g *NakamaGachaSystem) GetType() SystemType {
	return SystemTypeGacha
}

// GetConfig returns the configuration for the gacha system.
func (g *NakamaGachaSystem) GetConfig() any {
	return g.config
}

func (g *NakamaGachaSystem) SetGachaverse(gv Gachaverse) {
	g.gachaverse = gv
}

// Catalog returns the configured drop table.
func (g *NakamaGachaSystem) Catalog() []*GachaCatalogItem {
	return g.config.Catalog
}

// Roll picks one entry proportionally to its weight. Entries with a zero or
// negative weight can never be drawn. Accumulated floating point error on
// the final entry resolves in its favor.
func (g *NakamaGachaSystem) Roll(entries []*GachaCatalogItem) (*GachaCatalogItem, error) {
	totalWeight := 0.0
	var last *GachaCatalogItem
	for _, entry := range entries {
		if entry.Weight <= 0 {
			continue
		}
		totalWeight += entry.Weight
		last = entry
	}
	if last == nil {
		return nil, ErrCatalogEmpty
	}

	r := g.randFn() * totalWeight
	for _, entry := range entries {
		if entry.Weight <= 0 {
			continue
		}
		if r < entry.Weight {
			return entry, nil
		}
		r -= entry.Weight
	}
	return last, nil
}

// Spin debits the spin cost, rolls the table and mints the result.
func (g *NakamaGachaSystem) Spin(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*SpinResult, error) {
	ledger := g.gachaverse.GetLedgerSystem()
	collection := g.gachaverse.GetCollectionSystem()
	if ledger == nil || collection == nil {
		return nil, ErrSystemNotAvailable
	}

	// Resolve before paying so an unplayable table never costs anything.
	template, err := g.Roll(g.config.Catalog)
	if err != nil {
		return nil, err
	}

	newBalance, err := ledger.Debit(ctx, logger, nk, address, g.config.SpinCost, "spin")
	if err != nil {
		return nil, err
	}

	item, err := collection.AddItem(ctx, logger, nk, address, template, "spin")
	if err != nil {
		logger.Error("Failed to mint spin result for %s, refunding: %v", address, err)
		ledger.Refund(ctx, logger, nk, address, g.config.SpinCost, "spin_failed")
		return nil, ErrInternal
	}

	if err := g.appendHistory(ctx, nk, address, &SpinRecord{
		ItemID:     item.ID,
		TemplateID: template.ID,
		Name:       template.Name,
		Rarity:     template.Rarity,
		CreatedAt:  time.Now().Unix(),
	}); err != nil {
		// History is informational, the spin itself stands.
		logger.Warn("Failed to append spin history for %s: %v", address, err)
	}

	return &SpinResult{
		Item:       item,
		SpinCost:   g.config.SpinCost,
		NewBalance: newBalance,
	}, nil
}

// History returns the most recent spins for an account, newest first.
func (g *NakamaGachaSystem) History(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, limit int) ([]*SpinRecord, error) {
	if limit <= 0 || limit > g.config.HistoryLimit {
		limit = g.config.HistoryLimit
	}

	records, _, err := g.readHistory(ctx, nk, address)
	if err != nil {
		logger.Error("Failed to read spin history for %s: %v", address, err)
		return nil, ErrInternal
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// gachaHistory is the stored rolling window of spins for one account.
type gachaHistory struct {
	Address string        `json:"address"`
	Records []*SpinRecord `json:"records"`
}

func (g *NakamaGachaSystem) appendHistory(ctx context.Context, nk runtime.NakamaModule, address string, record *SpinRecord) error {
	var lastErr error
	for attempt := 0; attempt < gachaWriteAttempts; attempt++ {
		records, version, err := g.readHistory(ctx, nk, address)
		if err != nil {
			return err
		}
		if version == "" {
			version = "*"
		}

		records = append([]*SpinRecord{record}, records...)
		if len(records) > gachaHistoryStoreCap {
			records = records[:gachaHistoryStoreCap]
		}

		data, err := json.Marshal(&gachaHistory{Address: address, Records: records})
		if err != nil {
			return err
		}
		if _, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{
			{
				Collection: gachaHistoryCollectionKey,
				Key:        fmt.Sprintf(gachaHistoryKeyFmt, address),
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

func (g *NakamaGachaSystem) readHistory(ctx context.Context, nk runtime.NakamaModule, address string) ([]*SpinRecord, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: gachaHistoryCollectionKey,
			Key:        fmt.Sprintf(gachaHistoryKeyFmt, address),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	history := &gachaHistory{}
	if err := json.Unmarshal([]byte(objects[0].Value), history); err != nil {
		return nil, "", err
	}
	return history.Records, objects[0].Version, nil
}
