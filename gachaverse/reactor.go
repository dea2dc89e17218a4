package gachaverse

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ReactorConfig is the data definition for the ReactorSystem type.
type ReactorConfig struct {
	EnergyPerClick    float64           `json:"energy_per_click,omitempty"`
	RegenPerSecond    float64           `json:"regen_per_second,omitempty"`
	MaxClicksPerBatch int               `json:"max_clicks_per_batch,omitempty"`
	Upgrades          []*ReactorUpgrade `json:"upgrades,omitempty"`
}

// ReactorUpgrade is one tier of the reactor upgrade table. Level 1 is the
// starting state and costs nothing.
type ReactorUpgrade struct {
	Level         int     `json:"level"`
	Cost          float64 `json:"cost"`
	MaxEnergy     float64 `json:"max_energy"`
	RegenBonus    float64 `json:"regen_bonus"`
	ClicksPerCoin float64 `json:"clicks_per_coin"`
}

// ReactorState is the per-account pool state. Energy regenerates lazily: it
// is a pure function of the stored value, the stored timestamp and the
// current time, recomputed on access. There is no background ticker.
type ReactorState struct {
	Address        string  `json:"address"`
	Energy         float64 `json:"energy"`
	MaxEnergy      float64 `json:"max_energy"`
	Level          int     `json:"level"`
	TotalHarvested float64 `json:"total_harvested"`
	LastRegenAt    int64   `json:"last_regen_at"`
	CooldownUntil  int64   `json:"cooldown_until,omitempty"`
}

// HarvestResult reports the outcome of one accepted click batch.
type HarvestResult struct {
	ClicksProcessed int     `json:"clicks_processed"`
	CoinsEarned     float64 `json:"coins_earned"`
	NewBalance      float64 `json:"new_balance"`
	Energy          float64 `json:"energy"`
	MaxEnergy       float64 `json:"max_energy"`
	TotalHarvested  float64 `json:"total_harvested"`
}

// UpgradeResult reports the outcome of a reactor level upgrade.
type UpgradeResult struct {
	NewLevel         int     `json:"new_level"`
	NewMaxEnergy     float64 `json:"new_max_energy"`
	NewClicksPerCoin float64 `json:"new_clicks_per_coin"`
	NewRegenRate     float64 `json:"new_regen_rate"`
	Energy           float64 `json:"energy"`
	NewBalance       float64 `json:"new_balance"`
	Cost             float64 `json:"cost"`
}

// The ReactorSystem provides the idle clicker mechanic: a per-account energy
// pool with time based regeneration, batched click harvesting paid out
// through the ledger, and a level table that raises the cap and efficiency.
type ReactorSystem interface {
	System

	// Get returns the pool state with regeneration applied up to now. The
	// regenerated value is persisted only when at least one whole unit of
	// energy was gained, to avoid write amplification on reads.
	Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*ReactorState, error)

	// Harvest consumes energy for a client reported click batch. The click
	// count is truncated to what the current energy supports; a batch that
	// cannot fund a single click fails with ErrInsufficientEnergy.
	Harvest(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, clicks int) (*HarvestResult, error)

	// Upgrade advances the reactor to the next tier, debiting the tier cost
	// from the ledger. A persistence failure after the debit refunds it.
	Upgrade(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*UpgradeResult, error)

	// GrantEnergy adds energy (capped at the pool maximum) and optionally
	// starts a cooldown, in one persisted update.
	GrantEnergy(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, cooldown time.Duration) (newEnergy float64, err error)

	// StartCooldown sets the pool cooldown without touching energy.
	StartCooldown(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, cooldown time.Duration) error
}

// CooldownRemaining reports how long the pool cooldown has left, zero when
// none is active.
func (s *ReactorState) CooldownRemaining(now time.Time) time.Duration {
	if s.CooldownUntil == 0 {
		return 0
	}
	remaining := time.Duration(s.CooldownUntil-now.Unix()) * time.Second
	if remaining < 0 {
		return 0
	}
	return remaining
}
