package gachaverse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	reactorCollectionKey = "reactor"
	reactorStateKeyFmt   = "state_%s"

	defaultEnergyPerClick    = 1
	defaultRegenPerSecond    = 0.5
	defaultMaxClicksPerBatch = 150

	reactorWriteAttempts = 3
)

// defaultReactorUpgrades is the built-in tier table, used when the config
// file does not override it. Level 1 is the starting tier.
func defaultReactorUpgrades() []*ReactorUpgrade {
	return []*ReactorUpgrade{
		{Level: 1, Cost: 0, MaxEnergy: 100, RegenBonus: 0, ClicksPerCoin: 50},
		{Level: 2, Cost: 50, MaxEnergy: 125, RegenBonus: 0.05, ClicksPerCoin: 49},
		{Level: 3, Cost: 120, MaxEnergy: 150, RegenBonus: 0.1, ClicksPerCoin: 48},
		{Level: 4, Cost: 250, MaxEnergy: 180, RegenBonus: 0.15, ClicksPerCoin: 47},
		{Level: 5, Cost: 400, MaxEnergy: 210, RegenBonus: 0.2, ClicksPerCoin: 46},
		{Level: 6, Cost: 600, MaxEnergy: 250, RegenBonus: 0.25, ClicksPerCoin: 46},
		{Level: 7, Cost: 850, MaxEnergy: 300, RegenBonus: 0.3, ClicksPerCoin: 45},
		{Level: 8, Cost: 1200, MaxEnergy: 360, RegenBonus: 0.35, ClicksPerCoin: 45},
		{Level: 9, Cost: 1600, MaxEnergy: 430, RegenBonus: 0.4, ClicksPerCoin: 45},
		{Level: 10, Cost: 2200, MaxEnergy: 500, RegenBonus: 0.5, ClicksPerCoin: 45},
	}
}

// NakamaReactorSystem implements the ReactorSystem interface using Nakama as the backend.
type NakamaReactorSystem struct {
	config     *ReactorConfig
	gachaverse Gachaverse
}

// NewNakamaReactorSystem creates a new instance of the reactor system with the given configuration.
func NewNakamaReactorSystem(config *ReactorConfig) *NakamaReactorSystem {
	if config != nil {
		if config.EnergyPerClick == 0 {
			config.EnergyPerClick = defaultEnergyPerClick
		}
		if config.RegenPerSecond == 0 {
			config.RegenPerSecond = defaultRegenPerSecond
		}
		if config.MaxClicksPerBatch == 0 {
			config.MaxClicksPerBatch = defaultMaxClicksPerBatch
		}
		if len(config.Upgrades) == 0 {
			config.Upgrades = defaultReactorUpgrades()
		}
	}
	return &NakamaReactorSystem{
		config: config,
	}
}

// GetType returns the system type for the reactor system.
func (r *NakamaReactorSystem) GetType() SystemType {
	return SystemTypeReactor
}

// GetConfig returns the configuration for the reactor system.
func (r *NakamaReactorSystem) GetConfig() any {
	return r.config
}

func (r *NakamaReactorSystem) SetGachaverse(gv Gachaverse) {
	r.gachaverse = gv
}

// tierFor returns the tier row for a level, clamped to the table bounds.
func (r *NakamaReactorSystem) tierFor(level int) *ReactorUpgrade {
	upgrades := r.config.Upgrades
	if level < 1 {
		level = 1
	}
	if level > len(upgrades) {
		level = len(upgrades)
	}
	return upgrades[level-1]
}

func (r *NakamaReactorSystem) maxLevel() int {
	return len(r.config.Upgrades)
}

func (r *NakamaReactorSystem) regenRate(level int) float64 {
	return r.config.RegenPerSecond + r.tierFor(level).RegenBonus
}

// applyRegen advances the pool to now in place and reports the whole units
// of energy gained.
func (r *NakamaReactorSystem) applyRegen(state *ReactorState, now time.Time) float64 {
	elapsed := now.Unix() - state.LastRegenAt
	if elapsed <= 0 {
		return 0
	}
	if state.Energy >= state.MaxEnergy {
		state.LastRegenAt = now.Unix()
		return 0
	}
	gained := float64(elapsed) * r.regenRate(state.Level)
	if state.Energy+gained > state.MaxEnergy {
		gained = state.MaxEnergy - state.Energy
	}
	state.Energy += gained
	state.LastRegenAt = now.Unix()
	return gained
}

// Get returns the pool state with regeneration applied up to now.
func (r *NakamaReactorSystem) Get(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*ReactorState, error) {
	state, version, err := r.readState(ctx, nk, address)
	if err != nil {
		logger.Error("Failed to read reactor state for %s: %v", address, err)
		return nil, ErrInternal
	}
	if state == nil {
		if state, err = r.createState(ctx, nk, address); err != nil {
			logger.Error("Failed to create reactor state for %s: %v", address, err)
			return nil, ErrInternal
		}
		return state, nil
	}

	gained := r.applyRegen(state, time.Now())
	if gained >= 1 {
		// Best effort: a conflicting write means another request already
		// advanced the pool, the caller still sees the recomputed value.
		if err := r.writeState(ctx, nk, address, state, version); err != nil {
			logger.Debug("Skipping regen persist for %s after conflicting write: %v", address, err)
		}
	}
	return state, nil
}

// Harvest consumes energy for a click batch and credits the coin payout.
func (r *NakamaReactorSystem) Harvest(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, clicks int) (*HarvestResult, error) {
	if clicks < 1 || clicks > r.config.MaxClicksPerBatch {
		return nil, ErrBadInput
	}
	ledger := r.gachaverse.GetLedgerSystem()
	if ledger == nil {
		return nil, ErrSystemNotAvailable
	}

	var state *ReactorState
	var actual int
	var coins float64
	written := false
	for attempt := 0; attempt < reactorWriteAttempts; attempt++ {
		var version string
		var err error
		state, version, err = r.readState(ctx, nk, address)
		if err != nil {
			logger.Error("Failed to read reactor state for %s: %v", address, err)
			return nil, ErrInternal
		}
		if state == nil {
			if state, err = r.createState(ctx, nk, address); err != nil {
				logger.Error("Failed to create reactor state for %s: %v", address, err)
				return nil, ErrInternal
			}
			if state, version, err = r.readState(ctx, nk, address); err != nil || state == nil {
				return nil, ErrInternal
			}
		}

		now := time.Now()
		r.applyRegen(state, now)
		if state.CooldownRemaining(now) > 0 {
			return nil, ErrCooldownActive
		}

		affordable := int(state.Energy / r.config.EnergyPerClick)
		actual = clicks
		if actual > affordable {
			actual = affordable
		}
		if actual == 0 {
			return nil, ErrInsufficientEnergy
		}

		coins = float64(actual) / r.tierFor(state.Level).ClicksPerCoin
		state.Energy -= float64(actual) * r.config.EnergyPerClick
		state.TotalHarvested += coins

		if err := r.writeState(ctx, nk, address, state, version); err != nil {
			logger.Warn("Conditional reactor write for %s failed, retrying: %v", address, err)
			continue
		}
		written = true
		break
	}
	if !written {
		logger.Error("Reactor harvest for %s exhausted retries", address)
		return nil, ErrInternal
	}

	newBalance, err := ledger.Credit(ctx, logger, nk, address, coins, "harvest")
	if err != nil {
		// Energy is already spent and the counter already moved. Put both
		// back before failing.
		r.refundHarvest(ctx, logger, nk, address, float64(actual)*r.config.EnergyPerClick, coins)
		return nil, ErrInternal
	}

	return &HarvestResult{
		ClicksProcessed: actual,
		CoinsEarned:     coins,
		NewBalance:      newBalance,
		Energy:          state.Energy,
		MaxEnergy:       state.MaxEnergy,
		TotalHarvested:  state.TotalHarvested,
	}, nil
}

// Upgrade advances the reactor to the next tier.
func (r *NakamaReactorSystem) Upgrade(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*UpgradeResult, error) {
	ledger := r.gachaverse.GetLedgerSystem()
	if ledger == nil {
		return nil, ErrSystemNotAvailable
	}

	state, _, err := r.readState(ctx, nk, address)
	if err != nil {
		logger.Error("Failed to read reactor state for %s: %v", address, err)
		return nil, ErrInternal
	}
	if state == nil {
		if state, err = r.createState(ctx, nk, address); err != nil {
			logger.Error("Failed to create reactor state for %s: %v", address, err)
			return nil, ErrInternal
		}
	}
	if state.Level >= r.maxLevel() {
		return nil, ErrMaxLevel
	}
	next := r.tierFor(state.Level + 1)

	newBalance, err := ledger.Debit(ctx, logger, nk, address, next.Cost, "reactor_upgrade")
	if err != nil {
		return nil, err
	}

	var result *UpgradeResult
	written := false
	for attempt := 0; attempt < reactorWriteAttempts; attempt++ {
		state, version, err := r.readState(ctx, nk, address)
		if err != nil || state == nil {
			break
		}
		if state.Level >= r.maxLevel() {
			break
		}
		next = r.tierFor(state.Level + 1)

		// Accrue regeneration at the pre-upgrade rate before the new tier
		// takes effect.
		r.applyRegen(state, time.Now())
		state.Level++
		state.MaxEnergy = next.MaxEnergy
		if state.Energy > state.MaxEnergy {
			state.Energy = state.MaxEnergy
		}

		if err := r.writeState(ctx, nk, address, state, version); err != nil {
			logger.Warn("Conditional reactor write for %s failed, retrying: %v", address, err)
			continue
		}
		result = &UpgradeResult{
			NewLevel:         state.Level,
			NewMaxEnergy:     state.MaxEnergy,
			NewClicksPerCoin: next.ClicksPerCoin,
			NewRegenRate:     r.regenRate(state.Level),
			Energy:           state.Energy,
			NewBalance:       newBalance,
			Cost:             next.Cost,
		}
		written = true
		break
	}
	if !written {
		logger.Error("Reactor upgrade persist for %s failed, refunding cost", address)
		ledger.Refund(ctx, logger, nk, address, next.Cost, "reactor_upgrade_failed")
		return nil, ErrInternal
	}
	return result, nil
}

// GrantEnergy adds energy up to the pool cap and optionally starts a cooldown.
func (r *NakamaReactorSystem) GrantEnergy(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, cooldown time.Duration) (float64, error) {
	if amount < 0 {
		return 0, ErrBadInput
	}
	var energy float64
	err := r.updateState(ctx, logger, nk, address, func(state *ReactorState, now time.Time) {
		r.applyRegen(state, now)
		state.Energy += amount
		if state.Energy > state.MaxEnergy {
			state.Energy = state.MaxEnergy
		}
		if cooldown > 0 {
			state.CooldownUntil = now.Add(cooldown).Unix()
		}
		energy = state.Energy
	})
	return energy, err
}

// StartCooldown sets the pool cooldown without touching energy.
func (r *NakamaReactorSystem) StartCooldown(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, cooldown time.Duration) error {
	return r.updateState(ctx, logger, nk, address, func(state *ReactorState, now time.Time) {
		state.CooldownUntil = now.Add(cooldown).Unix()
	})
}

// refundHarvest restores the energy consumed by a harvest whose coin credit
// failed and backs the phantom payout out of the harvested counter.
func (r *NakamaReactorSystem) refundHarvest(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, energy, coins float64) {
	err := r.updateState(ctx, logger, nk, address, func(state *ReactorState, now time.Time) {
		state.Energy += energy
		if state.Energy > state.MaxEnergy {
			state.Energy = state.MaxEnergy
		}
		state.TotalHarvested -= coins
		if state.TotalHarvested < 0 {
			state.TotalHarvested = 0
		}
	})
	if err != nil {
		logger.Error("UNRESOLVED INCONSISTENCY: harvest refund of %.2f energy to %s failed: %v", energy, address, err)
	}
}

// updateState applies fn to a freshly read state under a conditional write,
// retrying on conflicts.
func (r *NakamaReactorSystem) updateState(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, fn func(state *ReactorState, now time.Time)) error {
	for attempt := 0; attempt < reactorWriteAttempts; attempt++ {
		state, version, err := r.readState(ctx, nk, address)
		if err != nil {
			logger.Error("Failed to read reactor state for %s: %v", address, err)
			return ErrInternal
		}
		if state == nil {
			if state, err = r.createState(ctx, nk, address); err != nil {
				logger.Error("Failed to create reactor state for %s: %v", address, err)
				return ErrInternal
			}
			if state, version, err = r.readState(ctx, nk, address); err != nil || state == nil {
				return ErrInternal
			}
		}

		fn(state, time.Now())

		if err := r.writeState(ctx, nk, address, state, version); err != nil {
			logger.Warn("Conditional reactor write for %s failed, retrying: %v", address, err)
			continue
		}
		return nil
	}
	logger.Error("Reactor update for %s exhausted retries", address)
	return ErrInternal
}

func (r *NakamaReactorSystem) readState(ctx context.Context, nk runtime.NakamaModule, address string) (*ReactorState, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: reactorCollectionKey,
			Key:        fmt.Sprintf(reactorStateKeyFmt, address),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	state := &ReactorState{}
	if err := json.Unmarshal([]byte(objects[0].Value), state); err != nil {
		return nil, "", err
	}
	return state, objects[0].Version, nil
}

func (r *NakamaReactorSystem) createState(ctx context.Context, nk runtime.NakamaModule, address string) (*ReactorState, error) {
	base := r.tierFor(1)
	state := &ReactorState{
		Address:     address,
		Energy:      base.MaxEnergy,
		MaxEnergy:   base.MaxEnergy,
		Level:       1,
		LastRegenAt: time.Now().Unix(),
	}
	if err := r.writeState(ctx, nk, address, state, "*"); err != nil {
		existing, _, readErr := r.readState(ctx, nk, address)
		if readErr != nil || existing == nil {
			return nil, err
		}
		return existing, nil
	}
	return state, nil
}

func (r *NakamaReactorSystem) writeState(ctx context.Context, nk runtime.NakamaModule, address string, state *ReactorState, version string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	_, err = nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection: reactorCollectionKey,
			Key:        fmt.Sprintf(reactorStateKeyFmt, address),
			UserID:     "",
			Value:      string(data),
			Version:    version,
		},
	})
	return err
}
