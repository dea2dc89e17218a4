package gachaverse

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReactorState(t *testing.T, nk *testNakamaModule, state *ReactorState) {
	t.Helper()
	data, err := json.Marshal(state)
	require.NoError(t, err)
	nk.setObject(reactorCollectionKey, fmt.Sprintf(reactorStateKeyFmt, state.Address), string(data))
}

func TestReactorGetCreatesFullPool(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()

	state, err := reactor.Get(context.Background(), &mockLogger{}, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Level)
	assert.Equal(t, float64(100), state.Energy)
	assert.Equal(t, float64(100), state.MaxEnergy)
}

func TestReactorLazyRegen(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()

	seedReactorState(t, nk, &ReactorState{
		Address:     testAddress,
		Energy:      50,
		MaxEnergy:   100,
		Level:       1,
		LastRegenAt: time.Now().Unix() - 20,
	})

	state, err := reactor.Get(context.Background(), &mockLogger{}, nk, testAddress)
	require.NoError(t, err)
	// 20 seconds at 0.5 energy per second.
	assert.InDelta(t, 60, state.Energy, 1)

	// A whole unit was gained, so the regenerated value was persisted.
	raw, ok := nk.getObject(reactorCollectionKey, fmt.Sprintf(reactorStateKeyFmt, testAddress))
	require.True(t, ok)
	stored := &ReactorState{}
	require.NoError(t, json.Unmarshal([]byte(raw), stored))
	assert.InDelta(t, state.Energy, stored.Energy, 0.01)
}

func TestReactorRegenCapsAtMax(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()

	seedReactorState(t, nk, &ReactorState{
		Address:     testAddress,
		Energy:      99,
		MaxEnergy:   100,
		Level:       1,
		LastRegenAt: time.Now().Unix() - 3600,
	})

	state, err := reactor.Get(context.Background(), &mockLogger{}, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(100), state.Energy)
}

func TestReactorHarvestTruncatesToEnergy(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()
	logger := &mockLogger{}

	seedReactorState(t, nk, &ReactorState{
		Address:     testAddress,
		Energy:      5,
		MaxEnergy:   100,
		Level:       1,
		LastRegenAt: time.Now().Unix(),
	})

	result, err := reactor.Harvest(context.Background(), logger, nk, testAddress, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, result.ClicksProcessed)
	// 5 clicks at 50 clicks per coin.
	assert.InDelta(t, 0.1, result.CoinsEarned, 0.001)
	assert.InDelta(t, 500.1, result.NewBalance, 0.01)
	assert.GreaterOrEqual(t, result.Energy, float64(0))
	assert.Less(t, result.Energy, float64(2))
}

func TestReactorHarvestInsufficientEnergy(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()

	seedReactorState(t, nk, &ReactorState{
		Address:     testAddress,
		Energy:      0,
		MaxEnergy:   100,
		Level:       1,
		LastRegenAt: time.Now().Unix(),
	})

	_, err := reactor.Harvest(context.Background(), &mockLogger{}, nk, testAddress, 10)
	assert.ErrorIs(t, err, ErrInsufficientEnergy)
}

func TestReactorHarvestRejectsSuspiciousBatch(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()

	_, err := reactor.Harvest(context.Background(), &mockLogger{}, nk, testAddress, 0)
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = reactor.Harvest(context.Background(), &mockLogger{}, nk, testAddress, 151)
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestReactorHarvestBlockedByCooldown(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()

	seedReactorState(t, nk, &ReactorState{
		Address:       testAddress,
		Energy:        50,
		MaxEnergy:     100,
		Level:         1,
		LastRegenAt:   time.Now().Unix(),
		CooldownUntil: time.Now().Unix() + 10,
	})

	_, err := reactor.Harvest(context.Background(), &mockLogger{}, nk, testAddress, 10)
	assert.ErrorIs(t, err, ErrCooldownActive)
}

func TestReactorUpgrade(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()
	logger := &mockLogger{}

	result, err := reactor.Upgrade(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewLevel)
	assert.Equal(t, float64(125), result.NewMaxEnergy)
	assert.Equal(t, float64(50), result.Cost)
	assert.Equal(t, float64(450), result.NewBalance)
	assert.InDelta(t, 0.55, result.NewRegenRate, 0.001)
}

func TestReactorUpgradeInsufficientFunds(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()
	ledger := gv.GetLedgerSystem()
	logger := &mockLogger{}

	_, err := ledger.Debit(context.Background(), logger, nk, testAddress, 470, "setup")
	require.NoError(t, err)

	_, err = reactor.Upgrade(context.Background(), logger, nk, testAddress)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestReactorUpgradeMaxLevel(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()

	seedReactorState(t, nk, &ReactorState{
		Address:     testAddress,
		Energy:      500,
		MaxEnergy:   500,
		Level:       10,
		LastRegenAt: time.Now().Unix(),
	})

	_, err := reactor.Upgrade(context.Background(), &mockLogger{}, nk, testAddress)
	assert.ErrorIs(t, err, ErrMaxLevel)
}

func TestReactorUpgradeRefundsOnPersistFailure(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()
	ledger := gv.GetLedgerSystem()
	logger := &mockLogger{}

	// Materialize the pool and wallet before injecting failures.
	_, err := reactor.Get(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	balance, err := ledger.Balance(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	require.Equal(t, float64(500), balance)

	nk.failNextWrites(reactorCollectionKey, reactorWriteAttempts)
	_, err = reactor.Upgrade(context.Background(), logger, nk, testAddress)
	assert.ErrorIs(t, err, ErrInternal)

	// The tier cost was debited and then refunded.
	balance, err = ledger.Balance(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(500), balance)

	state, err := reactor.Get(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Level)
}

func TestReactorHarvestRestoresStateOnCreditFailure(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()
	logger := &mockLogger{}

	seedReactorState(t, nk, &ReactorState{
		Address:     testAddress,
		Energy:      100,
		MaxEnergy:   100,
		Level:       1,
		LastRegenAt: time.Now().Unix(),
	})

	nk.failNextWrites(ledgerCollectionKey, ledgerWriteAttempts)
	_, err := reactor.Harvest(context.Background(), logger, nk, testAddress, 50)
	assert.ErrorIs(t, err, ErrInternal)

	// The spent energy came back and no phantom payout stuck to the
	// lifetime counter.
	state, err := reactor.Get(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.InDelta(t, 100, state.Energy, 1)
	assert.Equal(t, float64(0), state.TotalHarvested)
}

func TestReactorGrantEnergyCapsAtMax(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	reactor := gv.GetReactorSystem()
	logger := &mockLogger{}

	seedReactorState(t, nk, &ReactorState{
		Address:     testAddress,
		Energy:      95,
		MaxEnergy:   100,
		Level:       1,
		LastRegenAt: time.Now().Unix(),
	})

	energy, err := reactor.GrantEnergy(context.Background(), logger, nk, testAddress, 15, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(100), energy)

	state, err := reactor.Get(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Greater(t, state.CooldownRemaining(time.Now()), time.Duration(0))
}
