package gachaverse

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticMinter is a scriptable Minter for tests.
type staticMinter struct {
	configured bool
	txID       string
	err        error
	calls      int
}

func (m *staticMinter) Configured() bool {
	return m.configured
}

func (m *staticMinter) Mint(ctx context.Context, account string, amount int64, memo string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.txID, nil
}

func TestClaimItemMintsOnce(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()
	collection := gv.GetCollectionSystem()
	logger := newZapTestLogger(t)

	item := mintTestItem(t, gv, nk, testAddress, "SSR")

	record, err := claims.ClaimItem(context.Background(), logger, nk, testAddress, item.ID)
	require.NoError(t, err)
	assert.Equal(t, MintStatusMinted, record.Status)
	assert.NotEmpty(t, record.TxID)
	assert.Equal(t, "SSR", record.Rarity)

	flagged, err := collection.GetItem(context.Background(), logger, nk, item.ID)
	require.NoError(t, err)
	assert.True(t, flagged.Claimed)

	_, err = claims.ClaimItem(context.Background(), logger, nk, testAddress, item.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	records, err := claims.ListClaims(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestClaimItemRequiresOwnership(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()

	item := mintTestItem(t, gv, nk, testAddress, "Common")

	_, err := claims.ClaimItem(context.Background(), &mockLogger{}, nk, testOtherAddress, item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestClaimItemBlockedWhileListed(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()
	collection := gv.GetCollectionSystem()
	logger := &mockLogger{}

	item := mintTestItem(t, gv, nk, testAddress, "Common")
	require.NoError(t, collection.SetLocked(context.Background(), logger, nk, item.ID, true))

	_, err := claims.ClaimItem(context.Background(), logger, nk, testAddress, item.ID)
	assert.ErrorIs(t, err, ErrItemEncumbered)
}

func TestClaimItemKeepsRecordOnMintFailure(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.systems[SystemTypeClaims].(*NakamaClaimSystem)
	logger := &mockLogger{}

	item := mintTestItem(t, gv, nk, testAddress, "Common")

	claims.SetClaimMinter(&staticMinter{configured: true, err: errors.New("chain down")})
	record, err := claims.ClaimItem(context.Background(), logger, nk, testAddress, item.ID)
	require.NoError(t, err)
	assert.Equal(t, MintStatusFailed, record.Status)

	// A later claim against the same record retries the mint instead of
	// failing as a duplicate.
	claims.SetClaimMinter(&staticMinter{configured: true, txID: "0xfeed"})
	record, err = claims.ClaimItem(context.Background(), logger, nk, testAddress, item.ID)
	require.NoError(t, err)
	assert.Equal(t, MintStatusMinted, record.Status)
	assert.Equal(t, "0xfeed", record.TxID)
}

// blindReadNakama hides one storage key from reads, modelling a caller whose
// read of that key happened before a concurrent writer landed it.
type blindReadNakama struct {
	*testNakamaModule
	hideCollection string
	hideKey        string
}

func (n *blindReadNakama) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	visible := make([]*runtime.StorageRead, 0, len(reads))
	for _, read := range reads {
		if read.Collection == n.hideCollection && read.Key == n.hideKey {
			continue
		}
		visible = append(visible, read)
	}
	return n.testNakamaModule.StorageRead(ctx, visible)
}

func TestClaimItemLosingRacerGetsAlreadyClaimed(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()
	logger := &mockLogger{}

	item := mintTestItem(t, gv, nk, testAddress, "SSR")

	record, err := claims.ClaimItem(context.Background(), logger, nk, testAddress, item.ID)
	require.NoError(t, err)
	require.Equal(t, MintStatusMinted, record.Status)

	// A second caller that read the claim slot before the first caller's
	// record landed must still lose on the create-only write.
	blind := &blindReadNakama{
		testNakamaModule: nk,
		hideCollection:   claimsCollectionKey,
		hideKey:          fmt.Sprintf(claimItemKeyFmt, item.ID),
	}
	_, err = claims.ClaimItem(context.Background(), logger, blind, testAddress, item.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestExchangeValidatesAmount(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()
	logger := &mockLogger{}

	_, err := claims.Exchange(context.Background(), logger, nk, testAddress, 50)
	assert.ErrorIs(t, err, ErrExchangeTooSmall)

	_, err = claims.Exchange(context.Background(), logger, nk, testAddress, 150)
	assert.ErrorIs(t, err, ErrExchangeNotRate)

	_, err = claims.Exchange(context.Background(), logger, nk, testAddress, 200.5)
	assert.ErrorIs(t, err, ErrExchangeNotRate)
}

func TestExchangeInsufficientFunds(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()

	_, err := claims.Exchange(context.Background(), &mockLogger{}, nk, testAddress, 600)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestExchangeWithoutContractKeepsDebit(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()
	ledger := gv.GetLedgerSystem()
	logger := &mockLogger{}

	result, err := claims.Exchange(context.Background(), logger, nk, testAddress, 200)
	require.NoError(t, err)
	assert.Equal(t, MintStatusNoContract, result.Record.Status)
	assert.Equal(t, int64(2), result.Record.Tokens)
	assert.Equal(t, float64(300), result.NewBalance)

	// The debit is final even though nothing was minted.
	balance, err := ledger.Balance(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(300), balance)
}

func TestExchangeMintsThroughConfiguredTarget(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.systems[SystemTypeClaims].(*NakamaClaimSystem)
	logger := &mockLogger{}

	minter := &staticMinter{configured: true, txID: "0xabc"}
	claims.SetExchangeMinter(minter)

	result, err := claims.Exchange(context.Background(), logger, nk, testAddress, 200)
	require.NoError(t, err)
	assert.Equal(t, MintStatusMinted, result.Record.Status)
	assert.Equal(t, "0xabc", result.Record.TxID)
	assert.Equal(t, 1, minter.calls)
}

func TestExchangeRefundsWhenRecordWriteFails(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()
	ledger := gv.GetLedgerSystem()
	logger := &mockLogger{}

	_, _, err := ledger.Register(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)

	nk.failNextWrites(exchangesCollectionKey, 1)
	_, err = claims.Exchange(context.Background(), logger, nk, testAddress, 200)
	assert.ErrorIs(t, err, ErrInternal)

	balance, err := ledger.Balance(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(500), balance)
}

func TestRetrySweepSettlesStrandedExchanges(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.systems[SystemTypeClaims].(*NakamaClaimSystem)
	logger := &mockLogger{}

	result, err := claims.Exchange(context.Background(), logger, nk, testAddress, 200)
	require.NoError(t, err)
	require.Equal(t, MintStatusNoContract, result.Record.Status)

	claims.SetExchangeMinter(&staticMinter{configured: true, txID: "0xretry"})
	sweep, err := claims.RetrySweep(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Retried)
	assert.Equal(t, 1, sweep.Minted)
	assert.Equal(t, 0, sweep.Failed)
	assert.Equal(t, int64(2), sweep.TotalMinted)

	records, err := claims.ListExchanges(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, MintStatusMinted, records[0].Status)
	assert.Equal(t, "0xretry", records[0].TxID)
}

func TestRetrySweepUnavailableWithoutContract(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.GetClaimSystem()
	logger := &mockLogger{}

	_, err := claims.Exchange(context.Background(), logger, nk, testAddress, 100)
	require.NoError(t, err)

	_, err = claims.RetrySweep(context.Background(), logger, nk, testAddress)
	assert.ErrorIs(t, err, ErrMintUnavailable)
}

func TestRetrySweepSettlesFailedClaims(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	claims := gv.systems[SystemTypeClaims].(*NakamaClaimSystem)
	logger := &mockLogger{}

	item := mintTestItem(t, gv, nk, testAddress, "UR")

	claims.SetClaimMinter(&staticMinter{configured: true, err: errors.New("chain down")})
	record, err := claims.ClaimItem(context.Background(), logger, nk, testAddress, item.ID)
	require.NoError(t, err)
	require.Equal(t, MintStatusFailed, record.Status)

	claims.SetClaimMinter(&staticMinter{configured: true, txID: "0xclaim"})
	sweep, err := claims.RetrySweep(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Retried)
	assert.Equal(t, 1, sweep.Minted)

	records, err := claims.ListClaims(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, MintStatusMinted, records[0].Status)
}
