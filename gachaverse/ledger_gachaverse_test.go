package gachaverse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRegisterGrantsStartingBalance(t *testing.T) {
	nk := newTestNakama()
	logger := &mockLogger{}
	ledger := NewNakamaLedgerSystem(&LedgerConfig{})

	balance, isNew, err := ledger.Register(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, float64(500), balance)

	// Registering again must not grant twice.
	balance, isNew, err = ledger.Register(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, float64(500), balance)
}

func TestLedgerBalanceLazilyCreates(t *testing.T) {
	nk := newTestNakama()
	ledger := NewNakamaLedgerSystem(&LedgerConfig{StartingGrant: 42})

	balance, err := ledger.Balance(context.Background(), &mockLogger{}, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(42), balance)
}

func TestLedgerCreditAndDebit(t *testing.T) {
	nk := newTestNakama()
	logger := &mockLogger{}
	ledger := NewNakamaLedgerSystem(&LedgerConfig{})

	balance, err := ledger.Credit(context.Background(), logger, nk, testAddress, 25, "test")
	require.NoError(t, err)
	assert.Equal(t, float64(525), balance)

	balance, err = ledger.Debit(context.Background(), logger, nk, testAddress, 125, "test")
	require.NoError(t, err)
	assert.Equal(t, float64(400), balance)
}

func TestLedgerDebitInsufficientFunds(t *testing.T) {
	nk := newTestNakama()
	logger := &mockLogger{}
	ledger := NewNakamaLedgerSystem(&LedgerConfig{})

	_, err := ledger.Debit(context.Background(), logger, nk, testAddress, 501, "test")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// The failed debit must not have touched the balance.
	balance, err := ledger.Balance(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(500), balance)
}

func TestLedgerRejectsNegativeAmounts(t *testing.T) {
	nk := newTestNakama()
	logger := &mockLogger{}
	ledger := NewNakamaLedgerSystem(&LedgerConfig{})

	_, err := ledger.Credit(context.Background(), logger, nk, testAddress, -1, "test")
	assert.ErrorIs(t, err, ErrBadInput)

	_, err = ledger.Debit(context.Background(), logger, nk, testAddress, -1, "test")
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestLedgerRefundRestoresBalance(t *testing.T) {
	nk := newTestNakama()
	logger := &mockLogger{}
	ledger := NewNakamaLedgerSystem(&LedgerConfig{})

	_, err := ledger.Debit(context.Background(), logger, nk, testAddress, 100, "test")
	require.NoError(t, err)

	ledger.Refund(context.Background(), logger, nk, testAddress, 100, "test_failed")

	balance, err := ledger.Balance(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(500), balance)
}

func TestLedgerDebitExhaustsRetriesOnWriteFailure(t *testing.T) {
	nk := newTestNakama()
	logger := &mockLogger{}
	ledger := NewNakamaLedgerSystem(&LedgerConfig{})

	// Create the wallet first so only the adjustment writes fail.
	_, _, err := ledger.Register(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)

	nk.failNextWrites(ledgerCollectionKey, ledgerWriteAttempts)
	_, err = ledger.Debit(context.Background(), logger, nk, testAddress, 10, "test")
	assert.ErrorIs(t, err, ErrInternal)

	balance, err := ledger.Balance(context.Background(), logger, nk, testAddress)
	require.NoError(t, err)
	assert.Equal(t, float64(500), balance)
}
