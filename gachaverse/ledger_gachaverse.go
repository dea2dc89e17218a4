package gachaverse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	ledgerCollectionKey  = "wallet_ledger"
	ledgerBalanceKeyFmt  = "balance_%s"
	defaultStartingGrant = 500

	// Storage writes race against concurrent requests for the same account.
	// Conditional writes are retried on a freshly re-read value a small
	// number of times before giving up.
	ledgerWriteAttempts = 3
)

// walletBalance is the stored ledger state for one account.
type walletBalance struct {
	Address   string  `json:"address"`
	Balance   float64 `json:"balance"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// NakamaLedgerSystem implements the LedgerSystem interface using Nakama as the backend.
type NakamaLedgerSystem struct {
	config *LedgerConfig
}

// NewNakamaLedgerSystem creates a new instance of the ledger system with the given configuration.
func NewNakamaLedgerSystem(config *LedgerConfig) *NakamaLedgerSystem {
	if config != nil && config.StartingGrant == 0 {
		config.StartingGrant = defaultStartingGrant
	}
	return &NakamaLedgerSystem{
		config: config,
	}
}

// GetType returns the system type for the ledger system.
func (l *NakamaLedgerSystem) GetType() SystemType {
	return SystemTypeLedger
}

// GetConfig returns the configuration for the ledger system.
func (l *NakamaLedgerSystem) GetConfig() any {
	return l.config
}

func (l *NakamaLedgerSystem) startingGrant() float64 {
	if l.config == nil {
		return defaultStartingGrant
	}
	return l.config.StartingGrant
}

// Register ensures an account exists, creating it with the starting grant when absent.
func (l *NakamaLedgerSystem) Register(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (float64, bool, error) {
	wallet, _, err := l.readWallet(ctx, nk, address)
	if err != nil {
		logger.Error("Failed to read wallet for %s: %v", address, err)
		return 0, false, ErrInternal
	}
	if wallet != nil {
		return wallet.Balance, false, nil
	}

	created, err := l.createWallet(ctx, nk, address)
	if err != nil {
		logger.Error("Failed to create wallet for %s: %v", address, err)
		return 0, false, ErrInternal
	}
	return created.Balance, true, nil
}

// Balance returns the current balance, lazily creating the account when absent.
func (l *NakamaLedgerSystem) Balance(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (float64, error) {
	balance, _, err := l.Register(ctx, logger, nk, address)
	return balance, err
}

// Credit adds amount to the account balance.
func (l *NakamaLedgerSystem) Credit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, reason string) (float64, error) {
	if amount < 0 {
		return 0, ErrBadInput
	}
	return l.adjust(ctx, logger, nk, address, amount, reason)
}

// Debit removes amount from the account balance.
func (l *NakamaLedgerSystem) Debit(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, reason string) (float64, error) {
	if amount < 0 {
		return 0, ErrBadInput
	}
	return l.adjust(ctx, logger, nk, address, -amount, reason)
}

// Refund is a compensating credit for a failed dependent operation.
func (l *NakamaLedgerSystem) Refund(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64, reason string) {
	if _, err := l.Credit(ctx, logger, nk, address, amount, reason); err != nil {
		// Manual reconciliation is required from here: the debit went
		// through but the compensating credit did not.
		logger.Error("UNRESOLVED INCONSISTENCY: refund of %.2f to %s (%s) failed: %v", amount, address, reason, err)
	}
}

// adjust applies a signed delta to the balance with a conditional write on a
// freshly read value. Insufficient funds is checked against the re-read
// balance on every attempt.
func (l *NakamaLedgerSystem) adjust(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, delta float64, reason string) (float64, error) {
	for attempt := 0; attempt < ledgerWriteAttempts; attempt++ {
		wallet, version, err := l.readWallet(ctx, nk, address)
		if err != nil {
			logger.Error("Failed to read wallet for %s: %v", address, err)
			return 0, ErrInternal
		}
		if wallet == nil {
			if wallet, err = l.createWallet(ctx, nk, address); err != nil {
				logger.Error("Failed to create wallet for %s: %v", address, err)
				return 0, ErrInternal
			}
			// Re-read so the conditional write below has a version to match.
			if wallet, version, err = l.readWallet(ctx, nk, address); err != nil || wallet == nil {
				return 0, ErrInternal
			}
		}

		newBalance := wallet.Balance + delta
		if newBalance < 0 {
			return 0, ErrInsufficientFunds
		}

		wallet.Balance = newBalance
		wallet.UpdatedAt = time.Now().Unix()

		if err := l.writeWallet(ctx, nk, address, wallet, version); err != nil {
			logger.Warn("Conditional wallet write for %s (%s) failed, retrying: %v", address, reason, err)
			continue
		}
		return newBalance, nil
	}

	logger.Error("Wallet update for %s (%s) exhausted retries", address, reason)
	return 0, ErrInternal
}

func (l *NakamaLedgerSystem) readWallet(ctx context.Context, nk runtime.NakamaModule, address string) (*walletBalance, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: ledgerCollectionKey,
			Key:        fmt.Sprintf(ledgerBalanceKeyFmt, address),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	wallet := &walletBalance{}
	if err := json.Unmarshal([]byte(objects[0].Value), wallet); err != nil {
		return nil, "", err
	}
	return wallet, objects[0].Version, nil
}

func (l *NakamaLedgerSystem) createWallet(ctx context.Context, nk runtime.NakamaModule, address string) (*walletBalance, error) {
	now := time.Now().Unix()
	wallet := &walletBalance{
		Address:   address,
		Balance:   l.startingGrant(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Create-only write: a concurrent first touch for the same account must
	// not grant the starting balance twice.
	if err := l.writeWallet(ctx, nk, address, wallet, "*"); err != nil {
		// Lost the race; the other writer created it.
		existing, _, readErr := l.readWallet(ctx, nk, address)
		if readErr != nil || existing == nil {
			return nil, err
		}
		return existing, nil
	}
	return wallet, nil
}

func (l *NakamaLedgerSystem) writeWallet(ctx context.Context, nk runtime.NakamaModule, address string, wallet *walletBalance, version string) error {
	data, err := json.Marshal(wallet)
	if err != nil {
		return err
	}

	_, err = nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection: ledgerCollectionKey,
			Key:        fmt.Sprintf(ledgerBalanceKeyFmt, address),
			UserID:     "",
			Value:      string(data),
			Version:    version,
		},
	})
	return err
}
