package gachaverse

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	claimsCollectionKey    = "claims"
	claimItemKeyFmt        = "item_%s"
	claimAccountKeyFmt     = "claims_%s"
	exchangesCollectionKey = "exchanges"
	exchangeKeyFmt         = "exchange_%s"
	exchangeAccountKeyFmt  = "exchanges_%s"

	defaultExchangeRate    = 100
	defaultMinExchange     = 100
	defaultClaimsListLimit = 50

	claimsWriteAttempts = 3
)

// mintIndex is the stored set of record keys for one account, shared by the
// claim and exchange indexes.
type mintIndex struct {
	Address string          `json:"address"`
	Keys    map[string]bool `json:"keys"`
}

// NakamaClaimSystem implements the ClaimSystem interface using Nakama as the backend.
type NakamaClaimSystem struct {
	config     *ClaimsConfig
	gachaverse Gachaverse

	// Claims settle through a synthetic minter until real NFT minting
	// lands. Exchanges go through the env-configured GVCoin minter.
	claimMinter    Minter
	exchangeMinter Minter
}

// NewNakamaClaimSystem creates a new instance of the claim system with the given configuration.
func NewNakamaClaimSystem(config *ClaimsConfig) *NakamaClaimSystem {
	if config != nil {
		if config.ExchangeRate == 0 {
			config.ExchangeRate = defaultExchangeRate
		}
		if config.MinExchange == 0 {
			config.MinExchange = defaultMinExchange
		}
		if config.ListLimit == 0 {
			config.ListLimit = defaultClaimsListLimit
		}
	}
	return &NakamaClaimSystem{
		config:      config,
		claimMinter: simulatedMinter{},
	}
}

// GetType returns the system type for the claim system.
func (c *NakamaClaimSystem) GetType() SystemType {
	return SystemTypeClaims
}

// GetConfig returns the configuration for the claim system.
func (c *NakamaClaimSystem) GetConfig() any {
	return c.config
}

func (c *NakamaClaimSystem) SetGachaverse(gv Gachaverse) {
	c.gachaverse = gv
}

// SetExchangeMinter installs the mint target for exchanges.
func (c *NakamaClaimSystem) SetExchangeMinter(minter Minter) {
	c.exchangeMinter = minter
}

// SetClaimMinter overrides the claim mint target.
func (c *NakamaClaimSystem) SetClaimMinter(minter Minter) {
	c.claimMinter = minter
}

// ClaimItem records an at-most-once claim for an owned item and attempts
// the mint.
func (c *NakamaClaimSystem) ClaimItem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address, itemID string) (*ClaimRecord, error) {
	collection := c.gachaverse.GetCollectionSystem()
	if collection == nil {
		return nil, ErrSystemNotAvailable
	}

	item, err := collection.GetItem(ctx, logger, nk, itemID)
	if err != nil {
		return nil, err
	}
	if item.Owner != address {
		return nil, ErrItemNotFound
	}
	if item.Locked {
		return nil, ErrItemEncumbered
	}

	existing, _, err := c.readClaim(ctx, nk, itemID)
	if err != nil {
		logger.Error("Failed to read claim for item %s: %v", itemID, err)
		return nil, ErrInternal
	}
	if existing != nil {
		if existing.Status == MintStatusPending || existing.Status == MintStatusMinted {
			return nil, ErrAlreadyClaimed
		}
		// The earlier mint failed, retry against the same record.
		return c.settleClaim(ctx, logger, nk, existing), nil
	}

	now := time.Now().Unix()
	record := &ClaimRecord{
		ItemID:    itemID,
		Address:   address,
		Name:      item.Name,
		Rarity:    item.Rarity,
		Status:    MintStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// The create-only write decides between concurrent claims for the same
	// item, exactly one caller gets the record.
	if err := c.writeClaim(ctx, nk, record, "*"); err != nil {
		return nil, ErrAlreadyClaimed
	}

	if err := collection.MarkClaimed(ctx, logger, nk, itemID); err != nil {
		logger.Warn("Failed to flag item %s as claimed: %v", itemID, err)
	}
	if err := c.indexAdd(ctx, nk, claimsCollectionKey, fmt.Sprintf(claimAccountKeyFmt, address), address, itemID); err != nil {
		logger.Warn("Failed to index claim for %s: %v", address, err)
	}

	return c.settleClaim(ctx, logger, nk, record), nil
}

// settleClaim runs the mint for a claim record and persists the outcome.
// The record itself is never rolled back.
func (c *NakamaClaimSystem) settleClaim(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, record *ClaimRecord) *ClaimRecord {
	txID, err := c.claimMinter.Mint(ctx, record.Address, 1, "claim:"+record.ItemID)
	if err != nil {
		logger.Warn("Claim mint for item %s failed: %v", record.ItemID, err)
		record.Status = MintStatusFailed
	} else {
		record.Status = MintStatusMinted
		record.TxID = txID
	}
	record.UpdatedAt = time.Now().Unix()

	if err := c.writeClaim(ctx, nk, record, ""); err != nil {
		logger.Error("Failed to persist claim outcome for item %s: %v", record.ItemID, err)
	}
	return record
}

// ListClaims returns the account's claim records, newest first.
func (c *NakamaClaimSystem) ListClaims(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*ClaimRecord, error) {
	keys, err := c.readIndex(ctx, nk, claimsCollectionKey, fmt.Sprintf(claimAccountKeyFmt, address))
	if err != nil {
		logger.Error("Failed to read claim index for %s: %v", address, err)
		return nil, ErrInternal
	}

	records := make([]*ClaimRecord, 0, len(keys))
	for _, itemID := range keys {
		record, _, err := c.readClaim(ctx, nk, itemID)
		if err != nil || record == nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt > records[j].CreatedAt })
	if len(records) > c.config.ListLimit {
		records = records[:c.config.ListLimit]
	}
	return records, nil
}

// Exchange debits coins and mints tokens at the configured rate.
func (c *NakamaClaimSystem) Exchange(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string, amount float64) (*ExchangeResult, error) {
	ledger := c.gachaverse.GetLedgerSystem()
	if ledger == nil {
		return nil, ErrSystemNotAvailable
	}
	if amount < c.config.MinExchange {
		return nil, ErrExchangeTooSmall
	}
	if remainder := int64(amount) % int64(c.config.ExchangeRate); remainder != 0 || amount != float64(int64(amount)) {
		return nil, ErrExchangeNotRate
	}

	newBalance, err := ledger.Debit(ctx, logger, nk, address, amount, "gvcoin_exchange")
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	record := &ExchangeRecord{
		ID:          uuid.NewString(),
		Address:     address,
		GachaAmount: amount,
		Tokens:      int64(amount) / int64(c.config.ExchangeRate),
		Status:      MintStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.writeExchange(ctx, nk, record, "*"); err != nil {
		// Without a durable record the debit cannot be settled later, this
		// is the only path that refunds it.
		logger.Error("Failed to write exchange record for %s, refunding: %v", address, err)
		ledger.Refund(ctx, logger, nk, address, amount, "gvcoin_exchange_failed")
		return nil, ErrInternal
	}
	if err := c.indexAdd(ctx, nk, exchangesCollectionKey, fmt.Sprintf(exchangeAccountKeyFmt, address), address, record.ID); err != nil {
		logger.Warn("Failed to index exchange for %s: %v", address, err)
	}

	c.settleExchange(ctx, logger, nk, record)
	return &ExchangeResult{Record: record, NewBalance: newBalance}, nil
}

// settleExchange runs the mint for an exchange record and persists the
// outcome. The debit stands whatever happens here.
func (c *NakamaClaimSystem) settleExchange(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, record *ExchangeRecord) {
	if c.exchangeMinter == nil || !c.exchangeMinter.Configured() {
		record.Status = MintStatusNoContract
	} else {
		txID, err := c.exchangeMinter.Mint(ctx, record.Address, record.Tokens, "exchange:"+record.ID)
		if err != nil {
			logger.Warn("Exchange mint %s for %s failed: %v", record.ID, record.Address, err)
			record.Status = MintStatusFailed
		} else {
			record.Status = MintStatusMinted
			record.TxID = txID
		}
	}
	record.UpdatedAt = time.Now().Unix()

	if err := c.writeExchange(ctx, nk, record, ""); err != nil {
		logger.Error("Failed to persist exchange outcome %s: %v", record.ID, err)
	}
}

// ListExchanges returns the account's exchange records, newest first.
func (c *NakamaClaimSystem) ListExchanges(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*ExchangeRecord, error) {
	keys, err := c.readIndex(ctx, nk, exchangesCollectionKey, fmt.Sprintf(exchangeAccountKeyFmt, address))
	if err != nil {
		logger.Error("Failed to read exchange index for %s: %v", address, err)
		return nil, ErrInternal
	}

	records := make([]*ExchangeRecord, 0, len(keys))
	for _, id := range keys {
		record, _, err := c.readExchange(ctx, nk, id)
		if err != nil || record == nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt > records[j].CreatedAt })
	if len(records) > c.config.ListLimit {
		records = records[:c.config.ListLimit]
	}
	return records, nil
}

// RetrySweep re-attempts every unsettled claim and exchange for an account.
func (c *NakamaClaimSystem) RetrySweep(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) (*RetryResult, error) {
	claims, err := c.ListClaims(ctx, logger, nk, address)
	if err != nil {
		return nil, err
	}
	exchanges, err := c.ListExchanges(ctx, logger, nk, address)
	if err != nil {
		return nil, err
	}

	result := &RetryResult{Entries: []*RetryEntry{}}
	pendingExchanges := 0
	for _, record := range exchanges {
		if record.Status != MintStatusMinted {
			pendingExchanges++
		}
	}
	pendingClaims := 0
	for _, record := range claims {
		if record.Status != MintStatusMinted {
			pendingClaims++
		}
	}
	exchangeable := c.exchangeMinter != nil && c.exchangeMinter.Configured()
	if pendingExchanges > 0 && pendingClaims == 0 && !exchangeable {
		return nil, ErrMintUnavailable
	}

	for _, record := range claims {
		if record.Status == MintStatusMinted {
			continue
		}
		result.Retried++
		settled := c.settleClaim(ctx, logger, nk, record)
		entry := &RetryEntry{Kind: "claim", ID: record.ItemID, Status: settled.Status, TxID: settled.TxID}
		if settled.Status == MintStatusMinted {
			result.Minted++
		} else {
			result.Failed++
		}
		result.Entries = append(result.Entries, entry)
	}

	for _, record := range exchanges {
		if record.Status == MintStatusMinted {
			continue
		}
		result.Retried++
		if !exchangeable {
			result.Failed++
			result.Entries = append(result.Entries, &RetryEntry{Kind: "exchange", ID: record.ID, Status: MintStatusNoContract, Tokens: record.Tokens})
			continue
		}
		c.settleExchange(ctx, logger, nk, record)
		entry := &RetryEntry{Kind: "exchange", ID: record.ID, Status: record.Status, TxID: record.TxID, Tokens: record.Tokens}
		if record.Status == MintStatusMinted {
			result.Minted++
			result.TotalMinted += record.Tokens
		} else {
			result.Failed++
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}

func (c *NakamaClaimSystem) readClaim(ctx context.Context, nk runtime.NakamaModule, itemID string) (*ClaimRecord, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: claimsCollectionKey,
			Key:        fmt.Sprintf(claimItemKeyFmt, itemID),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	record := &ClaimRecord{}
	if err := json.Unmarshal([]byte(objects[0].Value), record); err != nil {
		return nil, "", err
	}
	return record, objects[0].Version, nil
}

func (c *NakamaClaimSystem) writeClaim(ctx context.Context, nk runtime.NakamaModule, record *ClaimRecord, version string) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection: claimsCollectionKey,
			Key:        fmt.Sprintf(claimItemKeyFmt, record.ItemID),
			UserID:     "",
			Value:      string(data),
			Version:    version,
		},
	})
	return err
}

func (c *NakamaClaimSystem) readExchange(ctx context.Context, nk runtime.NakamaModule, id string) (*ExchangeRecord, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: exchangesCollectionKey,
			Key:        fmt.Sprintf(exchangeKeyFmt, id),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	record := &ExchangeRecord{}
	if err := json.Unmarshal([]byte(objects[0].Value), record); err != nil {
		return nil, "", err
	}
	return record, objects[0].Version, nil
}

func (c *NakamaClaimSystem) writeExchange(ctx context.Context, nk runtime.NakamaModule, record *ExchangeRecord, version string) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection: exchangesCollectionKey,
			Key:        fmt.Sprintf(exchangeKeyFmt, record.ID),
			UserID:     "",
			Value:      string(data),
			Version:    version,
		},
	})
	return err
}

func (c *NakamaClaimSystem) readIndex(ctx context.Context, nk runtime.NakamaModule, collection, key string) ([]string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: collection,
			Key:        key,
			UserID:     "",
		},
	})
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}

	index := &mintIndex{}
	if err := json.Unmarshal([]byte(objects[0].Value), index); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(index.Keys))
	for k := range index.Keys {
		keys = append(keys, k)
	}
	return keys, nil
}

func (c *NakamaClaimSystem) indexAdd(ctx context.Context, nk runtime.NakamaModule, collection, key, address, entry string) error {
	var lastErr error
	for attempt := 0; attempt < claimsWriteAttempts; attempt++ {
		objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
			{
				Collection: collection,
				Key:        key,
				UserID:     "",
			},
		})
		if err != nil {
			return err
		}

		index := &mintIndex{Address: address, Keys: map[string]bool{}}
		version := "*"
		if len(objects) > 0 {
			if err := json.Unmarshal([]byte(objects[0].Value), index); err != nil {
				return err
			}
			version = objects[0].Version
		}
		index.Keys[entry] = true

		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		if _, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{
			{
				Collection: collection,
				Key:        key,
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
