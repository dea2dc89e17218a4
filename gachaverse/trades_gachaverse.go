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
	tradeCollectionKey = "trade_offers"
	tradeOfferKeyFmt   = "offer_%s"
	tradePendingKeyFmt = "pending_%s"
	tradeAccountKeyFmt = "offers_%s"

	defaultTradeListLimit = 50

	tradeWriteAttempts = 3
)

// tradePendingLock reserves an offered item for exactly one pending offer.
// It is written with a create-only version so a second proposer loses.
type tradePendingLock struct {
	ItemID  string `json:"item_id"`
	OfferID string `json:"offer_id"`
}

// tradeAccountIndex is the stored set of offer ids involving one account.
type tradeAccountIndex struct {
	Address string          `json:"address"`
	Offers  map[string]bool `json:"offers"`
}

// NakamaTradeSystem implements the TradeSystem interface using Nakama as the backend.
type NakamaTradeSystem struct {
	config     *TradesConfig
	gachaverse Gachaverse
}

// NewNakamaTradeSystem creates a new instance of the trade system with the given configuration.
func NewNakamaTradeSystem(config *TradesConfig) *NakamaTradeSystem {
	if config != nil && config.ListLimit == 0 {
		config.ListLimit = defaultTradeListLimit
	}
	return &NakamaTradeSystem{
		config: config,
	}
}

// GetType returns the system type for the trade system.
func (t *NakamaTradeSystem) GetType() SystemType {
	return SystemTypeTrades
}

// GetConfig returns the configuration for the trade system.
func (t *NakamaTradeSystem) GetConfig() any {
	return t.config
}

func (t *NakamaTradeSystem) SetGachaverse(gv Gachaverse) {
	t.gachaverse = gv
}

// Create proposes a swap of the caller's offered item for the requested item,
// optionally addressed to an explicit target.
func (t *NakamaTradeSystem) Create(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, from, offeredItemID, requestedItemID, to string) (*TradeOffer, error) {
	collection := t.gachaverse.GetCollectionSystem()
	if collection == nil {
		return nil, ErrSystemNotAvailable
	}
	if offeredItemID == "" || requestedItemID == "" || offeredItemID == requestedItemID {
		return nil, ErrBadInput
	}
	if to == from {
		return nil, ErrSelfTrade
	}

	offered, err := collection.GetItem(ctx, logger, nk, offeredItemID)
	if err != nil {
		return nil, err
	}
	if offered.Owner != from {
		return nil, ErrItemNotFound
	}
	if offered.Locked || offered.Claimed {
		return nil, ErrItemEncumbered
	}

	requested, err := collection.GetItem(ctx, logger, nk, requestedItemID)
	if err != nil {
		return nil, err
	}
	if requested.Owner == from {
		return nil, ErrSelfTrade
	}
	if requested.Owner == OwnerShop || requested.Owner == OwnerConverted {
		return nil, ErrItemNotFound
	}
	if to != "" && requested.Owner != to {
		return nil, ErrInvalidTarget
	}

	offer := &TradeOffer{
		ID:              uuid.NewString(),
		From:            from,
		To:              requested.Owner,
		OfferedItemID:   offeredItemID,
		RequestedItemID: requestedItemID,
		Status:          TradeStatusPending,
		CreatedAt:       time.Now().Unix(),
		UpdatedAt:       time.Now().Unix(),
	}

	// The create-only lock write decides between concurrent proposers for
	// the same item.
	if err := t.writePendingLock(ctx, nk, offeredItemID, offer.ID); err != nil {
		return nil, ErrDuplicateOffer
	}
	if err := collection.SetLocked(ctx, logger, nk, offeredItemID, true); err != nil {
		t.deletePendingLock(ctx, logger, nk, offeredItemID)
		return nil, err
	}
	if err := t.writeOffer(ctx, nk, offer, "*"); err != nil {
		logger.Error("Failed to write trade offer %s: %v", offer.ID, err)
		if unlockErr := collection.SetLocked(ctx, logger, nk, offeredItemID, false); unlockErr != nil {
			logger.Error("UNRESOLVED INCONSISTENCY: failed to unlock item %s: %v", offeredItemID, unlockErr)
		}
		t.deletePendingLock(ctx, logger, nk, offeredItemID)
		return nil, ErrInternal
	}

	if err := t.indexAdd(ctx, nk, from, offer.ID); err != nil {
		logger.Warn("Failed to index offer %s for %s: %v", offer.ID, from, err)
	}
	if err := t.indexAdd(ctx, nk, offer.To, offer.ID); err != nil {
		logger.Warn("Failed to index offer %s for %s: %v", offer.ID, offer.To, err)
	}
	return offer, nil
}

// Accept executes a pending offer addressed to the caller.
func (t *NakamaTradeSystem) Accept(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, to, offerID string) (*TradeOffer, error) {
	collection := t.gachaverse.GetCollectionSystem()
	if collection == nil {
		return nil, ErrSystemNotAvailable
	}

	offer, _, err := t.readOffer(ctx, nk, offerID)
	if err != nil {
		logger.Error("Failed to read trade offer %s: %v", offerID, err)
		return nil, ErrInternal
	}
	if offer == nil || offer.Status != TradeStatusPending || offer.To != to {
		return nil, ErrOfferNotFound
	}

	// Ownership can have changed since the offer was created. A stale offer
	// is closed rather than left to fail forever.
	offered, err := collection.GetItem(ctx, logger, nk, offer.OfferedItemID)
	if err != nil {
		return nil, err
	}
	requested, err := collection.GetItem(ctx, logger, nk, offer.RequestedItemID)
	if err != nil {
		return nil, err
	}
	if offered.Owner != offer.From || requested.Owner != to || requested.Locked || requested.Claimed {
		t.closeOffer(ctx, logger, nk, offer, TradeStatusCancelled)
		return nil, ErrStaleOffer
	}

	if err := collection.Transfer(ctx, logger, nk, offer.OfferedItemID, offer.From, to); err != nil {
		return nil, err
	}
	if err := collection.Transfer(ctx, logger, nk, offer.RequestedItemID, to, offer.From); err != nil {
		// Roll back leg one, the offer stays pending for a retry.
		logger.Error("Trade %s second leg failed, rolling back: %v", offer.ID, err)
		if rollbackErr := collection.Transfer(ctx, logger, nk, offer.OfferedItemID, to, offer.From); rollbackErr != nil {
			logger.Error("UNRESOLVED INCONSISTENCY: trade %s rollback failed: %v", offer.ID, rollbackErr)
		} else if lockErr := collection.SetLocked(ctx, logger, nk, offer.OfferedItemID, true); lockErr != nil {
			logger.Warn("Failed to re-lock item %s after rollback: %v", offer.OfferedItemID, lockErr)
		}
		return nil, ErrInternal
	}

	offer.Status = TradeStatusCompleted
	offer.UpdatedAt = time.Now().Unix()
	if err := t.writeOffer(ctx, nk, offer, ""); err != nil {
		// Both items already moved, only the record is behind.
		logger.Error("UNRESOLVED INCONSISTENCY: failed to mark trade %s accepted: %v", offer.ID, err)
	}
	t.deletePendingLock(ctx, logger, nk, offer.OfferedItemID)
	return offer, nil
}

// Cancel withdraws a pending offer.
func (t *NakamaTradeSystem) Cancel(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, from, offerID string) (*TradeOffer, error) {
	collection := t.gachaverse.GetCollectionSystem()
	if collection == nil {
		return nil, ErrSystemNotAvailable
	}

	offer, _, err := t.readOffer(ctx, nk, offerID)
	if err != nil {
		logger.Error("Failed to read trade offer %s: %v", offerID, err)
		return nil, ErrInternal
	}
	if offer == nil || offer.Status != TradeStatusPending || offer.From != from {
		return nil, ErrOfferNotFound
	}

	t.closeOffer(ctx, logger, nk, offer, TradeStatusCancelled)
	return offer, nil
}

// List returns pending offers involving an account, on either side.
func (t *NakamaTradeSystem) List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*TradeOffer, error) {
	index, err := t.readAccountIndex(ctx, nk, address)
	if err != nil {
		logger.Error("Failed to read trade index for %s: %v", address, err)
		return nil, ErrInternal
	}
	if index == nil || len(index.Offers) == 0 {
		return []*TradeOffer{}, nil
	}

	reads := make([]*runtime.StorageRead, 0, len(index.Offers))
	for offerID := range index.Offers {
		reads = append(reads, &runtime.StorageRead{
			Collection: tradeCollectionKey,
			Key:        fmt.Sprintf(tradeOfferKeyFmt, offerID),
			UserID:     "",
		})
	}
	objects, err := nk.StorageRead(ctx, reads)
	if err != nil {
		logger.Error("Failed to read trade offers for %s: %v", address, err)
		return nil, ErrInternal
	}

	offers := make([]*TradeOffer, 0, len(objects))
	for _, object := range objects {
		offer := &TradeOffer{}
		if err := json.Unmarshal([]byte(object.Value), offer); err != nil {
			logger.Error("Corrupt trade offer object %s: %v", object.Key, err)
			continue
		}
		if offer.Status != TradeStatusPending {
			continue
		}
		offers = append(offers, offer)
		if len(offers) >= t.config.ListLimit {
			break
		}
	}
	return offers, nil
}

// closeOffer finalizes an offer, releasing the offered item's lock when the
// proposer still holds it.
func (t *NakamaTradeSystem) closeOffer(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, offer *TradeOffer, status string) {
	collection := t.gachaverse.GetCollectionSystem()

	offer.Status = status
	offer.UpdatedAt = time.Now().Unix()
	if err := t.writeOffer(ctx, nk, offer, ""); err != nil {
		logger.Error("Failed to mark trade %s %s: %v", offer.ID, status, err)
	}
	t.deletePendingLock(ctx, logger, nk, offer.OfferedItemID)

	if collection != nil {
		item, err := collection.GetItem(ctx, logger, nk, offer.OfferedItemID)
		if err == nil && item.Owner == offer.From && item.Locked {
			if err := collection.SetLocked(ctx, logger, nk, offer.OfferedItemID, false); err != nil {
				logger.Warn("Failed to unlock item %s: %v", offer.OfferedItemID, err)
			}
		}
	}
}

func (t *NakamaTradeSystem) readOffer(ctx context.Context, nk runtime.NakamaModule, offerID string) (*TradeOffer, string, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: tradeCollectionKey,
			Key:        fmt.Sprintf(tradeOfferKeyFmt, offerID),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", nil
	}

	offer := &TradeOffer{}
	if err := json.Unmarshal([]byte(objects[0].Value), offer); err != nil {
		return nil, "", err
	}
	return offer, objects[0].Version, nil
}

func (t *NakamaTradeSystem) writeOffer(ctx context.Context, nk runtime.NakamaModule, offer *TradeOffer, version string) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}

	_, err = nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection: tradeCollectionKey,
			Key:        fmt.Sprintf(tradeOfferKeyFmt, offer.ID),
			UserID:     "",
			Value:      string(data),
			Version:    version,
		},
	})
	return err
}

func (t *NakamaTradeSystem) writePendingLock(ctx context.Context, nk runtime.NakamaModule, itemID, offerID string) error {
	data, err := json.Marshal(&tradePendingLock{ItemID: itemID, OfferID: offerID})
	if err != nil {
		return err
	}

	_, err = nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection: tradeCollectionKey,
			Key:        fmt.Sprintf(tradePendingKeyFmt, itemID),
			UserID:     "",
			Value:      string(data),
			Version:    "*",
		},
	})
	return err
}

func (t *NakamaTradeSystem) deletePendingLock(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, itemID string) {
	if err := nk.StorageDelete(ctx, []*runtime.StorageDelete{
		{
			Collection: tradeCollectionKey,
			Key:        fmt.Sprintf(tradePendingKeyFmt, itemID),
			UserID:     "",
		},
	}); err != nil {
		logger.Warn("Failed to delete pending lock for item %s: %v", itemID, err)
	}
}

func (t *NakamaTradeSystem) readAccountIndex(ctx context.Context, nk runtime.NakamaModule, address string) (*tradeAccountIndex, error) {
	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
		{
			Collection: tradeCollectionKey,
			Key:        fmt.Sprintf(tradeAccountKeyFmt, address),
			UserID:     "",
		},
	})
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}

	index := &tradeAccountIndex{}
	if err := json.Unmarshal([]byte(objects[0].Value), index); err != nil {
		return nil, err
	}
	return index, nil
}

func (t *NakamaTradeSystem) indexAdd(ctx context.Context, nk runtime.NakamaModule, address, offerID string) error {
	var lastErr error
	for attempt := 0; attempt < tradeWriteAttempts; attempt++ {
		objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{
			{
				Collection: tradeCollectionKey,
				Key:        fmt.Sprintf(tradeAccountKeyFmt, address),
				UserID:     "",
			},
		})
		if err != nil {
			return err
		}

		index := &tradeAccountIndex{Address: address, Offers: map[string]bool{}}
		version := "*"
		if len(objects) > 0 {
			if err := json.Unmarshal([]byte(objects[0].Value), index); err != nil {
				return err
			}
			version = objects[0].Version
		}
		index.Offers[offerID] = true

		data, err := json.Marshal(index)
		if err != nil {
			return err
		}
		if _, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{
			{
				Collection: tradeCollectionKey,
				Key:        fmt.Sprintf(tradeAccountKeyFmt, address),
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
