package gachaverse

import (
	"context"

	"github.com/heroiclabs/nakama-common/runtime"
)

// TradesConfig is the data definition for the TradeSystem type.
type TradesConfig struct {
	ListLimit int `json:"list_limit,omitempty"`
}

// Trade offer lifecycle states.
const (
	TradeStatusPending   = "pending"
	TradeStatusCompleted = "completed"
	TradeStatusCancelled = "cancelled"
)

// TradeOffer is one item-for-item swap proposal. The offered item is locked
// while the offer is pending; the requested item is not.
type TradeOffer struct {
	ID              string `json:"id"`
	From            string `json:"from"`
	To              string `json:"to"`
	OfferedItemID   string `json:"offered_item_id"`
	RequestedItemID string `json:"requested_item_id"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// The TradeSystem runs the two-party swap protocol: propose, accept with
// re-validation, cancel. An item can carry at most one pending offer.
type TradeSystem interface {
	System

	// Create proposes a swap of the caller's offered item for the requested
	// item. An explicit target must own the requested item; when to is empty
	// the offer is addressed to the requested item's current owner.
	Create(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, from, offeredItemID, requestedItemID, to string) (*TradeOffer, error)

	// Accept executes a pending offer addressed to the caller. Both
	// ownerships are re-validated first; a stale offer is cancelled and the
	// call fails with ErrStaleOffer without moving anything.
	Accept(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, to, offerID string) (*TradeOffer, error)

	// Cancel withdraws a pending offer. Only the proposer can cancel.
	Cancel(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, from, offerID string) (*TradeOffer, error)

	// List returns pending offers involving an account, on either side.
	List(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, address string) ([]*TradeOffer, error)
}
