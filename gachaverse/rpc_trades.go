package gachaverse

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

type tradeCreateRequest struct {
	Address         string `json:"address"`
	OfferedItemID   string `json:"offered_item_id"`
	RequestedItemID string `json:"requested_item_id"`
	To              string `json:"to,omitempty"`
}

func rpcTradeCreate(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		trades := g.GetTradeSystem()
		if trades == nil {
			return "", ErrSystemNotFound
		}

		request := &tradeCreateRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}
		to := ""
		if request.To != "" {
			if to, err = NormalizeAddress(request.To); err != nil {
				return "", err
			}
		}
		if err := admit(g, RateClassTrade, address); err != nil {
			return "", err
		}

		offer, err := trades.Create(ctx, logger, nk, address, request.OfferedItemID, request.RequestedItemID, to)
		if err != nil {
			return "", err
		}
		return encodeResponse(offer)
	}
}

type tradeActionRequest struct {
	Address string `json:"address"`
	OfferID string `json:"offer_id"`
}

func rpcTradeAccept(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		trades := g.GetTradeSystem()
		if trades == nil {
			return "", ErrSystemNotFound
		}

		request := &tradeActionRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}
		if request.OfferID == "" {
			return "", ErrBadInput
		}
		if err := admit(g, RateClassTrade, address); err != nil {
			return "", err
		}

		offer, err := trades.Accept(ctx, logger, nk, address, request.OfferID)
		if err != nil {
			return "", err
		}
		return encodeResponse(offer)
	}
}

func rpcTradeCancel(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		trades := g.GetTradeSystem()
		if trades == nil {
			return "", ErrSystemNotFound
		}

		request := &tradeActionRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}
		if request.OfferID == "" {
			return "", ErrBadInput
		}

		offer, err := trades.Cancel(ctx, logger, nk, address, request.OfferID)
		if err != nil {
			return "", err
		}
		return encodeResponse(offer)
	}
}

type tradeListResponse struct {
	Address string        `json:"address"`
	Offers  []*TradeOffer `json:"offers"`
}

func rpcTradeList(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		trades := g.GetTradeSystem()
		if trades == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}

		offers, err := trades.List(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}
		return encodeResponse(&tradeListResponse{Address: address, Offers: offers})
	}
}
