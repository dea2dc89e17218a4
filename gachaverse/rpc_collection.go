package gachaverse

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

type collectionListResponse struct {
	Address string       `json:"address"`
	Items   []*OwnedItem `json:"items"`
}

func rpcCollectionList(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		collection := g.GetCollectionSystem()
		if collection == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}

		items, err := collection.List(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}
		return encodeResponse(&collectionListResponse{Address: address, Items: items})
	}
}

type collectionSellRequest struct {
	Address string `json:"address"`
	ItemID  string `json:"item_id"`
}

func rpcCollectionSell(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		collection := g.GetCollectionSystem()
		if collection == nil {
			return "", ErrSystemNotFound
		}

		request := &collectionSellRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}
		if request.ItemID == "" {
			return "", ErrBadInput
		}
		if err := admit(g, RateClassSell, address); err != nil {
			return "", err
		}

		result, err := collection.Sell(ctx, logger, nk, address, request.ItemID)
		if err != nil {
			return "", err
		}
		return encodeResponse(result)
	}
}

type collectionConvertRequest struct {
	Address    string `json:"address"`
	ItemID     string `json:"item_id"`
	RewardKind string `json:"reward_kind"`
}

func rpcCollectionConvert(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		collection := g.GetCollectionSystem()
		if collection == nil {
			return "", ErrSystemNotFound
		}

		request := &collectionConvertRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}
		if request.ItemID == "" {
			return "", ErrBadInput
		}
		if err := admit(g, RateClassConvert, address); err != nil {
			return "", err
		}

		result, err := collection.Convert(ctx, logger, nk, address, request.ItemID, request.RewardKind)
		if err != nil {
			return "", err
		}
		return encodeResponse(result)
	}
}
