package gachaverse

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

func rpcGachaSpin(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		gacha := g.GetGachaSystem()
		if gacha == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}
		if err := admit(g, RateClassSpin, address); err != nil {
			return "", err
		}

		result, err := gacha.Spin(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}
		return encodeResponse(result)
	}
}

type gachaCatalogResponse struct {
	Items []*GachaCatalogItem `json:"items"`
}

func rpcGachaCatalog(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		gacha := g.GetGachaSystem()
		if gacha == nil {
			return "", ErrSystemNotFound
		}

		return encodeResponse(&gachaCatalogResponse{Items: gacha.Catalog()})
	}
}

type gachaHistoryRequest struct {
	Address string `json:"address"`
	Limit   int    `json:"limit,omitempty"`
}

type gachaHistoryResponse struct {
	Address string        `json:"address"`
	Spins   []*SpinRecord `json:"spins"`
}

func rpcGachaHistory(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		gacha := g.GetGachaSystem()
		if gacha == nil {
			return "", ErrSystemNotFound
		}

		request := &gachaHistoryRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}

		spins, err := gacha.History(ctx, logger, nk, address, request.Limit)
		if err != nil {
			return "", err
		}
		return encodeResponse(&gachaHistoryResponse{Address: address, Spins: spins})
	}
}
