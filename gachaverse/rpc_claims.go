package gachaverse

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

type claimItemRequest struct {
	Address string `json:"address"`
	ItemID  string `json:"item_id"`
}

func rpcClaimItem(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		claims := g.GetClaimSystem()
		if claims == nil {
			return "", ErrSystemNotFound
		}

		request := &claimItemRequest{}
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
		if err := admit(g, RateClassClaim, address); err != nil {
			return "", err
		}

		record, err := claims.ClaimItem(ctx, logger, nk, address, request.ItemID)
		if err != nil {
			return "", err
		}
		return encodeResponse(record)
	}
}

type claimListResponse struct {
	Address string         `json:"address"`
	Claims  []*ClaimRecord `json:"claims"`
}

func rpcClaimList(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		claims := g.GetClaimSystem()
		if claims == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}

		records, err := claims.ListClaims(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}
		return encodeResponse(&claimListResponse{Address: address, Claims: records})
	}
}

type gvcoinExchangeRequest struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

func rpcGvcoinExchange(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		claims := g.GetClaimSystem()
		if claims == nil {
			return "", ErrSystemNotFound
		}

		request := &gvcoinExchangeRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}
		if err := admit(g, RateClassExchange, address); err != nil {
			return "", err
		}

		result, err := claims.Exchange(ctx, logger, nk, address, request.Amount)
		if err != nil {
			return "", err
		}
		return encodeResponse(result)
	}
}

type gvcoinExchangeListResponse struct {
	Address   string            `json:"address"`
	Exchanges []*ExchangeRecord `json:"exchanges"`
}

func rpcGvcoinExchangeList(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		claims := g.GetClaimSystem()
		if claims == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}

		records, err := claims.ListExchanges(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}
		return encodeResponse(&gvcoinExchangeListResponse{Address: address, Exchanges: records})
	}
}

func rpcGvcoinRetry(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		claims := g.GetClaimSystem()
		if claims == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}
		if err := admit(g, RateClassExchange, address); err != nil {
			return "", err
		}

		result, err := claims.RetrySweep(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}
		return encodeResponse(result)
	}
}
