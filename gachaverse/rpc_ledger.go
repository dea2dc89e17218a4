package gachaverse

import (
	"context"
	"database/sql"

	"github.com/heroiclabs/nakama-common/runtime"
)

type accountRegisterResponse struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
	IsNew   bool    `json:"is_new"`
}

func rpcAccountRegister(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		ledger := g.GetLedgerSystem()
		if ledger == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}

		balance, isNew, err := ledger.Register(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}

		return encodeResponse(&accountRegisterResponse{
			Address: address,
			Balance: balance,
			IsNew:   isNew,
		})
	}
}

type balanceGetResponse struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

func rpcBalanceGet(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		ledger := g.GetLedgerSystem()
		if ledger == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}

		balance, err := ledger.Balance(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}

		return encodeResponse(&balanceGetResponse{
			Address: address,
			Balance: balance,
		})
	}
}
