package gachaverse

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

type reactorEnergyResponse struct {
	Address        string  `json:"address"`
	Energy         float64 `json:"energy"`
	MaxEnergy      float64 `json:"max_energy"`
	Level          int     `json:"level"`
	RegenPerSecond float64 `json:"regen_per_second"`
	ClicksPerCoin  float64 `json:"clicks_per_coin"`
	TotalHarvested float64 `json:"total_harvested"`
	CooldownSec    int64   `json:"cooldown_sec,omitempty"`
}

func rpcReactorEnergy(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		reactor := g.GetReactorSystem()
		if reactor == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}

		state, err := reactor.Get(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}

		response := &reactorEnergyResponse{
			Address:        address,
			Energy:         Floor2(state.Energy),
			MaxEnergy:      state.MaxEnergy,
			Level:          state.Level,
			TotalHarvested: Floor2(state.TotalHarvested),
			CooldownSec:    int64(state.CooldownRemaining(time.Now()).Seconds()),
		}
		if impl, ok := reactor.(*NakamaReactorSystem); ok {
			response.RegenPerSecond = impl.regenRate(state.Level)
			response.ClicksPerCoin = impl.tierFor(state.Level).ClicksPerCoin
		}
		return encodeResponse(response)
	}
}

type reactorHarvestRequest struct {
	Address string `json:"address"`
	Clicks  int    `json:"clicks"`
}

func rpcReactorHarvest(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		reactor := g.GetReactorSystem()
		if reactor == nil {
			return "", ErrSystemNotFound
		}

		request := &reactorHarvestRequest{}
		if err := json.Unmarshal([]byte(payload), request); err != nil {
			return "", ErrPayloadDecode
		}
		address, err := NormalizeAddress(request.Address)
		if err != nil {
			return "", err
		}
		if err := admit(g, RateClassHarvest, address); err != nil {
			return "", err
		}

		result, err := reactor.Harvest(ctx, logger, nk, address, request.Clicks)
		if err != nil {
			return "", err
		}
		return encodeResponse(result)
	}
}

func rpcReactorUpgrade(g Gachaverse) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		reactor := g.GetReactorSystem()
		if reactor == nil {
			return "", ErrSystemNotFound
		}

		address, err := decodeAddressPayload(payload)
		if err != nil {
			return "", err
		}
		if err := admit(g, RateClassUpgrade, address); err != nil {
			return "", err
		}

		result, err := reactor.Upgrade(ctx, logger, nk, address)
		if err != nil {
			return "", err
		}
		return encodeResponse(result)
	}
}
