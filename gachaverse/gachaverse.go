package gachaverse

import (
	"context"
	"encoding/json"
	"io"

	"github.com/heroiclabs/nakama-common/runtime"
)

// gachaverseImpl implements the Gachaverse interface
type gachaverseImpl struct {
	systems map[SystemType]System
	limiter RateLimiter
}

// Init initializes a Gachaverse type with the configurations provided.
func Init(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, configs ...SystemConfig) (Gachaverse, error) {
	gv := &gachaverseImpl{
		systems: make(map[SystemType]System),
		limiter: NewWindowRateLimiter(nil),
	}

	for _, config := range configs {
		if err := gv.initSystem(ctx, logger, nk, initializer, config); err != nil {
			return nil, err
		}
	}

	return gv, nil
}

// initSystem initializes a specific system based on its type
func (g *gachaverseImpl) initSystem(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, config SystemConfig) error {
	logger.Info("Initializing system type: %v, config file: %s", config.GetType(), config.GetConfigFile())

	configBytes, err := readConfigFile(nk, config.GetConfigFile())
	if err != nil {
		logger.Error("Failed to read config file %s: %v", config.GetConfigFile(), err)
		return err
	}

	var system System

	switch config.GetType() {
	case SystemTypeLedger:
		ledgerConfig := &LedgerConfig{}
		if err := json.Unmarshal(configBytes, ledgerConfig); err != nil {
			logger.Error("Failed to parse Ledger system config: %v", err)
			return err
		}
		system = NewNakamaLedgerSystem(ledgerConfig)

	case SystemTypeReactor:
		reactorConfig := &ReactorConfig{}
		if err := json.Unmarshal(configBytes, reactorConfig); err != nil {
			logger.Error("Failed to parse Reactor system config: %v", err)
			return err
		}
		system = NewNakamaReactorSystem(reactorConfig)

	case SystemTypeGacha:
		gachaConfig := &GachaConfig{}
		if err := json.Unmarshal(configBytes, gachaConfig); err != nil {
			logger.Error("Failed to parse Gacha system config: %v", err)
			return err
		}
		system = NewNakamaGachaSystem(gachaConfig)

	case SystemTypeCollection:
		collectionConfig := &CollectionConfig{}
		if err := json.Unmarshal(configBytes, collectionConfig); err != nil {
			logger.Error("Failed to parse Collection system config: %v", err)
			return err
		}
		system = NewNakamaCollectionSystem(collectionConfig)

	case SystemTypeTrades:
		tradesConfig := &TradesConfig{}
		if err := json.Unmarshal(configBytes, tradesConfig); err != nil {
			logger.Error("Failed to parse Trades system config: %v", err)
			return err
		}
		system = NewNakamaTradeSystem(tradesConfig)

	case SystemTypeClaims:
		claimsConfig := &ClaimsConfig{}
		if err := json.Unmarshal(configBytes, claimsConfig); err != nil {
			logger.Error("Failed to parse Claims system config: %v", err)
			return err
		}
		claimSystem := NewNakamaClaimSystem(claimsConfig)

		// The exchange side mints against a real external target configured
		// through the environment. Claims fall back to the built-in simulated
		// minter when nothing is configured.
		claimSystem.SetExchangeMinter(NewEnvExchangeMinter(logger))

		system = claimSystem

	default:
		logger.Error("Unknown system type: %v", config.GetType())
		return runtime.NewError("unknown system type", 3) // INVALID_ARGUMENT
	}

	if system != nil {
		g.systems[config.GetType()] = system

		// Systems that chain operations across the ledger, reactor and
		// collection need the hub reference for cross-system communication.
		if hubAware, ok := system.(interface{ SetGachaverse(Gachaverse) }); ok {
			hubAware.SetGachaverse(g)
		}
	}

	if config.GetRegister() {
		if err := g.registerSystemRpcs(initializer, config.GetType()); err != nil {
			return err
		}
	}

	return nil
}

// registerSystemRpcs registers the appropriate RPCs for a given system type
func (g *gachaverseImpl) registerSystemRpcs(initializer runtime.Initializer, systemType SystemType) error {
	switch systemType {
	case SystemTypeLedger:
		if err := initializer.RegisterRpc(RpcIdAccountRegister, rpcAccountRegister(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdBalanceGet, rpcBalanceGet(g)); err != nil {
			return err
		}

	case SystemTypeReactor:
		if err := initializer.RegisterRpc(RpcIdReactorEnergy, rpcReactorEnergy(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReactorHarvest, rpcReactorHarvest(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdReactorUpgrade, rpcReactorUpgrade(g)); err != nil {
			return err
		}

	case SystemTypeGacha:
		if err := initializer.RegisterRpc(RpcIdGachaSpin, rpcGachaSpin(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdGachaCatalog, rpcGachaCatalog(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdGachaHistory, rpcGachaHistory(g)); err != nil {
			return err
		}

	case SystemTypeCollection:
		if err := initializer.RegisterRpc(RpcIdCollectionList, rpcCollectionList(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCollectionSell, rpcCollectionSell(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdCollectionConvert, rpcCollectionConvert(g)); err != nil {
			return err
		}

	case SystemTypeTrades:
		if err := initializer.RegisterRpc(RpcIdTradeCreate, rpcTradeCreate(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdTradeAccept, rpcTradeAccept(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdTradeCancel, rpcTradeCancel(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdTradeList, rpcTradeList(g)); err != nil {
			return err
		}

	case SystemTypeClaims:
		if err := initializer.RegisterRpc(RpcIdClaimItem, rpcClaimItem(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdClaimList, rpcClaimList(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdGvcoinExchange, rpcGvcoinExchange(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdGvcoinExchanges, rpcGvcoinExchangeList(g)); err != nil {
			return err
		}
		if err := initializer.RegisterRpc(RpcIdGvcoinRetry, rpcGvcoinRetry(g)); err != nil {
			return err
		}

	default:
		// Unknown system type, no RPCs to register
	}

	return nil
}

func readConfigFile(nk runtime.NakamaModule, path string) ([]byte, error) {
	file, err := nk.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// System getter implementations
func (g *gachaverseImpl) GetLedgerSystem() LedgerSystem {
	if sys, ok := g.systems[SystemTypeLedger].(LedgerSystem); ok {
		return sys
	}
	return nil
}

func (g *gachaverseImpl) GetReactorSystem() ReactorSystem {
	if sys, ok := g.systems[SystemTypeReactor].(ReactorSystem); ok {
		return sys
	}
	return nil
}

func (g *gachaverseImpl) GetGachaSystem() GachaSystem {
	if sys, ok := g.systems[SystemTypeGacha].(GachaSystem); ok {
		return sys
	}
	return nil
}

func (g *gachaverseImpl) GetCollectionSystem() CollectionSystem {
	if sys, ok := g.systems[SystemTypeCollection].(CollectionSystem); ok {
		return sys
	}
	return nil
}

func (g *gachaverseImpl) GetTradeSystem() TradeSystem {
	if sys, ok := g.systems[SystemTypeTrades].(TradeSystem); ok {
		return sys
	}
	return nil
}

func (g *gachaverseImpl) GetClaimSystem() ClaimSystem {
	if sys, ok := g.systems[SystemTypeClaims].(ClaimSystem); ok {
		return sys
	}
	return nil
}

func (g *gachaverseImpl) GetRateLimiter() RateLimiter {
	return g.limiter
}

func (g *gachaverseImpl) SetRateLimiter(rl RateLimiter) {
	if rl != nil {
		g.limiter = rl
	}
}
