package gachaverse

import (
	"math"
	"regexp"
	"strings"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrInternal           = runtime.NewError("internal error occurred", 13) // INTERNAL
	ErrBadInput           = runtime.NewError("bad input", 3)                // INVALID_ARGUMENT
	ErrPayloadDecode      = runtime.NewError("cannot decode json", 13)      // INTERNAL
	ErrPayloadEncode      = runtime.NewError("cannot encode json", 13)      // INTERNAL
	ErrSystemNotFound     = runtime.NewError("system not found", 13)        // INTERNAL
	ErrSystemNotAvailable = runtime.NewError("system not available", 13)    // INTERNAL

	ErrInvalidAddress     = runtime.NewError("invalid wallet address", 3)                         // INVALID_ARGUMENT
	ErrItemNotFound       = runtime.NewError("item not found or not owned by you", 5)             // NOT_FOUND
	ErrInvalidTarget      = runtime.NewError("requested item is not owned by the target", 5)      // NOT_FOUND
	ErrOfferNotFound      = runtime.NewError("trade offer not found", 5)                          // NOT_FOUND
	ErrInsufficientFunds  = runtime.NewError("insufficient balance", 9)                           // FAILED_PRECONDITION
	ErrInsufficientEnergy = runtime.NewError("not enough energy", 9)                              // FAILED_PRECONDITION
	ErrItemEncumbered     = runtime.NewError("item is listed or claimed and cannot be moved", 6)  // ALREADY_EXISTS
	ErrAlreadyClaimed     = runtime.NewError("item has already been claimed", 6)                  // ALREADY_EXISTS
	ErrDuplicateOffer     = runtime.NewError("item already has a pending trade offer", 6)         // ALREADY_EXISTS
	ErrSelfTrade          = runtime.NewError("cannot trade with yourself", 3)                     // INVALID_ARGUMENT
	ErrStaleOffer         = runtime.NewError("one of the items is no longer available", 9)        // FAILED_PRECONDITION
	ErrMaxLevel           = runtime.NewError("reactor is already at max level", 6)                // ALREADY_EXISTS
	ErrCooldownActive     = runtime.NewError("cooling down", 9)                                   // FAILED_PRECONDITION
	ErrRateLimited        = runtime.NewError("too many requests", 8)                              // RESOURCE_EXHAUSTED
	ErrCatalogEmpty       = runtime.NewError("gacha catalog is empty", 9)                         // FAILED_PRECONDITION
	ErrExchangeTooSmall   = runtime.NewError("amount is below the minimum exchange", 3)           // INVALID_ARGUMENT
	ErrExchangeNotRate    = runtime.NewError("amount must be a multiple of the exchange rate", 3) // INVALID_ARGUMENT
	ErrMintUnavailable    = runtime.NewError("external mint target not configured", 14)           // UNAVAILABLE
)

// Sentinel owners encode terminal item dispositions. Items are never deleted,
// only transferred to one of these.
const (
	OwnerShop      = "shop"
	OwnerConverted = "converted"
)

// The SystemType identifies each of the economy systems.
type SystemType uint

const (
	SystemTypeUnknown SystemType = iota
	SystemTypeLedger
	SystemTypeReactor
	SystemTypeGacha
	SystemTypeCollection
	SystemTypeTrades
	SystemTypeClaims
)

// RPC ids registered with the game server. One per client-facing operation.
const (
	RpcIdAccountRegister   = "account_register"
	RpcIdBalanceGet        = "balance_get"
	RpcIdGachaSpin         = "gacha_spin"
	RpcIdGachaCatalog      = "gacha_catalog"
	RpcIdGachaHistory      = "gacha_history"
	RpcIdCollectionList    = "collection_list"
	RpcIdCollectionSell    = "collection_sell"
	RpcIdCollectionConvert = "collection_convert"
	RpcIdReactorEnergy     = "reactor_energy"
	RpcIdReactorHarvest    = "reactor_harvest"
	RpcIdReactorUpgrade    = "reactor_upgrade"
	RpcIdTradeCreate       = "trade_create"
	RpcIdTradeAccept       = "trade_accept"
	RpcIdTradeCancel       = "trade_cancel"
	RpcIdTradeList         = "trade_list"
	RpcIdClaimItem         = "claim_item"
	RpcIdClaimList         = "claim_list"
	RpcIdGvcoinExchange    = "gvcoin_exchange"
	RpcIdGvcoinExchanges   = "gvcoin_exchange_list"
	RpcIdGvcoinRetry       = "gvcoin_retry"
)

// A System is a base type for an economy system.
type System interface {
	// GetType provides the runtime type of the economy system.
	GetType() SystemType

	// GetConfig returns the configuration type of the economy system.
	GetConfig() any
}

// Gachaverse provides a type which combines all economy systems.
type Gachaverse interface {
	GetLedgerSystem() LedgerSystem
	GetReactorSystem() ReactorSystem
	GetGachaSystem() GachaSystem
	GetCollectionSystem() CollectionSystem
	GetTradeSystem() TradeSystem
	GetClaimSystem() ClaimSystem

	// GetRateLimiter returns the admission control component shared by all
	// RPC handlers. Never nil after Init.
	GetRateLimiter() RateLimiter

	// SetRateLimiter replaces the admission control component, for example to
	// back it with a shared cache instead of process-local windows.
	SetRateLimiter(rl RateLimiter)
}

// The SystemConfig describes the configuration that each economy system must use to configure itself.
type SystemConfig interface {
	// GetType returns the runtime type of the economy system.
	GetType() SystemType

	// GetConfigFile returns the configuration file used for the data definitions in the economy system.
	GetConfigFile() string

	// GetRegister returns true if the economy system's RPCs should be registered with the game server.
	GetRegister() bool
}

var _ SystemConfig = &systemConfig{}

type systemConfig struct {
	systemType SystemType
	configFile string
	register   bool
}

func (sc *systemConfig) GetType() SystemType {
	return sc.systemType
}
func (sc *systemConfig) GetConfigFile() string {
	return sc.configFile
}
func (sc *systemConfig) GetRegister() bool {
	return sc.register
}

// WithLedgerSystem configures a LedgerSystem type and optionally registers its RPCs with the game server.
func WithLedgerSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeLedger,
		configFile: configFile,
		register:   register,
	}
}

// WithReactorSystem configures a ReactorSystem type and optionally registers its RPCs with the game server.
func WithReactorSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeReactor,
		configFile: configFile,
		register:   register,
	}
}

// WithGachaSystem configures a GachaSystem type and optionally registers its RPCs with the game server.
func WithGachaSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeGacha,
		configFile: configFile,
		register:   register,
	}
}

// WithCollectionSystem configures a CollectionSystem type and optionally registers its RPCs with the game server.
func WithCollectionSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeCollection,
		configFile: configFile,
		register:   register,
	}
}

// WithTradeSystem configures a TradeSystem type and optionally registers its RPCs with the game server.
func WithTradeSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeTrades,
		configFile: configFile,
		register:   register,
	}
}

// WithClaimSystem configures a ClaimSystem type and optionally registers its RPCs with the game server.
func WithClaimSystem(configFile string, register bool) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeClaims,
		configFile: configFile,
		register:   register,
	}
}

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// NormalizeAddress lowercases and validates a wallet address. All economy
// state is keyed by the normalized form.
func NormalizeAddress(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if !addressPattern.MatchString(address) {
		return "", ErrInvalidAddress
	}
	return address, nil
}

// Floor2 floors a quantity to 2 decimal places for display. Stored values
// keep full precision.
func Floor2(v float64) float64 {
	return math.Floor(v*100) / 100
}
