package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/E9th/Crypto-Gachapon-Machine-GachaVerse/gachaverse"

	"github.com/heroiclabs/nakama-common/runtime"
)

// noinspection GoUnusedExportedFunction
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	logger.Info("Loading GachaVerse Nakama plugin...")

	if _, err := gachaverse.Init(ctx, logger, nk, initializer,
		gachaverse.WithLedgerSystem("gachaverse-ledger.json", true),
		gachaverse.WithReactorSystem("gachaverse-reactor.json", true),
		gachaverse.WithGachaSystem("gachaverse-gacha.json", true),
		gachaverse.WithCollectionSystem("gachaverse-collection.json", true),
		gachaverse.WithTradeSystem("gachaverse-trades.json", true),
		gachaverse.WithClaimSystem("gachaverse-claims.json", true),
	); err != nil {
		logger.Error("Failed to initialize GachaVerse systems: %v", err)
		return err
	}

	logger.Info("GachaVerse Nakama plugin loaded in '%d' msec.", time.Now().Sub(initStart).Milliseconds())
	return nil
}

// main is unused; Nakama loads this module as a plugin via InitModule.
func main() {}
