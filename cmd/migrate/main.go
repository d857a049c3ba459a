package main

import (
	"context"
	"flag"
	"os"

	"cartsync/internal/config"
	"cartsync/internal/db"
	"cartsync/internal/migrate"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CARTSYNC_CONFIG"), "path to a YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger = logger.Named("migrate")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	switch cfg.StorageDriver {
	case "postgres":
		pool, err := db.ConnectPostgres(ctx, cfg.StorageDSN)
		if err != nil {
			logger.Fatal("connect db", zap.Error(err))
		}
		defer pool.Close()
		if err := migrate.Apply(ctx, pool); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
	default:
		sqlDB, err := db.OpenSQLite(ctx, cfg.StorageDSN)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		defer sqlDB.Close()
		if err := migrate.ApplySQLite(ctx, sqlDB); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
	}

	logger.Info("migrations applied", zap.String("driver", cfg.StorageDriver))
}
