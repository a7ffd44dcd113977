// cmd/migrate — 独立迁移入口 (CI / 部署前执行)。
package main

import (
	"context"
	"os"

	"github.com/multi-agent/go-console-v2/internal/config"
	"github.com/multi-agent/go-console-v2/internal/database"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	ctx := context.Background()
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Error("database init failed", logger.FieldError, err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	dir := "./migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := database.Migrate(ctx, pool, dir); err != nil {
		logger.Error("migration failed", logger.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("migrations up to date")
}
