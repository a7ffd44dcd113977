// cmd/mock-orchestrator — 本地开发用 mock 编排器入口。
package main

import (
	"github.com/multi-agent/go-console-v2/internal/config"
	"github.com/multi-agent/go-console-v2/internal/devserver"
	"github.com/multi-agent/go-console-v2/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	srv := devserver.NewServer(cfg)
	if err := srv.Run(); err != nil {
		logger.Fatal("mock orchestrator failed", logger.Any(logger.FieldError, err))
	}
}
