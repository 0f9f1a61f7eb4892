// ====================================
// File: cmd/ledgerd/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"walletledger/internal/app"
	"walletledger/internal/config"
	"walletledger/internal/utils/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      7,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting wallet ledger daemon")

	runner, err := app.NewRunner(cfg, log.WithComponent("daemon"))
	if err != nil {
		log.Fatal("Failed to initialize ledger", zap.Error(err))
	}

	// transaction events arrive as NDJSON on stdin
	if err := runner.Run(context.Background(), os.Stdin); err != nil {
		log.Fatal("Ledger execution error", zap.Error(err))
	}
}
