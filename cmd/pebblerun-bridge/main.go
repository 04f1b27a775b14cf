package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/logger"
	"pebblerun-bridge/internal/service"
)

func main() {
	// 1. Load optional .env, then configuration
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. Initialize logging
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "pebblerun-bridge")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. Create the bridge service
	bridge, err := service.NewBridgeService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create bridge service", zap.Error(err))
	}
	defer bridge.Stop()

	// 4. Start with a cancellable context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bridge.Start(ctx); err != nil {
		log.Fatal("Failed to start bridge service", zap.Error(err))
	}

	// 5. Wait for a shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	cancel()
}
