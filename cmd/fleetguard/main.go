package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fleetguard/internal/config"
	"fleetguard/internal/logging"
	"fleetguard/internal/service"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "fleetguard.yaml", "path to the configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		log.Printf("created default config at %s", path)
	}

	mgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	svc, err := service.New(mgr, logger, version)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	cancel()
	svc.Stop()
	return nil
}
