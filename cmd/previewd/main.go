package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/previewd/previewd/internal/infrastructure/config"
	"github.com/previewd/previewd/internal/infrastructure/logging"
	"github.com/previewd/previewd/internal/server"
)

func main() {
	port := flag.Int("port", 0, "Listen port (overrides PREVIEWD_PORT)")
	host := flag.String("host", "", "Listen host (overrides PREVIEWD_HOST)")
	appsDir := flag.String("apps", "", "App catalog directory (overrides PREVIEWD_APPS_DIR)")
	workspaceDir := flag.String("workspace", "", "Register a workspace preview for this directory at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *appsDir != "" {
		cfg.Apps.Dir = *appsDir
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	if *workspaceDir != "" {
		name, err := srv.Workspace().RegisterWorkspace(*workspaceDir)
		if err != nil {
			logger.Fatal("Failed to register workspace", zap.Error(err))
		}
		logger.Info("Workspace preview available", zap.String("app", name))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutting down")
		if err := srv.Close(); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("Server error", zap.Error(err))
	}
}
