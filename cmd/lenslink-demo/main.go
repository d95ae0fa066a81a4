package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lenslabs/lenslink-go/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := webhook.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := webhook.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	server, err := webhook.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}
	defer server.Shutdown()

	if err := server.Run(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
