package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"
)

// version is set via ldflags during release builds.
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Flags win over config/env when provided by the user.
	var addr string
	if setFlags["addr"] {
		addr = addrVal
	}
	if setFlags["db"] {
		cfg.Storage.DBPath = dbVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	a, err := app.New(cfg, addr, version)
	if err != nil {
		shutdown.Abort("startup", err, cfg.Storage.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()
	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server", err, cfg.Storage.DBPath)
	}
}
