package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"calltrack/internal/app"
	"calltrack/internal/config"
	"calltrack/internal/logging"
)

func main() {
	_ = godotenv.Load()
	log := logging.New()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
}
