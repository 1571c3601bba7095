package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"swing-systemv1/internal/logger"
	"swing-systemv1/internal/trendengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("trendengine", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	cfg := trendengine.LoadConfig()
	log.Printf("[trendengine] symbols: %v, snapshot interval: %ds", cfg.Symbols, cfg.SnapshotIntervalS)

	svc, err := trendengine.New(cfg)
	if err != nil {
		log.Fatalf("[trendengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[trendengine] fatal: %v", err)
	}
}
