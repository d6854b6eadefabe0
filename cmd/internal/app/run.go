package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// Run loads configuration, wires the service and blocks until SIGINT/SIGTERM
// or a fatal server error. cmd/splitbill is its only caller.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
