// Command microvisor boots the capability microvisor: it resolves
// configuration, opens the audit sink, mounts the initramfs into the VFS,
// and runs every agent it finds to completion. Grounded on the teacher's
// cmd/app/micro.go boot sequence (construct kernel, register every
// collaborator, start), generalized from its fixed actor/service wiring to
// the spec's config-driven policy and initramfs selection.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"microvisor/internal/config"
	"microvisor/internal/kernel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "microvisor:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("microvisor.toml", os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	ctx := context.Background()
	k, err := kernel.NewFromConfig(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to construct kernel: %w", err)
	}
	defer k.Close(ctx)

	f, err := os.Open(cfg.InitramfsPath)
	if err != nil {
		return fmt.Errorf("failed to open initramfs %s: %w", cfg.InitramfsPath, err)
	}
	defer f.Close()

	n, err := k.LoadInitramfs(f)
	if err != nil {
		return fmt.Errorf("failed to load initramfs: %w", err)
	}
	log.Info("initramfs mounted", "path", config.BaseName(cfg.InitramfsPath), "files", n)

	if err := k.Start(ctx); err != nil {
		return fmt.Errorf("agent launch loop failed: %w", err)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
