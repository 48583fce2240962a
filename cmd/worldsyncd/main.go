// Command worldsyncd keeps NPC agent memory in sync with the world snapshot
// feed and answers NPC chat.
//
// It reads worldsync.yaml (or the directory given with -config) overlaid by
// WORLDSYNC_* environment variables and runs until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zero-day-ai/worldsync/config"
)

func main() {
	configPath := flag.String("config", "", "path to worldsync.yaml or a directory containing it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worldsyncd: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worldsyncd failed", "error", err)
		os.Exit(1)
	}
}
