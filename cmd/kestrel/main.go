package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kestrelmail/kestrel/internal/attachments"
	"github.com/kestrelmail/kestrel/internal/cache"
	"github.com/kestrelmail/kestrel/internal/config"
	"github.com/kestrelmail/kestrel/internal/credentials"
	"github.com/kestrelmail/kestrel/internal/engine"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, err := attachments.NewStore(cfg.AttachmentsDir, logger)
	if err != nil {
		logger.Error("failed to open attachment store", "error", err)
		os.Exit(1)
	}

	mailCache, err := cache.Open(cfg.CacheDir, logger)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer func() { _ = mailCache.Close() }()

	creds := credentials.NewKeyringProvider(cfg.DataDir)

	eng := engine.New(cfg.Account, store, mailCache, creds, logger)
	defer eng.Close()

	logger.Info("syncing inbox",
		"account", cfg.Account.Address, "environment", cfg.Environment)

	result, err := eng.FetchEmails("INBOX", cfg.FetchPageSize, 0, false, true)
	if err != nil {
		logger.Error("sync failed", "error", err)
		os.Exit(1)
	}

	source := "server"
	if result.FromCache {
		source = "cache"
	}
	fmt.Printf("Fetched %d messages in %d threads (from %s)\n",
		len(result.Emails), len(result.Threads), source)

	for _, t := range result.Threads {
		fmt.Printf("  %-50s  %d message(s)\n", t.RootEmail.Subject, len(t.Emails))
	}

	if err := mailCache.ClearOld(cfg.CacheMaxAgeDays); err != nil {
		logger.Warn("cache pruning failed", "error", err)
	}
	if err := store.Cleanup(cfg.CacheMaxAgeDays); err != nil {
		logger.Warn("attachment cleanup failed", "error", err)
	}
}
