package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tgeledger/config"
	"tgeledger/core"
	"tgeledger/integrations/exports"
	"tgeledger/integrations/indexer"
	"tgeledger/storage"
)

// runExport writes a holder snapshot and, when the indexer is enabled, the
// full notification history into dir.
func runExport(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	runtime, err := core.NewRuntime(db, core.WithLogger(logger))
	if err != nil {
		return err
	}
	if !runtime.Deployed() {
		return fmt.Errorf("no ledger deployed in %s", cfg.DataDir)
	}
	addrs, err := runtime.Holders()
	if err != nil {
		return err
	}
	holders := make([]exports.Holder, 0, len(addrs))
	for _, addr := range addrs {
		account, err := runtime.Account(addr)
		if err != nil {
			return err
		}
		holders = append(holders, exports.Holder{Address: addr, Account: account})
	}
	data, sum, err := exports.HoldersCSV(holders)
	if err != nil {
		return err
	}
	if err := writeFile(dir, "holders.csv", data); err != nil {
		return err
	}
	if err := exports.WriteHoldersParquet(filepath.Join(dir, "holders.parquet"), holders); err != nil {
		return err
	}
	logger.Info("holders exported", slog.Int("count", len(holders)), slog.String("sha256", sum))

	if !cfg.Indexer.Enabled {
		return nil
	}
	gormDB, err := indexer.Open(cfg.Indexer.DSN)
	if err != nil {
		return err
	}
	idx, err := indexer.New(gormDB, logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	var records []indexer.Record
	var after uint64
	for {
		page, err := idx.List(ctx, indexer.Filter{AfterSequence: after, Limit: 1000})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		records = append(records, page...)
		after = page[len(page)-1].Sequence
	}
	csvData, csvSum, err := exports.NotificationsCSV(records)
	if err != nil {
		return err
	}
	if err := writeFile(dir, "notifications.csv", csvData); err != nil {
		return err
	}
	jsonl, _, err := exports.NotificationsJSONL(records)
	if err != nil {
		return err
	}
	if err := writeFile(dir, "notifications.jsonl", jsonl); err != nil {
		return err
	}
	if err := exports.WriteNotificationsParquet(filepath.Join(dir, "notifications.parquet"), records); err != nil {
		return err
	}
	logger.Info("notifications exported", slog.Int("count", len(records)), slog.String("sha256", csvSum))
	return nil
}

func writeFile(dir, name string, data []byte) error {
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
