// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/lrhodin/imcore/pkg/chatdb"
)

var watchCommand = &cli.Command{
	Name:   "watch",
	Usage:  "Follow the chat database and print new chat items as they arrive",
	Before: prepareApp,
	Action: runWatch,
}

func runWatch(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	db := getDatabase(ctx)
	defer db.Close()
	log := getLogger(ctx)
	ingestor := getIngestor(ctx)

	dbPath := cfg.ChatDBPath
	if override := ctx.String("db"); override != "" {
		dbPath = override
	}

	watchCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := chatdb.NewWatcher(db, dbPath, log)
	err := watcher.Watch(watchCtx, func(ctx context.Context, guids []string) {
		items, err := ingestor.Ingest(ctx, guids)
		if err != nil {
			log.Err(err).Msg("Failed to ingest new messages")
			return
		}
		if err = printItems(items); err != nil {
			log.Err(err).Msg("Failed to print items")
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
