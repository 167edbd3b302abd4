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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lrhodin/imcore/pkg/chatdb"
	"github.com/lrhodin/imcore/pkg/imcore"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyDatabase
	contextKeyIngestor
	contextKeyLogger
)

func getConfig(ctx *cli.Context) *imcore.Config {
	return ctx.Context.Value(contextKeyConfig).(*imcore.Config)
}

func getDatabase(ctx *cli.Context) *chatdb.Database {
	return ctx.Context.Value(contextKeyDatabase).(*chatdb.Database)
}

func getIngestor(ctx *cli.Context) *imcore.Ingestor {
	return ctx.Context.Value(contextKeyIngestor).(*imcore.Ingestor)
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(zerolog.Logger)
}

func getConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "imctl", "config.yaml")
}

func prepareApp(ctx *cli.Context) error {
	cfg, err := imcore.LoadConfig(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if ctx.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(level)

	dbPath := cfg.ChatDBPath
	if override := ctx.String("db"); override != "" {
		dbPath = override
	}
	db, err := chatdb.Open(dbPath, log)
	if err != nil {
		return err
	}
	if err = db.Ping(ctx.Context); err != nil {
		return fmt.Errorf("chat database is not readable: %w", err)
	}

	ingestor := imcore.NewIngestor(db, cfg.HandleRegistry(), log)
	ingestor.Timeout = time.Duration(cfg.Ingest.Timeout)

	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyDatabase, db)
	newCtx = context.WithValue(newCtx, contextKeyIngestor, ingestor)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	ctx.Context = newCtx
	return nil
}

func main() {
	app := &cli.App{
		Name:    "imctl",
		Usage:   "Inspect and ingest Messages chat.db transcripts",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: getConfigPath(),
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Override the chat.db path from the config",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			chatsCommand,
			ingestCommand,
			watchCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
