// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/lrhodin/imcore/pkg/imcore"
)

var ingestCommand = &cli.Command{
	Name:      "ingest",
	Usage:     "Convert messages into typed chat items and print them as JSON",
	ArgsUsage: "[GUID...]",
	Before:    prepareApp,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "chat",
			Aliases: []string{"c"},
			Usage:   "Ingest the newest messages of this chat instead of explicit GUIDs",
		},
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Number of messages to ingest with --chat",
			Value:   25,
		},
	},
	Action: runIngest,
}

func runIngest(ctx *cli.Context) error {
	db := getDatabase(ctx)
	defer db.Close()

	guids := ctx.Args().Slice()
	if chat := ctx.String("chat"); chat != "" {
		var err error
		guids, err = db.NewestMessageGUIDs(ctx.Context, chat, ctx.Int("limit"))
		if err != nil {
			return err
		}
	}
	if len(guids) == 0 {
		return fmt.Errorf("nothing to ingest: pass GUIDs or --chat")
	}

	items, err := getIngestor(ctx).Ingest(ctx.Context, guids)
	if err != nil {
		return err
	}
	return printItems(items)
}

// typedItem wraps a chat item with its kind for output.
type typedItem struct {
	Kind imcore.ItemKind `json:"kind"`
	Item imcore.ChatItem `json:"item"`
}

func printItems(items []imcore.ChatItem) error {
	out := make([]typedItem, len(items))
	for i, item := range items {
		out[i] = typedItem{Kind: item.ItemKind(), Item: item}
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
