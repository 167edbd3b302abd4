// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var chatsCommand = &cli.Command{
	Name:   "chats",
	Usage:  "List chats with recent activity",
	Before: prepareApp,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum number of chats to list",
			Value:   20,
		},
	},
	Action: listChats,
}

func listChats(ctx *cli.Context) error {
	db := getDatabase(ctx)
	defer db.Close()

	chats, err := db.RecentChats(ctx.Context, ctx.Int("limit"))
	if err != nil {
		return err
	}
	for _, chat := range chats {
		name := chat.DisplayName
		if name == "" {
			name = chat.ChatIdentifier
		}
		fmt.Printf("%-10s %-40s %s\n", chat.Service, name, chat.LastMessage.Format("2006-01-02 15:04"))
	}
	return nil
}
