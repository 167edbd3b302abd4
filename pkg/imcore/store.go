// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"context"

	"github.com/lrhodin/imcore/pkg/chatdb"
)

// Store is the read side of the message store. *chatdb.Database satisfies
// it; tests substitute fakes.
type Store interface {
	// Messages loads full rows for the given GUIDs in input order, skipping
	// GUIDs with no row.
	Messages(ctx context.Context, guids []string) ([]chatdb.MessageRow, error)
	// ChatIdentifiers resolves message GUIDs to chat identifiers.
	ChatIdentifiers(ctx context.Context, guids []string) (map[string]string, error)
	// Attachments loads file-transfer records by GUID.
	Attachments(ctx context.Context, guids []string) (map[string]chatdb.AttachmentRecord, error)
	// AssociatedMessageGUIDs finds messages whose association target is one of
	// the given compound identifiers, keyed by target.
	AssociatedMessageGUIDs(ctx context.Context, targets []string) (map[string][]string, error)
	// Chat returns the chat row for an identifier, or nil when absent.
	Chat(ctx context.Context, chatIdentifier string) (*chatdb.ChatRow, error)
}

var _ Store = (*chatdb.Database)(nil)
