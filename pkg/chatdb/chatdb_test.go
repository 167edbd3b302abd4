// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
)

// testSchema is the minimal subset of the chat.db schema that the queries in
// this package touch.
const testSchema = `
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY,
	id TEXT NOT NULL
);
CREATE TABLE chat (
	ROWID INTEGER PRIMARY KEY,
	guid TEXT NOT NULL,
	chat_identifier TEXT NOT NULL,
	service_name TEXT,
	display_name TEXT
);
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY,
	guid TEXT NOT NULL,
	handle_id INTEGER NOT NULL DEFAULT 0,
	other_handle INTEGER NOT NULL DEFAULT 0,
	is_from_me INTEGER NOT NULL DEFAULT 0,
	date INTEGER NOT NULL DEFAULT 0,
	service TEXT,
	subject TEXT,
	text TEXT,
	item_type INTEGER NOT NULL DEFAULT 0,
	group_action_type INTEGER NOT NULL DEFAULT 0,
	group_title TEXT,
	associated_message_guid TEXT,
	associated_message_type INTEGER,
	is_finished INTEGER NOT NULL DEFAULT 1,
	is_sent INTEGER NOT NULL DEFAULT 0,
	is_delivered INTEGER NOT NULL DEFAULT 0,
	is_read INTEGER NOT NULL DEFAULT 0,
	is_audio_message INTEGER NOT NULL DEFAULT 0,
	is_expirable INTEGER NOT NULL DEFAULT 0,
	error INTEGER NOT NULL DEFAULT 0,
	thread_originator_guid TEXT,
	thread_originator_part TEXT
);
CREATE TABLE chat_message_join (
	chat_id INTEGER NOT NULL,
	message_id INTEGER NOT NULL
);
CREATE TABLE attachment (
	ROWID INTEGER PRIMARY KEY,
	guid TEXT NOT NULL,
	filename TEXT,
	transfer_name TEXT,
	mime_type TEXT
);
CREATE TABLE message_attachment_join (
	message_id INTEGER NOT NULL,
	attachment_id INTEGER NOT NULL
);
`

// appleNS converts a wall-clock time to the nanosecond Apple-epoch value the
// fixtures store.
func appleNS(t time.Time) int64 {
	return (t.Unix()-appleEpochUnix)*1e9 + int64(t.Nanosecond())
}

func newTestDB(t *testing.T) (*Database, *dbutil.Database) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	raw, err := dbutil.NewWithDialect("file:"+path+"?_busy_timeout=3000", "sqlite3")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	if _, err = raw.Exec(context.Background(), testSchema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return NewWithDB(raw, zerolog.Nop()), raw
}

func seedFixture(t *testing.T, raw *dbutil.Database) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO handle (ROWID, id) VALUES (1, '+15551234567'), (2, 'bob@example.com')`, nil},
		{`INSERT INTO chat (ROWID, guid, chat_identifier, service_name, display_name)
			VALUES (1, 'iMessage;-;+15551234567', '+15551234567', 'iMessage', ''),
			       (2, 'iMessage;+;chat12345', 'chat12345', 'iMessage', 'Lunch Crew')`, nil},
		{`INSERT INTO message (ROWID, guid, handle_id, is_from_me, date, service, text, is_delivered, is_sent)
			VALUES (1, 'MSG-1', 1, 0, ?, 'iMessage', 'hello', 1, 0)`, []any{appleNS(base)}},
		{`INSERT INTO message (ROWID, guid, handle_id, is_from_me, date, service, text, is_delivered, is_sent)
			VALUES (2, 'MSG-2', 0, 1, ?, 'iMessage', 'hi back', 1, 1)`, []any{appleNS(base.Add(time.Minute))}},
		{`INSERT INTO message (ROWID, guid, handle_id, is_from_me, date, service, text, associated_message_guid, associated_message_type)
			VALUES (3, 'TAPBACK-1', 1, 0, ?, 'iMessage', '', 'p:0/MSG-2', 2000)`, []any{appleNS(base.Add(2 * time.Minute))}},
		{`INSERT INTO message (ROWID, guid, handle_id, is_from_me, date, service, text)
			VALUES (4, 'MSG-3', 2, 0, ?, 'iMessage', 'photo attached')`, []any{appleNS(base.Add(3 * time.Minute))}},
		{`INSERT INTO chat_message_join (chat_id, message_id) VALUES (1, 1), (1, 2), (1, 3), (2, 4)`, nil},
		{`INSERT INTO attachment (ROWID, guid, filename, transfer_name, mime_type)
			VALUES (1, 'ATT-1', '', 'photo.jpeg', 'image/jpeg')`, nil},
		{`INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (4, 1)`, nil},
	}
	for _, stmt := range stmts {
		if _, err := raw.Exec(ctx, stmt.query, stmt.args...); err != nil {
			t.Fatalf("failed to seed fixture: %v", err)
		}
	}
}

func TestRowIDs(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	rowIDs, err := db.RowIDs(context.Background(), []string{"MSG-1", "MSG-3", "MSG-MISSING"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rowIDs) != 2 || rowIDs["MSG-1"] != 1 || rowIDs["MSG-3"] != 4 {
		t.Errorf("RowIDs = %v", rowIDs)
	}
}

func TestChatIdentifiers(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	chatIDs, err := db.ChatIdentifiers(context.Background(), []string{"MSG-1", "MSG-3"})
	if err != nil {
		t.Fatal(err)
	}
	if chatIDs["MSG-1"] != "+15551234567" || chatIDs["MSG-3"] != "chat12345" {
		t.Errorf("ChatIdentifiers = %v", chatIDs)
	}
}

func TestMessages(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	// Request order deliberately differs from insertion order.
	messages, err := db.Messages(context.Background(), []string{"MSG-3", "MSG-1", "MSG-MISSING"})
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(messages))
	}
	if messages[0].GUID != "MSG-3" || messages[1].GUID != "MSG-1" {
		t.Errorf("order = [%s %s], want [MSG-3 MSG-1]", messages[0].GUID, messages[1].GUID)
	}
	photo := messages[0]
	if photo.Sender != "bob@example.com" || photo.ChatIdentifier != "chat12345" {
		t.Errorf("MSG-3 = %+v", photo)
	}
	if len(photo.AttachmentGUIDs) != 1 || photo.AttachmentGUIDs[0] != "ATT-1" {
		t.Errorf("MSG-3 attachments = %v", photo.AttachmentGUIDs)
	}
	hello := messages[1]
	want := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if !hello.Date.Equal(want) {
		t.Errorf("MSG-1 date = %s, want %s", hello.Date, want)
	}
	if !hello.IsDelivered || hello.IsSent || hello.FromMe {
		t.Errorf("MSG-1 flags = %+v", hello)
	}
}

func TestAssociatedMessageGUIDs(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	assoc, err := db.AssociatedMessageGUIDs(context.Background(), []string{"p:0/MSG-2", "p:0/MSG-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(assoc) != 1 || len(assoc["p:0/MSG-2"]) != 1 || assoc["p:0/MSG-2"][0] != "TAPBACK-1" {
		t.Errorf("AssociatedMessageGUIDs = %v", assoc)
	}
}

func TestNewestMessageGUIDs(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	guids, err := db.NewestMessageGUIDs(context.Background(), "+15551234567", 2)
	if err != nil {
		t.Fatal(err)
	}
	// Newest two, oldest first.
	if len(guids) != 2 || guids[0] != "MSG-2" || guids[1] != "TAPBACK-1" {
		t.Errorf("NewestMessageGUIDs = %v", guids)
	}
}

func TestRecentChats(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	chats, err := db.RecentChats(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 || chats[0].ChatIdentifier != "chat12345" {
		t.Errorf("RecentChats = %+v", chats)
	}
	if chats[0].DisplayName != "Lunch Crew" {
		t.Errorf("display name = %q", chats[0].DisplayName)
	}
}

func TestChatLookup(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	chat, err := db.Chat(context.Background(), "chat12345")
	if err != nil {
		t.Fatal(err)
	}
	if chat == nil || chat.GUID != "iMessage;+;chat12345" {
		t.Errorf("Chat = %+v", chat)
	}
	missing, err := db.Chat(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("missing chat = %+v, want nil", missing)
	}
}

func TestWatchCursorQueries(t *testing.T) {
	db, raw := newTestDB(t)
	seedFixture(t, raw)
	ctx := context.Background()
	last, err := db.LatestMessageRowID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last != 4 {
		t.Errorf("LatestMessageRowID = %d, want 4", last)
	}
	guids, err := db.MessageGUIDsAfterRowID(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(guids) != 2 || guids[0] != "TAPBACK-1" || guids[1] != "MSG-3" {
		t.Errorf("MessageGUIDsAfterRowID = %v", guids)
	}
}

func TestAppleTime(t *testing.T) {
	if !appleTime(0).IsZero() {
		t.Error("appleTime(0) should be zero")
	}
	// Legacy second-resolution value.
	legacy := appleTime(700000000)
	if legacy.Unix() != 700000000+appleEpochUnix {
		t.Errorf("legacy conversion = %s", legacy)
	}
	// Round trip through the nanosecond form.
	now := time.Date(2024, 6, 1, 15, 4, 5, 123456789, time.UTC)
	if got := appleTime(unixToApple(now)); !got.Equal(now) {
		t.Errorf("round trip = %s, want %s", got, now)
	}
}
