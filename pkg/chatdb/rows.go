// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chatdb

import (
	"time"
)

// MessageRow is one row of the message table, joined with the sender handle
// and the attachment join table. Dates are already converted from the Apple
// epoch.
type MessageRow struct {
	RowID          int64
	GUID           string
	ChatIdentifier string
	Sender         string
	FromMe         bool
	Date           time.Time
	Service        string
	Subject        string
	Text           string

	// item_type distinguishes regular messages (0) from group actions (1),
	// group renames (2) and other transcript rows.
	ItemType        int
	GroupActionType int
	GroupTitle      string
	OtherHandle     string

	AssociatedGUID  string
	AssociationType int

	AttachmentGUIDs []string

	IsFinished  bool
	IsSent      bool
	IsDelivered bool
	IsRead      bool
	IsAudio     bool
	IsExpirable bool
	ErrorCode   int

	ThreadOriginatorGUID string
	ThreadOriginatorPart string
}

// AttachmentRecord is one row of the attachment table. Path is the on-disk
// location (transfer file), Filename the user-visible transfer name.
type AttachmentRecord struct {
	GUID     string
	Path     string
	Filename string
	MimeType string
}

// ChatRow is one row of the chat table.
type ChatRow struct {
	RowID          int64
	GUID           string
	ChatIdentifier string
	Service        string
	DisplayName    string
	LastMessage    time.Time
}

// appleEpochUnix is the Unix timestamp of 2001-01-01T00:00:00Z, the zero
// point of chat.db date columns.
const appleEpochUnix = 978307200

// appleTime converts a chat.db date column value to a time.Time. Modern
// databases store nanoseconds since the Apple epoch; rows migrated from
// pre-High-Sierra installs store whole seconds, detected by magnitude.
func appleTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if v < 1e12 {
		// Legacy row: seconds since the Apple epoch.
		return time.Unix(v+appleEpochUnix, 0)
	}
	return time.Unix(v/1e9+appleEpochUnix, v%1e9)
}

// unixToApple converts a time.Time back to a nanosecond Apple-epoch value,
// used for range queries against date columns.
func unixToApple(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return (t.Unix()-appleEpochUnix)*1e9 + int64(t.Nanosecond())
}
