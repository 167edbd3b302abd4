// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package chatdb reads the Messages chat.db SQLite database. All access is
// read-only; the database belongs to the Messages app and must never be
// written to while it is live.
package chatdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
)

// Database is a read-only handle to a chat.db file.
type Database struct {
	db  *dbutil.Database
	log zerolog.Logger
}

// Open opens the chat.db at path read-only.
func Open(path string, log zerolog.Logger) (*Database, error) {
	uri := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=3000", path)
	db, err := dbutil.NewWithDialect(uri, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}
	db.Log = dbutil.ZeroLogger(log.With().Str("db_section", "chatdb").Logger())
	return &Database{db: db, log: log}, nil
}

// NewWithDB wraps an existing database handle. Used by tests and by callers
// that manage the connection themselves.
func NewWithDB(db *dbutil.Database, log zerolog.Logger) *Database {
	return &Database{db: db, log: log}
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.RawDB.PingContext(ctx)
}

// SQLite has a limit on the number of bound variables. All IN queries are
// chunked to stay well under it.
const chunkSize = 500

func chunked(items []string, fn func(chunk []string) error) error {
	for i := 0; i < len(items); i += chunkSize {
		end := i + chunkSize
		if end > len(items) {
			end = len(items)
		}
		if err := fn(items[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(chunk []string) []any {
	out := make([]any, len(chunk))
	for i, s := range chunk {
		out[i] = s
	}
	return out
}

// RowIDs resolves message GUIDs to their ROWIDs in a single pass. GUIDs with
// no row are absent from the result.
func (d *Database) RowIDs(ctx context.Context, guids []string) (map[string]int64, error) {
	result := make(map[string]int64, len(guids))
	err := chunked(guids, func(chunk []string) error {
		query := fmt.Sprintf(
			`SELECT guid, ROWID FROM message WHERE guid IN (%s)`,
			placeholders(len(chunk)),
		)
		rows, err := d.db.Query(ctx, query, args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var guid string
			var rowID int64
			if err = rows.Scan(&guid, &rowID); err != nil {
				return err
			}
			result[guid] = rowID
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve message row IDs: %w", err)
	}
	return result, nil
}

// ChatRowIDs resolves chat identifiers to their chat ROWIDs. An identifier
// can map to several rows when the same conversation exists on more than one
// service.
func (d *Database) ChatRowIDs(ctx context.Context, chatIdentifiers []string) (map[string][]int64, error) {
	result := make(map[string][]int64, len(chatIdentifiers))
	err := chunked(chatIdentifiers, func(chunk []string) error {
		query := fmt.Sprintf(
			`SELECT chat_identifier, ROWID FROM chat WHERE chat_identifier IN (%s)`,
			placeholders(len(chunk)),
		)
		rows, err := d.db.Query(ctx, query, args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var chatID string
			var rowID int64
			if err = rows.Scan(&chatID, &rowID); err != nil {
				return err
			}
			result[chatID] = append(result[chatID], rowID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chat row IDs: %w", err)
	}
	return result, nil
}

// ChatIdentifier resolves a single message GUID to its chat identifier.
func (d *Database) ChatIdentifier(ctx context.Context, messageGUID string) (string, error) {
	resolved, err := d.ChatIdentifiers(ctx, []string{messageGUID})
	if err != nil {
		return "", err
	}
	return resolved[messageGUID], nil
}

// ChatIdentifiers resolves the chat identifier for each message GUID via the
// chat_message_join table. Messages not joined to any chat are absent from
// the result.
func (d *Database) ChatIdentifiers(ctx context.Context, guids []string) (map[string]string, error) {
	result := make(map[string]string, len(guids))
	err := chunked(guids, func(chunk []string) error {
		query := fmt.Sprintf(`
			SELECT message.guid, chat.chat_identifier
			FROM message
			JOIN chat_message_join ON chat_message_join.message_id = message.ROWID
			JOIN chat ON chat.ROWID = chat_message_join.chat_id
			WHERE message.guid IN (%s)
		`, placeholders(len(chunk)))
		rows, err := d.db.Query(ctx, query, args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var guid, chatID string
			if err = rows.Scan(&guid, &chatID); err != nil {
				return err
			}
			result[guid] = chatID
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chat identifiers: %w", err)
	}
	return result, nil
}

// Attachments loads attachment records for the given transfer GUIDs. When the
// database row has no MIME type, the on-disk file is sniffed; sniff failures
// leave the type empty rather than failing the load.
func (d *Database) Attachments(ctx context.Context, guids []string) (map[string]AttachmentRecord, error) {
	result := make(map[string]AttachmentRecord, len(guids))
	err := chunked(guids, func(chunk []string) error {
		query := fmt.Sprintf(`
			SELECT guid, COALESCE(filename, ''), COALESCE(transfer_name, ''), COALESCE(mime_type, '')
			FROM attachment WHERE guid IN (%s)
		`, placeholders(len(chunk)))
		rows, err := d.db.Query(ctx, query, args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var record AttachmentRecord
			if err = rows.Scan(&record.GUID, &record.Path, &record.Filename, &record.MimeType); err != nil {
				return err
			}
			if record.MimeType == "" && record.Path != "" {
				if mime, err := mimetype.DetectFile(expandHome(record.Path)); err == nil {
					record.MimeType = mime.String()
				}
			}
			result[record.GUID] = record
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments: %w", err)
	}
	return result, nil
}

// AssociatedMessageGUIDs finds the GUIDs of messages whose association target
// is one of the given compound identifiers (e.g. "p:0/GUID"), keyed by
// target. This is how tapbacks pointing at a batch are discovered.
func (d *Database) AssociatedMessageGUIDs(ctx context.Context, targets []string) (map[string][]string, error) {
	result := make(map[string][]string)
	err := chunked(targets, func(chunk []string) error {
		query := fmt.Sprintf(`
			SELECT guid, associated_message_guid FROM message
			WHERE associated_message_guid IN (%s)
		`, placeholders(len(chunk)))
		rows, err := d.db.Query(ctx, query, args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var guid, target string
			if err = rows.Scan(&guid, &target); err != nil {
				return err
			}
			result[target] = append(result[target], guid)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query associated messages: %w", err)
	}
	return result, nil
}

const messageColumns = `
	message.ROWID, message.guid,
	COALESCE(handle.id, ''), message.is_from_me, message.date,
	COALESCE(message.service, ''), COALESCE(message.subject, ''), COALESCE(message.text, ''),
	message.item_type, message.group_action_type,
	COALESCE(message.group_title, ''), COALESCE(other_handle.id, ''),
	COALESCE(message.associated_message_guid, ''), COALESCE(message.associated_message_type, 0),
	message.is_finished, message.is_sent, message.is_delivered, message.is_read,
	message.is_audio_message, message.is_expirable, COALESCE(message.error, 0),
	COALESCE(message.thread_originator_guid, ''), COALESCE(message.thread_originator_part, '')
`

func scanMessage(rows dbutil.Scannable) (MessageRow, error) {
	var row MessageRow
	var date int64
	err := rows.Scan(
		&row.RowID, &row.GUID,
		&row.Sender, &row.FromMe, &date,
		&row.Service, &row.Subject, &row.Text,
		&row.ItemType, &row.GroupActionType,
		&row.GroupTitle, &row.OtherHandle,
		&row.AssociatedGUID, &row.AssociationType,
		&row.IsFinished, &row.IsSent, &row.IsDelivered, &row.IsRead,
		&row.IsAudio, &row.IsExpirable, &row.ErrorCode,
		&row.ThreadOriginatorGUID, &row.ThreadOriginatorPart,
	)
	row.Date = appleTime(date)
	return row, err
}

// Messages loads full message rows for the given GUIDs, including their chat
// identifier and attachment GUID lists. Row order follows the input GUID
// order; GUIDs with no row are skipped.
func (d *Database) Messages(ctx context.Context, guids []string) ([]MessageRow, error) {
	byGUID := make(map[string]*MessageRow, len(guids))
	err := chunked(guids, func(chunk []string) error {
		query := fmt.Sprintf(`
			SELECT `+messageColumns+`
			FROM message
			LEFT JOIN handle ON handle.ROWID = message.handle_id
			LEFT JOIN handle other_handle ON other_handle.ROWID = message.other_handle
			WHERE message.guid IN (%s)
		`, placeholders(len(chunk)))
		rows, err := d.db.Query(ctx, query, args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			row, err := scanMessage(rows)
			if err != nil {
				return err
			}
			byGUID[row.GUID] = &row
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if len(byGUID) == 0 {
		return nil, nil
	}

	chatIDs, err := d.ChatIdentifiers(ctx, guids)
	if err != nil {
		return nil, err
	}
	if err = d.fillAttachmentGUIDs(ctx, byGUID); err != nil {
		return nil, err
	}

	result := make([]MessageRow, 0, len(byGUID))
	for _, guid := range guids {
		row, ok := byGUID[guid]
		if !ok {
			continue
		}
		row.ChatIdentifier = chatIDs[guid]
		result = append(result, *row)
	}
	return result, nil
}

func (d *Database) fillAttachmentGUIDs(ctx context.Context, byGUID map[string]*MessageRow) error {
	guids := make([]string, 0, len(byGUID))
	for guid := range byGUID {
		guids = append(guids, guid)
	}
	return chunked(guids, func(chunk []string) error {
		query := fmt.Sprintf(`
			SELECT message.guid, attachment.guid
			FROM message_attachment_join
			JOIN message ON message.ROWID = message_attachment_join.message_id
			JOIN attachment ON attachment.ROWID = message_attachment_join.attachment_id
			WHERE message.guid IN (%s)
			ORDER BY message_attachment_join.attachment_id
		`, placeholders(len(chunk)))
		rows, err := d.db.Query(ctx, query, args(chunk)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var messageGUID, attachmentGUID string
			if err = rows.Scan(&messageGUID, &attachmentGUID); err != nil {
				return err
			}
			if row := byGUID[messageGUID]; row != nil {
				row.AttachmentGUIDs = append(row.AttachmentGUIDs, attachmentGUID)
			}
		}
		return rows.Err()
	})
}

// NewestMessageGUIDs returns the GUIDs of the newest limit messages in a
// chat, oldest first.
func (d *Database) NewestMessageGUIDs(ctx context.Context, chatIdentifier string, limit int) ([]string, error) {
	rows, err := d.db.Query(ctx, `
		SELECT guid FROM (
			SELECT message.guid AS guid, message.date AS date
			FROM message
			JOIN chat_message_join ON chat_message_join.message_id = message.ROWID
			JOIN chat ON chat.ROWID = chat_message_join.chat_id
			WHERE chat.chat_identifier = $1
			ORDER BY message.date DESC
			LIMIT $2
		) ORDER BY date ASC
	`, chatIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query newest messages: %w", err)
	}
	defer rows.Close()
	var guids []string
	for rows.Next() {
		var guid string
		if err = rows.Scan(&guid); err != nil {
			return nil, err
		}
		guids = append(guids, guid)
	}
	return guids, rows.Err()
}

// expandHome resolves the leading ~ used by attachment paths in chat.db.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

// RecentChats returns the chats with the most recent activity, newest first.
func (d *Database) RecentChats(ctx context.Context, limit int) ([]ChatRow, error) {
	rows, err := d.db.Query(ctx, `
		SELECT chat.ROWID, chat.guid, chat.chat_identifier,
		       COALESCE(chat.service_name, ''), COALESCE(chat.display_name, ''),
		       COALESCE(MAX(message.date), 0)
		FROM chat
		LEFT JOIN chat_message_join ON chat_message_join.chat_id = chat.ROWID
		LEFT JOIN message ON message.ROWID = chat_message_join.message_id
		GROUP BY chat.ROWID
		ORDER BY MAX(message.date) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent chats: %w", err)
	}
	defer rows.Close()
	var chats []ChatRow
	for rows.Next() {
		var chat ChatRow
		var lastMessage int64
		if err = rows.Scan(&chat.RowID, &chat.GUID, &chat.ChatIdentifier, &chat.Service, &chat.DisplayName, &lastMessage); err != nil {
			return nil, err
		}
		chat.LastMessage = appleTime(lastMessage)
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// Chat returns the chat row for an identifier, or nil if the chat does not
// exist.
func (d *Database) Chat(ctx context.Context, chatIdentifier string) (*ChatRow, error) {
	var chat ChatRow
	err := d.db.QueryRow(ctx, `
		SELECT ROWID, guid, chat_identifier, COALESCE(service_name, ''), COALESCE(display_name, '')
		FROM chat WHERE chat_identifier = $1
	`, chatIdentifier).Scan(&chat.RowID, &chat.GUID, &chat.ChatIdentifier, &chat.Service, &chat.DisplayName)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	return &chat, nil
}

// LatestMessageRowID returns the highest message ROWID, used as the watch
// starting point.
func (d *Database) LatestMessageRowID(ctx context.Context) (int64, error) {
	var rowID int64
	err := d.db.QueryRow(ctx, `SELECT COALESCE(MAX(ROWID), 0) FROM message`).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest message row ID: %w", err)
	}
	return rowID, nil
}

// MessageGUIDsSince returns the GUIDs of messages sent at or after the given
// time, in send order. Used for time-based backfill windows.
func (d *Database) MessageGUIDsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := d.db.Query(ctx,
		`SELECT guid FROM message WHERE date >= $1 ORDER BY date ASC`, unixToApple(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages since %s: %w", since, err)
	}
	defer rows.Close()
	var guids []string
	for rows.Next() {
		var guid string
		if err = rows.Scan(&guid); err != nil {
			return nil, err
		}
		guids = append(guids, guid)
	}
	return guids, rows.Err()
}

// MessageGUIDsAfterRowID returns the GUIDs of messages inserted after the
// given ROWID, in insertion order.
func (d *Database) MessageGUIDsAfterRowID(ctx context.Context, rowID int64) ([]string, error) {
	rows, err := d.db.Query(ctx,
		`SELECT guid FROM message WHERE ROWID > $1 ORDER BY ROWID ASC`, rowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query new messages: %w", err)
	}
	defer rows.Close()
	var guids []string
	for rows.Next() {
		var guid string
		if err = rows.Scan(&guid); err != nil {
			return nil, err
		}
		guids = append(guids, guid)
	}
	return guids, rows.Err()
}
