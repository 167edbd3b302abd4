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
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchQuietWindow is how long the watcher waits after the last filesystem
// event before querying for new rows. Messages writes chat.db, chat.db-wal
// and chat.db-shm in quick bursts; coalescing avoids querying mid-write.
const watchQuietWindow = 500 * time.Millisecond

// Watcher observes a chat.db file for new message rows and delivers their
// GUIDs in insertion order.
type Watcher struct {
	db   *Database
	path string
	log  zerolog.Logger

	lastRowID int64
}

// NewWatcher creates a watcher for the chat.db at path. The database handle
// is used to query for new rows; path must be the same file.
func NewWatcher(db *Database, path string, log zerolog.Logger) *Watcher {
	return &Watcher{
		db:   db,
		path: path,
		log:  log.With().Str("component", "chatdb-watcher").Logger(),
	}
}

// Watch blocks until ctx is cancelled, calling deliver with each batch of new
// message GUIDs. Rows present before Watch starts are not delivered.
//
// The watch is placed on the containing directory rather than the file:
// SQLite in WAL mode writes to sibling files, and watching the file itself
// misses events after atomic replaces.
func (w *Watcher) Watch(ctx context.Context, deliver func(ctx context.Context, guids []string)) error {
	startRowID, err := w.db.LatestMessageRowID(ctx)
	if err != nil {
		return err
	}
	w.lastRowID = startRowID

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()
	if err = fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.Info().Int64("start_row_id", startRowID).Msg("Watching chat database for new messages")

	base := filepath.Base(w.path)
	var quiet *time.Timer
	var quietC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if quiet == nil {
				quiet = time.NewTimer(watchQuietWindow)
				quietC = quiet.C
			} else {
				quiet.Reset(watchQuietWindow)
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("Filesystem watch error")
		case <-quietC:
			quiet = nil
			quietC = nil
			if err := w.poll(ctx, deliver); err != nil {
				w.log.Err(err).Msg("Failed to poll for new messages")
			}
		}
	}
}

func (w *Watcher) poll(ctx context.Context, deliver func(ctx context.Context, guids []string)) error {
	guids, err := w.db.MessageGUIDsAfterRowID(ctx, w.lastRowID)
	if err != nil {
		return err
	}
	if len(guids) == 0 {
		return nil
	}
	rowIDs, err := w.db.RowIDs(ctx, guids)
	if err != nil {
		return err
	}
	for _, rowID := range rowIDs {
		if rowID > w.lastRowID {
			w.lastRowID = rowID
		}
	}
	w.log.Debug().Int("count", len(guids)).Int64("last_row_id", w.lastRowID).
		Msg("Delivering new messages from watch")
	deliver(ctx, guids)
	return nil
}
