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
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lrhodin/imcore/pkg/chatdb"
)

// Ingestor turns store rows into typed chat items: it resolves chat
// identifiers, preloads file transfers, converts through the registry and
// correlates tapbacks. All dependencies are injected; the zero Timeout means
// no deadline.
type Ingestor struct {
	Store    Store
	Registry Registry
	Handles  HandleRegistry
	Log      zerolog.Logger
	Timeout  time.Duration
}

// NewIngestor builds an ingestor with the default registry.
func NewIngestor(store Store, handles HandleRegistry, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		Store:    store,
		Registry: DefaultRegistry(),
		Handles:  handles,
		Log:      log.With().Str("component", "ingestor").Logger(),
	}
}

// Ingest loads the given message GUIDs from the store and converts them.
// The result preserves input order; GUIDs with no row and rows no converter
// accepts are dropped.
func (in *Ingestor) Ingest(ctx context.Context, guids []string) ([]ChatItem, error) {
	if len(guids) == 0 {
		return nil, nil
	}
	ctx, cancel := in.deadline(ctx)
	defer cancel()

	rows, err := in.Store.Messages(ctx, guids)
	if err != nil {
		return nil, in.classify(ctx, err, "message load")
	}
	raws := make([]RawItem, len(rows))
	for i, row := range rows {
		raws[i] = RawItemFromRow(row)
	}
	return in.ingestRaw(ctx, raws)
}

// IngestRaw converts raw items that arrived outside the store, e.g. from a
// push payload. Items missing a chat identifier are resolved in one batch.
func (in *Ingestor) IngestRaw(ctx context.Context, raws []RawItem) ([]ChatItem, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	ctx, cancel := in.deadline(ctx)
	defer cancel()
	return in.ingestRaw(ctx, raws)
}

func (in *Ingestor) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if in.Timeout > 0 {
		return context.WithTimeout(ctx, in.Timeout)
	}
	return context.WithCancel(ctx)
}

func (in *Ingestor) ingestRaw(ctx context.Context, raws []RawItem) ([]ChatItem, error) {
	if err := in.resolveChatIDs(ctx, raws); err != nil {
		return nil, err
	}
	transfers := in.preloadTransfers(ctx, raws)

	items, err := in.convertAll(ctx, raws, transfers)
	if err != nil {
		return nil, err
	}
	return in.loadAcknowledgments(ctx, items, transfers)
}

// resolveChatIDs fills in missing chat identifiers with one batched store
// query. Items the store cannot place stay unresolved and are dropped during
// conversion.
func (in *Ingestor) resolveChatIDs(ctx context.Context, raws []RawItem) error {
	var unresolved []string
	for _, raw := range raws {
		if raw.ChatID == "" {
			unresolved = append(unresolved, raw.GUID)
		}
	}
	if len(unresolved) == 0 {
		return nil
	}
	resolved, err := in.Store.ChatIdentifiers(ctx, unresolved)
	if err != nil {
		if ctx.Err() != nil {
			return in.classify(ctx, err, "chat resolution")
		}
		// The rest of the batch is still convertible: the affected items
		// stay unresolved and are dropped, not the whole call.
		in.Log.Warn().Err(err).Int("count", len(unresolved)).
			Msg("Failed to resolve chat identifiers")
		return nil
	}
	for i := range raws {
		if raws[i].ChatID == "" {
			raws[i].ChatID = resolved[raws[i].GUID]
		}
	}
	return nil
}

// preloadTransfers loads every file-transfer record the batch references in
// one query, so conversion never touches the store per item. A preload
// failure never fails the call: the attachments just stay unresolved
// placeholders.
func (in *Ingestor) preloadTransfers(ctx context.Context, raws []RawItem) map[string]chatdb.AttachmentRecord {
	var guids []string
	seen := make(map[string]bool)
	for _, raw := range raws {
		for _, guid := range raw.FileTransferGUIDs {
			if !seen[guid] {
				seen[guid] = true
				guids = append(guids, guid)
			}
		}
	}
	if len(guids) == 0 {
		return nil
	}
	records, err := in.Store.Attachments(ctx, guids)
	if err != nil {
		in.Log.Warn().Err(err).Int("count", len(guids)).
			Msg("Failed to preload file transfers")
		return nil
	}
	return records
}

type indexedRaw struct {
	index int
	raw   RawItem
}

type indexedItem struct {
	index int
	item  ChatItem
}

// convertAll converts the batch, preserving input order. A uniform batch
// (every item in the same chat) converts in one pass; a mixed batch fans out
// one goroutine per chat partition and merges by original index.
func (in *Ingestor) convertAll(ctx context.Context, raws []RawItem, transfers map[string]chatdb.AttachmentRecord) ([]ChatItem, error) {
	partitions := make(map[string][]indexedRaw)
	for i, raw := range raws {
		if raw.ChatID == "" {
			in.Log.Debug().Str("guid", raw.GUID).Msg("Dropping item with unresolvable chat")
			continue
		}
		partitions[raw.ChatID] = append(partitions[raw.ChatID], indexedRaw{index: i, raw: raw})
	}
	if len(partitions) == 0 {
		return nil, nil
	}

	var out []indexedItem
	if len(partitions) == 1 {
		for chatID, part := range partitions {
			converted, err := in.convertPartition(ctx, chatID, part, transfers)
			if err != nil {
				return nil, err
			}
			out = converted
		}
	} else {
		results := make(chan []indexedItem, len(partitions))
		group, gctx := errgroup.WithContext(ctx)
		for chatID, part := range partitions {
			chatID, part := chatID, part
			group.Go(func() error {
				converted, err := in.convertPartition(gctx, chatID, part, transfers)
				if err != nil {
					return err
				}
				results <- converted
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		close(results)
		for converted := range results {
			out = append(out, converted...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	items := make([]ChatItem, len(out))
	for i, entry := range out {
		items[i] = entry.item
	}
	return items, nil
}

func (in *Ingestor) convertPartition(ctx context.Context, chatID string, part []indexedRaw, transfers map[string]chatdb.AttachmentRecord) ([]indexedItem, error) {
	service, err := in.chatServiceStyle(ctx, chatID)
	if err != nil {
		return nil, err
	}
	cctx := Context{
		ChatID:    chatID,
		Service:   service,
		Handles:   in.Handles,
		Transfers: transfers,
	}
	out := make([]indexedItem, 0, len(part))
	for _, entry := range part {
		item, ok := in.Registry.Convert(entry.raw, cctx)
		if !ok {
			in.Log.Debug().Str("guid", entry.raw.GUID).Str("kind", string(entry.raw.Kind)).
				Msg("Dropping item no converter accepted")
			continue
		}
		out = append(out, indexedItem{index: entry.index, item: item})
	}
	return out, nil
}

func (in *Ingestor) chatServiceStyle(ctx context.Context, chatID string) (ServiceStyle, error) {
	chat, err := in.Store.Chat(ctx, chatID)
	if err != nil {
		return "", in.classify(ctx, err, "chat lookup")
	}
	if chat == nil {
		return "", nil
	}
	return ServiceStyle(chat.Service), nil
}

// classify maps store failures to API error codes, distinguishing deadline
// hits from genuine store trouble.
func (in *Ingestor) classify(ctx context.Context, err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout(op)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return ErrStoreUnavailable(err)
}
