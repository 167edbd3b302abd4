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

// loadAcknowledgments finds tapbacks pointing at the batch and attaches them
// to the sub-items they target. Items are substituted by value; the caller's
// originals are never mutated.
//
// Batches containing no acknowledgable sub-item short-circuit without any
// store round trip.
func (in *Ingestor) loadAcknowledgments(ctx context.Context, items []ChatItem, transfers map[string]chatdb.AttachmentRecord) ([]ChatItem, error) {
	var targets []string
	targetOwner := make(map[string]int)
	for i, item := range items {
		msg, ok := item.(Message)
		if !ok {
			continue
		}
		for _, id := range msg.AssociableItemIDs() {
			targets = append(targets, id)
			targetOwner[id] = i
		}
	}
	if len(targets) == 0 {
		return items, nil
	}

	assoc, err := in.Store.AssociatedMessageGUIDs(ctx, targets)
	if err != nil {
		return nil, in.classify(ctx, err, "acknowledgment lookup")
	}
	if len(assoc) == 0 {
		return items, nil
	}

	var sourceGUIDs []string
	seen := make(map[string]bool)
	for _, guids := range assoc {
		for _, guid := range guids {
			if !seen[guid] {
				seen[guid] = true
				sourceGUIDs = append(sourceGUIDs, guid)
			}
		}
	}

	acks, err := in.ingestAcknowledgmentSources(ctx, sourceGUIDs, transfers)
	if err != nil {
		return nil, err
	}
	if len(acks) == 0 {
		return items, nil
	}

	byTarget := make(map[string][]AcknowledgmentChatItem)
	for _, ack := range acks {
		byTarget[ack.AssociatedID] = append(byTarget[ack.AssociatedID], ack)
	}

	for target, targetAcks := range byTarget {
		idx, ok := targetOwner[target]
		if !ok {
			continue
		}
		msg := items[idx].(Message)
		if updated, attached := msg.WithAcknowledgmentsFor(target, targetAcks); attached {
			items[idx] = updated
		}
	}
	return items, nil
}

// ingestAcknowledgmentSources runs the tapback source rows through the full
// conversion pipeline (they need chat and sender resolution like any other
// row) and keeps the acknowledgment items. Tapbacks cannot target other
// tapbacks, so this never recurses.
func (in *Ingestor) ingestAcknowledgmentSources(ctx context.Context, guids []string, transfers map[string]chatdb.AttachmentRecord) ([]AcknowledgmentChatItem, error) {
	rows, err := in.Store.Messages(ctx, guids)
	if err != nil {
		return nil, in.classify(ctx, err, "acknowledgment load")
	}
	raws := make([]RawItem, len(rows))
	for i, row := range rows {
		raws[i] = RawItemFromRow(row)
	}
	if err = in.resolveChatIDs(ctx, raws); err != nil {
		return nil, err
	}
	converted, err := in.convertAll(ctx, raws, transfers)
	if err != nil {
		return nil, err
	}
	var acks []AcknowledgmentChatItem
	for _, item := range converted {
		if ack, ok := item.(AcknowledgmentChatItem); ok {
			acks = append(acks, ack)
		}
	}
	return acks, nil
}
