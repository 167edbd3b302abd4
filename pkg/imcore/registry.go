// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"github.com/lrhodin/imcore/pkg/chatdb"
)

// Context carries the per-chat state a conversion needs: the resolved chat
// identifier, the chat's service, the local handle registry and the
// preloaded file-transfer records.
type Context struct {
	ChatID    string
	Service   ServiceStyle
	Handles   HandleRegistry
	Transfers map[string]chatdb.AttachmentRecord
}

// IngestFunc converts one raw item into its typed form. Returning false
// drops the item.
type IngestFunc func(raw RawItem, ctx Context) (ChatItem, bool)

// Registry maps raw kinds to their converters. A nil entry or a missing kind
// drops the item.
type Registry map[RawKind]IngestFunc

// Convert runs the registered converter for the item's kind.
func (r Registry) Convert(raw RawItem, ctx Context) (ChatItem, bool) {
	fn, ok := r[raw.Kind]
	if !ok || fn == nil {
		return nil, false
	}
	return fn(raw, ctx)
}

// DefaultRegistry converts every raw kind the store produces.
func DefaultRegistry() Registry {
	return Registry{
		RawKindMessage:           ingestMessage,
		RawKindAcknowledgment:    ingestAcknowledgment,
		RawKindGroupAction:       ingestGroupAction,
		RawKindGroupTitle:        ingestGroupTitle,
		RawKindParticipantChange: ingestParticipantChange,
		RawKindTyping:            ingestTyping,
		RawKindDate:              ingestDate,
		RawKindSender:            ingestSender,
		RawKindStatus:            ingestStatus,
	}
}

// baseFor stamps the shared fields, resolving service and sender in the
// process.
func baseFor(raw RawItem, ctx Context) ItemBase {
	service := ResolveService(raw.Service, raw.AssociationType, ctx.Service)
	return ItemBase{
		ID:         raw.GUID,
		ChatID:     ctx.ChatID,
		FromMe:     raw.FromMe,
		Time:       raw.Time,
		Thread:     raw.ThreadGUID,
		ThreadPart: raw.ThreadPart,
		Sender:     ResolveSenderHandle(raw.Sender, raw.FromMe, service, ctx.Handles),
		Svc:        service,
	}
}

func ingestMessage(raw RawItem, ctx Context) (ChatItem, bool) {
	base := baseFor(raw, ctx)
	msg := Message{
		ItemBase:    base,
		Subject:     raw.Subject,
		IsFinished:  raw.IsFinished,
		IsSent:      raw.IsSent,
		IsDelivered: raw.IsDelivered,
		IsRead:      raw.IsRead,
		IsAudio:     raw.IsAudio,
		ErrorCode:   raw.ErrorCode,
	}
	for _, part := range raw.Parts {
		switch part.Kind {
		case RawPartText:
			msg.Items = append(msg.Items, TextChatItem{
				ItemBase: base,
				Text:     part.Text,
				Subject:  raw.Subject,
				Part:     part.Index,
			})
		case RawPartAttachment:
			item := AttachmentChatItem{
				ItemBase:     base,
				TransferGUID: part.TransferGUID,
				Part:         part.Index,
			}
			if record, ok := ctx.Transfers[part.TransferGUID]; ok {
				item.Filename = record.Filename
				item.MimeType = record.MimeType
			}
			msg.Items = append(msg.Items, item)
		}
	}
	if len(msg.Items) == 0 {
		// A message with no convertible parts carries nothing for clients.
		return nil, false
	}
	return msg, true
}

func ingestAcknowledgment(raw RawItem, ctx Context) (ChatItem, bool) {
	if raw.AssociatedGUID == "" {
		return nil, false
	}
	return AcknowledgmentChatItem{
		ItemBase:           baseFor(raw, ctx),
		AcknowledgmentType: raw.AssociationType,
		AssociatedID:       raw.AssociatedGUID,
	}, true
}

func ingestGroupAction(raw RawItem, ctx Context) (ChatItem, bool) {
	return GroupActionChatItem{
		ItemBase:   baseFor(raw, ctx),
		ActionType: GroupActionType(raw.ActionType),
		Target:     raw.TargetID,
	}, true
}

func ingestGroupTitle(raw RawItem, ctx Context) (ChatItem, bool) {
	return GroupTitleChatItem{
		ItemBase: baseFor(raw, ctx),
		Title:    raw.NewTitle,
	}, true
}

func ingestParticipantChange(raw RawItem, ctx Context) (ChatItem, bool) {
	return ParticipantChangeChatItem{
		ItemBase:  baseFor(raw, ctx),
		Initiator: raw.Sender,
		Target:    raw.TargetID,
	}, true
}

func ingestTyping(raw RawItem, ctx Context) (ChatItem, bool) {
	return TypingChatItem{
		ItemBase: baseFor(raw, ctx),
		Typing:   true,
	}, true
}

func ingestDate(raw RawItem, ctx Context) (ChatItem, bool) {
	if raw.Time.IsZero() {
		return nil, false
	}
	return DateChatItem{ItemBase: baseFor(raw, ctx)}, true
}

func ingestSender(raw RawItem, ctx Context) (ChatItem, bool) {
	base := baseFor(raw, ctx)
	if base.Sender == "" {
		return nil, false
	}
	return SenderChatItem{ItemBase: base, Handle: base.Sender}, true
}

func ingestStatus(raw RawItem, ctx Context) (ChatItem, bool) {
	if raw.StatusGUID == "" {
		return nil, false
	}
	return StatusChatItem{
		ItemBase:   baseFor(raw, ctx),
		StatusType: raw.StatusKind,
		ItemGUID:   raw.StatusGUID,
	}, true
}
