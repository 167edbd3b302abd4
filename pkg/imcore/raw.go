// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"strings"
	"time"

	"github.com/lrhodin/imcore/pkg/chatdb"
	"github.com/lrhodin/imcore/pkg/richtext"
)

// RawKind names the untyped variants the store can hand us.
type RawKind string

const (
	RawKindMessage           RawKind = "message"
	RawKindAcknowledgment    RawKind = "acknowledgment"
	RawKindGroupAction       RawKind = "groupAction"
	RawKindGroupTitle        RawKind = "groupTitle"
	RawKindParticipantChange RawKind = "participantChange"
	RawKindTyping            RawKind = "typing"
	RawKindDate              RawKind = "date"
	RawKindSender            RawKind = "sender"
	RawKindStatus            RawKind = "status"
)

// RawPartKind names the variants of a raw body part.
type RawPartKind string

const (
	RawPartText       RawPartKind = "text"
	RawPartAttachment RawPartKind = "attachment"
)

// RawPart is one untyped body part of a raw item.
type RawPart struct {
	Kind         RawPartKind
	Index        int
	Text         string
	TransferGUID string
	Attributes   []richtext.TextAttribute
}

// RawItem is a transcript item before typed conversion. ChatID is empty
// until resolution fills it in.
type RawItem struct {
	Kind    RawKind
	GUID    string
	ChatID  string
	FromMe  bool
	Time    time.Time
	Sender  string
	Service string

	ThreadGUID string
	ThreadPart string

	Subject           string
	Parts             []RawPart
	FileTransferGUIDs []string

	IsFinished  bool
	IsSent      bool
	IsDelivered bool
	IsRead      bool
	IsAudio     bool
	ErrorCode   int

	AssociatedGUID  string
	AssociationType int

	ActionType int
	TargetID   string
	NewTitle   string

	StatusKind StatusType
	StatusGUID string
}

// RawItemFromRow converts a store row into a raw item, classifying it by the
// row's item type and association type.
func RawItemFromRow(row chatdb.MessageRow) RawItem {
	item := RawItem{
		GUID:              row.GUID,
		ChatID:            row.ChatIdentifier,
		FromMe:            row.FromMe,
		Time:              row.Date,
		Sender:            row.Sender,
		Service:           row.Service,
		ThreadGUID:        row.ThreadOriginatorGUID,
		ThreadPart:        row.ThreadOriginatorPart,
		Subject:           row.Subject,
		FileTransferGUIDs: row.AttachmentGUIDs,
		IsFinished:        row.IsFinished,
		IsSent:            row.IsSent,
		IsDelivered:       row.IsDelivered,
		IsRead:            row.IsRead,
		IsAudio:           row.IsAudio,
		ErrorCode:         row.ErrorCode,
		AssociatedGUID:    row.AssociatedGUID,
		AssociationType:   row.AssociationType,
		ActionType:        row.GroupActionType,
		TargetID:          row.OtherHandle,
		NewTitle:          row.GroupTitle,
	}

	switch row.ItemType {
	case 1:
		item.Kind = RawKindGroupAction
	case 2:
		item.Kind = RawKindGroupTitle
	case 3:
		item.Kind = RawKindParticipantChange
	default:
		if IsAcknowledgment(row.AssociationType) {
			item.Kind = RawKindAcknowledgment
		} else {
			item.Kind = RawKindMessage
		}
	}

	item.Parts = bodyParts(row)
	return item
}

// bodyParts splits a row into ordered body parts. Attachments come first in
// join order, matching the object-replacement placeholders the text carries;
// remaining text forms a single trailing part.
func bodyParts(row chatdb.MessageRow) []RawPart {
	var parts []RawPart
	for _, guid := range row.AttachmentGUIDs {
		parts = append(parts, RawPart{
			Kind:         RawPartAttachment,
			Index:        len(parts),
			TransferGUID: guid,
		})
	}
	text := strings.Trim(row.Text, richtext.AttachmentPlaceholder)
	if text != "" {
		parts = append(parts, RawPart{
			Kind:  RawPartText,
			Index: len(parts),
			Text:  text,
		})
	}
	return parts
}
