// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"time"
)

// ItemKind names each chat-item variant on the wire.
type ItemKind string

const (
	KindMessage           ItemKind = "message"
	KindText              ItemKind = "text"
	KindAttachment        ItemKind = "attachment"
	KindAcknowledgment    ItemKind = "acknowledgment"
	KindGroupAction       ItemKind = "groupAction"
	KindGroupTitle        ItemKind = "groupTitle"
	KindParticipantChange ItemKind = "participantChange"
	KindTyping            ItemKind = "typing"
	KindDate              ItemKind = "date"
	KindSender            ItemKind = "sender"
	KindStatus            ItemKind = "status"
)

// ChatItem is any typed item a transcript can contain.
type ChatItem interface {
	ItemID() string
	ItemChatID() string
	ItemFromMe() bool
	ItemTime() time.Time
	ItemKind() ItemKind
}

// Acknowledgable is implemented by items that tapbacks can point at. The
// associable IDs are the compound identifiers a tapback row stores as its
// target; WithAcknowledgments returns a copy carrying the given tapbacks.
type Acknowledgable interface {
	ChatItem
	AssociableItemIDs() []string
	WithAcknowledgments(acks []AcknowledgmentChatItem) ChatItem
}

// ItemBase carries the fields shared by every item variant. Thread and
// ThreadPart together name the message part this item replies to.
type ItemBase struct {
	ID         string       `json:"id"`
	ChatID     string       `json:"chat_id"`
	FromMe     bool         `json:"from_me"`
	Time       time.Time    `json:"time"`
	Thread     string       `json:"thread,omitempty"`
	ThreadPart string       `json:"thread_part,omitempty"`
	Sender     string       `json:"sender,omitempty"`
	Svc        ServiceStyle `json:"service,omitempty"`
}

func (b ItemBase) ItemID() string       { return b.ID }
func (b ItemBase) ItemChatID() string   { return b.ChatID }
func (b ItemBase) ItemFromMe() bool     { return b.FromMe }
func (b ItemBase) ItemTime() time.Time  { return b.Time }
func (b ItemBase) Service() ServiceStyle { return b.Svc }

// GroupActionType distinguishes member joins from leaves.
type GroupActionType int

const (
	GroupActionJoin  GroupActionType = 0
	GroupActionLeave GroupActionType = 1
)

// GroupActionChatItem records a participant joining or leaving a group chat.
type GroupActionChatItem struct {
	ItemBase
	ActionType GroupActionType `json:"action_type"`
	Target     string          `json:"target,omitempty"`
}

func (GroupActionChatItem) ItemKind() ItemKind { return KindGroupAction }

// GroupTitleChatItem records a group rename.
type GroupTitleChatItem struct {
	ItemBase
	Title string `json:"title"`
}

func (GroupTitleChatItem) ItemKind() ItemKind { return KindGroupTitle }

// ParticipantChangeChatItem records a participant set change that is not a
// plain join or leave (e.g. a forced removal).
type ParticipantChangeChatItem struct {
	ItemBase
	Initiator string `json:"initiator,omitempty"`
	Target    string `json:"target,omitempty"`
}

func (ParticipantChangeChatItem) ItemKind() ItemKind { return KindParticipantChange }

// TypingChatItem is a transient typing indicator.
type TypingChatItem struct {
	ItemBase
	Typing bool `json:"typing"`
}

func (TypingChatItem) ItemKind() ItemKind { return KindTyping }

// DateChatItem is a transcript date separator.
type DateChatItem struct {
	ItemBase
}

func (DateChatItem) ItemKind() ItemKind { return KindDate }

// SenderChatItem is a transcript sender separator.
type SenderChatItem struct {
	ItemBase
	Handle string `json:"handle"`
}

func (SenderChatItem) ItemKind() ItemKind { return KindSender }

// StatusType enumerates delivery-status transitions.
type StatusType int

const (
	StatusDelivered    StatusType = 1
	StatusRead         StatusType = 2
	StatusPlayed       StatusType = 3
	StatusKept         StatusType = 4
	StatusNotDelivered StatusType = 7
)

func (s StatusType) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusPlayed:
		return "played"
	case StatusKept:
		return "kept"
	case StatusNotDelivered:
		return "notDelivered"
	default:
		return "unknown"
	}
}

// StatusChatItem records a delivery-status transition for a message.
type StatusChatItem struct {
	ItemBase
	StatusType StatusType `json:"status_type"`
	ItemGUID   string     `json:"item_guid"`
}

func (StatusChatItem) ItemKind() ItemKind { return KindStatus }
