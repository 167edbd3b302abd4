// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"fmt"

	"github.com/lrhodin/imcore/pkg/identifier"
)

// MessageFlags mirror the flag bits stamped on outgoing message records.
type MessageFlags int64

const (
	FlagFinished     MessageFlags = 0x1
	FlagFromMe       MessageFlags = 0x4
	FlagDelivered    MessageFlags = 0x1000
	FlagSent         MessageFlags = 0x8000
	FlagHasDDResults MessageFlags = 0x10000
	FlagDataDetected MessageFlags = 0x100000
	FlagAudioMessage MessageFlags = 0x200000
	FlagExpirable    MessageFlags = 0x1000000
)

// OutgoingMessageFlags is the flag set stamped on a freshly created outgoing
// message record.
const OutgoingMessageFlags = FlagFinished | FlagFromMe | FlagDelivered | FlagSent | FlagDataDetected

// SendProgress describes how far an outgoing message has gotten.
type SendProgress string

const (
	SendProgressNone      SendProgress = ""
	SendProgressSending   SendProgress = "sending"
	SendProgressSent      SendProgress = "sent"
	SendProgressDelivered SendProgress = "delivered"
	SendProgressFailed    SendProgress = "failed"
)

// TextChatItem is one text run of a message body, addressable as a tapback
// target through its part index.
type TextChatItem struct {
	ItemBase
	Text            string                   `json:"text"`
	Subject         string                   `json:"subject,omitempty"`
	Part            int                      `json:"part"`
	Acknowledgments []AcknowledgmentChatItem `json:"acknowledgments,omitempty"`
}

func (TextChatItem) ItemKind() ItemKind { return KindText }

func (t TextChatItem) AssociableItemIDs() []string {
	return []string{subPartID(t.Part, t.ID)}
}

func (t TextChatItem) WithAcknowledgments(acks []AcknowledgmentChatItem) ChatItem {
	t.Acknowledgments = append(t.Acknowledgments[:len(t.Acknowledgments):len(t.Acknowledgments)], acks...)
	return t
}

// AttachmentChatItem is one attachment of a message body.
type AttachmentChatItem struct {
	ItemBase
	TransferGUID    string                   `json:"transfer_guid"`
	Filename        string                   `json:"filename,omitempty"`
	MimeType        string                   `json:"mime_type,omitempty"`
	Part            int                      `json:"part"`
	Acknowledgments []AcknowledgmentChatItem `json:"acknowledgments,omitempty"`
}

func (AttachmentChatItem) ItemKind() ItemKind { return KindAttachment }

func (a AttachmentChatItem) AssociableItemIDs() []string {
	return []string{subPartID(a.Part, a.ID)}
}

func (a AttachmentChatItem) WithAcknowledgments(acks []AcknowledgmentChatItem) ChatItem {
	a.Acknowledgments = append(a.Acknowledgments[:len(a.Acknowledgments):len(a.Acknowledgments)], acks...)
	return a
}

// Acknowledgment types come in an add range and a matching remove range
// offset by 1000.
const (
	AckTypeAddLove    = 2000
	AckTypeAddLike    = 2001
	AckTypeAddDislike = 2002
	AckTypeAddLaugh   = 2003
	AckTypeAddEmphasize = 2004
	AckTypeAddQuestion  = 2005
	AckRemoveOffset     = 1000
)

// IsAcknowledgmentAdd reports whether an association type is in the tapback
// add range.
func IsAcknowledgmentAdd(associationType int) bool {
	return associationType >= AckTypeAddLove && associationType <= AckTypeAddQuestion
}

// IsAcknowledgmentRemove reports whether an association type is in the
// tapback remove range.
func IsAcknowledgmentRemove(associationType int) bool {
	return associationType >= AckTypeAddLove+AckRemoveOffset && associationType <= AckTypeAddQuestion+AckRemoveOffset
}

// IsAcknowledgment reports whether an association type denotes any tapback.
func IsAcknowledgment(associationType int) bool {
	return IsAcknowledgmentAdd(associationType) || IsAcknowledgmentRemove(associationType)
}

// AcknowledgmentChatItem is a tapback: an add or remove of a reaction on one
// part of another message.
type AcknowledgmentChatItem struct {
	ItemBase
	AcknowledgmentType int    `json:"acknowledgment_type"`
	AssociatedID       string `json:"associated_id"`
}

func (AcknowledgmentChatItem) ItemKind() ItemKind { return KindAcknowledgment }

// Message is the composite chat item: a sender, delivery state, and an
// ordered list of typed sub-items.
type Message struct {
	ItemBase
	Subject     string     `json:"subject,omitempty"`
	IsFinished  bool       `json:"is_finished"`
	IsSent      bool       `json:"is_sent"`
	IsDelivered bool       `json:"is_delivered"`
	IsRead      bool       `json:"is_read"`
	IsAudio     bool       `json:"is_audio,omitempty"`
	ErrorCode   int        `json:"error_code,omitempty"`
	Items       []ChatItem `json:"items"`
}

func (Message) ItemKind() ItemKind { return KindMessage }

// Progress derives the send-progress state for outgoing messages. Incoming
// messages have no progress.
func (m Message) Progress() SendProgress {
	if !m.FromMe {
		return SendProgressNone
	}
	switch {
	case m.ErrorCode != 0:
		return SendProgressFailed
	case m.IsDelivered:
		return SendProgressDelivered
	case m.IsSent:
		return SendProgressSent
	default:
		return SendProgressSending
	}
}

// AssociableItemIDs collects the tapback-addressable IDs of every sub-item.
func (m Message) AssociableItemIDs() []string {
	var ids []string
	for _, item := range m.Items {
		if assoc, ok := item.(Acknowledgable); ok {
			ids = append(ids, assoc.AssociableItemIDs()...)
		}
	}
	return ids
}

// WithAcknowledgmentsFor returns a copy of the message in which the sub-item
// addressable as targetID carries the given tapbacks. The original message is
// untouched; if no sub-item matches, ok is false and the original is
// returned.
func (m Message) WithAcknowledgmentsFor(targetID string, acks []AcknowledgmentChatItem) (Message, bool) {
	for i, item := range m.Items {
		assoc, ok := item.(Acknowledgable)
		if !ok {
			continue
		}
		for _, id := range assoc.AssociableItemIDs() {
			if id == targetID {
				items := make([]ChatItem, len(m.Items))
				copy(items, m.Items)
				items[i] = assoc.WithAcknowledgments(acks)
				m.Items = items
				return m, true
			}
		}
	}
	return m, false
}

// subPartID builds the compound identifier a tapback row stores when it
// targets one part of a message.
func subPartID(part int, guid string) string {
	c := identifier.Compound{Type: "p", Part: &part, ID: guid}
	return c.String()
}

// ParseSubPartID splits a compound tapback target into its part index and
// bare message GUID. Targets without a part index address part 0.
func ParseSubPartID(raw string) (part int, guid string, err error) {
	c, ok := identifier.Parse(raw)
	if !ok {
		return 0, "", fmt.Errorf("malformed item identifier %q", raw)
	}
	if c.Part != nil {
		part = *c.Part
	}
	return part, c.ID, nil
}
