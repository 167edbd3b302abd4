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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lrhodin/imcore/pkg/richtext"
)

// Chat is the API-facing view of a conversation.
type Chat struct {
	ID          string       `json:"id"`
	GUID        string       `json:"guid"`
	Service     ServiceStyle `json:"service"`
	DisplayName string       `json:"display_name,omitempty"`
	LastMessage time.Time    `json:"last_message,omitempty"`
}

// OutgoingMessage is a fully built message record ready for the messenger.
type OutgoingMessage struct {
	GUID    string
	ChatID  string
	Service ServiceStyle
	Sender  string
	Subject string
	Body    richtext.String
	Flags   MessageFlags
	// Transfers lists the file-transfer GUIDs the body references, in order.
	Transfers []string
	// ReplyToGUID/ReplyToPart thread the message under an existing one.
	ReplyToGUID string
	ReplyToPart int
}

// Messenger is the write side: it hands built records to the transport.
// Implementations wrap the platform messaging subsystem.
type Messenger interface {
	Send(ctx context.Context, msg *OutgoingMessage) error
	Tapback(ctx context.Context, chatID, targetID string, ackType int) error
	Delete(ctx context.Context, chatID string, guids []string) error
	// CreateFileTransfer registers an outgoing file and returns its transfer
	// GUID.
	CreateFileTransfer(ctx context.Context, filename string, data []byte) (string, error)
}

// ChatService is the high-level API surface: list chats, read transcripts,
// send messages, react and delete.
type ChatService struct {
	Store     Store
	Messenger Messenger
	Ingestor  *Ingestor
	Handles   HandleRegistry
	Log       zerolog.Logger
}

// NewChatService wires a service from its parts.
func NewChatService(store Store, messenger Messenger, handles HandleRegistry, log zerolog.Logger) *ChatService {
	return &ChatService{
		Store:     store,
		Messenger: messenger,
		Ingestor:  NewIngestor(store, handles, log),
		Handles:   handles,
		Log:       log.With().Str("component", "chat-service").Logger(),
	}
}

// GetChat returns the chat for an identifier.
func (s *ChatService) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	row, err := s.Store.Chat(ctx, chatID)
	if err != nil {
		return nil, ErrStoreUnavailable(err)
	}
	if row == nil {
		return nil, ErrChatNotFound(chatID)
	}
	return &Chat{
		ID:          row.ChatIdentifier,
		GUID:        row.GUID,
		Service:     ServiceStyle(row.Service),
		DisplayName: row.DisplayName,
		LastMessage: row.LastMessage,
	}, nil
}

// CreateMessage builds an outgoing message record for a chat. The body is
// assembled from message parts; a message whose body comes out empty is an
// error, not a silent no-op.
func (s *ChatService) CreateMessage(ctx context.Context, chatID string, parts []richtext.MessagePart, replyTo string) (*OutgoingMessage, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	resolver := richtext.AttachmentResolverFunc(func(guid string) (richtext.Attachment, bool) {
		records, err := s.Store.Attachments(ctx, []string{guid})
		if err != nil {
			return richtext.Attachment{}, false
		}
		record, ok := records[guid]
		if !ok {
			return richtext.Attachment{}, false
		}
		return richtext.Attachment{GUID: record.GUID, Filename: record.Filename, MimeType: record.MimeType}, true
	})
	parsed := richtext.Parse(parts, resolver)
	if len(parsed.String) == 0 {
		return nil, &Error{Code: ErrCodeInternal, Message: "message body is empty"}
	}

	msg := &OutgoingMessage{
		GUID:      strings.ToUpper(uuid.NewString()),
		ChatID:    chatID,
		Service:   chat.Service,
		Sender:    ResolveSenderHandle("", true, chat.Service, s.Handles),
		Body:      parsed.String,
		Flags:     OutgoingMessageFlags,
		Transfers: parsed.TransferGUIDs,
	}
	if replyTo != "" {
		part, guid, err := ParseSubPartID(replyTo)
		if err != nil {
			return nil, ErrNotFound(fmt.Sprintf("reply target %q", replyTo))
		}
		msg.ReplyToGUID = guid
		msg.ReplyToPart = part
	}
	return msg, nil
}

// Send builds and sends a message, returning its ingested form.
func (s *ChatService) Send(ctx context.Context, chatID string, parts []richtext.MessagePart, replyTo string) (*Message, error) {
	msg, err := s.CreateMessage(ctx, chatID, parts, replyTo)
	if err != nil {
		return nil, err
	}
	if err = s.Messenger.Send(ctx, msg); err != nil {
		return nil, s.classifySendError(ctx, err)
	}
	s.Log.Debug().Str("guid", msg.GUID).Str("chat_id", chatID).
		Int("parts", len(msg.Body)).Msg("Sent message")
	return s.ingestOutgoing(ctx, msg)
}

// ingestOutgoing runs a just-sent record through the same conversion pipeline
// as store rows, so callers get the typed message back immediately instead of
// waiting for the store to observe it.
func (s *ChatService) ingestOutgoing(ctx context.Context, msg *OutgoingMessage) (*Message, error) {
	raw := RawItem{
		Kind:              RawKindMessage,
		GUID:              msg.GUID,
		ChatID:            msg.ChatID,
		FromMe:            true,
		Time:              time.Now(),
		Sender:            msg.Sender,
		Service:           string(msg.Service),
		Subject:           msg.Subject,
		ThreadGUID:        msg.ReplyToGUID,
		ThreadPart:        replyThreadPart(msg),
		FileTransferGUIDs: msg.Transfers,
		IsFinished:        msg.Flags&FlagFinished != 0,
		IsSent:            msg.Flags&FlagSent != 0,
		IsDelivered:       msg.Flags&FlagDelivered != 0,
	}
	for _, span := range msg.Body {
		if span.Attributes.TransferGUID != "" {
			raw.Parts = append(raw.Parts, RawPart{
				Kind:         RawPartAttachment,
				Index:        span.Attributes.MessagePart,
				TransferGUID: span.Attributes.TransferGUID,
			})
		} else {
			raw.Parts = append(raw.Parts, RawPart{
				Kind:  RawPartText,
				Index: span.Attributes.MessagePart,
				Text:  span.Text,
			})
		}
	}
	items, err := s.Ingestor.IngestRaw(ctx, []RawItem{raw})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrInternal(errInvisibleSend)
	}
	ingested, ok := items[0].(Message)
	if !ok {
		return nil, ErrInternal(errInvisibleSend)
	}
	return &ingested, nil
}

var errInvisibleSend = errors.New("sent message did not survive ingestion")

func replyThreadPart(msg *OutgoingMessage) string {
	if msg.ReplyToGUID == "" {
		return ""
	}
	return strconv.Itoa(msg.ReplyToPart)
}

// SendAttachment registers a file transfer and sends it as a one-part
// message. Images in formats the receiving side cannot render are re-encoded
// first.
func (s *ChatService) SendAttachment(ctx context.Context, chatID, filename string, data []byte) (*Message, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	filename, data, err = normalizeOutboundImage(filename, data)
	if err != nil {
		return nil, ErrInternal(err)
	}
	transferGUID, err := s.Messenger.CreateFileTransfer(ctx, filename, data)
	if err != nil {
		return nil, s.classifySendError(ctx, err)
	}
	msg := &OutgoingMessage{
		GUID:    strings.ToUpper(uuid.NewString()),
		ChatID:  chatID,
		Service: chat.Service,
		Sender:  ResolveSenderHandle("", true, chat.Service, s.Handles),
		Body: richtext.String{{
			Text: richtext.AttachmentPlaceholder,
			Attributes: richtext.Attributes{
				HasWritingDirection: true,
				WritingDirection:    richtext.WritingDirectionNatural,
				TransferGUID:        transferGUID,
				Filename:            filename,
			},
		}},
		Flags:     OutgoingMessageFlags,
		Transfers: []string{transferGUID},
	}
	if err = s.Messenger.Send(ctx, msg); err != nil {
		return nil, s.classifySendError(ctx, err)
	}
	s.Log.Debug().Str("guid", msg.GUID).Str("chat_id", chatID).
		Str("filename", filename).Msg("Sent attachment")
	return s.ingestOutgoing(ctx, msg)
}

// Tapback adds or removes a reaction on one part of an existing message.
// targetID is a compound identifier ("p:0/GUID" or a bare GUID for part 0).
func (s *ChatService) Tapback(ctx context.Context, chatID, targetID string, ackType int) error {
	if !IsAcknowledgment(ackType) {
		return &Error{Code: ErrCodeInternal, Message: fmt.Sprintf("invalid acknowledgment type %d", ackType)}
	}
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}
	part, guid, err := ParseSubPartID(targetID)
	if err != nil {
		return ErrNotFound(fmt.Sprintf("tapback target %q", targetID))
	}
	rows, err := s.Store.Messages(ctx, []string{guid})
	if err != nil {
		return ErrStoreUnavailable(err)
	}
	if len(rows) == 0 {
		return ErrNotFound(fmt.Sprintf("message %s", guid))
	}
	if err = s.Messenger.Tapback(ctx, chatID, subPartID(part, guid), ackType); err != nil {
		return s.classifySendError(ctx, err)
	}
	return nil
}

// Delete removes messages from a chat.
func (s *ChatService) Delete(ctx context.Context, chatID string, guids []string) error {
	if len(guids) == 0 {
		return nil
	}
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}
	rows, err := s.Store.Messages(ctx, guids)
	if err != nil {
		return ErrStoreUnavailable(err)
	}
	if len(rows) == 0 {
		return ErrNotFound("messages")
	}
	if err = s.Messenger.Delete(ctx, chatID, guids); err != nil {
		return s.classifySendError(ctx, err)
	}
	s.Log.Info().Str("chat_id", chatID).Int("count", len(guids)).Msg("Deleted messages")
	return nil
}

func (s *ChatService) classifySendError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout("send")
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}
	return ErrInternal(err)
}
