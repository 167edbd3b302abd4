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
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lrhodin/imcore/pkg/richtext"
)

type fakeMessenger struct {
	sent      []*OutgoingMessage
	tapbacks  []string
	deleted   [][]string
	transfers map[string][]byte
	fail      error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{transfers: make(map[string][]byte)}
}

func (m *fakeMessenger) Send(ctx context.Context, msg *OutgoingMessage) error {
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMessenger) Tapback(ctx context.Context, chatID, targetID string, ackType int) error {
	if m.fail != nil {
		return m.fail
	}
	m.tapbacks = append(m.tapbacks, targetID)
	return nil
}

func (m *fakeMessenger) Delete(ctx context.Context, chatID string, guids []string) error {
	if m.fail != nil {
		return m.fail
	}
	m.deleted = append(m.deleted, guids)
	return nil
}

func (m *fakeMessenger) CreateFileTransfer(ctx context.Context, filename string, data []byte) (string, error) {
	if m.fail != nil {
		return "", m.fail
	}
	guid := "TRANSFER-" + filename
	m.transfers[guid] = data
	return guid, nil
}

func testChatService(store Store, messenger Messenger) *ChatService {
	handles := StaticHandleRegistry{ServiceiMessage: "mailto:me@example.com", ServiceSMS: "tel:+15550000000"}
	return NewChatService(store, messenger, handles, zerolog.Nop())
}

func TestSendRoundTrip(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-a", ServiceiMessage)
	messenger := newFakeMessenger()
	svc := testChatService(store, messenger)

	sent, err := svc.Send(context.Background(), "chat-a", []richtext.MessagePart{
		{Type: richtext.PartText, Details: "hello there"},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if sent.ID == "" || sent.ID != strings.ToUpper(sent.ID) {
		t.Errorf("message GUID = %q, want non-empty uppercase", sent.ID)
	}
	if len(messenger.sent) != 1 {
		t.Fatalf("sent count = %d", len(messenger.sent))
	}
	msg := messenger.sent[0]
	if msg.ChatID != "chat-a" || msg.Service != ServiceiMessage || msg.Sender != "mailto:me@example.com" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Flags != OutgoingMessageFlags {
		t.Errorf("flags = %#x, want %#x", msg.Flags, OutgoingMessageFlags)
	}
	if msg.Body.PlainText() != "hello there" {
		t.Errorf("body = %q", msg.Body.PlainText())
	}

	// The returned message is the ingested form of what was handed to the
	// messenger.
	if sent.ID != msg.GUID || !sent.FromMe || sent.Progress() != SendProgressDelivered {
		t.Errorf("ingested = %+v", sent)
	}
	if len(sent.Items) != 1 {
		t.Fatalf("ingested item count = %d", len(sent.Items))
	}
	if text := sent.Items[0].(TextChatItem); text.Text != "hello there" {
		t.Errorf("ingested text = %q", text.Text)
	}
}

func TestSendToMissingChat(t *testing.T) {
	svc := testChatService(newFakeStore(), newFakeMessenger())
	_, err := svc.Send(context.Background(), "nope", []richtext.MessagePart{
		{Type: richtext.PartText, Details: "hi"},
	}, "")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != ErrCodeChatNotFound {
		t.Errorf("err = %v, want chat_not_found", err)
	}
}

func TestSendEmptyBody(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-a", ServiceiMessage)
	svc := testChatService(store, newFakeMessenger())

	// An attachment part with no store record degrades to nothing, leaving
	// the body empty.
	_, err := svc.Send(context.Background(), "chat-a", []richtext.MessagePart{
		{Type: richtext.PartAttachment, Details: "missing-transfer"},
	}, "")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != ErrCodeInternal {
		t.Errorf("err = %v, want internal_error for empty body", err)
	}
}

func TestSendWithReply(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-a", ServiceiMessage)
	messenger := newFakeMessenger()
	svc := testChatService(store, messenger)

	sent, err := svc.Send(context.Background(), "chat-a", []richtext.MessagePart{
		{Type: richtext.PartText, Details: "replying"},
	}, "p:1/ORIG")
	if err != nil {
		t.Fatal(err)
	}
	msg := messenger.sent[0]
	if msg.ReplyToGUID != "ORIG" || msg.ReplyToPart != 1 {
		t.Errorf("reply = %q part %d", msg.ReplyToGUID, msg.ReplyToPart)
	}
	if sent.Thread != "ORIG" || sent.ThreadPart != "1" {
		t.Errorf("ingested thread = %q part %q", sent.Thread, sent.ThreadPart)
	}
}

func TestTapback(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-a", ServiceiMessage)
	store.addText("M1", "chat-a", "alice@example.com", "target")
	messenger := newFakeMessenger()
	svc := testChatService(store, messenger)

	if err := svc.Tapback(context.Background(), "chat-a", "p:0/M1", AckTypeAddLove); err != nil {
		t.Fatal(err)
	}
	if len(messenger.tapbacks) != 1 || messenger.tapbacks[0] != "p:0/M1" {
		t.Errorf("tapbacks = %v", messenger.tapbacks)
	}

	// Bare GUID targets address part 0.
	if err := svc.Tapback(context.Background(), "chat-a", "M1", AckTypeAddLike+AckRemoveOffset); err != nil {
		t.Fatal(err)
	}
	if messenger.tapbacks[1] != "p:0/M1" {
		t.Errorf("normalized target = %s", messenger.tapbacks[1])
	}
}

func TestTapbackValidation(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-a", ServiceiMessage)
	store.addText("M1", "chat-a", "alice@example.com", "target")
	svc := testChatService(store, newFakeMessenger())
	ctx := context.Background()

	var apiErr *Error
	if err := svc.Tapback(ctx, "chat-a", "p:0/M1", 42); !errors.As(err, &apiErr) || apiErr.Code != ErrCodeInternal {
		t.Errorf("invalid type: err = %v", err)
	}
	if err := svc.Tapback(ctx, "chat-a", "p:0/GONE", AckTypeAddLove); !errors.As(err, &apiErr) || apiErr.Code != ErrCodeNotFound {
		t.Errorf("missing target: err = %v", err)
	}
	if err := svc.Tapback(ctx, "nope", "p:0/M1", AckTypeAddLove); !errors.As(err, &apiErr) || apiErr.Code != ErrCodeChatNotFound {
		t.Errorf("missing chat: err = %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-a", ServiceiMessage)
	store.addText("M1", "chat-a", "alice@example.com", "bye")
	messenger := newFakeMessenger()
	svc := testChatService(store, messenger)
	ctx := context.Background()

	if err := svc.Delete(ctx, "chat-a", []string{"M1"}); err != nil {
		t.Fatal(err)
	}
	if len(messenger.deleted) != 1 {
		t.Errorf("deleted = %v", messenger.deleted)
	}

	// Deleting nothing is a no-op, not an error.
	if err := svc.Delete(ctx, "chat-a", nil); err != nil {
		t.Errorf("empty delete: %v", err)
	}

	var apiErr *Error
	if err := svc.Delete(ctx, "chat-a", []string{"GONE"}); !errors.As(err, &apiErr) || apiErr.Code != ErrCodeNotFound {
		t.Errorf("missing messages: err = %v", err)
	}
}

func TestSendAttachmentRoundTrip(t *testing.T) {
	store := newFakeStore()
	store.addChat("chat-a", ServiceiMessage)
	messenger := newFakeMessenger()
	svc := testChatService(store, messenger)

	sent, err := svc.SendAttachment(context.Background(), "chat-a", "notes.txt", []byte("plain text"))
	if err != nil {
		t.Fatal(err)
	}
	if sent.ID == "" {
		t.Fatal("empty GUID")
	}
	if len(messenger.sent) != 1 {
		t.Fatalf("sent count = %d", len(messenger.sent))
	}
	msg := messenger.sent[0]
	if len(msg.Transfers) != 1 || msg.Transfers[0] != "TRANSFER-notes.txt" {
		t.Errorf("transfers = %v", msg.Transfers)
	}
	if msg.Body[0].Text != richtext.AttachmentPlaceholder {
		t.Errorf("body text = %q", msg.Body[0].Text)
	}
	att, ok := sent.Items[0].(AttachmentChatItem)
	if !ok || att.TransferGUID != "TRANSFER-notes.txt" {
		t.Errorf("ingested attachment = %+v", sent.Items[0])
	}
}
