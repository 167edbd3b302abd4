// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"testing"
)

func TestResolveService(t *testing.T) {
	cases := []struct {
		name            string
		explicit        string
		associationType int
		chatService     ServiceStyle
		want            ServiceStyle
	}{
		{"explicit wins", "SMS", AckTypeAddLove, ServiceiMessage, ServiceSMS},
		{"tapback is always iMessage", "", AckTypeAddLike, ServiceSMS, ServiceiMessage},
		{"chat service applies", "", 0, ServiceSMS, ServiceSMS},
		{"fallback", "", 0, "", ServiceSMS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveService(tc.explicit, tc.associationType, tc.chatService); got != tc.want {
				t.Errorf("ResolveService = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestResolveSenderHandle(t *testing.T) {
	handles := StaticHandleRegistry{
		ServiceiMessage: "mailto:me@example.com",
		ServiceSMS:      "tel:+15550000000",
	}
	// Explicit sender is never overridden.
	if got := ResolveSenderHandle("alice@example.com", true, ServiceiMessage, handles); got != "alice@example.com" {
		t.Errorf("explicit sender = %q", got)
	}
	// Incoming messages without a sender stay empty.
	if got := ResolveSenderHandle("", false, ServiceiMessage, handles); got != "" {
		t.Errorf("incoming without sender = %q", got)
	}
	// Outgoing without a sender gets the service's local handle.
	if got := ResolveSenderHandle("", true, ServiceSMS, handles); got != "tel:+15550000000" {
		t.Errorf("outgoing SMS = %q", got)
	}
	// No registry: nothing to resolve with.
	if got := ResolveSenderHandle("", true, ServiceiMessage, nil); got != "" {
		t.Errorf("nil registry = %q", got)
	}
}
