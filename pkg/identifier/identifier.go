// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package identifier implements the compound item identifier format used to
// address individual sub-parts of a multi-part message.
//
// The text format is `type:part/id` and is wire-visible: identifiers in this
// shape are persisted in the message store (association targets) and
// transmitted to bridge clients, so it must stay byte-compatible. `type` and
// `part` are optional, `id` is mandatory and is always the last path segment.
package identifier

import (
	"strconv"
	"strings"
)

// Compound addresses a specific sub-part of a message. A zero Part pointer
// means the identifier addresses the whole message.
type Compound struct {
	Type string
	Part *int
	ID   string
}

// Parse unpacks a compound identifier string.
//
// It reports false for empty strings and for the legacy "t"-prefixed format,
// which uses a different grammar and must not be interpreted as type:part/id.
func Parse(raw string) (Compound, bool) {
	if raw == "" || raw[0] == 't' {
		return Compound{}, false
	}
	return unpack(raw), true
}

func unpack(raw string) Compound {
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		// No type marker: the whole string is the ID, slashes included.
		return Compound{ID: raw}
	}
	slash := strings.IndexByte(raw[colon:], '/')
	if slash < 0 {
		return Compound{Type: raw[:colon], ID: raw[colon+1:]}
	}
	slash += colon
	part, err := strconv.Atoi(raw[colon+1 : slash])
	if err != nil {
		// Non-numeric part segment: the original treated the part as
		// absent and kept the trailing segment as the ID.
		return Compound{Type: raw[:colon], ID: raw[slash+1:]}
	}
	return Compound{Type: raw[:colon], Part: &part, ID: raw[slash+1:]}
}

// String reconstructs the wire form, omitting absent components.
// Parse(x.String()) == x holds for every identifier with a non-empty ID whose
// part, when present, is accompanied by a type.
func (c Compound) String() string {
	var sb strings.Builder
	if c.Type != "" {
		sb.WriteString(c.Type)
		sb.WriteByte(':')
	}
	if c.Part != nil {
		sb.WriteString(strconv.Itoa(*c.Part))
		sb.WriteByte('/')
	}
	sb.WriteString(c.ID)
	return sb.String()
}

// ExtractBareID strips any `type:` and `part/` prefixes and returns the
// trailing identifier segment. It is used to look up the underlying message
// regardless of which sub-part was addressed, so unlike Parse it also accepts
// the legacy "t"-prefixed form.
func ExtractBareID(raw string) string {
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return raw
	}
	rest := raw[colon+1:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return rest
	}
	return rest[slash+1:]
}
