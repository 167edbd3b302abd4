// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package richtext converts between the part-based message body used by the
// public API (text, attachment and breadcrumb parts) and the attributed span
// representation used by the messaging subsystem.
//
// A body is an ordered list of spans. Every span produced by this package
// carries the writing-direction attribute, which acts as the boundary marker
// downstream logic splits on to recover the original parts.
package richtext

// WritingDirectionNatural is the writing-direction value stamped on every
// span. Its presence, not its value, marks span boundaries.
const WritingDirectionNatural = -1

// Placeholder characters substituted for non-text parts in the body string.
// These match the object-replacement conventions of the messaging subsystem
// and are wire-visible.
const (
	AttachmentPlaceholder = "￼"
	BreadcrumbPlaceholder = "�"
)

// Attributes is the per-span attribute set. The zero value is an unattributed
// plain-text span (writing direction is tracked explicitly so that the zero
// value is distinguishable from a stamped span).
type Attributes struct {
	// HasWritingDirection marks the span as a part boundary; WritingDirection
	// is the direction value itself (always natural for generated spans).
	HasWritingDirection bool  `json:"has_writing_direction,omitempty"`
	WritingDirection    int   `json:"writing_direction,omitempty"`
	MessagePart         int   `json:"message_part"`

	TransferGUID string `json:"transfer_guid,omitempty"`
	Filename     string `json:"filename,omitempty"`

	Link         string `json:"link,omitempty"`
	CalendarData []byte `json:"calendar_data,omitempty"`
	Breadcrumb   bool   `json:"breadcrumb,omitempty"`
	Mention      string `json:"mention,omitempty"`

	Bold          bool `json:"bold,omitempty"`
	Italic        bool `json:"italic,omitempty"`
	Underline     bool `json:"underline,omitempty"`
	Strikethrough bool `json:"strikethrough,omitempty"`
}

// Span is a run of text sharing one attribute set.
type Span struct {
	Text       string     `json:"text"`
	Attributes Attributes `json:"attributes"`
}

// String is an attributed body: an ordered sequence of spans.
type String []Span

// PlainText concatenates the span texts.
func (s String) PlainText() string {
	var out string
	for _, span := range s {
		out += span.Text
	}
	return out
}

// TextAttributeKey names a formatting attribute on an input message part.
type TextAttributeKey string

const (
	AttrBold          TextAttributeKey = "bold"
	AttrItalic        TextAttributeKey = "italic"
	AttrUnderline     TextAttributeKey = "underline"
	AttrStrikethrough TextAttributeKey = "strikethrough"
	AttrLink          TextAttributeKey = "link"
	AttrMention       TextAttributeKey = "mention"
)

// TextAttribute carries one formatting attribute for a message part. Value is
// only meaningful for link (the URL) and mention (the mentioned handle).
type TextAttribute struct {
	Key   TextAttributeKey `json:"key"`
	Value string           `json:"value,omitempty"`
}

func (a *Attributes) apply(attrs []TextAttribute) {
	for _, attr := range attrs {
		switch attr.Key {
		case AttrBold:
			a.Bold = true
		case AttrItalic:
			a.Italic = true
		case AttrUnderline:
			a.Underline = true
		case AttrStrikethrough:
			a.Strikethrough = true
		case AttrLink:
			a.Link = attr.Value
		case AttrMention:
			a.Mention = attr.Value
		}
	}
}
