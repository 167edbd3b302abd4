// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package richtext

import (
	"time"
)

// TextPartType classifies a serialized span.
type TextPartType string

const (
	TextPartText       TextPartType = "text"
	TextPartLink       TextPartType = "link"
	TextPartCalendar   TextPartType = "calendar"
	TextPartBreadcrumb TextPartType = "breadcrumb"
)

// TextPart is one typed segment of a serialized body. Data is the URL for
// link parts and a Unix-epoch-millisecond timestamp for calendar parts.
type TextPart struct {
	Type       TextPartType    `json:"type"`
	String     string          `json:"string"`
	Data       any             `json:"data,omitempty"`
	Attributes []TextAttribute `json:"attributes,omitempty"`
}

// DateScanner extracts the point in time referenced by a calendar-event
// attribute payload. The platform implementation wraps the system data
// detector; it reports false when the payload does not resolve to a date.
type DateScanner interface {
	ScanDate(payload []byte) (time.Time, bool)
}

// DateScannerFunc adapts a function to DateScanner.
type DateScannerFunc func(payload []byte) (time.Time, bool)

func (f DateScannerFunc) ScanDate(payload []byte) (time.Time, bool) {
	return f(payload)
}

// RFC3339DateScanner parses calendar payloads that carry an RFC 3339
// timestamp. Used where no platform scanner is available.
var RFC3339DateScanner = DateScannerFunc(func(payload []byte) (time.Time, bool) {
	ts, err := time.Parse(time.RFC3339, string(payload))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
})

// Serialize splits an attributed body back into typed text parts.
//
// Each span is classified by its dominant attribute: link wins over calendar,
// calendar over breadcrumb, breadcrumb over mention, and anything else is
// plain text. Mentions intentionally serialize as plain text parts; the
// mention target survives in the part attributes. The recognized formatting
// attributes of every span are echoed onto the emitted part.
func Serialize(str String, scanner DateScanner) []TextPart {
	if len(str) == 0 {
		return nil
	}
	parts := make([]TextPart, 0, len(str))
	for _, span := range str {
		var part TextPart
		switch {
		case span.Attributes.Link != "":
			part = TextPart{Type: TextPartLink, String: span.Text, Data: span.Attributes.Link}
		case len(span.Attributes.CalendarData) > 0:
			part = calendarTextPart(span, scanner)
		case span.Attributes.Breadcrumb:
			part = TextPart{Type: TextPartBreadcrumb, String: span.Text}
		case span.Attributes.Mention != "":
			part = TextPart{Type: TextPartText, String: span.Text}
		default:
			part = TextPart{Type: TextPartText, String: span.Text}
		}
		part.Attributes = echoAttributes(span.Attributes)
		parts = append(parts, part)
	}
	return parts
}

func calendarTextPart(span Span, scanner DateScanner) TextPart {
	part := TextPart{Type: TextPartCalendar, String: span.Text}
	if scanner == nil {
		return part
	}
	if ts, ok := scanner.ScanDate(span.Attributes.CalendarData); ok {
		part.Data = ts.UnixMilli()
	}
	return part
}

func echoAttributes(attrs Attributes) []TextAttribute {
	var out []TextAttribute
	if attrs.Bold {
		out = append(out, TextAttribute{Key: AttrBold})
	}
	if attrs.Italic {
		out = append(out, TextAttribute{Key: AttrItalic})
	}
	if attrs.Underline {
		out = append(out, TextAttribute{Key: AttrUnderline})
	}
	if attrs.Strikethrough {
		out = append(out, TextAttribute{Key: AttrStrikethrough})
	}
	if attrs.Mention != "" {
		out = append(out, TextAttribute{Key: AttrMention, Value: attrs.Mention})
	}
	return out
}
