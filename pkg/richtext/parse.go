// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package richtext

// PartType identifies an input message part.
type PartType string

const (
	PartText       PartType = "text"
	PartAttachment PartType = "attachment"
	PartBreadcrumb PartType = "breadcrumb"
)

// MessagePart is one part of an outgoing or stored message body. Details is
// the text for text parts and the attachment GUID for attachment parts.
type MessagePart struct {
	Type       PartType        `json:"type"`
	Details    string          `json:"details"`
	Attributes []TextAttribute `json:"attributes,omitempty"`
}

// Attachment is the store record a parse consults when converting an
// attachment part.
type Attachment struct {
	GUID     string
	Filename string
	MimeType string
}

// AttachmentResolver looks up attachment records by GUID. Implementations
// report false when no record exists.
type AttachmentResolver interface {
	Attachment(guid string) (Attachment, bool)
}

// AttachmentResolverFunc adapts a function to AttachmentResolver.
type AttachmentResolverFunc func(guid string) (Attachment, bool)

func (f AttachmentResolverFunc) Attachment(guid string) (Attachment, bool) {
	return f(guid)
}

// ParseResult is the attributed body plus the file-transfer GUIDs referenced
// by it, in part order.
type ParseResult struct {
	String        String
	TransferGUIDs []string
}

// Parse converts message parts into a single attributed body.
//
// Each part independently becomes one span carrying the writing-direction
// boundary marker. An attachment part whose record (or record filename) is
// missing contributes an empty span and no transfer GUID; the rest of the
// message is unaffected. After concatenation every span is stamped with its
// message-part index.
func Parse(parts []MessagePart, resolver AttachmentResolver) ParseResult {
	var result ParseResult
	for _, part := range parts {
		switch part.Type {
		case PartText:
			result.String = append(result.String, textSpan(part))
		case PartBreadcrumb:
			result.String = append(result.String, breadcrumbSpan(part))
		case PartAttachment:
			span, transferGUID, ok := attachmentSpan(part, resolver)
			if !ok {
				// Record missing: the part degrades to nothing.
				continue
			}
			result.String = append(result.String, span)
			result.TransferGUIDs = append(result.TransferGUIDs, transferGUID)
		}
	}
	stampMessageParts(result.String)
	return result
}

func textSpan(part MessagePart) Span {
	attrs := Attributes{HasWritingDirection: true, WritingDirection: WritingDirectionNatural}
	attrs.apply(part.Attributes)
	return Span{Text: part.Details, Attributes: attrs}
}

func breadcrumbSpan(part MessagePart) Span {
	attrs := Attributes{
		HasWritingDirection: true,
		WritingDirection:    WritingDirectionNatural,
		Breadcrumb:          true,
	}
	attrs.apply(part.Attributes)
	return Span{Text: BreadcrumbPlaceholder, Attributes: attrs}
}

func attachmentSpan(part MessagePart, resolver AttachmentResolver) (Span, string, bool) {
	if resolver == nil {
		return Span{}, "", false
	}
	record, ok := resolver.Attachment(part.Details)
	if !ok || record.GUID == "" || record.Filename == "" {
		return Span{}, "", false
	}
	return Span{
		Text: AttachmentPlaceholder,
		Attributes: Attributes{
			HasWritingDirection: true,
			WritingDirection:    WritingDirectionNatural,
			TransferGUID:        record.GUID,
			Filename:            record.Filename,
		},
	}, record.GUID, true
}

// stampMessageParts assigns the zero-based message-part index to every span.
//
// A span with a filename attribute (an attachment) always starts its own
// part, and the span after it starts the next one. The increment happens
// after stamping when the attachment is the very first span, and before
// stamping otherwise: a leading attachment is its own part while a trailing
// attachment closes the preceding text part. This numbering is relied on by
// existing clients; do not regularize it.
func stampMessageParts(spans String) {
	thisPart := 0
	for i := range spans {
		hasFilename := spans[i].Attributes.Filename != ""
		if hasFilename && i > 0 {
			thisPart++
		} else if i > 1 && spans[i-1].Attributes.Filename != "" {
			thisPart++
		}
		spans[i].Attributes.MessagePart = thisPart
		if hasFilename && i == 0 {
			thisPart++
		}
	}
}
