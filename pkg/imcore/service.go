// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

// ServiceStyle identifies the transport a chat or message rides on.
type ServiceStyle string

const (
	ServiceiMessage ServiceStyle = "iMessage"
	ServiceSMS      ServiceStyle = "SMS"
	ServiceFaceTime ServiceStyle = "FaceTime"
	ServicePhone    ServiceStyle = "Phone"
)

// HandleRegistry answers which local account handle should stand in for the
// sender of an outgoing message on a given service. Implementations back this
// with account state; tests use StaticHandleRegistry.
type HandleRegistry interface {
	// SuitableHandle returns the local handle for the service, or "" when the
	// account has none.
	SuitableHandle(service ServiceStyle) string
}

// StaticHandleRegistry is a fixed service-to-handle mapping.
type StaticHandleRegistry map[ServiceStyle]string

func (r StaticHandleRegistry) SuitableHandle(service ServiceStyle) string {
	return r[service]
}

// ResolveService picks the effective service for an item. The explicit
// service wins; an item with a positive association type is always iMessage
// because tapbacks never ride SMS; otherwise the chat's service applies,
// falling back to SMS.
func ResolveService(explicit string, associationType int, chatService ServiceStyle) ServiceStyle {
	if explicit != "" {
		return ServiceStyle(explicit)
	}
	if associationType > 0 {
		return ServiceiMessage
	}
	if chatService != "" {
		return chatService
	}
	return ServiceSMS
}

// ResolveSenderHandle fills in the sender for items whose row carries none.
// Outgoing messages have no handle row in the store; they are attributed to
// the local account's handle for the resolved service.
func ResolveSenderHandle(sender string, fromMe bool, service ServiceStyle, handles HandleRegistry) string {
	if sender != "" || !fromMe || handles == nil {
		return sender
	}
	return handles.SuitableHandle(service)
}
