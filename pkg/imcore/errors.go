// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced to API clients.
type ErrorCode string

const (
	ErrCodeChatNotFound     ErrorCode = "chat_not_found"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeInternal         ErrorCode = "internal_error"
	ErrCodeTimeout          ErrorCode = "timeout"
	ErrCodeStoreUnavailable ErrorCode = "store_unavailable"
)

// Error is a classified failure. Retryable tells clients whether repeating
// the operation unchanged can succeed.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// ErrChatNotFound reports that a chat identifier resolved to nothing.
func ErrChatNotFound(chatID string) *Error {
	return &Error{Code: ErrCodeChatNotFound, Message: fmt.Sprintf("no chat with identifier %q", chatID)}
}

// ErrNotFound reports that a referenced message or item does not exist.
func ErrNotFound(what string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: what + " not found"}
}

// ErrInternal wraps an unexpected failure.
func ErrInternal(err error) *Error {
	return &Error{Code: ErrCodeInternal, Message: err.Error(), cause: err}
}

// ErrTimeout reports that an operation hit its deadline. Timeouts are
// retryable.
func ErrTimeout(what string) *Error {
	return &Error{Code: ErrCodeTimeout, Message: what + " timed out", Retryable: true}
}

// ErrStoreUnavailable reports that the message store could not be reached.
// Store outages are retryable.
func ErrStoreUnavailable(err error) *Error {
	return &Error{Code: ErrCodeStoreUnavailable, Message: err.Error(), Retryable: true, cause: err}
}
