// Package services defines the business logic of the chat backend.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

var (
	// ErrEmptyPrompt is returned when a submitted message carries neither
	// text nor an image.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a submitted message exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("prompt too long")

	// ErrMissingRequestID is returned when a submit arrives without the
	// request identifier needed to correlate a later stop call.
	ErrMissingRequestID = errors.New("request id is required")

	// ErrPersistence wraps transcript store failures. Unlike inference
	// failures, these abort the operation visibly: losing the user's turn
	// silently is not acceptable.
	ErrPersistence = errors.New("transcript write failed")
)
