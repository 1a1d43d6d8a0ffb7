// Package services defines the business logic for program sessions, daily
// content delivery, progress tracking, and chat. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Session and program flow errors.
var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidCategory is returned when a category selection is outside the
	// known set.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrInvalidTopic is returned when a topic is empty or the category takes
	// no topic at all.
	ErrInvalidTopic = errors.New("invalid topic for category")

	// ErrInvalidLength is returned when a program length is outside the
	// allowed set (1, 7, 14, 30 days).
	ErrInvalidLength = errors.New("invalid program length")

	// ErrInvalidTime is returned when a preferred delivery time does not
	// parse as HH:MM.
	ErrInvalidTime = errors.New("invalid preferred time")

	// ErrNotConfirmable is returned when Confirm is called on a session whose
	// selections are incomplete (missing category, topic, or length), or when
	// a transition would mutate a program that is already confirmed.
	ErrNotConfirmable = errors.New("program not in a confirmable state")

	// ErrNoProgram indicates the session has no confirmed program where one
	// is required (delivery, resume, progress detail).
	ErrNoProgram = errors.New("session has no active program")

	// ErrNoContent indicates no stored content exists for the requested day;
	// the caller should regenerate before delivering.
	ErrNoContent = errors.New("no stored content for day")

	// ErrEmptyPrompt is returned when a chat message contains no text.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a chat message exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("prompt too long")
)
