// Package services defines the business logic for scenario conversations,
// spaced-repetition reviews, and quota enforcement. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

// Conversation-related errors.
var (
	// ErrScenarioNotFound indicates that the requested scenario does not exist.
	ErrScenarioNotFound = errors.New("scenario not found")

	// ErrConversationNotFound indicates that no conversation exists for the
	// user and scenario, or it is not accessible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrCheckpointNotFound indicates that the referenced checkpoint does not
	// exist on the conversation.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrConversationActive is returned by Start when an active or paused
	// conversation already exists for the (user, scenario) pair.
	ErrConversationActive = errors.New("conversation already active")

	// ErrConversationTerminal is returned when an operation targets a
	// completed or abandoned conversation.
	ErrConversationTerminal = errors.New("conversation is in a terminal state")

	// ErrConversationBusy is returned when a concurrent message is already
	// being processed for the same conversation.
	ErrConversationBusy = errors.New("conversation busy")

	// ErrEmptyMessage is returned when a message is empty after trimming.
	ErrEmptyMessage = errors.New("message is empty")
)

// Review-related errors.
var (
	// ErrCardNotFound indicates that the requested review card does not exist
	// or is not owned by the current user.
	ErrCardNotFound = errors.New("card not found")

	// ErrDuplicateCard is returned when AddCard targets an id that already
	// exists for the user.
	ErrDuplicateCard = errors.New("card already exists")

	// ErrInvalidQuality is returned when a review grade is outside [0,5].
	ErrInvalidQuality = errors.New("quality must be between 0 and 5")

	// ErrUnknownSource is returned when BulkIngest is asked for a source it
	// does not know.
	ErrUnknownSource = errors.New("unknown ingestion source")
)

// Quota-related errors.
var (
	// ErrQuotaExceeded indicates that the user's daily limit is reached.
	// Handlers surface it with an upgrade hint and a 429 status.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
)
