// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants and the mapping from
// service sentinel errors to HTTP responses (via the `fail()` helper in this
// package). These codes provide clients with a stable, machine-readable error
// taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, conflict) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (quota_exceeded, no_speech_detected,
//     upstream_unavailable) are reserved for conditions clients must branch on.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "quota_exceeded",
//	  "message": "daily AI limit reached; upgrade your plan to continue"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averbeck/go-deutsch-backend/internal/llm"
	"github.com/averbeck/go-deutsch-backend/internal/services"
	"github.com/averbeck/go-deutsch-backend/internal/speech"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeQuotaExceeded    = "quota_exceeded"
	ErrCodeNoSpeech         = "no_speech_detected"
	ErrCodeUpstream         = "upstream_unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failService translates a service sentinel error into the matching HTTP
// status and stable code. Unknown errors become 500 internal_error.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrScenarioNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "scenario not found")
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrCheckpointNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "checkpoint not found")
	case errors.Is(err, services.ErrCardNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "card not found")
	case errors.Is(err, services.ErrConversationActive):
		fail(c, http.StatusConflict, ErrCodeConflict, "a conversation for this scenario is already in progress")
	case errors.Is(err, services.ErrConversationTerminal):
		fail(c, http.StatusConflict, ErrCodeConflict, "conversation is not active")
	case errors.Is(err, services.ErrConversationBusy):
		fail(c, http.StatusConflict, ErrCodeConflict, "another turn is in progress; retry shortly")
	case errors.Is(err, services.ErrDuplicateCard):
		fail(c, http.StatusConflict, ErrCodeConflict, "card already exists")
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message content required")
	case errors.Is(err, services.ErrInvalidQuality):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quality must be between 0 and 5")
	case errors.Is(err, services.ErrUnknownSource):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown ingestion source")
	case errors.Is(err, speech.ErrNoSpeech):
		fail(c, http.StatusBadRequest, ErrCodeNoSpeech, "no speech detected in audio")
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, "daily limit reached; upgrade your plan to continue")
	case errors.Is(err, llm.ErrUnavailable),
		errors.Is(err, llm.ErrEmptyCompletion),
		errors.Is(err, speech.ErrSTTUnavailable),
		errors.Is(err, speech.ErrTTSUnavailable):
		fail(c, http.StatusBadGateway, ErrCodeUpstream, "a speech or language service is temporarily unavailable")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
