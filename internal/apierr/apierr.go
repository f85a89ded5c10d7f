// Package apierr defines the error taxonomy shared across the orchestrator's
// components so the HTTP and SSE layers can turn any failure into the right
// client-visible shape without inspecting component-specific error types.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the purposes of HTTP status mapping and SSE
// surfacing.
type Kind string

const (
	Unauthenticated        Kind = "unauthenticated"
	UnknownCustomer        Kind = "unknown_customer"
	BadRequest             Kind = "bad_request"
	CachePopulateFail      Kind = "cache_populate_fail"
	AgentTimeout           Kind = "agent_timeout"
	AgentUnavailable       Kind = "agent_unavailable"
	ClassifierUnavailable  Kind = "classifier_unavailable"
	Internal               Kind = "internal"
)

// Error is a typed error carrying a Kind alongside the usual message/wrapped
// cause, so callers can branch on Kind with errors.As instead of string
// matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// otherwise Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to its corresponding HTTP status code.
func HTTPStatus(k Kind) int {
	switch k {
	case Unauthenticated:
		return http.StatusUnauthorized
	case UnknownCustomer:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	case AgentTimeout:
		return http.StatusGatewayTimeout
	case AgentUnavailable:
		return http.StatusBadGateway
	case CachePopulateFail, ClassifierUnavailable:
		// Never surfaced directly — the caller recovers locally. Included
		// for completeness of the mapping table.
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the §6.1 JSON error body: { "error": { "kind", "message" } }.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ToEnvelope converts err into the client-facing error envelope.
func ToEnvelope(err error) Envelope {
	if e, ok := As(err); ok {
		return Envelope{Error: EnvelopeBody{Kind: e.Kind, Message: e.Message}}
	}
	return Envelope{Error: EnvelopeBody{Kind: Internal, Message: err.Error()}}
}
