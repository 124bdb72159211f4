// Package apperr defines the error taxonomy shared by the HTTP surface,
// the socket fabric and the service layer, so both transports map the
// same Kind to their own wire shape in exactly one place each.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	AuthRequired            Kind = "AuthRequired"
	AuthInvalid             Kind = "AuthInvalid"
	AuthExpired             Kind = "AuthExpired"
	RateLimited             Kind = "RateLimited"
	NotParticipant          Kind = "NotParticipant"
	NotAuthor               Kind = "NotAuthor"
	NotFound                Kind = "NotFound"
	ConflictUniqueViolation Kind = "ConflictUniqueViolation"
	InvalidInput            Kind = "InvalidInput"
	PayloadTooLarge         Kind = "PayloadTooLarge"
	ConversationClosed      Kind = "ConversationClosed"
	InvalidReply            Kind = "InvalidReply"
	StorageUnavailable      Kind = "StorageUnavailable"
	QueueUnavailable        Kind = "QueueUnavailable"
	Internal                Kind = "Internal"
)

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

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As reports whether err (or something it wraps) is an *Error and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindKeep wraps a low-level commit/close error as StorageUnavailable,
// or returns nil unchanged — a small helper for the common
// "return apperr.KindKeep(tx.Commit())" tail call.
func KindKeep(err error) error {
	if err == nil {
		return nil
	}
	return Wrap(StorageUnavailable, "commit", err)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error,
// otherwise Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// HTTPStatus maps a Kind to the status code the HTTP surface should
// respond with.
func HTTPStatus(k Kind) int {
	switch k {
	case AuthRequired:
		return http.StatusUnauthorized
	case AuthInvalid:
		return http.StatusUnauthorized
	case AuthExpired:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case NotParticipant, NotAuthor:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case ConflictUniqueViolation:
		return http.StatusConflict
	case InvalidInput, InvalidReply, ConversationClosed:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case StorageUnavailable, QueueUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the stable {error, code?, details?} HTTP body shape and
// the <domain>:error socket payload shape required by spec.
type Envelope struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func ToEnvelope(err error) Envelope {
	if e, ok := As(err); ok {
		env := Envelope{Error: e.Message, Code: string(e.Kind)}
		return env
	}
	return Envelope{Error: "internal error", Code: string(Internal)}
}
