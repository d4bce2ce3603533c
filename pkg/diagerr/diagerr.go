// Package diagerr defines the error taxonomy shared across the diagnosis
// engine so the dialogue manager can classify any failure into a
// user-facing response kind without inspecting error strings.
package diagerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the propagation categories from
// the error handling design: transient upstream calls are retried
// locally, everything else surfaces to the caller as kind=error.
type Kind string

const (
	// KindTransientUpstream is a retryable network/timeout error talking to
	// the embedding or LLM service. Exhausting retries promotes it to a
	// user-visible error without advancing session state.
	KindTransientUpstream Kind = "transient_upstream"

	// KindPermanentUpstream is an LLM refusal or schema violation that
	// survived one repair-prompt retry.
	KindPermanentUpstream Kind = "permanent_upstream"

	// KindDataIntegrity is a corrupt session blob or an orphaned foreign
	// key. Never auto-recovered; surfaces immediately.
	KindDataIntegrity Kind = "data_integrity"

	// KindCapacity means a turn exceeded its time budget.
	KindCapacity Kind = "capacity"

	// KindInvariantViolation means a mutation was rejected because it
	// would have broken a session-state invariant (e.g. a phenomenon
	// both confirmed and denied).
	KindInvariantViolation Kind = "invariant_violation"

	// KindNotFound covers missing sessions/sessions ids; the dialogue
	// manager reports an unknown session id as an ordinary kind=error
	// response.
	KindNotFound Kind = "not_found"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// classification without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error under kind, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ClassifyOf extracts the Kind of err if it (or something it wraps) is a
// *Error; otherwise it returns KindPermanentUpstream as the conservative
// default — callers that did not tag their own errors still get a
// sensible user-facing classification.
func ClassifyOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanentUpstream
}

// IsNotFound reports whether err (or a wrapped cause) is a KindNotFound error.
func IsNotFound(err error) bool {
	return ClassifyOf(err) == KindNotFound
}
