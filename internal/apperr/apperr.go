// Package apperr defines the error taxonomy shared by the store, the ingest
// pipeline and the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can tell "nothing matched" from
// "something broke".
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInfrastructure Kind = "infrastructure"
)

// Machine-readable reason codes for validation and not-found errors.
const (
	ReasonInvalidItemID         = "invalid_item_id"
	ReasonInvalidLanguage       = "invalid_language"
	ReasonInvalidVariant        = "invalid_variant"
	ReasonInvalidCategorization = "invalid_categorization"
	ReasonInvalidSort           = "invalid_sort"
	ReasonInvalidPage           = "invalid_page"
	ReasonInvalidSize           = "invalid_size"
	ReasonInvalidFilter         = "invalid_filter"
	ReasonInvalidPayload        = "invalid_payload"
	ReasonEmptyContent          = "empty_content"
	ReasonItemNotFound          = "item_not_found"
	ReasonRevisionNotFound      = "revision_not_found"
	ReasonChannelNotFound       = "channel_not_found"
	ReasonRevisionRace          = "revision_race"
	ReasonStoreFailure          = "store_failure"
)

// Error is the canonical error wrapper.
type Error struct {
	Kind    Kind
	Reason  string
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Reason)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Reason)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Reason)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation builds a validation error with the given reason code.
func Validation(reason, format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error.
func NotFound(reason, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Conflict marks a race that exhausted its bounded retries.
func Conflict(op string, err error) error {
	return &Error{Kind: KindConflict, Reason: ReasonRevisionRace, Op: op, Message: errMessage(err), Cause: err}
}

// Infra wraps a backing-store failure. Errors that already carry a Kind are
// returned unchanged.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindInfrastructure, Reason: ReasonStoreFailure, Op: op, Message: err.Error(), Cause: err}
}

// KindOf extracts the Kind of err, or "" when err is untyped.
func KindOf(err error) Kind {
	var ae *Error
	if !errors.As(err, &ae) {
		return ""
	}
	return ae.Kind
}

// ReasonOf extracts the reason code of err, or "".
func ReasonOf(err error) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return ""
	}
	return ae.Reason
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
