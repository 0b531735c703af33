// Package engine implements the lease lifecycle engine: the offer, lease and
// owner-change state machines, their create/cancel/fulfill/expire transitions,
// and the per-resource serialization that keeps concurrent transitions from
// double-booking a node.
package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an error for surfacing and retry decisions.
type Kind string

const (
	// KindValidation marks malformed input: bad time range, same from/to
	// owner, missing required field. Rejected at entry.
	KindValidation Kind = "validation"

	// KindNotFound marks an unknown offer, lease, owner change or token.
	KindNotFound Kind = "not_found"

	// KindConflict marks a temporal overlap, duplicate entry or an already
	// authorized token.
	KindConflict Kind = "conflict"

	// KindForbidden marks a policy failure.
	KindForbidden Kind = "forbidden"

	// KindBusy marks a named-lock timeout. The control loop absorbs it and
	// retries on its next tick; the API maps it to 503.
	KindBusy Kind = "busy"

	// KindDriver marks a resource-driver failure. The transition records an
	// error status and is not retried automatically.
	KindDriver Kind = "driver"

	// KindInternal marks everything unexpected.
	KindInternal Kind = "internal"
)

// Error is the classified error carried across the engine, store and API
// layers.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Operation string `json:"operation,omitempty"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for errors.Is/As traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind and code so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	return e.Kind == t.Kind
}

// WithResource attaches the resource identifier the error concerns.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation attaches the operation being performed.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// Error codes carried alongside kinds for programmatic handling.
const (
	CodeInvalidTimeRange       = "INVALID_TIME_RANGE"
	CodeInvalidResourceType    = "INVALID_RESOURCE_TYPE"
	CodeNotFound               = "NOT_FOUND"
	CodeDuplicateEntry         = "DUPLICATE_ENTRY"
	CodeDuplicateName          = "DUPLICATE_NAME"
	CodeResourceTimeConflict   = "RESOURCE_TIME_CONFLICT"
	CodeOfferNotAvailable      = "OFFER_NOT_AVAILABLE"
	CodeOfferNoAvailability    = "OFFER_NO_TIME_AVAILABILITIES"
	CodeLeaseNoAvailability    = "LEASE_NO_TIME_AVAILABILITIES"
	CodeTokenAlreadyAuthorized = "TOKEN_ALREADY_AUTHORIZED"
	CodeLockTimeout            = "LOCK_TIMEOUT"
	CodeDriverFailed           = "DRIVER_FAILED"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL"
)

// NewValidation creates a validation error.
func NewValidation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// NewNotFound creates a not-found error.
func NewNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message}
}

// NewConflict creates a conflict error.
func NewConflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// NewForbidden creates a policy-failure error.
func NewForbidden(rule string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Code:    CodeForbidden,
		Message: fmt.Sprintf("operation denied by rule %q", rule),
	}
}

// NewBusy creates a resource-busy error from a lock timeout.
func NewBusy(resource string, err error) *Error {
	return &Error{
		Kind:     KindBusy,
		Code:     CodeLockTimeout,
		Message:  "timed out waiting for resource lock",
		Resource: resource,
		Err:      err,
	}
}

// NewDriver creates a driver-failure error carrying the driver's reason.
func NewDriver(message string, err error) *Error {
	return &Error{Kind: KindDriver, Code: CodeDriverFailed, Message: message, Err: err}
}

// NewInternal creates an internal error.
func NewInternal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// KindOf extracts the classification of err, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation reports whether err is classified as a validation failure.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is classified as not-found.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is classified as a conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsForbidden reports whether err is classified as a policy failure.
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }

// IsBusy reports whether err is classified as a lock timeout.
func IsBusy(err error) bool { return KindOf(err) == KindBusy }

// IsDriver reports whether err is classified as a driver failure.
func IsDriver(err error) bool { return KindOf(err) == KindDriver }
