package attendance

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for propagation and presentation.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTransient
	KindFatalConfig
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatalConfig:
		return "fatal_config"
	case KindForbidden:
		return "forbidden"
	}
	return "internal"
}

// Error is the structured error surfaced to callers and kiosks.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Owner and AcquiredAt describe the current holder for lock conflicts.
	Owner      string
	AcquiredAt *time.Time
}

func (e *Error) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("%s (locked by %s)", e.Message, e.Owner)
	}
	return e.Message
}

// Is matches errors with the same non-empty code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

var (
	ErrAlreadyCheckedIn = &Error{Kind: KindConflict, Code: "ALREADY_CHECKED_IN", Message: "student already checked in"}
	ErrSessionEnded     = &Error{Kind: KindValidation, Code: "SESSION_ENDED", Message: "session ended"}
	ErrSessionClosed    = &Error{Kind: KindConflict, Code: "SESSION_CLOSED", Message: "session already processed"}
	ErrLockHeld         = &Error{Kind: KindConflict, Code: "LOCK_HELD", Message: "session view is locked by another kiosk"}
	ErrNotFound         = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "not found"}
	ErrNoInstructor     = &Error{Kind: KindFatalConfig, Code: "NO_INSTRUCTOR", Message: "no instructor assigned to class"}

	// ErrDuplicate is returned by stores when a uniqueness constraint
	// rejects an insert. It never leaves the package unwrapped.
	ErrDuplicate = errors.New("attendance: duplicate key")
)

// Validation builds a validation error with a free-form message.
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Code: "VALIDATION", Message: msg}
}

// NotFound builds a not-found error naming the missing thing.
func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Code: ErrNotFound.Code, Message: what + " not found"}
}

func lockHeld(owner string, at *time.Time) error {
	return &Error{Kind: KindConflict, Code: ErrLockHeld.Code, Message: ErrLockHeld.Message, Owner: owner, AcquiredAt: at}
}

// KindOf extracts the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the response status used by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindFatalConfig:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
