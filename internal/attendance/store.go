package attendance

import (
	"context"
	"errors"
	"time"
)

// Store is the durable side of the session lifecycle. Implementations must
// enforce the uniqueness rules on sessions and records and serialize
// attendance writes per session.
type Store interface {
	GetClass(ctx context.Context, classID string) (Class, error)
	ListClasses(ctx context.Context, room string) ([]Class, error)
	IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)

	GetSession(ctx context.Context, id string) (Session, error)
	// FindOpenSession returns the non-processed session of classID on date,
	// or nil when there is none.
	FindOpenSession(ctx context.Context, classID string, date time.Time) (*Session, error)
	// OpenSessions lists non-processed sessions, all of them when classID
	// is empty.
	OpenSessions(ctx context.Context, classID string) ([]Session, error)
	// InsertSession returns ErrDuplicate when an open session already
	// exists for the class and date.
	InsertSession(ctx context.Context, s Session) error
	// MutateSession applies fn to the session while holding its row lock
	// and persists the result unless fn fails.
	MutateSession(ctx context.Context, id string, fn func(*Session) error) (Session, error)

	// InsertAttendance writes rec under the session row lock. It returns
	// ErrSessionEnded when the session is processed, ErrAlreadyCheckedIn
	// when a record exists that rec may not replace, and ErrDuplicate when
	// a concurrent insert won the unique constraint.
	InsertAttendance(ctx context.Context, rec Record) (Record, error)
	// CloseSession marks the session processed, clears its view lock,
	// stamps time-out on attended records and inserts ABSENT records for
	// enrolled students without one. It returns the number of absences
	// inserted, or ErrSessionClosed if the session was already processed.
	CloseSession(ctx context.Context, id string, at time.Time) (int, error)
	// OverdueSessions lists open sessions eligible for sweeping at now.
	OverdueSessions(ctx context.Context, now time.Time) ([]Session, error)

	RecordInstructorIn(ctx context.Context, instructorID, classID string, date, at time.Time) error
	RecordInstructorOut(ctx context.Context, instructorID, classID string, date, at time.Time) error
}

// insertAttempts bounds retries on unique violations.
const insertAttempts = 3

// retryOnDuplicate runs fn until it succeeds, fails with something other
// than ErrDuplicate, or runs out of attempts.
func retryOnDuplicate(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, ErrDuplicate) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
