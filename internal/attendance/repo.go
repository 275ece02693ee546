package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists sessions and attendance in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, class_id, COALESCE(instructor_id, ''), session_date, actual_start_time,
	scheduled_start_time, scheduled_end_time, is_processed, COALESCE(room_number, ''),
	COALESCE(view_lock_owner, ''), view_lock_acquired_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ClassID, &s.InstructorID, &s.Date, &s.ActualStartTime,
		&s.ScheduledStartTime, &s.ScheduledEndTime, &s.IsProcessed, &s.RoomNumber,
		&s.ViewLockOwner, &s.ViewLockAcquiredAt, &s.CreatedAt)
	return s, err
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetClass returns a single class by id.
func (r *Repository) GetClass(ctx context.Context, classID string) (Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, schedule, COALESCE(room_number, ''),
			COALESCE(instructor_id, ''), COALESCE(substitute_instructor_id, '')
		FROM classes WHERE id = $1
	`, classID)
	var c Class
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Schedule, &c.RoomNumber, &c.InstructorID, &c.SubstituteInstructorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Class{}, NotFound("class")
		}
		return Class{}, err
	}
	return c, nil
}

// ListClasses returns classes, optionally filtered by room.
func (r *Repository) ListClasses(ctx context.Context, room string) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, name, schedule, COALESCE(room_number, ''),
			COALESCE(instructor_id, ''), COALESCE(substitute_instructor_id, '')
		FROM classes
		WHERE $1 = '' OR room_number = $1
		ORDER BY id
	`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Schedule, &c.RoomNumber, &c.InstructorID, &c.SubstituteInstructorID); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// IsEnrolled reports whether the student is enrolled in the class.
func (r *Repository) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE class_id = $1 AND student_id = $2)`,
		classID, studentID).Scan(&ok)
	return ok, err
}

// GetSession returns a single session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, NotFound("session")
	}
	return s, err
}

// FindOpenSession returns the open session of a class on a date, or nil.
func (r *Repository) FindOpenSession(ctx context.Context, classID string, date time.Time) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM class_sessions
		WHERE class_id = $1 AND session_date = $2 AND NOT is_processed
		LIMIT 1
	`, classID, date.Format(time.DateOnly)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// OpenSessions lists non-processed sessions.
func (r *Repository) OpenSessions(ctx context.Context, classID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM class_sessions
		WHERE NOT is_processed AND ($1 = '' OR class_id = $1)
		ORDER BY scheduled_start_time, id
	`, classID)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// InsertSession writes a new open session.
func (r *Repository) InsertSession(ctx context.Context, s Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_sessions (id, class_id, instructor_id, session_date, actual_start_time,
			scheduled_start_time, scheduled_end_time, is_processed, room_number)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, FALSE, $8)
	`, s.ID, s.ClassID, s.InstructorID, s.Date.Format(time.DateOnly), s.ActualStartTime,
		s.ScheduledStartTime, s.ScheduledEndTime, s.RoomNumber)
	return translate(err)
}

// MutateSession runs fn against the row-locked session and saves it.
func (r *Repository) MutateSession(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	var out Session
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return NotFound("session")
			}
			return err
		}
		out = s
		if err := fn(&s); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE class_sessions
			SET instructor_id = NULLIF($2, ''), room_number = $3, is_processed = $4,
				view_lock_owner = NULLIF($5, ''), view_lock_acquired_at = $6
			WHERE id = $1
		`, s.ID, s.InstructorID, s.RoomNumber, s.IsProcessed, s.ViewLockOwner, s.ViewLockAcquiredAt)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// InsertAttendance records a scan while holding the session row lock.
func (r *Repository) InsertAttendance(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var processed bool
		err := tx.QueryRowContext(ctx, `SELECT is_processed FROM class_sessions WHERE id = $1 FOR UPDATE`, rec.ClassSessionID).Scan(&processed)
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("session")
		}
		if err != nil {
			return err
		}
		if processed {
			return ErrSessionEnded
		}

		var existing Record
		err = tx.QueryRowContext(ctx, `
			SELECT id, class_session_id, student_id, status, time_in, time_out, marked_by, marked_at
			FROM attendance_records
			WHERE class_session_id = $1 AND student_id = $2
		`, rec.ClassSessionID, rec.StudentID).Scan(&existing.ID, &existing.ClassSessionID, &existing.StudentID,
			&existing.Status, &existing.TimeIn, &existing.TimeOut, &existing.MarkedBy, &existing.MarkedAt)
		switch {
		case err == nil:
			if !canReplace(existing, rec) {
				rec = existing
				return ErrAlreadyCheckedIn
			}
			rec.ID = existing.ID
			_, err = tx.ExecContext(ctx, `
				UPDATE attendance_records
				SET status = $2, time_in = $3, marked_by = $4, marked_at = $5
				WHERE id = $1
			`, rec.ID, string(rec.Status), rec.TimeIn, rec.MarkedBy, rec.MarkedAt)
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO attendance_records (id, class_session_id, student_id, status, time_in, marked_by, marked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rec.ID, rec.ClassSessionID, rec.StudentID, string(rec.Status), rec.TimeIn, rec.MarkedBy, rec.MarkedAt)
		return translate(err)
	})
	return rec, err
}

// CloseSession processes a session and back-fills absences in one transaction.
func (r *Repository) CloseSession(ctx context.Context, id string, at time.Time) (int, error) {
	var marked int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var processed bool
		err := tx.QueryRowContext(ctx, `SELECT is_processed FROM class_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&processed)
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("session")
		}
		if err != nil {
			return err
		}
		if processed {
			return ErrSessionClosed
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_records
			SET time_out = $2
			WHERE class_session_id = $1 AND status IN ('PRESENT', 'LATE') AND time_out IS NULL
		`, id, at); err != nil {
			return fmt.Errorf("stamp time out: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (id, class_session_id, student_id, status, marked_at)
			SELECT gen_random_uuid()::text, s.id, e.student_id, 'ABSENT', $2
			FROM class_sessions s
			JOIN enrollments e ON e.class_id = s.class_id
			WHERE s.id = $1
			ON CONFLICT (class_session_id, student_id) DO NOTHING
		`, id, at)
		if err != nil {
			return fmt.Errorf("mark absent: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		marked = int(n)

		_, err = tx.ExecContext(ctx, `
			UPDATE class_sessions
			SET is_processed = TRUE, view_lock_owner = NULL, view_lock_acquired_at = NULL
			WHERE id = $1
		`, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

// OverdueSessions lists open sessions past their end grace or max length.
func (r *Repository) OverdueSessions(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM class_sessions
		WHERE NOT is_processed
			AND (scheduled_end_time + ($2 * interval '1 second') < $1
				OR scheduled_start_time + ($3 * interval '1 second') < $1)
		ORDER BY scheduled_start_time, id
	`, now, SweepGrace.Seconds(), MaxSessionLength.Seconds())
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// RecordInstructorIn marks the instructor present, keeping the first time-in.
func (r *Repository) RecordInstructorIn(ctx context.Context, instructorID, classID string, date, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instructor_attendance (instructor_id, class_id, attendance_date, status, time_in)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instructor_id, class_id, attendance_date) DO UPDATE SET
			status = EXCLUDED.status,
			time_in = COALESCE(instructor_attendance.time_in, EXCLUDED.time_in)
	`, instructorID, classID, date.Format(time.DateOnly), InstructorPresent, at)
	return err
}

// RecordInstructorOut stamps the instructor's time-out.
func (r *Repository) RecordInstructorOut(ctx context.Context, instructorID, classID string, date, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO instructor_attendance (instructor_id, class_id, attendance_date, status, time_out)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instructor_id, class_id, attendance_date) DO UPDATE SET
			time_out = EXCLUDED.time_out
	`, instructorID, classID, date.Format(time.DateOnly), InstructorPresent, at)
	return err
}

func (r *Repository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// translate maps unique violations to ErrDuplicate.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
