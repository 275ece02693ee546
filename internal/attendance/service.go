package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Service coordinates the class-session lifecycle: instructor check-in,
// student scans and session close.
type Service struct {
	store        Store
	now          func() time.Time
	loc          *time.Location
	strictWindow bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the timezone used to derive session dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithStrictCheckInWindow rejects instructor check-ins outside the
// scheduled window of the class.
func WithStrictCheckInWindow(on bool) Option {
	return func(s *Service) { s.strictWindow = on }
}

// NewService creates a service backed by a store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// CheckInInput is an instructor starting a class from a kiosk.
type CheckInInput struct {
	InstructorID string
	ClassID      string
	RoomNumber   string
	Timestamp    *time.Time
}

// CheckInResult is the session the instructor is now bound to.
type CheckInResult struct {
	Session        Session
	AssignmentRole string
	Created        bool
}

// CheckIn returns today's open session for the class, creating it on the
// first call. Repeated calls only fill fields that are still unset, except
// that a different instructor rebinds the session to themselves.
func (s *Service) CheckIn(ctx context.Context, in CheckInInput) (CheckInResult, error) {
	if in.InstructorID == "" || in.ClassID == "" {
		return CheckInResult{}, Validation("instructorId and classId are required")
	}
	class, err := s.store.GetClass(ctx, in.ClassID)
	if err != nil {
		return CheckInResult{}, err
	}
	if !class.HasInstructor() {
		return CheckInResult{}, ErrNoInstructor
	}
	role := class.RoleOf(in.InstructorID)
	if role == "" {
		return CheckInResult{}, Validation("instructor is not assigned to this class")
	}

	now := s.clock()
	start := acceptClientTime(in.Timestamp, now)
	date := DateOf(now)
	room := in.RoomNumber
	if room == "" {
		room = class.RoomNumber
	}

	var sess Session
	created := false
	err = retryOnDuplicate(ctx, insertAttempts, func() error {
		existing, err := s.store.FindOpenSession(ctx, class.ID, date)
		if err != nil {
			return err
		}
		if existing != nil {
			sess, created = *existing, false
			return nil
		}
		window, ok := ResolveSchedule(class.Schedule, date)
		if !ok {
			window = DefaultWindow(now)
		}
		if s.strictWindow && !WithinCheckInWindow(window.Start, window.End, now) {
			return Validation("outside the check-in window for this class")
		}
		candidate := Session{
			ID:                 uuid.NewString(),
			ClassID:            class.ID,
			InstructorID:       in.InstructorID,
			Date:               date,
			ActualStartTime:    start,
			ScheduledStartTime: window.Start,
			ScheduledEndTime:   window.End,
			RoomNumber:         room,
			CreatedAt:          now,
		}
		if err := s.store.InsertSession(ctx, candidate); err != nil {
			return err
		}
		sess, created = candidate, true
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		return CheckInResult{}, &Error{Kind: KindTransient, Code: "CHECKIN_CONTENDED", Message: "session creation kept conflicting, try again"}
	}
	if err != nil {
		return CheckInResult{}, err
	}

	if created {
		sessionsOpened.Inc()
		log.Printf("checkin: opened session %s for class %s (instructor %s, room %s)", sess.ID, class.ID, in.InstructorID, sess.RoomNumber)
	} else {
		sess, err = s.store.MutateSession(ctx, sess.ID, func(cur *Session) error {
			if cur.IsProcessed {
				return ErrSessionClosed
			}
			if cur.InstructorID != in.InstructorID {
				rebinding := cur.InstructorID != ""
				cur.InstructorID = in.InstructorID
				if rebinding && in.RoomNumber != "" {
					cur.RoomNumber = in.RoomNumber
				}
			}
			if cur.RoomNumber == "" {
				cur.RoomNumber = room
			}
			return nil
		})
		if err != nil {
			return CheckInResult{}, err
		}
	}

	if err := s.store.RecordInstructorIn(ctx, in.InstructorID, class.ID, date, start); err != nil {
		return CheckInResult{}, fmt.Errorf("record instructor time-in: %w", err)
	}
	return CheckInResult{Session: sess, AssignmentRole: role, Created: created}, nil
}

// ScanInput is a recognized student at a kiosk.
type ScanInput struct {
	StudentID      string
	ClassSessionID string
	Timestamp      *time.Time
}

// ScanStudent records a student's arrival, classified against the
// session's actual start.
func (s *Service) ScanStudent(ctx context.Context, in ScanInput) (Record, error) {
	if in.StudentID == "" || in.ClassSessionID == "" {
		return Record{}, Validation("studentId and classSessionId are required")
	}
	sess, err := s.store.GetSession(ctx, in.ClassSessionID)
	if err != nil {
		return Record{}, err
	}
	now := s.clock()
	if sess.IsProcessed || now.Sub(sess.ActualStartTime) > MaxSessionLength {
		scansTotal.WithLabelValues("ended").Inc()
		return Record{}, ErrSessionEnded
	}
	enrolled, err := s.store.IsEnrolled(ctx, sess.ClassID, in.StudentID)
	if err != nil {
		return Record{}, err
	}
	if !enrolled {
		scansTotal.WithLabelValues("not_enrolled").Inc()
		return Record{}, Validation("student is not enrolled in this class")
	}

	arrival := acceptClientTime(in.Timestamp, now)
	rec := Record{
		ClassSessionID: sess.ID,
		StudentID:      in.StudentID,
		Status:         Classify(sess.ActualStartTime, arrival),
		TimeIn:         &arrival,
		MarkedAt:       now,
	}
	var out Record
	err = retryOnDuplicate(ctx, insertAttempts, func() error {
		var err error
		out, err = s.store.InsertAttendance(ctx, rec)
		return err
	})
	switch {
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrAlreadyCheckedIn):
		scansTotal.WithLabelValues("duplicate").Inc()
		return out, ErrAlreadyCheckedIn
	case err != nil:
		return Record{}, err
	}
	scansTotal.WithLabelValues(string(out.Status)).Inc()
	return out, nil
}

// CheckOutInput identifies the sessions an instructor is closing, either
// every open session of ClassID or the single ClassSessionID.
type CheckOutInput struct {
	InstructorID   string
	ClassID        string
	ClassSessionID string
	Auto           bool
}

// ClosedSession describes one session closed by a checkout or sweep.
type ClosedSession struct {
	ClassSessionID string
	ClassID        string
	AbsentMarked   int
}

// CheckOutResult summarizes a checkout.
type CheckOutResult struct {
	TotalAbsentMarked int
	SessionsProcessed int
	Sessions          []ClosedSession
}

// CheckOutInstructor closes every matching open session, back-filling
// absences and stamping the instructor's time-out.
func (s *Service) CheckOutInstructor(ctx context.Context, in CheckOutInput) (CheckOutResult, error) {
	if in.InstructorID == "" {
		return CheckOutResult{}, Validation("instructorId is required")
	}
	if in.ClassID == "" && in.ClassSessionID == "" {
		return CheckOutResult{}, Validation("classId or classSessionId is required")
	}

	var targets []Session
	if in.ClassSessionID != "" {
		sess, err := s.store.GetSession(ctx, in.ClassSessionID)
		if err != nil {
			return CheckOutResult{}, err
		}
		if in.ClassID != "" && sess.ClassID != in.ClassID {
			return CheckOutResult{}, Validation("classSessionId does not belong to classId")
		}
		if !sess.IsProcessed {
			targets = append(targets, sess)
		}
	} else {
		if _, err := s.store.GetClass(ctx, in.ClassID); err != nil {
			return CheckOutResult{}, err
		}
		open, err := s.store.OpenSessions(ctx, in.ClassID)
		if err != nil {
			return CheckOutResult{}, err
		}
		targets = open
	}

	reason := reasonCheckout
	if in.Auto {
		reason = reasonAuto
	}
	now := s.clock()
	var res CheckOutResult
	for _, sess := range targets {
		marked, err := s.closeSession(ctx, sess, now, reason)
		if errors.Is(err, ErrSessionClosed) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("close session %s: %w", sess.ID, err)
		}
		if err := s.store.RecordInstructorOut(ctx, in.InstructorID, sess.ClassID, sess.Date, now); err != nil {
			log.Printf("checkout: instructor time-out for session %s failed: %v", sess.ID, err)
		}
		res.SessionsProcessed++
		res.TotalAbsentMarked += marked
		res.Sessions = append(res.Sessions, ClosedSession{ClassSessionID: sess.ID, ClassID: sess.ClassID, AbsentMarked: marked})
	}
	return res, nil
}

// closeSession is the single path that processes a session.
func (s *Service) closeSession(ctx context.Context, sess Session, at time.Time, reason string) (int, error) {
	marked, err := s.store.CloseSession(ctx, sess.ID, at)
	if err != nil {
		return 0, err
	}
	sessionsClosed.WithLabelValues(reason).Inc()
	absencesMarked.WithLabelValues(reason).Add(float64(marked))
	log.Printf("%s: closed session %s (class %s), %d marked absent", reason, sess.ID, sess.ClassID, marked)
	return marked, nil
}

// ActiveSessions lists every session that has not been processed.
func (s *Service) ActiveSessions(ctx context.Context) ([]Session, error) {
	return s.store.OpenSessions(ctx, "")
}

// Classes lists the class catalog, optionally for a single room.
func (s *Service) Classes(ctx context.Context, room string) ([]Class, error) {
	return s.store.ListClasses(ctx, room)
}
