package attendance

import "time"

// Status is the classification of a student's arrival for a session.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
)

// Attended reports whether the status counts as the student having shown up.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

// Instructor attendance statuses.
const (
	InstructorPresent = "Present"
	InstructorAbsent  = "Absent"
	InstructorOnLeave = "On Leave"
)

// Assignment roles reported back on instructor check-in.
const (
	RolePrimary    = "primary"
	RoleSubstitute = "substitute"
)

const (
	// ClockSkewTolerance bounds how far a client-supplied timestamp may
	// drift from server time before it is ignored.
	ClockSkewTolerance = 5 * time.Minute
	// MaxSessionLength is how long after its actual start a session still
	// accepts scans, and how long after its scheduled start the sweeper
	// waits before force-closing it.
	MaxSessionLength = 4 * time.Hour
	// SweepGrace is added to the scheduled end before a session is overdue.
	SweepGrace = 15 * time.Minute
	// DefaultSessionLength is the fallback window when no schedule slot
	// applies to the check-in date.
	DefaultSessionLength = 60 * time.Minute
)

// Class is the read-only view of a scheduled class the core needs.
type Class struct {
	ID                     string
	Code                   string
	Name                   string
	Schedule               string
	RoomNumber             string
	InstructorID           string
	SubstituteInstructorID string
}

// HasInstructor reports whether anyone is assigned to teach the class.
func (c Class) HasInstructor() bool {
	return c.InstructorID != "" || c.SubstituteInstructorID != ""
}

// RoleOf returns the assignment role of instructorID, or "" when the
// instructor is not assigned to the class.
func (c Class) RoleOf(instructorID string) string {
	switch {
	case instructorID == "":
		return ""
	case instructorID == c.InstructorID:
		return RolePrimary
	case instructorID == c.SubstituteInstructorID:
		return RoleSubstitute
	}
	return ""
}

// Session is one dated occurrence of a class.
type Session struct {
	ID                 string
	ClassID            string
	InstructorID       string
	Date               time.Time
	ActualStartTime    time.Time
	ScheduledStartTime time.Time
	ScheduledEndTime   time.Time
	IsProcessed        bool
	RoomNumber         string
	ViewLockOwner      string
	ViewLockAcquiredAt *time.Time
	CreatedAt          time.Time
}

// Overdue reports whether the sweeper should close the session at now.
func (s Session) Overdue(now time.Time) bool {
	if s.IsProcessed {
		return false
	}
	if !s.ScheduledEndTime.IsZero() && s.ScheduledEndTime.Add(SweepGrace).Before(now) {
		return true
	}
	return !s.ScheduledStartTime.IsZero() && s.ScheduledStartTime.Add(MaxSessionLength).Before(now)
}

// Record is a student's attendance for a session.
type Record struct {
	ID             string
	ClassSessionID string
	StudentID      string
	Status         Status
	TimeIn         *time.Time
	TimeOut        *time.Time
	MarkedBy       *string
	MarkedAt       time.Time
}

// InstructorAttendance tracks an instructor per class and date.
type InstructorAttendance struct {
	InstructorID string
	ClassID      string
	Date         time.Time
	Status       string
	TimeIn       *time.Time
	TimeOut      *time.Time
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
