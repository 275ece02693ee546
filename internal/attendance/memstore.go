package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded Store for dev mode and tests. It enforces
// the same uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu          sync.Mutex
	classes     map[string]Class
	enrollments map[string]map[string]bool
	sessions    map[string]*Session
	records     map[string]map[string]*Record // session -> student -> record
	instructors map[string]*InstructorAttendance
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classes:     make(map[string]Class),
		enrollments: make(map[string]map[string]bool),
		sessions:    make(map[string]*Session),
		records:     make(map[string]map[string]*Record),
		instructors: make(map[string]*InstructorAttendance),
	}
}

// PutClass adds or replaces a class.
func (m *MemoryStore) PutClass(c Class) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = c
}

// Enroll enrolls students in a class.
func (m *MemoryStore) Enroll(classID string, studentIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.enrollments[classID]
	if !ok {
		set = make(map[string]bool)
		m.enrollments[classID] = set
	}
	for _, id := range studentIDs {
		set[id] = true
	}
}

// Records returns a copy of the records of a session keyed by student.
func (m *MemoryStore) Records(sessionID string) map[string]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.records[sessionID]))
	for student, rec := range m.records[sessionID] {
		out[student] = *rec
	}
	return out
}

// Instructor returns the instructor attendance row, if any.
func (m *MemoryStore) Instructor(instructorID, classID string, date time.Time) (InstructorAttendance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ia, ok := m.instructors[instructorKey(instructorID, classID, date)]
	if !ok {
		return InstructorAttendance{}, false
	}
	return *ia, true
}

func (m *MemoryStore) GetClass(_ context.Context, classID string) (Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.classes[classID]
	if !ok {
		return Class{}, NotFound("class")
	}
	return c, nil
}

func (m *MemoryStore) ListClasses(_ context.Context, room string) ([]Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Class
	for _, c := range m.classes {
		if room == "" || c.RoomNumber == room {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) IsEnrolled(_ context.Context, classID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrollments[classID][studentID], nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, NotFound("session")
	}
	return *s, nil
}

func (m *MemoryStore) FindOpenSession(_ context.Context, classID string, date time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.openLocked(classID, date); s != nil {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) openLocked(classID string, date time.Time) *Session {
	for _, s := range m.sessions {
		if s.ClassID == classID && !s.IsProcessed && sameDate(s.Date, date) {
			return s
		}
	}
	return nil
}

func (m *MemoryStore) OpenSessions(_ context.Context, classID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if !s.IsProcessed && (classID == "" || s.ClassID == classID) {
			out = append(out, *s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) InsertSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openLocked(s.ClassID, s.Date) != nil {
		return ErrDuplicate
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.sessions[s.ID] = &s
	return nil
}

func (m *MemoryStore) MutateSession(_ context.Context, id string, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, NotFound("session")
	}
	next := *s
	if err := fn(&next); err != nil {
		return *s, err
	}
	*s = next
	return next, nil
}

func (m *MemoryStore) InsertAttendance(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[rec.ClassSessionID]
	if !ok {
		return Record{}, NotFound("session")
	}
	if s.IsProcessed {
		return Record{}, ErrSessionEnded
	}
	byStudent, ok := m.records[s.ID]
	if !ok {
		byStudent = make(map[string]*Record)
		m.records[s.ID] = byStudent
	}
	if existing, ok := byStudent[rec.StudentID]; ok {
		if !canReplace(*existing, rec) {
			return *existing, ErrAlreadyCheckedIn
		}
		existing.Status = rec.Status
		existing.TimeIn = rec.TimeIn
		existing.MarkedBy = rec.MarkedBy
		existing.MarkedAt = rec.MarkedAt
		return *existing, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	byStudent[rec.StudentID] = &rec
	return rec, nil
}

func (m *MemoryStore) CloseSession(_ context.Context, id string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0, NotFound("session")
	}
	if s.IsProcessed {
		return 0, ErrSessionClosed
	}
	byStudent, ok := m.records[id]
	if !ok {
		byStudent = make(map[string]*Record)
		m.records[id] = byStudent
	}
	for _, rec := range byStudent {
		if rec.Status.Attended() && rec.TimeOut == nil {
			out := at
			rec.TimeOut = &out
		}
	}
	students := make([]string, 0, len(m.enrollments[s.ClassID]))
	for student := range m.enrollments[s.ClassID] {
		students = append(students, student)
	}
	sort.Strings(students)
	marked := 0
	for _, student := range students {
		if _, ok := byStudent[student]; ok {
			continue
		}
		byStudent[student] = &Record{
			ID:             uuid.NewString(),
			ClassSessionID: id,
			StudentID:      student,
			Status:         StatusAbsent,
			MarkedAt:       at,
		}
		marked++
	}
	s.IsProcessed = true
	s.ViewLockOwner = ""
	s.ViewLockAcquiredAt = nil
	return marked, nil
}

func (m *MemoryStore) OverdueSessions(_ context.Context, now time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Overdue(now) {
			out = append(out, *s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) RecordInstructorIn(_ context.Context, instructorID, classID string, date, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instructorKey(instructorID, classID, date)
	ia, ok := m.instructors[key]
	if !ok {
		ia = &InstructorAttendance{InstructorID: instructorID, ClassID: classID, Date: DateOf(date)}
		m.instructors[key] = ia
	}
	ia.Status = InstructorPresent
	if ia.TimeIn == nil {
		in := at
		ia.TimeIn = &in
	}
	return nil
}

func (m *MemoryStore) RecordInstructorOut(_ context.Context, instructorID, classID string, date, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := instructorKey(instructorID, classID, date)
	ia, ok := m.instructors[key]
	if !ok {
		ia = &InstructorAttendance{InstructorID: instructorID, ClassID: classID, Date: DateOf(date), Status: InstructorPresent}
		m.instructors[key] = ia
	}
	out := at
	ia.TimeOut = &out
	return nil
}

// canReplace reports whether next may overwrite existing: only an ABSENT
// placeholder may be upgraded, and only to an attended status.
func canReplace(existing, next Record) bool {
	return existing.Status == StatusAbsent && next.Status.Attended()
}

func instructorKey(instructorID, classID string, date time.Time) string {
	return instructorID + "|" + classID + "|" + date.Format(time.DateOnly)
}

func sameDate(a, b time.Time) bool {
	return a.Format(time.DateOnly) == b.Format(time.DateOnly)
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].ScheduledStartTime.Equal(s[j].ScheduledStartTime) {
			return s[i].ScheduledStartTime.Before(s[j].ScheduledStartTime)
		}
		return s[i].ID < s[j].ID
	})
}
