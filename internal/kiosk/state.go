package kiosk

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultCooldown is how long an ended class stays out of the startable list.
const DefaultCooldown = 12 * time.Hour

const dayLayout = time.DateOnly

// Ongoing is a class this kiosk believes has an open session.
type Ongoing struct {
	ClassID      string
	SessionID    string
	Room         string
	InstructorID string
	Deadline     time.Time
}

// stateFile is the on-disk layout of the kiosk state.
type stateFile struct {
	KioskID                    string               `json:"kioskId,omitempty"`
	EndedClassesDay            string               `json:"endedClassesDay"`
	EndedClasses               []string             `json:"endedClasses"`
	EndedClassExpirations      map[string]time.Time `json:"endedClassExpirations"`
	OngoingClasses             []string             `json:"ongoingClasses"`
	ClassRooms                 map[string]string    `json:"classRooms"`
	ClassSessionIDs            map[string]string    `json:"classSessionIds"`
	ClassInstructorAssignments map[string]string    `json:"classInstructorAssignments"`
	ClassTimeoutDeadlines      map[string]time.Time `json:"classTimeoutDeadlines"`
	SavedAt                    time.Time            `json:"savedAt"`
}

// State is the kiosk's local cache of class bookkeeping. Every mutating
// method writes the whole state to disk before returning.
type State struct {
	mu       sync.Mutex
	path     string
	cooldown time.Duration
	now      func() time.Time

	kioskID     string
	day         string
	ended       map[string]time.Time
	ongoing     map[string]bool
	rooms       map[string]string
	sessions    map[string]string
	instructors map[string]string
	deadlines   map[string]time.Time
}

// NewState returns an empty state persisted at path. An empty path keeps
// the state in memory only.
func NewState(path string, cooldown time.Duration, now func() time.Time) *State {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &State{
		path:        path,
		cooldown:    cooldown,
		now:         now,
		day:         now().Format(dayLayout),
		ended:       make(map[string]time.Time),
		ongoing:     make(map[string]bool),
		rooms:       make(map[string]string),
		sessions:    make(map[string]string),
		instructors: make(map[string]string),
		deadlines:   make(map[string]time.Time),
	}
}

// LoadState reads the state file, dropping expired cooldowns and any
// ended classes from a previous day. A missing file yields an empty state;
// an unreadable one is logged and replaced.
func LoadState(path string, cooldown time.Duration, now func() time.Time) (*State, error) {
	s := NewState(path, cooldown, now)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read kiosk state: %w", err)
	}
	var f stateFile
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Printf("kiosk: state file %s is corrupt, starting empty: %v", path, err)
		return s, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.kioskID = f.KioskID
	t := s.now()
	if f.EndedClassesDay == s.day {
		for _, id := range f.EndedClasses {
			exp, ok := f.EndedClassExpirations[id]
			if !ok {
				exp = f.SavedAt.Add(s.cooldown)
			}
			if exp.After(t) {
				s.ended[id] = exp
			}
		}
	}
	for _, id := range f.OngoingClasses {
		s.ongoing[id] = true
		if v, ok := f.ClassRooms[id]; ok {
			s.rooms[id] = v
		}
		if v, ok := f.ClassSessionIDs[id]; ok {
			s.sessions[id] = v
		}
		if v, ok := f.ClassInstructorAssignments[id]; ok {
			s.instructors[id] = v
		}
		if v, ok := f.ClassTimeoutDeadlines[id]; ok {
			s.deadlines[id] = v
		}
	}
	s.saveLocked()
	return s, nil
}

// KioskID returns the identity this kiosk used before, if any.
func (s *State) KioskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kioskID
}

// SetKioskID records the kiosk identity so a restart keeps its view locks.
func (s *State) SetKioskID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kioskID == id {
		return
	}
	s.kioskID = id
	s.saveLocked()
}

// IsEnded reports whether classID is still cooling down.
func (s *State) IsEnded(classID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rolloverLocked() {
		s.saveLocked()
	}
	exp, ok := s.ended[classID]
	if !ok {
		return false
	}
	if !exp.After(s.now()) {
		delete(s.ended, classID)
		s.saveLocked()
		return false
	}
	return true
}

// EndedUntil returns when the cooldown of classID expires.
func (s *State) EndedUntil(classID string) (time.Time, bool) {
	if !s.IsEnded(classID) {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.ended[classID]
	return exp, ok
}

// MarkOngoing records an open session for classID. A class with an open
// session is not cooling down.
func (s *State) MarkOngoing(o Ongoing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ongoing[o.ClassID] = true
	s.sessions[o.ClassID] = o.SessionID
	if o.Room != "" {
		s.rooms[o.ClassID] = o.Room
	}
	if o.InstructorID != "" {
		s.instructors[o.ClassID] = o.InstructorID
	}
	if !o.Deadline.IsZero() {
		s.deadlines[o.ClassID] = o.Deadline
	}
	delete(s.ended, o.ClassID)
	s.saveLocked()
}

// MarkEnded drops the ongoing bookkeeping of classID and starts its cooldown.
func (s *State) MarkEnded(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	s.forgetLocked(classID)
	s.ended[classID] = s.now().Add(s.cooldown)
	s.saveLocked()
}

// Forget drops the ongoing bookkeeping of classID without a cooldown.
func (s *State) Forget(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetLocked(classID)
	s.saveLocked()
}

// ClearEnded lifts the cooldown of classID.
func (s *State) ClearEnded(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ended[classID]; !ok {
		return
	}
	delete(s.ended, classID)
	s.saveLocked()
}

// Get returns the ongoing entry for classID.
func (s *State) Get(classID string) (Ongoing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ongoing[classID] {
		return Ongoing{}, false
	}
	return s.entryLocked(classID), true
}

// Ongoing lists every ongoing class, ordered by class id.
func (s *State) Ongoing() []Ongoing {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ongoing, 0, len(s.ongoing))
	for id := range s.ongoing {
		out = append(out, s.entryLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassID < out[j].ClassID })
	return out
}

func (s *State) entryLocked(classID string) Ongoing {
	return Ongoing{
		ClassID:      classID,
		SessionID:    s.sessions[classID],
		Room:         s.rooms[classID],
		InstructorID: s.instructors[classID],
		Deadline:     s.deadlines[classID],
	}
}

func (s *State) forgetLocked(classID string) {
	delete(s.ongoing, classID)
	delete(s.sessions, classID)
	delete(s.rooms, classID)
	delete(s.instructors, classID)
	delete(s.deadlines, classID)
}

// rolloverLocked resets the ended set when the local day changes.
func (s *State) rolloverLocked() bool {
	today := s.now().Format(dayLayout)
	if today == s.day {
		return false
	}
	s.day = today
	s.ended = make(map[string]time.Time)
	return true
}

func (s *State) snapshotLocked() stateFile {
	f := stateFile{
		KioskID:                    s.kioskID,
		EndedClassesDay:            s.day,
		EndedClasses:               make([]string, 0, len(s.ended)),
		EndedClassExpirations:      make(map[string]time.Time, len(s.ended)),
		OngoingClasses:             make([]string, 0, len(s.ongoing)),
		ClassRooms:                 make(map[string]string, len(s.rooms)),
		ClassSessionIDs:            make(map[string]string, len(s.sessions)),
		ClassInstructorAssignments: make(map[string]string, len(s.instructors)),
		ClassTimeoutDeadlines:      make(map[string]time.Time, len(s.deadlines)),
		SavedAt:                    s.now().UTC(),
	}
	for id, exp := range s.ended {
		f.EndedClasses = append(f.EndedClasses, id)
		f.EndedClassExpirations[id] = exp
	}
	for id := range s.ongoing {
		f.OngoingClasses = append(f.OngoingClasses, id)
	}
	sort.Strings(f.EndedClasses)
	sort.Strings(f.OngoingClasses)
	for id, v := range s.rooms {
		f.ClassRooms[id] = v
	}
	for id, v := range s.sessions {
		f.ClassSessionIDs[id] = v
	}
	for id, v := range s.instructors {
		f.ClassInstructorAssignments[id] = v
	}
	for id, v := range s.deadlines {
		f.ClassTimeoutDeadlines[id] = v
	}
	return f
}

// saveLocked writes the state through a temp file and rename so a crash
// never leaves a truncated file behind. Failures are logged.
func (s *State) saveLocked() {
	if s.path == "" {
		return
	}
	raw, err := json.MarshalIndent(s.snapshotLocked(), "", "  ")
	if err != nil {
		log.Printf("kiosk: encode state: %v", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".kiosk-state-*")
	if err != nil {
		log.Printf("kiosk: save state: %v", err)
		return
	}
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		log.Printf("kiosk: save state: %v", errors.Join(werr, cerr))
		return
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		log.Printf("kiosk: save state: %v", err)
	}
}
