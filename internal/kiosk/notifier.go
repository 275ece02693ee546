package kiosk

import (
	"log"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
)

// EndReason says why a class left the running state on this kiosk.
type EndReason string

const (
	EndManual   EndReason = "manual"
	EndTimeout  EndReason = "timeout"
	EndRemote   EndReason = "remote"
	// EndTakeover: another kiosk took the view; the session stays open.
	EndTakeover EndReason = "takeover"
)

// Summary is shown when a class ends.
type Summary struct {
	ClassID           string
	Reason            EndReason
	SessionsProcessed int
	AbsentMarked      int
}

// Notifier receives user-facing events from the coordinator. Calls are
// made without the coordinator lock held.
type Notifier interface {
	ClassStarted(classID, sessionID string)
	ClassEnded(s Summary)
	StudentScanned(classID, studentID string, status attendance.Status)
	Warn(classID string, err error)
}

// LogNotifier writes events to the standard logger.
type LogNotifier struct{}

func (LogNotifier) ClassStarted(classID, sessionID string) {
	log.Printf("kiosk: class %s running (session %s)", classID, sessionID)
}

func (LogNotifier) ClassEnded(s Summary) {
	log.Printf("kiosk: class %s ended (%s): %d session(s) closed, %d marked absent", s.ClassID, s.Reason, s.SessionsProcessed, s.AbsentMarked)
}

func (LogNotifier) StudentScanned(classID, studentID string, status attendance.Status) {
	log.Printf("kiosk: %s recorded %s in class %s", studentID, status, classID)
}

func (LogNotifier) Warn(classID string, err error) {
	log.Printf("kiosk: class %s: %v", classID, err)
}
