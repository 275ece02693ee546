package attendance

import (
	"errors"
	"time"
)

// JSON bodies exchanged between kiosks and the server.

type CheckInRequest struct {
	InstructorID string     `json:"instructorId" binding:"required"`
	ClassID      string     `json:"classId" binding:"required"`
	RoomNumber   string     `json:"roomNumber,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

type CheckInResponse struct {
	ClassSessionID     string    `json:"classSessionId"`
	ScheduledStartTime time.Time `json:"scheduledStartTime"`
	ScheduledEndTime   time.Time `json:"scheduledEndTime"`
	AssignmentRole     string    `json:"assignmentRole"`
	RoomNumber         string    `json:"roomNumber,omitempty"`
}

type CheckOutRequest struct {
	InstructorID   string `json:"instructorId" binding:"required"`
	ClassID        string `json:"classId,omitempty"`
	ClassSessionID string `json:"classSessionId,omitempty"`
	Auto           bool   `json:"auto"`
}

type SessionDetail struct {
	ClassSessionID string `json:"classSessionId"`
	ClassID        string `json:"classId"`
	AbsentMarked   int    `json:"absentMarked"`
}

type CheckOutResponse struct {
	TotalAbsentMarked int             `json:"totalAbsentMarked"`
	SessionsProcessed int             `json:"sessionsProcessed"`
	SessionDetails    []SessionDetail `json:"sessionDetails"`
}

type ScanRequest struct {
	StudentID      string     `json:"studentId" binding:"required"`
	ClassSessionID string     `json:"classSessionId" binding:"required"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

type ScanResponse struct {
	Status     Status     `json:"status"`
	RecordedAt time.Time  `json:"recordedAt"`
	TimeIn     *time.Time `json:"timeIn,omitempty"`
}

type ActiveSession struct {
	ClassSessionID     string     `json:"classSessionId"`
	ClassID            string     `json:"classId"`
	InstructorID       string     `json:"instructorId,omitempty"`
	StartTime          time.Time  `json:"startTime"`
	RoomNumber         string     `json:"roomNumber"`
	ScheduledEndTime   time.Time  `json:"scheduledEndTime"`
	IsProcessed        bool       `json:"isProcessed"`
	ViewLockOwner      string     `json:"viewLockOwner,omitempty"`
	ViewLockAcquiredAt *time.Time `json:"viewLockAcquiredAt,omitempty"`
}

type ActiveSessionsResponse struct {
	Sessions []ActiveSession `json:"sessions"`
}

// View lock actions.
const (
	ViewLockActionLock   = "lock"
	ViewLockActionUnlock = "unlock"
)

type ViewLockRequest struct {
	LockerID string `json:"lockerId" binding:"required"`
	Action   string `json:"action" binding:"required,oneof=lock unlock"`
	Force    bool   `json:"force,omitempty"`
}

type ViewLockResponse struct {
	ViewLockOwner      string     `json:"viewLockOwner"`
	ViewLockAcquiredAt *time.Time `json:"viewLockAcquiredAt"`
}

type ClassInfo struct {
	ClassID                string `json:"classId"`
	Code                   string `json:"code"`
	Name                   string `json:"name"`
	Schedule               string `json:"schedule"`
	RoomNumber             string `json:"roomNumber"`
	InstructorID           string `json:"instructorId,omitempty"`
	SubstituteInstructorID string `json:"substituteInstructorId,omitempty"`
}

type ClassesResponse struct {
	Classes []ClassInfo `json:"classes"`
}

type RegisterKioskRequest struct {
	KioskID string `json:"kioskId" binding:"required"`
}

type RegisterKioskResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type MarkAbsentResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error      string     `json:"error"`
	Code       string     `json:"code,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	AcquiredAt *time.Time `json:"acquiredAt,omitempty"`
}

// ToActive converts a session for the active-sessions listing.
func ToActive(s Session) ActiveSession {
	return ActiveSession{
		ClassSessionID:     s.ID,
		ClassID:            s.ClassID,
		InstructorID:       s.InstructorID,
		StartTime:          s.ActualStartTime,
		RoomNumber:         s.RoomNumber,
		ScheduledEndTime:   s.ScheduledEndTime,
		IsProcessed:        s.IsProcessed,
		ViewLockOwner:      s.ViewLockOwner,
		ViewLockAcquiredAt: s.ViewLockAcquiredAt,
	}
}

// ToClassInfo converts a class for the catalog listing.
func ToClassInfo(c Class) ClassInfo {
	return ClassInfo{
		ClassID:                c.ID,
		Code:                   c.Code,
		Name:                   c.Name,
		Schedule:               c.Schedule,
		RoomNumber:             c.RoomNumber,
		InstructorID:           c.InstructorID,
		SubstituteInstructorID: c.SubstituteInstructorID,
	}
}

// ErrorBody renders err for a response.
func ErrorBody(err error) ErrorResponse {
	body := ErrorResponse{Error: err.Error()}
	var e *Error
	if errors.As(err, &e) {
		body.Error = e.Message
		body.Code = e.Code
		body.Owner = e.Owner
		body.AcquiredAt = e.AcquiredAt
	}
	return body
}
