package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/auth"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/httpmiddleware"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/queue"
)

// SweepTask is the body of a queued sweep request.
type SweepTask struct {
	RequestedAt time.Time `json:"requestedAt"`
	RequestedBy string    `json:"requestedBy,omitempty"`
}

// Auth configures how kiosks authenticate.
type Auth struct {
	APIKeys    []string
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
}

// Handlers serves the kiosk-facing API.
type Handlers struct {
	svc     *attendance.Service
	arbiter *attendance.Arbiter
	sweeper *attendance.Sweeper
	// tasks receives sweep requests; nil runs the sweep inline.
	tasks      queue.Queue
	auth       Auth
	sweepLimit httpmiddleware.Limiter
}

// New builds handlers. tasks and sweepLimit may be nil.
func New(svc *attendance.Service, arbiter *attendance.Arbiter, sweeper *attendance.Sweeper, tasks queue.Queue, a Auth, sweepLimit httpmiddleware.Limiter) *Handlers {
	return &Handlers{svc: svc, arbiter: arbiter, sweeper: sweeper, tasks: tasks, auth: a, sweepLimit: sweepLimit}
}

// Register mounts the /api routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/kiosks/register", auth.APIKeyOnly(h.auth.APIKeys), h.registerKiosk)

	authed := api.Group("", auth.MachineAuth(h.auth.APIKeys, h.auth.SigningKey, h.auth.Issuer))
	authed.GET("/classes", h.listClasses)
	authed.POST("/checkin/instructor", h.checkInInstructor)
	authed.POST("/checkout/instructor", h.checkOutInstructor)
	authed.POST("/scan/student", h.scanStudent)
	authed.GET("/sessions/active", h.activeSessions)
	authed.POST("/sessions/:id/view-lock", h.viewLock)

	markAbsent := []gin.HandlerFunc{h.markAbsent}
	if h.sweepLimit != nil {
		markAbsent = append([]gin.HandlerFunc{httpmiddleware.RateLimit(h.sweepLimit)}, markAbsent...)
	}
	authed.POST("/tasks/mark-absent", markAbsent...)
}

func (h *Handlers) registerKiosk(c *gin.Context) {
	var req attendance.RegisterKioskRequest
	if !bind(c, &req) {
		return
	}
	tok, err := auth.Issue(req.KioskID, auth.RoleKiosk, h.auth.Issuer, h.auth.SigningKey, h.auth.AccessTTL)
	if err != nil {
		log.Printf("register kiosk %s: %v", req.KioskID, err)
		c.JSON(http.StatusInternalServerError, attendance.ErrorResponse{Error: "token issue failed"})
		return
	}
	log.Printf("kiosk %s registered", req.KioskID)
	c.JSON(http.StatusCreated, attendance.RegisterKioskResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt})
}

func (h *Handlers) listClasses(c *gin.Context) {
	classes, err := h.svc.Classes(c.Request.Context(), c.Query("room"))
	if err != nil {
		fail(c, err)
		return
	}
	resp := attendance.ClassesResponse{Classes: make([]attendance.ClassInfo, 0, len(classes))}
	for _, cl := range classes {
		resp.Classes = append(resp.Classes, attendance.ToClassInfo(cl))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) checkInInstructor(c *gin.Context) {
	var req attendance.CheckInRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.CheckIn(c.Request.Context(), attendance.CheckInInput{
		InstructorID: req.InstructorID,
		ClassID:      req.ClassID,
		RoomNumber:   req.RoomNumber,
		Timestamp:    req.Timestamp,
	})
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, attendance.CheckInResponse{
		ClassSessionID:     res.Session.ID,
		ScheduledStartTime: res.Session.ScheduledStartTime,
		ScheduledEndTime:   res.Session.ScheduledEndTime,
		AssignmentRole:     res.AssignmentRole,
		RoomNumber:         res.Session.RoomNumber,
	})
}

func (h *Handlers) checkOutInstructor(c *gin.Context) {
	var req attendance.CheckOutRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.CheckOutInstructor(c.Request.Context(), attendance.CheckOutInput{
		InstructorID:   req.InstructorID,
		ClassID:        req.ClassID,
		ClassSessionID: req.ClassSessionID,
		Auto:           req.Auto,
	})
	if err != nil {
		fail(c, err)
		return
	}
	resp := attendance.CheckOutResponse{
		TotalAbsentMarked: res.TotalAbsentMarked,
		SessionsProcessed: res.SessionsProcessed,
		SessionDetails:    make([]attendance.SessionDetail, 0, len(res.Sessions)),
	}
	for _, s := range res.Sessions {
		resp.SessionDetails = append(resp.SessionDetails, attendance.SessionDetail{
			ClassSessionID: s.ClassSessionID,
			ClassID:        s.ClassID,
			AbsentMarked:   s.AbsentMarked,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) scanStudent(c *gin.Context) {
	var req attendance.ScanRequest
	if !bind(c, &req) {
		return
	}
	rec, err := h.svc.ScanStudent(c.Request.Context(), attendance.ScanInput{
		StudentID:      req.StudentID,
		ClassSessionID: req.ClassSessionID,
		Timestamp:      req.Timestamp,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, attendance.ScanResponse{Status: rec.Status, RecordedAt: rec.MarkedAt, TimeIn: rec.TimeIn})
}

func (h *Handlers) activeSessions(c *gin.Context) {
	sessions, err := h.svc.ActiveSessions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	resp := attendance.ActiveSessionsResponse{Sessions: make([]attendance.ActiveSession, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, attendance.ToActive(s))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) viewLock(c *gin.Context) {
	var req attendance.ViewLockRequest
	if !bind(c, &req) {
		return
	}
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Subject != req.LockerID {
		c.JSON(http.StatusForbidden, attendance.ErrorResponse{Error: "lockerId does not match kiosk token", Code: "KIOSK_MISMATCH"})
		return
	}
	var (
		sess attendance.Session
		err  error
	)
	if req.Action == attendance.ViewLockActionLock {
		sess, err = h.arbiter.Lock(c.Request.Context(), c.Param("id"), req.LockerID)
	} else {
		sess, err = h.arbiter.Unlock(c.Request.Context(), c.Param("id"), req.LockerID, req.Force)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, attendance.ViewLockResponse{ViewLockOwner: sess.ViewLockOwner, ViewLockAcquiredAt: sess.ViewLockAcquiredAt})
}

func (h *Handlers) markAbsent(c *gin.Context) {
	now := time.Now().UTC()
	if h.tasks != nil {
		task := SweepTask{RequestedAt: now}
		if claims, ok := auth.ClaimsFrom(c); ok {
			task.RequestedBy = claims.Subject
		}
		body, err := json.Marshal(task)
		if err == nil {
			err = h.tasks.Publish(c.Request.Context(), queue.Message{Type: queue.TypeSweep, Body: body})
		}
		if err == nil {
			c.JSON(http.StatusAccepted, attendance.MarkAbsentResponse{Message: "absence sweep queued", Timestamp: now})
			return
		}
		log.Printf("mark-absent: queue publish failed, sweeping inline: %v", err)
	}
	res, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	msg := "absence sweep completed"
	if res.Skipped {
		msg = "absence sweep already running"
	}
	c.JSON(http.StatusOK, attendance.MarkAbsentResponse{Message: msg, Timestamp: now})
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, attendance.ErrorResponse{Error: err.Error(), Code: "VALIDATION"})
		return false
	}
	return true
}

func fail(c *gin.Context, err error) {
	status := attendance.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	if status == http.StatusInternalServerError {
		c.JSON(status, attendance.ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, attendance.ErrorBody(err))
}
