package kiosk

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
)

// classJSON is the control API's rendering of a ClassView.
type classJSON struct {
	attendance.ClassInfo
	Phase         string     `json:"phase"`
	SessionID     string     `json:"sessionId,omitempty"`
	Active        bool       `json:"active"`
	LockOwner     string     `json:"lockOwner,omitempty"`
	ViewBlocked   bool       `json:"viewBlocked"`
	RoomBusyWith  string     `json:"roomBusyWith,omitempty"`
	CooldownUntil *time.Time `json:"cooldownUntil,omitempty"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

func toJSON(v ClassView) classJSON {
	out := classJSON{
		ClassInfo:    v.ClassInfo,
		Phase:        v.Phase.String(),
		SessionID:    v.SessionID,
		Active:       v.Active,
		LockOwner:    v.LockOwner,
		ViewBlocked:  v.ViewBlocked,
		RoomBusyWith: v.RoomBusyWith,
	}
	if !v.CooldownUntil.IsZero() {
		t := v.CooldownUntil
		out.CooldownUntil = &t
	}
	if !v.Deadline.IsZero() {
		t := v.Deadline
		out.Deadline = &t
	}
	return out
}

type startRequest struct {
	// Frame is a base64 image of the instructor; empty takes a snapshot.
	Frame        []byte `json:"frame,omitempty"`
	AllowRestart bool   `json:"allowRestart,omitempty"`
}

type viewRequest struct {
	Override bool `json:"override,omitempty"`
}

// Control exposes the coordinator to the kiosk UI over loopback HTTP.
type Control struct {
	coord    *Coordinator
	snapshot func(ctx context.Context) ([]byte, error)
}

// NewControl builds the control API. snapshot may be nil when no camera
// is attached.
func NewControl(coord *Coordinator, snapshot func(ctx context.Context) ([]byte, error)) *Control {
	return &Control{coord: coord, snapshot: snapshot}
}

// Register mounts the /local routes on r.
func (h *Control) Register(r gin.IRouter) {
	g := r.Group("/local")
	g.GET("/classes", h.classes)
	g.GET("/classes/startable", h.startable)
	g.POST("/classes/:id/start", h.start)
	g.POST("/classes/:id/end", h.end)
	g.POST("/classes/:id/view", h.view)
}

func (h *Control) classes(c *gin.Context) {
	views := h.coord.Classes()
	out := make([]classJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toJSON(v))
	}
	running, _ := h.coord.Running()
	c.JSON(http.StatusOK, gin.H{"kioskId": h.coord.ID(), "running": running, "classes": out})
}

func (h *Control) startable(c *gin.Context) {
	views := h.coord.StartableClasses()
	out := make([]classJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toJSON(v))
	}
	c.JSON(http.StatusOK, gin.H{"classes": out})
}

func (h *Control) start(c *gin.Context) {
	var req startRequest
	if !bindOptional(c, &req) {
		return
	}
	if len(req.Frame) == 0 && h.snapshot != nil {
		frame, err := h.snapshot(c.Request.Context())
		if err != nil {
			log.Printf("kiosk: snapshot for %s: %v", c.Param("id"), err)
		}
		req.Frame = frame
	}
	resp, err := h.coord.StartClass(c.Request.Context(), c.Param("id"), req.Frame, req.AllowRestart)
	if err != nil {
		reply(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Control) end(c *gin.Context) {
	sum, err := h.coord.EndClass(c.Request.Context(), c.Param("id"))
	if err != nil {
		reply(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"classId":           sum.ClassID,
		"reason":            sum.Reason,
		"sessionsProcessed": sum.SessionsProcessed,
		"absentMarked":      sum.AbsentMarked,
	})
}

func (h *Control) view(c *gin.Context) {
	var req viewRequest
	if !bindOptional(c, &req) {
		return
	}
	if err := h.coord.ViewClass(c.Request.Context(), c.Param("id"), req.Override); err != nil {
		reply(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classId": c.Param("id"), "lockOwner": h.coord.ID()})
}

// bindOptional decodes a JSON body when there is one. An empty body,
// chunked or not, leaves dst at its zero value.
func bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, attendance.ErrorResponse{Error: err.Error(), Code: "VALIDATION"})
		return false
	}
	return true
}

func reply(c *gin.Context, err error) {
	status := attendance.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("kiosk: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, attendance.ErrorBody(err))
}
