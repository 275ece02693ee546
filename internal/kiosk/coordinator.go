package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/faceclient"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/queue"
)

// Phase is the lifecycle of a class on this kiosk.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseEnding
	PhaseCooldown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseEnding:
		return "ending"
	case PhaseCooldown:
		return "cooldown"
	}
	return "idle"
}

const (
	classRefreshInterval = 5 * time.Minute
	callbackTimeout      = 15 * time.Second
)

// Camera is the scanner hardware. Only one running class owns it.
type Camera interface {
	Acquire() error
	Release()
}

type noCamera struct{}

func (noCamera) Acquire() error { return nil }
func (noCamera) Release()       {}

// Verifier checks a face against a known person.
type Verifier interface {
	Verify(ctx context.Context, personID string, frame []byte) (*faceclient.VerifyResult, error)
}

// ClassView is the UI's picture of one class.
type ClassView struct {
	attendance.ClassInfo
	Phase         Phase
	SessionID     string
	Active        bool
	LockOwner     string
	ViewBlocked   bool
	RoomBusyWith  string
	CooldownUntil time.Time
	Deadline      time.Time
}

// Options configures a Coordinator.
type Options struct {
	KioskID  string
	Room     string
	Clock    Clock
	Notifier Notifier
	Camera   Camera
	// Verifier gates class start on the instructor's face. Nil accepts
	// the primary instructor without a check.
	Verifier Verifier
}

// NewKioskID builds an identity from the hostname and a random suffix.
func NewKioskID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "kiosk"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Coordinator owns the kiosk's per-class state machine. It never holds its
// lock across a network call.
type Coordinator struct {
	id     string
	room   string
	server Server
	state  *State
	timers *Timers
	clock  Clock
	notify Notifier
	camera Camera
	verify Verifier

	mu      sync.Mutex
	classes map[string]attendance.ClassInfo
	order   []string
	phases  map[string]Phase
	running string
	held    map[string]bool
	since   map[string]time.Time
	remote  map[string]attendance.ActiveSession
	// closed holds sessions this kiosk ended whose checkout may not have
	// reached the server.
	closed  map[string]bool
	synced  bool
}

// NewCoordinator restores timers for the classes state says are ongoing.
// Without Options.KioskID it reuses the identity saved in state, generating
// and saving one on first start.
func NewCoordinator(server Server, state *State, opts Options) *Coordinator {
	if opts.KioskID == "" {
		opts.KioskID = state.KioskID()
	}
	if opts.KioskID == "" {
		opts.KioskID = NewKioskID()
	}
	state.SetKioskID(opts.KioskID)
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.Camera == nil {
		opts.Camera = noCamera{}
	}
	c := &Coordinator{
		id:      opts.KioskID,
		room:    opts.Room,
		server:  server,
		state:   state,
		timers:  NewTimers(opts.Clock),
		clock:   opts.Clock,
		notify:  opts.Notifier,
		camera:  opts.Camera,
		verify:  opts.Verifier,
		classes: make(map[string]attendance.ClassInfo),
		phases:  make(map[string]Phase),
		held:    make(map[string]bool),
		since:   make(map[string]time.Time),
		remote:  make(map[string]attendance.ActiveSession),
		closed:  make(map[string]bool),
	}
	for _, o := range state.Ongoing() {
		if !o.Deadline.IsZero() {
			c.scheduleLocked(o.ClassID, o.Deadline)
		}
	}
	return c
}

// ID is this kiosk's identity.
func (c *Coordinator) ID() string { return c.id }

// RefreshClasses reloads the class catalog for this kiosk's room.
func (c *Coordinator) RefreshClasses(ctx context.Context) error {
	classes, err := c.server.Classes(ctx, c.room)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classes = make(map[string]attendance.ClassInfo, len(classes))
	c.order = c.order[:0]
	for _, cl := range classes {
		c.classes[cl.ClassID] = cl
		c.order = append(c.order, cl.ClassID)
	}
	return nil
}

// Classes returns a view of every class in the catalog.
func (c *Coordinator) Classes() []ClassView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ClassView, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.viewLocked(id))
	}
	return out
}

// StartableClasses lists classes that can be started here now: idle, not
// cooling down, with no open session anywhere.
func (c *Coordinator) StartableClasses() []ClassView {
	var out []ClassView
	for _, v := range c.Classes() {
		if v.Phase == PhaseIdle && !v.Active {
			out = append(out, v)
		}
	}
	return out
}

// Running returns the class that owns the camera, if any.
func (c *Coordinator) Running() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.running != ""
}

// StartClass verifies the instructor's face in frame, checks in, and takes
// the view lock. allowRestart confirms a restart during cooldown.
func (c *Coordinator) StartClass(ctx context.Context, classID string, frame []byte, allowRestart bool) (attendance.CheckInResponse, error) {
	c.mu.Lock()
	info, ok := c.classes[classID]
	if !ok {
		c.mu.Unlock()
		return attendance.CheckInResponse{}, attendance.NotFound("class")
	}
	if err := c.startableLocked(classID, allowRestart); err != nil {
		c.mu.Unlock()
		return attendance.CheckInResponse{}, err
	}
	if info.InstructorID == "" && info.SubstituteInstructorID == "" {
		c.mu.Unlock()
		return attendance.CheckInResponse{}, attendance.ErrNoInstructor
	}
	busy := c.roomBusyLocked(classID)
	c.phases[classID] = PhaseStarting
	c.mu.Unlock()

	if busy != "" {
		c.notify.Warn(classID, fmt.Errorf("room %s already has class %s in session", info.RoomNumber, busy))
	}

	instructor, err := c.verifyInstructor(ctx, info, frame)
	if err != nil {
		c.abort(classID)
		return attendance.CheckInResponse{}, err
	}
	now := c.clock.Now()
	room := c.room
	if room == "" {
		room = info.RoomNumber
	}
	resp, err := c.server.CheckIn(ctx, attendance.CheckInRequest{
		InstructorID: instructor,
		ClassID:      classID,
		RoomNumber:   room,
		Timestamp:    &now,
	})
	if err != nil {
		c.abort(classID)
		return attendance.CheckInResponse{}, err
	}
	if _, err := c.server.ViewLock(ctx, resp.ClassSessionID, attendance.ViewLockRequest{LockerID: c.id, Action: attendance.ViewLockActionLock}); err != nil {
		c.abort(classID)
		return resp, err
	}

	deadline := resp.ScheduledEndTime
	if !deadline.After(now) {
		deadline = now.Add(attendance.DefaultSessionLength)
	}
	if resp.RoomNumber != "" {
		room = resp.RoomNumber
	}
	c.mu.Lock()
	c.enterRunningLocked(classID, resp.ClassSessionID, instructor, room, deadline)
	c.mu.Unlock()
	c.notify.ClassStarted(classID, resp.ClassSessionID)
	return resp, nil
}

func (c *Coordinator) startableLocked(classID string, allowRestart bool) error {
	switch p := c.phaseLocked(classID); p {
	case PhaseStarting, PhaseRunning, PhaseEnding:
		return &attendance.Error{Kind: attendance.KindConflict, Code: "CLASS_BUSY", Message: "class is already " + p.String()}
	case PhaseCooldown:
		if !allowRestart {
			return &attendance.Error{Kind: attendance.KindConflict, Code: "RECENTLY_ENDED", Message: "class ended recently; confirm to restart it"}
		}
	}
	if c.running != "" {
		return &attendance.Error{Kind: attendance.KindConflict, Code: "SCANNER_BUSY", Message: "scanner is running class " + c.running}
	}
	return nil
}

func (c *Coordinator) verifyInstructor(ctx context.Context, info attendance.ClassInfo, frame []byte) (string, error) {
	if c.verify == nil {
		if info.InstructorID != "" {
			return info.InstructorID, nil
		}
		return info.SubstituteInstructorID, nil
	}
	for _, id := range []string{info.InstructorID, info.SubstituteInstructorID} {
		if id == "" {
			continue
		}
		res, err := c.verify.Verify(ctx, id, frame)
		if errors.Is(err, faceclient.ErrNoFace) {
			return "", attendance.Validation("no face detected; look at the camera and try again")
		}
		if err != nil {
			return "", &attendance.Error{Kind: attendance.KindTransient, Code: "FACE_SERVICE", Message: err.Error()}
		}
		if res.Verified {
			return id, nil
		}
	}
	return "", attendance.Validation("face does not match the instructor assigned to this class")
}

// ViewClass takes over the scanner for a class already in session. When
// another kiosk holds the view, override must be set; it force-releases
// their lock before locking.
func (c *Coordinator) ViewClass(ctx context.Context, classID string, override bool) error {
	c.mu.Lock()
	info, ok := c.classes[classID]
	if !ok {
		c.mu.Unlock()
		return attendance.NotFound("class")
	}
	switch p := c.phaseLocked(classID); p {
	case PhaseRunning:
		c.mu.Unlock()
		return nil
	case PhaseStarting, PhaseEnding:
		c.mu.Unlock()
		return &attendance.Error{Kind: attendance.KindConflict, Code: "CLASS_BUSY", Message: "class is " + p.String()}
	}
	if c.running != "" {
		c.mu.Unlock()
		return &attendance.Error{Kind: attendance.KindConflict, Code: "SCANNER_BUSY", Message: "scanner is running class " + c.running}
	}
	sess, ok := c.sessionLocked(classID)
	if !ok {
		c.mu.Unlock()
		return attendance.Validation("class has no session in progress")
	}
	if owner := sess.ViewLockOwner; owner != "" && owner != c.id && !override {
		c.mu.Unlock()
		return &attendance.Error{
			Kind:       attendance.KindConflict,
			Code:       attendance.ErrLockHeld.Code,
			Message:    attendance.ErrLockHeld.Message,
			Owner:      owner,
			AcquiredAt: sess.ViewLockAcquiredAt,
		}
	}
	c.phases[classID] = PhaseStarting
	c.mu.Unlock()

	if override {
		req := attendance.ViewLockRequest{LockerID: c.id, Action: attendance.ViewLockActionUnlock, Force: true}
		if _, err := c.server.ViewLock(ctx, sess.ClassSessionID, req); err != nil {
			c.abort(classID)
			return err
		}
	}
	if _, err := c.server.ViewLock(ctx, sess.ClassSessionID, attendance.ViewLockRequest{LockerID: c.id, Action: attendance.ViewLockActionLock}); err != nil {
		c.abort(classID)
		return err
	}

	c.mu.Lock()
	instructor := c.instructorLocked(classID, info)
	room := sess.RoomNumber
	if room == "" {
		room = info.RoomNumber
	}
	deadline := sess.ScheduledEndTime
	if deadline.IsZero() {
		deadline = c.clock.Now().Add(attendance.DefaultSessionLength)
	}
	c.enterRunningLocked(classID, sess.ClassSessionID, instructor, room, deadline)
	c.mu.Unlock()
	c.notify.ClassStarted(classID, sess.ClassSessionID)
	return nil
}

// EndClass checks the instructor out of the running class. The class
// always lands in cooldown; a failed checkout is returned after that and
// the sweeper closes the session later.
func (c *Coordinator) EndClass(ctx context.Context, classID string) (Summary, error) {
	c.mu.Lock()
	if c.phaseLocked(classID) != PhaseRunning {
		c.mu.Unlock()
		return Summary{}, attendance.Validation("class is not running on this kiosk")
	}
	sess, _ := c.sessionLocked(classID)
	instructor := c.instructorLocked(classID, c.classes[classID])
	c.timers.Cancel(classID)
	c.leaveRunningLocked(classID)
	c.phases[classID] = PhaseEnding
	c.mu.Unlock()

	return c.checkOut(ctx, classID, sess.ClassSessionID, instructor, EndManual)
}

func (c *Coordinator) checkOut(ctx context.Context, classID, sessionID, instructor string, reason EndReason) (Summary, error) {
	resp, err := c.server.CheckOut(ctx, attendance.CheckOutRequest{
		InstructorID:   instructor,
		ClassID:        classID,
		ClassSessionID: sessionID,
		Auto:           reason == EndTimeout,
	})

	c.mu.Lock()
	c.finishLocked(classID)
	c.since[classID] = c.clock.Now()
	if err != nil && sessionID != "" {
		c.closed[sessionID] = true
	}
	c.mu.Unlock()

	summary := Summary{ClassID: classID, Reason: reason, SessionsProcessed: resp.SessionsProcessed, AbsentMarked: resp.TotalAbsentMarked}
	if err != nil {
		c.notify.Warn(classID, fmt.Errorf("checkout failed, the session will be closed by the server: %w", err))
		return summary, err
	}
	c.notify.ClassEnded(summary)
	return summary, nil
}

// onTimeout runs when a class reaches its deadline. The kiosk showing the
// class closes it; a class nobody is showing is closed by whichever kiosk
// fires first.
func (c *Coordinator) onTimeout(classID string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	c.mu.Lock()
	phase := c.phaseLocked(classID)
	if phase == PhaseStarting || phase == PhaseEnding {
		c.mu.Unlock()
		return
	}
	sess, ok := c.sessionLocked(classID)
	if !ok {
		c.mu.Unlock()
		return
	}
	if !c.held[classID] && sess.ViewLockOwner != "" && sess.ViewLockOwner != c.id {
		c.mu.Unlock()
		return
	}
	instructor := c.instructorLocked(classID, c.classes[classID])
	if phase == PhaseRunning {
		c.leaveRunningLocked(classID)
	}
	c.phases[classID] = PhaseEnding
	c.mu.Unlock()

	if instructor == "" {
		c.mu.Lock()
		c.finishLocked(classID)
		c.mu.Unlock()
		c.notify.Warn(classID, errors.New("auto-timeout reached but no instructor is known; leaving the session to the server"))
		return
	}
	_, _ = c.checkOut(ctx, classID, sess.ClassSessionID, instructor, EndTimeout)
}

// HandleRecognition records a recognized student against the running class.
func (c *Coordinator) HandleRecognition(ctx context.Context, r Recognition) error {
	if r.PersonType != "" && r.PersonType != faceclient.PersonStudent {
		return nil
	}
	c.mu.Lock()
	classID := c.running
	sess, ok := c.sessionLocked(classID)
	c.mu.Unlock()
	if classID == "" || !ok {
		return nil
	}
	req := attendance.ScanRequest{StudentID: r.PersonID, ClassSessionID: sess.ClassSessionID}
	if !r.SeenAt.IsZero() {
		req.Timestamp = &r.SeenAt
	}
	resp, err := c.server.Scan(ctx, req)
	if errors.Is(err, attendance.ErrAlreadyCheckedIn) {
		return nil
	}
	if err != nil {
		c.notify.Warn(classID, fmt.Errorf("scan %s: %w", r.PersonID, err))
		return err
	}
	c.notify.StudentScanned(classID, r.PersonID, resp.Status)
	return nil
}

// Reconcile applies a server snapshot. Server truth wins over local state,
// except for classes this kiosk changed after the snapshot was fetched.
func (c *Coordinator) Reconcile(snap Snapshot) {
	var (
		ended    []Summary
		started  [][2]string
		warnings []struct {
			classID string
			err     error
		}
	)

	c.mu.Lock()
	c.synced = true
	byClass := make(map[string]attendance.ActiveSession, len(snap.Sessions))
	listed := make(map[string]bool, len(snap.Sessions))
	for _, s := range snap.Sessions {
		listed[s.ClassSessionID] = true
		if s.IsProcessed || c.closed[s.ClassSessionID] {
			continue
		}
		if prev, ok := byClass[s.ClassID]; ok && prev.StartTime.After(s.StartTime) {
			continue
		}
		byClass[s.ClassID] = s
	}
	stale := func(classID string) bool { return snap.FetchedAt.Before(c.since[classID]) }

	// Sessions that closed or were replaced on the server.
	for _, o := range c.state.Ongoing() {
		if p := c.phaseLocked(o.ClassID); p == PhaseStarting || p == PhaseEnding || stale(o.ClassID) {
			continue
		}
		if s, ok := byClass[o.ClassID]; ok && s.ClassSessionID == o.SessionID {
			continue
		}
		c.leaveRunningLocked(o.ClassID)
		c.finishLocked(o.ClassID)
		ended = append(ended, Summary{ClassID: o.ClassID, Reason: EndRemote})
	}

	for classID, s := range byClass {
		if _, known := c.classes[classID]; !known {
			if _, tracked := c.state.Get(classID); !tracked {
				continue
			}
		}
		phase := c.phaseLocked(classID)
		if phase == PhaseStarting || phase == PhaseEnding || stale(classID) {
			continue
		}
		c.remote[classID] = s

		o, had := c.state.Get(classID)
		switch {
		case !had || o.SessionID != s.ClassSessionID:
			c.state.MarkOngoing(Ongoing{
				ClassID:      classID,
				SessionID:    s.ClassSessionID,
				Room:         s.RoomNumber,
				InstructorID: s.InstructorID,
				Deadline:     s.ScheduledEndTime,
			})
			c.scheduleLocked(classID, s.ScheduledEndTime)
		case phase != PhaseRunning && !s.ScheduledEndTime.Equal(o.Deadline):
			o.Deadline = s.ScheduledEndTime
			c.state.MarkOngoing(o)
			c.scheduleLocked(classID, s.ScheduledEndTime)
		default:
			if _, pending := c.timers.Pending(classID); !pending && !o.Deadline.IsZero() {
				c.scheduleLocked(classID, o.Deadline)
			}
		}

		owner := s.ViewLockOwner
		switch {
		case c.running == classID && owner != c.id:
			c.leaveRunningLocked(classID)
			ended = append(ended, Summary{ClassID: classID, Reason: EndTakeover})
			warnings = append(warnings, struct {
				classID string
				err     error
			}{classID, &attendance.Error{Kind: attendance.KindConflict, Code: attendance.ErrLockHeld.Code, Message: "view taken over by another kiosk", Owner: owner}})
		case owner == c.id && c.running == "" && phase == PhaseIdle:
			// Still ours from before a restart.
			info := c.classes[classID]
			room := s.RoomNumber
			if room == "" {
				room = info.RoomNumber
			}
			c.enterRunningLocked(classID, s.ClassSessionID, c.instructorLocked(classID, info), room, s.ScheduledEndTime)
			started = append(started, [2]string{classID, s.ClassSessionID})
		}
	}

	for id := range c.closed {
		if !listed[id] {
			delete(c.closed, id)
		}
	}
	for classID := range c.remote {
		if _, ok := byClass[classID]; !ok && !stale(classID) {
			delete(c.remote, classID)
		}
	}
	c.mu.Unlock()

	for _, s := range ended {
		c.notify.ClassEnded(s)
	}
	for _, w := range warnings {
		c.notify.Warn(w.classID, w.err)
	}
	for _, s := range started {
		c.notify.ClassStarted(s[0], s[1])
	}
}

// Run drives the coordinator until ctx ends: polling, periodic catalog
// refresh, and recognitions from the scanner.
func (c *Coordinator) Run(ctx context.Context, src SessionSource, interval time.Duration, recognitions queue.Queue) error {
	if err := c.RefreshClasses(ctx); err != nil {
		log.Printf("kiosk: load classes: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		NewPoller(src, interval, c.clock.Now, c.Reconcile).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.refreshLoop(ctx)
	}()
	err := queue.Dispatch(ctx, recognitions, map[string]queue.Handler{
		queue.TypeRecognition: c.onRecognition,
	})
	wg.Wait()
	c.timers.CancelAll()
	return err
}

func (c *Coordinator) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(classRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RefreshClasses(ctx); err != nil && ctx.Err() == nil {
				log.Printf("kiosk: refresh classes: %v", err)
			}
		}
	}
}

func (c *Coordinator) onRecognition(ctx context.Context, msg queue.Message) error {
	var r Recognition
	if err := json.Unmarshal(msg.Body, &r); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()
	return c.HandleRecognition(ctx, r)
}

func (c *Coordinator) abort(classID string) {
	c.mu.Lock()
	delete(c.phases, classID)
	c.mu.Unlock()
}

func (c *Coordinator) enterRunningLocked(classID, sessionID, instructor, room string, deadline time.Time) {
	if err := c.camera.Acquire(); err != nil {
		log.Printf("kiosk: class %s: %v", classID, err)
	}
	c.running = classID
	c.phases[classID] = PhaseRunning
	c.held[classID] = true
	c.since[classID] = c.clock.Now()
	c.state.MarkOngoing(Ongoing{ClassID: classID, SessionID: sessionID, Room: room, InstructorID: instructor, Deadline: deadline})

	s := c.remote[classID]
	s.ClassID = classID
	s.ClassSessionID = sessionID
	s.InstructorID = instructor
	s.RoomNumber = room
	s.ScheduledEndTime = deadline
	s.ViewLockOwner = c.id
	c.remote[classID] = s
	c.scheduleLocked(classID, deadline)
}

// leaveRunningLocked gives up the camera and view bookkeeping for classID.
func (c *Coordinator) leaveRunningLocked(classID string) {
	if c.running == classID {
		c.camera.Release()
		c.running = ""
	}
	delete(c.held, classID)
	if c.phases[classID] == PhaseRunning {
		delete(c.phases, classID)
	}
}

// finishLocked moves classID into cooldown.
func (c *Coordinator) finishLocked(classID string) {
	delete(c.phases, classID)
	delete(c.remote, classID)
	delete(c.held, classID)
	c.timers.Cancel(classID)
	c.state.MarkEnded(classID)
}

func (c *Coordinator) scheduleLocked(classID string, at time.Time) {
	c.timers.Schedule(classID, at, func() { c.onTimeout(classID) })
}

func (c *Coordinator) phaseLocked(classID string) Phase {
	if p, ok := c.phases[classID]; ok {
		return p
	}
	if c.state.IsEnded(classID) {
		return PhaseCooldown
	}
	return PhaseIdle
}

// sessionLocked returns the open session of classID, preferring the
// server's report over the local cache.
func (c *Coordinator) sessionLocked(classID string) (attendance.ActiveSession, bool) {
	if classID == "" {
		return attendance.ActiveSession{}, false
	}
	if s, ok := c.remote[classID]; ok {
		return s, true
	}
	o, ok := c.state.Get(classID)
	if !ok || o.SessionID == "" {
		return attendance.ActiveSession{}, false
	}
	return attendance.ActiveSession{
		ClassSessionID:   o.SessionID,
		ClassID:          classID,
		InstructorID:     o.InstructorID,
		RoomNumber:       o.Room,
		ScheduledEndTime: o.Deadline,
	}, true
}

func (c *Coordinator) instructorLocked(classID string, info attendance.ClassInfo) string {
	if o, ok := c.state.Get(classID); ok && o.InstructorID != "" {
		return o.InstructorID
	}
	if s, ok := c.remote[classID]; ok && s.InstructorID != "" {
		return s.InstructorID
	}
	if info.InstructorID != "" {
		return info.InstructorID
	}
	return info.SubstituteInstructorID
}

// roomBusyLocked names another class with an open session in the same room.
func (c *Coordinator) roomBusyLocked(classID string) string {
	room := c.classes[classID].RoomNumber
	if room == "" {
		return ""
	}
	for id, s := range c.remote {
		if id != classID && s.RoomNumber == room {
			return id
		}
	}
	return ""
}

func (c *Coordinator) viewLocked(classID string) ClassView {
	v := ClassView{ClassInfo: c.classes[classID], Phase: c.phaseLocked(classID)}
	if s, ok := c.remote[classID]; ok {
		v.Active = true
		v.SessionID = s.ClassSessionID
		v.LockOwner = s.ViewLockOwner
		v.Deadline = s.ScheduledEndTime
	} else if o, ok := c.state.Get(classID); ok && !c.synced {
		v.Active = true
		v.SessionID = o.SessionID
		v.Deadline = o.Deadline
	}
	v.ViewBlocked = v.LockOwner != "" && v.LockOwner != c.id
	v.RoomBusyWith = c.roomBusyLocked(classID)
	if v.Phase == PhaseCooldown {
		v.CooldownUntil, _ = c.state.EndedUntil(classID)
	}
	return v
}
