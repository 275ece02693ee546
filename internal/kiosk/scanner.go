package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/faceclient"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/queue"
)

// ErrCameraBusy is returned when the camera is already owned by a class.
var ErrCameraBusy = errors.New("camera already in use")

// Frame is one encoded camera image.
type Frame struct {
	Data []byte
	At   time.Time
}

// FrameSlot hands the newest frame from the capture loop to the
// recognition loop. Put overwrites an unread frame.
type FrameSlot struct {
	mu    sync.Mutex
	frame Frame
	fresh bool
	ready chan struct{}
}

// NewFrameSlot creates an empty slot.
func NewFrameSlot() *FrameSlot {
	return &FrameSlot{ready: make(chan struct{}, 1)}
}

// Put stores f, replacing any frame not yet taken.
func (s *FrameSlot) Put(f Frame) {
	s.mu.Lock()
	s.frame, s.fresh = f, true
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Take waits for a frame newer than the last one taken.
func (s *FrameSlot) Take(ctx context.Context) (Frame, error) {
	for {
		s.mu.Lock()
		if s.fresh {
			f := s.frame
			s.fresh = false
			s.mu.Unlock()
			return f, nil
		}
		s.mu.Unlock()
		select {
		case <-s.ready:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Capture reads one encoded frame from the camera.
type Capture interface {
	Read(ctx context.Context) ([]byte, error)
}

// FileCapture reads frames that a camera daemon keeps writing to Path.
type FileCapture struct {
	Path string
}

func (f FileCapture) Read(context.Context) ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Identifier recognizes faces in a frame.
type Identifier interface {
	Identify(ctx context.Context, frame []byte) (*faceclient.IdentifyResult, error)
}

// Recognition is a person seen by the scanner.
type Recognition struct {
	PersonID   string    `json:"personId"`
	PersonType string    `json:"personType"`
	Confidence float64   `json:"confidence"`
	SeenAt     time.Time `json:"seenAt"`
}

// ScannerConfig tunes a Scanner.
type ScannerConfig struct {
	FrameInterval time.Duration
	MinConfidence float64
	Debounce      time.Duration
}

// Scanner runs the capture and recognition loops and publishes debounced
// recognitions. The camera is only read while a class holds it.
type Scanner struct {
	capture Capture
	ident   Identifier
	out     queue.Queue
	cfg     ScannerConfig
	now     func() time.Time
	slot    *FrameSlot

	active atomic.Bool
	mu     sync.Mutex
	seen   map[string]time.Time
}

// NewScanner wires a scanner publishing to out.
func NewScanner(capture Capture, ident Identifier, out queue.Queue, cfg ScannerConfig) *Scanner {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 200 * time.Millisecond
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 30 * time.Second
	}
	return &Scanner{
		capture: capture,
		ident:   ident,
		out:     out,
		cfg:     cfg,
		now:     time.Now,
		slot:    NewFrameSlot(),
		seen:    make(map[string]time.Time),
	}
}

// Acquire gives the camera to a class.
func (s *Scanner) Acquire() error {
	if !s.active.CompareAndSwap(false, true) {
		return ErrCameraBusy
	}
	return nil
}

// Release frees the camera and forgets debounce history.
func (s *Scanner) Release() {
	s.active.Store(false)
	s.mu.Lock()
	s.seen = make(map[string]time.Time)
	s.mu.Unlock()
}

// Snapshot reads a single frame regardless of ownership. Used for
// instructor verification before a class holds the camera.
func (s *Scanner) Snapshot(ctx context.Context) ([]byte, error) {
	return s.capture.Read(ctx)
}

// Run blocks until ctx ends.
func (s *Scanner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.captureLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.recognizeLoop(ctx)
	}()
	wg.Wait()
}

func (s *Scanner) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.active.Load() {
			continue
		}
		data, err := s.capture.Read(ctx)
		if err != nil {
			log.Printf("scanner: capture failed: %v", err)
			continue
		}
		s.slot.Put(Frame{Data: data, At: s.now()})
	}
}

func (s *Scanner) recognizeLoop(ctx context.Context) {
	for {
		f, err := s.slot.Take(ctx)
		if err != nil {
			return
		}
		if !s.active.Load() {
			continue
		}
		res, err := s.ident.Identify(ctx, f.Data)
		if errors.Is(err, faceclient.ErrNoFace) {
			continue
		}
		if err != nil {
			log.Printf("scanner: identify failed: %v", err)
			continue
		}
		s.publish(ctx, f.At, res.Matches)
	}
}

// publish forwards matches above the confidence floor that were not seen
// within the debounce window.
func (s *Scanner) publish(ctx context.Context, at time.Time, matches []faceclient.Match) {
	for _, m := range matches {
		if m.Confidence < s.cfg.MinConfidence || !s.fresh(m.PersonID, at) {
			continue
		}
		body, err := json.Marshal(Recognition{PersonID: m.PersonID, PersonType: m.PersonType, Confidence: m.Confidence, SeenAt: at})
		if err != nil {
			continue
		}
		if err := s.out.Publish(ctx, queue.Message{Type: queue.TypeRecognition, Body: body}); err != nil {
			log.Printf("scanner: publish %s: %v", m.PersonID, err)
		}
	}
}

func (s *Scanner) fresh(personID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.seen[personID]; ok && at.Sub(last) < s.cfg.Debounce {
		return false
	}
	s.seen[personID] = at
	return true
}
