package kiosk

import (
	"context"
	"log"
	"time"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
)

// DefaultPollInterval is the reconciliation period.
const DefaultPollInterval = 5 * time.Second

// SessionSource yields the server's authoritative list of open sessions.
// A push transport can implement it as well as the HTTP client.
type SessionSource interface {
	ActiveSessions(ctx context.Context) ([]attendance.ActiveSession, error)
}

// Snapshot is one successful observation of the server. FetchedAt is taken
// before the request was sent, so anything the kiosk did after it may be
// missing from Sessions.
type Snapshot struct {
	Sessions  []attendance.ActiveSession
	FetchedAt time.Time
}

// Poller periodically fetches a Snapshot and hands it to a callback.
type Poller struct {
	src      SessionSource
	interval time.Duration
	now      func() time.Time
	handle   func(Snapshot)
}

// NewPoller creates a poller; interval defaults to DefaultPollInterval.
func NewPoller(src SessionSource, interval time.Duration, now func() time.Time, handle func(Snapshot)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Poller{src: src, interval: interval, now: now, handle: handle}
}

// PollOnce runs a single cycle. The callback only sees successful fetches.
func (p *Poller) PollOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	fetchedAt := p.now()
	sessions, err := p.src.ActiveSessions(ctx)
	if err != nil {
		return err
	}
	p.handle(Snapshot{Sessions: sessions, FetchedAt: fetchedAt})
	return nil
}

// Run polls immediately and then every interval until ctx ends. Failed
// cycles are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("kiosk: poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
