package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Lease is a cross-process mutual exclusion used to keep concurrent sweeps
// from duplicating work. Correctness does not depend on it.
type Lease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

const (
	sweepLeaseKey = "attendance:sweep:lease"
	sweepLeaseTTL = 2 * time.Minute
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Closed       int
	AbsentMarked int
	Failed       int
	Skipped      bool
	Sessions     []ClosedSession
}

// Sweeper closes overdue sessions that no kiosk closed.
type Sweeper struct {
	svc   *Service
	lease Lease
}

// NewSweeper creates a sweeper. lease may be nil.
func NewSweeper(svc *Service, lease Lease) *Sweeper {
	return &Sweeper{svc: svc, lease: lease}
}

// Sweep closes every overdue session, each independently; one failure does
// not stop the rest. Running it again finds nothing left to do.
func (w *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	if w.lease != nil {
		release, ok, err := w.lease.TryAcquire(ctx, sweepLeaseKey, sweepLeaseTTL)
		if err != nil {
			log.Printf("sweeper: lease unavailable, sweeping anyway: %v", err)
		} else if !ok {
			return SweepResult{Skipped: true}, nil
		} else {
			defer release()
		}
	}

	started := time.Now()
	defer func() { sweepDuration.Observe(time.Since(started).Seconds()) }()

	now := w.svc.clock()
	overdue, err := w.svc.store.OverdueSessions(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	var res SweepResult
	for _, sess := range overdue {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		marked, err := w.svc.closeSession(ctx, sess, now, reasonSweep)
		if errors.Is(err, ErrSessionClosed) {
			continue
		}
		if err != nil {
			res.Failed++
			log.Printf("sweeper: close session %s failed: %v", sess.ID, err)
			continue
		}
		res.Closed++
		res.AbsentMarked += marked
		res.Sessions = append(res.Sessions, ClosedSession{ClassSessionID: sess.ID, ClassID: sess.ClassID, AbsentMarked: marked})
	}
	if res.Closed > 0 || res.Failed > 0 {
		log.Printf("sweeper: closed %d session(s), %d absent, %d failed", res.Closed, res.AbsentMarked, res.Failed)
	}
	return res, nil
}

// Run sweeps on a cron schedule until ctx is cancelled. Overlapping runs
// are skipped.
func (w *Sweeper) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := w.Sweep(ctx); err != nil {
			log.Printf("sweeper: sweep failed: %v", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	log.Printf("sweeper: scheduled with %q", schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
