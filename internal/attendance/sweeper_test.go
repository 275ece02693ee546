package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepClosesOverdueSession(t *testing.T) {
	svc, store, clock := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()

	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)
	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: res.Session.ID})
	require.NoError(t, err)

	sweeper := NewSweeper(svc, nil)

	clock.Set(at(tuesday, 10, 45))
	out, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, out.Closed, "scheduled end + 15m is not yet past")

	clock.Set(at(tuesday, 10, 46))
	out, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Closed)
	assert.Equal(t, 2, out.AbsentMarked)

	sess, err := store.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.True(t, sess.IsProcessed)

	records := store.Records(res.Session.ID)
	assert.Equal(t, StatusPresent, records["stu-a"].Status)
	assert.Equal(t, StatusAbsent, records["stu-b"].Status)
	assert.Equal(t, StatusAbsent, records["stu-c"].Status)

	again, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Closed)
	assert.Zero(t, again.AbsentMarked)
}

func TestSweepMaxSessionLength(t *testing.T) {
	store := NewMemoryStore()
	clock := newTestClock(at(tuesday, 1, 0))
	svc := NewService(store, WithClock(clock.Now), WithLocation(time.UTC))
	require.NoError(t, store.InsertSession(context.Background(), Session{
		ID:                 "long",
		ClassID:            classID,
		Date:               tuesday,
		ActualStartTime:    at(tuesday, 1, 0),
		ScheduledStartTime: at(tuesday, 1, 0),
		ScheduledEndTime:   at(tuesday, 23, 0),
	}))

	clock.Set(at(tuesday, 5, 1))
	out, err := NewSweeper(svc, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Closed)
}

type failingStore struct {
	*MemoryStore
	failID string
}

func (f *failingStore) CloseSession(ctx context.Context, id string, at time.Time) (int, error) {
	if id == f.failID {
		return 0, errors.New("connection reset")
	}
	return f.MemoryStore.CloseSession(ctx, id, at)
}

func TestSweepIsolatesFailures(t *testing.T) {
	mem := NewMemoryStore()
	store := &failingStore{MemoryStore: mem, failID: "bad"}
	clock := newTestClock(at(tuesday, 12, 0))
	svc := NewService(store, WithClock(clock.Now), WithLocation(time.UTC))
	ctx := context.Background()
	for _, id := range []string{"bad", "good"} {
		require.NoError(t, mem.InsertSession(ctx, Session{
			ID:                 id,
			ClassID:            "class-" + id,
			Date:               tuesday,
			ScheduledStartTime: at(tuesday, 8, 0),
			ScheduledEndTime:   at(tuesday, 9, 0),
		}))
	}

	out, err := NewSweeper(svc, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Closed)
	assert.Equal(t, 1, out.Failed)

	good, err := mem.GetSession(ctx, "good")
	require.NoError(t, err)
	assert.True(t, good.IsProcessed)
}

type busyLease struct{ acquired bool }

func (l *busyLease) TryAcquire(context.Context, string, time.Duration) (func(), bool, error) {
	if l.acquired {
		return nil, false, nil
	}
	l.acquired = true
	return func() { l.acquired = false }, true, nil
}

func TestSweepSkipsWhenLeaseHeld(t *testing.T) {
	svc, _, _ := newTestService(t, at(tuesday, 9, 0))
	lease := &busyLease{acquired: true}

	out, err := NewSweeper(svc, lease).Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	lease.acquired = false
	out, err = NewSweeper(svc, lease).Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.False(t, lease.acquired, "lease released after the sweep")
}
