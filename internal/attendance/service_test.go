package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

const (
	classID      = "cs101"
	instructorID = "inst-1"
	substituteID = "inst-2"
)

func newTestService(t *testing.T, now time.Time) (*Service, *MemoryStore, *testClock) {
	t.Helper()
	store := NewMemoryStore()
	store.PutClass(Class{
		ID:                     classID,
		Code:                   "CS 101",
		Name:                   "Intro to Computing",
		Schedule:               "MTW 9:00 AM-10:30 AM",
		RoomNumber:             "R-204",
		InstructorID:           instructorID,
		SubstituteInstructorID: substituteID,
	})
	store.Enroll(classID, "stu-a", "stu-b", "stu-c")
	clock := newTestClock(now)
	svc := NewService(store, WithClock(clock.Now), WithLocation(time.UTC))
	return svc, store, clock
}

func TestCheckInCreatesSessionFromSchedule(t *testing.T) {
	now := at(tuesday, 9, 2)
	svc, _, _ := newTestService(t, now)

	res, err := svc.CheckIn(context.Background(), CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, RolePrimary, res.AssignmentRole)
	assert.Equal(t, at(tuesday, 9, 0), res.Session.ScheduledStartTime)
	assert.Equal(t, at(tuesday, 10, 30), res.Session.ScheduledEndTime)
	assert.Equal(t, now, res.Session.ActualStartTime)
	assert.Equal(t, "R-204", res.Session.RoomNumber)
}

func TestCheckInFallsBackToDefaultWindow(t *testing.T) {
	now := at(friday, 15, 0)
	svc, _, _ := newTestService(t, now)

	res, err := svc.CheckIn(context.Background(), CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)
	assert.Equal(t, now, res.Session.ScheduledStartTime)
	assert.Equal(t, now.Add(time.Hour), res.Session.ScheduledEndTime)
}

func TestCheckInIsIdempotent(t *testing.T) {
	svc, store, clock := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()

	first, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	clock.Set(at(tuesday, 9, 10))
	second, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID, RoomNumber: "R-999"})
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, "R-204", second.Session.RoomNumber, "bound room is not overwritten")
	assert.Equal(t, first.Session.ActualStartTime, second.Session.ActualStartTime)

	open, err := store.OpenSessions(ctx, classID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestCheckInSubstituteRebindsSession(t *testing.T) {
	svc, _, _ := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()

	first, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	second, err := svc.CheckIn(ctx, CheckInInput{InstructorID: substituteID, ClassID: classID, RoomNumber: "R-301"})
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, RoleSubstitute, second.AssignmentRole)
	assert.Equal(t, substituteID, second.Session.InstructorID)
	assert.Equal(t, "R-301", second.Session.RoomNumber)
}

func TestCheckInConcurrentCreatesOneSession(t *testing.T) {
	svc, store, _ := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()

	const kiosks = 8
	ids := make([]string, kiosks)
	errs := make([]error, kiosks)
	var wg sync.WaitGroup
	for i := 0; i < kiosks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
			ids[i], errs[i] = res.Session.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	open, err := store.OpenSessions(ctx, classID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestCheckInClientTimestamp(t *testing.T) {
	now := at(tuesday, 9, 0)
	svc, _, clock := newTestService(t, now)
	ctx := context.Background()

	skewed := now.Add(-3 * time.Minute)
	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID, Timestamp: &skewed})
	require.NoError(t, err)
	assert.Equal(t, skewed, res.Session.ActualStartTime)

	_, err = svc.CheckOutInstructor(ctx, CheckOutInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	clock.Set(at(tuesday, 9, 30))
	spoofed := at(tuesday, 8, 0)
	res, err = svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID, Timestamp: &spoofed})
	require.NoError(t, err)
	assert.True(t, res.Created, "a same-day restart after checkout opens a new session")
	assert.Equal(t, at(tuesday, 9, 30), res.Session.ActualStartTime)
}

func TestCheckInRejections(t *testing.T) {
	svc, store, _ := newTestService(t, at(tuesday, 9, 0))
	store.PutClass(Class{ID: "orphan", Schedule: "T 9:00 AM-10:00 AM"})
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, CheckInInput{ClassID: classID})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: "nope"})
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: "orphan"})
	assert.ErrorIs(t, err, ErrNoInstructor)
	assert.Equal(t, KindFatalConfig, KindOf(err))

	_, err = svc.CheckIn(ctx, CheckInInput{InstructorID: "stranger", ClassID: classID})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCheckInStrictWindow(t *testing.T) {
	store := NewMemoryStore()
	store.PutClass(Class{ID: classID, Schedule: "T 9:00 AM-10:00 AM", InstructorID: instructorID})
	clock := newTestClock(at(tuesday, 7, 0))
	svc := NewService(store, WithClock(clock.Now), WithLocation(time.UTC), WithStrictCheckInWindow(true))

	_, err := svc.CheckIn(context.Background(), CheckInInput{InstructorID: instructorID, ClassID: classID})
	assert.Equal(t, KindValidation, KindOf(err))

	clock.Set(at(tuesday, 8, 45))
	_, err = svc.CheckIn(context.Background(), CheckInInput{InstructorID: instructorID, ClassID: classID})
	assert.NoError(t, err)
}

func TestScanStudentClassifiesArrival(t *testing.T) {
	svc, _, clock := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()

	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	clock.Set(at(tuesday, 9, 15))
	rec, err := svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: res.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)

	clock.Set(at(tuesday, 9, 40))
	rec, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-b", ClassSessionID: res.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, rec.Status)

	clock.Set(at(tuesday, 9, 45))
	rec, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-c", ClassSessionID: res.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, rec.Status)
	assert.Nil(t, rec.MarkedBy)
}

func TestScanStudentRejections(t *testing.T) {
	svc, _, clock := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()
	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: "missing"})
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "outsider", ClassSessionID: res.Session.ID})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: res.Session.ID})
	require.NoError(t, err)
	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: res.Session.ID})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
	assert.Equal(t, 409, HTTPStatus(err))

	clock.Set(at(tuesday, 13, 1))
	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-b", ClassSessionID: res.Session.ID})
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, 400, HTTPStatus(err))
}

func TestScanStudentConcurrentSameStudent(t *testing.T) {
	svc, store, _ := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()
	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	const scans = 2
	errs := make([]error, scans)
	var wg sync.WaitGroup
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: res.Session.ID})
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyCheckedIn):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, store.Records(res.Session.ID), 1)
}

func TestScanUpgradesAbsentPlaceholder(t *testing.T) {
	svc, store, _ := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()
	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	_, err = store.InsertAttendance(ctx, Record{ClassSessionID: res.Session.ID, StudentID: "stu-a", Status: StatusAbsent, MarkedAt: at(tuesday, 9, 0)})
	require.NoError(t, err)

	rec, err := svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: res.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Len(t, store.Records(res.Session.ID), 1)
}

func TestAttendedRecordIsNeverDowngraded(t *testing.T) {
	svc, store, _ := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()
	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)
	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: res.Session.ID})
	require.NoError(t, err)

	_, err = store.InsertAttendance(ctx, Record{ClassSessionID: res.Session.ID, StudentID: "stu-a", Status: StatusAbsent})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	_, err = svc.CheckOutInstructor(ctx, CheckOutInput{InstructorID: instructorID, ClassSessionID: res.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, store.Records(res.Session.ID)["stu-a"].Status)
}

func TestEndToEndSession(t *testing.T) {
	svc, store, clock := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()

	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)
	sessionID := res.Session.ID

	clock.Set(at(tuesday, 9, 5))
	a, err := svc.ScanStudent(ctx, ScanInput{StudentID: "stu-a", ClassSessionID: sessionID})
	require.NoError(t, err)
	assert.Equal(t, StatusPresent, a.Status)

	clock.Set(at(tuesday, 9, 20))
	b, err := svc.ScanStudent(ctx, ScanInput{StudentID: "stu-b", ClassSessionID: sessionID})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, b.Status)

	clock.Set(at(tuesday, 10, 0))
	out, err := svc.CheckOutInstructor(ctx, CheckOutInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)
	assert.Equal(t, 1, out.SessionsProcessed)
	assert.Equal(t, 1, out.TotalAbsentMarked)
	require.Len(t, out.Sessions, 1)
	assert.Equal(t, sessionID, out.Sessions[0].ClassSessionID)

	sess, err := store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, sess.IsProcessed)

	records := store.Records(sessionID)
	require.Len(t, records, 3)
	assert.Equal(t, StatusAbsent, records["stu-c"].Status)
	assert.Nil(t, records["stu-c"].MarkedBy)
	for _, id := range []string{"stu-a", "stu-b"} {
		require.NotNil(t, records[id].TimeOut, id)
		assert.Equal(t, at(tuesday, 10, 0), *records[id].TimeOut)
	}

	ia, ok := store.Instructor(instructorID, classID, tuesday)
	require.True(t, ok)
	require.NotNil(t, ia.TimeIn)
	require.NotNil(t, ia.TimeOut)
	assert.Equal(t, at(tuesday, 9, 0), *ia.TimeIn)
	assert.Equal(t, at(tuesday, 10, 0), *ia.TimeOut)

	_, err = svc.ScanStudent(ctx, ScanInput{StudentID: "stu-c", ClassSessionID: sessionID})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestCheckOutTwiceClosesNothing(t *testing.T) {
	svc, _, _ := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()
	res, err := svc.CheckIn(ctx, CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)

	in := CheckOutInput{InstructorID: instructorID, ClassSessionID: res.Session.ID, Auto: true}
	first, err := svc.CheckOutInstructor(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SessionsProcessed)
	assert.Equal(t, 3, first.TotalAbsentMarked)

	second, err := svc.CheckOutInstructor(ctx, in)
	require.NoError(t, err)
	assert.Zero(t, second.SessionsProcessed)
	assert.Zero(t, second.TotalAbsentMarked)
}

func TestCheckOutValidation(t *testing.T) {
	svc, _, _ := newTestService(t, at(tuesday, 9, 0))
	ctx := context.Background()

	_, err := svc.CheckOutInstructor(ctx, CheckOutInput{ClassID: classID})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.CheckOutInstructor(ctx, CheckOutInput{InstructorID: instructorID})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.CheckOutInstructor(ctx, CheckOutInput{InstructorID: instructorID, ClassSessionID: "missing"})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestRetryOnDuplicate(t *testing.T) {
	calls := 0
	err := retryOnDuplicate(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return ErrDuplicate
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = retryOnDuplicate(context.Background(), 3, func() error {
		calls++
		return ErrDuplicate
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 3, calls)
}
