package attendance

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/store"
)

// pgRepo connects to DATABASE_URL and seeds a class with three enrolled
// students under ids unique to this run.
func pgRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := store.NewDB(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))

	class := "cs101-" + uuid.NewString()[:8]
	_, err = db.Client.ExecContext(ctx, `
		INSERT INTO classes (id, code, name, schedule, room_number, instructor_id)
		VALUES ($1, 'CS101', 'Intro', 'MTW 9:00 AM-10:30 AM', 'R-1', 'inst-1')
	`, class)
	require.NoError(t, err)
	for _, s := range []string{"stu-a", "stu-b", "stu-c"} {
		_, err = db.Client.ExecContext(ctx, `INSERT INTO enrollments (class_id, student_id) VALUES ($1, $2)`, class, s)
		require.NoError(t, err)
	}
	return NewRepository(db.Client), class
}

func pgSession(class string, start time.Time) Session {
	return Session{
		ID:                 uuid.NewString(),
		ClassID:            class,
		InstructorID:       "inst-1",
		Date:               DateOf(start),
		ActualStartTime:    start,
		ScheduledStartTime: start,
		ScheduledEndTime:   start.Add(90 * time.Minute),
		RoomNumber:         "R-1",
	}
}

func TestRepositoryRejectsSecondOpenSession(t *testing.T) {
	repo, class := pgRepo(t)
	ctx := context.Background()
	start := at(tuesday, 9, 0)

	require.NoError(t, repo.InsertSession(ctx, pgSession(class, start)))
	err := repo.InsertSession(ctx, pgSession(class, start.Add(5*time.Minute)))
	assert.ErrorIs(t, err, ErrDuplicate)

	open, err := repo.FindOpenSession(ctx, class, DateOf(start))
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, start.Add(90*time.Minute).Equal(open.ScheduledEndTime))
}

func TestRepositoryCloseSessionKeepsScannedRecords(t *testing.T) {
	repo, class := pgRepo(t)
	ctx := context.Background()
	start := at(tuesday, 9, 0)
	sess := pgSession(class, start)
	require.NoError(t, repo.InsertSession(ctx, sess))

	in := start.Add(3 * time.Minute)
	_, err := repo.InsertAttendance(ctx, Record{ClassSessionID: sess.ID, StudentID: "stu-a", Status: StatusPresent, TimeIn: &in, MarkedAt: in})
	require.NoError(t, err)
	_, err = repo.InsertAttendance(ctx, Record{ClassSessionID: sess.ID, StudentID: "stu-a", Status: StatusLate, TimeIn: &in, MarkedAt: in})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	closed := start.Add(90 * time.Minute)
	marked, err := repo.CloseSession(ctx, sess.ID, closed)
	require.NoError(t, err)
	assert.Equal(t, 2, marked, "stu-a keeps its record through ON CONFLICT")

	var (
		status  string
		timeOut *time.Time
	)
	err = repo.db.QueryRowContext(ctx, `
		SELECT status, time_out FROM attendance_records WHERE class_session_id = $1 AND student_id = 'stu-a'
	`, sess.ID).Scan(&status, &timeOut)
	require.NoError(t, err)
	assert.Equal(t, string(StatusPresent), status)
	require.NotNil(t, timeOut)
	assert.True(t, closed.Equal(*timeOut))

	var absent int
	require.NoError(t, repo.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_records WHERE class_session_id = $1 AND status = 'ABSENT'
	`, sess.ID).Scan(&absent))
	assert.Equal(t, 2, absent)

	_, err = repo.CloseSession(ctx, sess.ID, closed.Add(time.Minute))
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = repo.InsertAttendance(ctx, Record{ClassSessionID: sess.ID, StudentID: "stu-b", Status: StatusLate, TimeIn: &closed, MarkedAt: closed})
	assert.ErrorIs(t, err, ErrSessionEnded)

	got, err := repo.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.IsProcessed)
	assert.Empty(t, got.ViewLockOwner)
}

func TestRepositoryOverdueSessions(t *testing.T) {
	repo, class := pgRepo(t)
	ctx := context.Background()
	start := at(tuesday, 9, 0)
	sess := pgSession(class, start)
	require.NoError(t, repo.InsertSession(ctx, sess))

	// A second open session on another date whose end lies a day out, so
	// only the max length bound can make it overdue.
	long := pgSession(class, start.AddDate(0, 0, 1))
	long.ScheduledEndTime = long.ScheduledStartTime.Add(24 * time.Hour)
	require.NoError(t, repo.InsertSession(ctx, long))

	ours := func(now time.Time) []string {
		t.Helper()
		list, err := repo.OverdueSessions(ctx, now)
		require.NoError(t, err)
		var ids []string
		for _, s := range list {
			if s.ClassID == class {
				ids = append(ids, s.ID)
			}
		}
		return ids
	}

	end := sess.ScheduledEndTime
	assert.Empty(t, ours(end.Add(SweepGrace)), "end + grace is not yet past")
	assert.Equal(t, []string{sess.ID}, ours(end.Add(SweepGrace+time.Second)))

	longStart := long.ScheduledStartTime
	assert.NotContains(t, ours(longStart.Add(MaxSessionLength)), long.ID)
	assert.Contains(t, ours(longStart.Add(MaxSessionLength+time.Second)), long.ID)

	_, err := repo.CloseSession(ctx, sess.ID, end)
	require.NoError(t, err)
	assert.NotContains(t, ours(end.Add(SweepGrace+time.Second)), sess.ID)
}
