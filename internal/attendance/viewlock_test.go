package attendance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSession(t *testing.T) (*Service, *Arbiter, *testClock, string) {
	t.Helper()
	svc, store, clock := newTestService(t, at(tuesday, 9, 0))
	res, err := svc.CheckIn(context.Background(), CheckInInput{InstructorID: instructorID, ClassID: classID})
	require.NoError(t, err)
	return svc, NewArbiter(store, clock.Now), clock, res.Session.ID
}

func TestViewLockExclusive(t *testing.T) {
	_, arb, _, id := openSession(t)
	ctx := context.Background()

	sess, err := arb.Lock(ctx, id, "kiosk-a")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-a", sess.ViewLockOwner)
	require.NotNil(t, sess.ViewLockAcquiredAt)

	again, err := arb.Lock(ctx, id, "kiosk-a")
	require.NoError(t, err, "re-lock by the holder is idempotent")
	assert.Equal(t, *sess.ViewLockAcquiredAt, *again.ViewLockAcquiredAt)

	_, err = arb.Lock(ctx, id, "kiosk-b")
	require.ErrorIs(t, err, ErrLockHeld)
	var lockErr *Error
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "kiosk-a", lockErr.Owner)
	assert.Equal(t, 409, HTTPStatus(err))

	_, err = arb.Unlock(ctx, id, "kiosk-b", false)
	assert.ErrorIs(t, err, ErrLockHeld)

	_, err = arb.Unlock(ctx, id, "kiosk-a", false)
	require.NoError(t, err)

	sess, err = arb.Lock(ctx, id, "kiosk-b")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-b", sess.ViewLockOwner)
}

func TestViewLockForcedOverride(t *testing.T) {
	_, arb, _, id := openSession(t)
	ctx := context.Background()

	_, err := arb.Lock(ctx, id, "kiosk-a")
	require.NoError(t, err)

	sess, err := arb.Unlock(ctx, id, "kiosk-b", true)
	require.NoError(t, err)
	assert.Empty(t, sess.ViewLockOwner)

	sess, err = arb.Lock(ctx, id, "kiosk-b")
	require.NoError(t, err)
	assert.Equal(t, "kiosk-b", sess.ViewLockOwner)

	_, err = arb.Lock(ctx, id, "kiosk-a")
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestViewLockTerminalAfterProcessing(t *testing.T) {
	svc, arb, _, id := openSession(t)
	ctx := context.Background()

	_, err := arb.Lock(ctx, id, "kiosk-a")
	require.NoError(t, err)

	_, err = svc.CheckOutInstructor(ctx, CheckOutInput{InstructorID: instructorID, ClassSessionID: id})
	require.NoError(t, err)

	sess, err := svc.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, sess.ViewLockOwner, "closing a session voids its lock")
	assert.Nil(t, sess.ViewLockAcquiredAt)

	_, err = arb.Lock(ctx, id, "kiosk-a")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = arb.Unlock(ctx, id, "kiosk-b", false)
	assert.NoError(t, err)
}

func TestViewLockValidation(t *testing.T) {
	_, arb, _, id := openSession(t)
	ctx := context.Background()

	_, err := arb.Lock(ctx, id, "")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = arb.Lock(ctx, "missing", "kiosk-a")
	assert.Equal(t, KindNotFound, KindOf(err))
}
