package kiosk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/httpapi"
)

func TestAPIClientMapsErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   attendance.Kind
	}{
		{http.StatusBadRequest, `{"error":"session ended","code":"SESSION_ENDED"}`, attendance.KindValidation},
		{http.StatusNotFound, `{"error":"session not found","code":"NOT_FOUND"}`, attendance.KindNotFound},
		{http.StatusConflict, `{"error":"locked","code":"LOCK_HELD","owner":"kiosk-a"}`, attendance.KindConflict},
		{http.StatusUnprocessableEntity, `{"error":"no instructor","code":"NO_INSTRUCTOR"}`, attendance.KindFatalConfig},
		{http.StatusBadGateway, `upstream down`, attendance.KindTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		c := NewAPIClient(srv.URL, "k", time.Second)
		_, err := c.ViewLock(context.Background(), "sess-1", attendance.ViewLockRequest{LockerID: "kiosk-b", Action: attendance.ViewLockActionLock})
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, tc.kind, attendance.KindOf(err), tc.body)
	}
}

func TestAPIClientConflictCarriesOwner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"locked","code":"LOCK_HELD","owner":"kiosk-a","acquiredAt":"2026-10-20T09:00:00Z"}`))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, "k", time.Second).ViewLock(context.Background(), "sess-1", attendance.ViewLockRequest{LockerID: "kiosk-b", Action: "lock"})
	assert.ErrorIs(t, err, attendance.ErrLockHeld)
	var kerr *attendance.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "kiosk-a", kerr.Owner)
	require.NotNil(t, kerr.AcquiredAt)
}

func TestAPIClientNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewAPIClient(url, "k", time.Second).ActiveSessions(context.Background())
	assert.Equal(t, attendance.KindTransient, attendance.KindOf(err))
}

func TestAPIClientUsesTokenAfterRegister(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/kiosks/register" {
			seen = append(seen, "key:"+r.Header.Get("X-API-Key"))
			_, _ = w.Write([]byte(`{"accessToken":"tok","expiresAt":"2026-10-20T21:00:00Z"}`))
			return
		}
		seen = append(seen, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"sessions":[]}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, "k", time.Second)
	exp, err := c.Register(context.Background(), "kiosk-a")
	require.NoError(t, err)
	assert.False(t, exp.IsZero())
	_, err = c.ActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"key:k", "Bearer tok"}, seen)
}

func TestAPIClientRenewsExpiredToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := attendance.NewMemoryStore()
	svc := attendance.NewService(store)
	h := httpapi.New(svc, attendance.NewArbiter(store, nil), attendance.NewSweeper(svc, nil), nil, httpapi.Auth{
		APIKeys:    []string{testAPIKey},
		SigningKey: "signing",
		Issuer:     "test",
		AccessTTL:  2 * time.Second,
	}, nil)
	r := gin.New()
	h.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewAPIClient(srv.URL, testAPIKey, 2*time.Second)
	_, err := c.Register(context.Background(), "kiosk-a")
	require.NoError(t, err)
	c.mu.RLock()
	first := c.token
	c.mu.RUnlock()

	time.Sleep(3100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, err = c.ActiveSessions(context.Background())
		require.NoError(t, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.NotEmpty(t, c.token)
	assert.NotEqual(t, first, c.token)
}

func TestAPIClientFallsBackToKeyWhenRenewFails(t *testing.T) {
	var (
		mu        sync.Mutex
		registers int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path == "/api/kiosks/register" {
			registers++
			if registers > 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"accessToken":"tok","expiresAt":"2026-10-20T21:00:00Z"}`))
			return
		}
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"sessions":[]}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, "k", time.Second)
	_, err := c.Register(context.Background(), "kiosk-a")
	require.NoError(t, err)

	_, err = c.ActiveSessions(context.Background())
	require.NoError(t, err)
	_, err = c.ActiveSessions(context.Background())
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, registers)
}
