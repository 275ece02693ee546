package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "attendance-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("kiosk-r204", RoleKiosk, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-r204", claims.Subject)
	assert.Equal(t, RoleKiosk, claims.Role)

	_, err = Parse(tok.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(tok.AccessToken, testKey, "someone-else")
	assert.Error(t, err)
}

func TestParseExpired(t *testing.T) {
	tok, err := Issue("kiosk-r204", RoleKiosk, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(tok.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestMachineAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", MachineAuth([]string{"k1"}, testKey, testIssuer), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if ok {
			c.String(http.StatusOK, claims.Subject)
			return
		}
		c.String(http.StatusOK, "apikey")
	})

	tok, err := Issue("kiosk-a", RoleKiosk, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header map[string]string
		code   int
		body   string
	}{
		{"api key", map[string]string{APIKeyHeader: "k1"}, http.StatusOK, "apikey"},
		{"bad api key", map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized, ""},
		{"bearer", map[string]string{"Authorization": "Bearer " + tok.AccessToken}, http.StatusOK, "kiosk-a"},
		{"bad bearer", map[string]string{"Authorization": "Bearer garbage"}, http.StatusUnauthorized, ""},
		{"none", nil, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestAPIKeyOnlyRejectsEmptyConfiguredKey(t *testing.T) {
	assert.False(t, knownKey([]string{""}, ""))
	assert.False(t, knownKey([]string{""}, "x"))
	assert.True(t, knownKey([]string{"", "x"}, "x"))
}
