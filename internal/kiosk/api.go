package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/auth"
)

// Server is the part of the attendance API a kiosk drives.
type Server interface {
	Classes(ctx context.Context, room string) ([]attendance.ClassInfo, error)
	CheckIn(ctx context.Context, req attendance.CheckInRequest) (attendance.CheckInResponse, error)
	CheckOut(ctx context.Context, req attendance.CheckOutRequest) (attendance.CheckOutResponse, error)
	Scan(ctx context.Context, req attendance.ScanRequest) (attendance.ScanResponse, error)
	ViewLock(ctx context.Context, sessionID string, req attendance.ViewLockRequest) (attendance.ViewLockResponse, error)
}

// APIClient talks to the attendance server. Calls use a short fixed
// timeout and are never retried.
type APIClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client

	mu      sync.RWMutex
	token   string
	kioskID string
}

// NewAPIClient creates a client authenticating with apiKey until Register
// swaps in a kiosk token.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &APIClient{BaseURL: baseURL, APIKey: apiKey, HTTP: &http.Client{Timeout: timeout}}
}

// Register exchanges the API key for a token bound to kioskID.
func (c *APIClient) Register(ctx context.Context, kioskID string) (time.Time, error) {
	var out attendance.RegisterKioskResponse
	if err := c.call(ctx, http.MethodPost, "/api/kiosks/register", attendance.RegisterKioskRequest{KioskID: kioskID}, &out, true); err != nil {
		return time.Time{}, err
	}
	c.mu.Lock()
	c.token = out.AccessToken
	c.kioskID = kioskID
	c.mu.Unlock()
	return out.ExpiresAt, nil
}

// renew replaces a rejected token. When registration fails the client falls
// back to the API key so the next call can still succeed.
func (c *APIClient) renew(ctx context.Context, rejected string) {
	c.mu.RLock()
	kioskID, current := c.kioskID, c.token
	c.mu.RUnlock()
	if current != rejected {
		return
	}
	if _, err := c.Register(ctx, kioskID); err != nil {
		log.Printf("kiosk: token rejected and re-register failed, using API key: %v", err)
		c.mu.Lock()
		if c.token == rejected {
			c.token = ""
		}
		c.mu.Unlock()
	}
}

func (c *APIClient) ActiveSessions(ctx context.Context) ([]attendance.ActiveSession, error) {
	var out attendance.ActiveSessionsResponse
	err := c.call(ctx, http.MethodGet, "/api/sessions/active", nil, &out, false)
	return out.Sessions, err
}

func (c *APIClient) Classes(ctx context.Context, room string) ([]attendance.ClassInfo, error) {
	path := "/api/classes"
	if room != "" {
		path += "?room=" + url.QueryEscape(room)
	}
	var out attendance.ClassesResponse
	err := c.call(ctx, http.MethodGet, path, nil, &out, false)
	return out.Classes, err
}

func (c *APIClient) CheckIn(ctx context.Context, req attendance.CheckInRequest) (attendance.CheckInResponse, error) {
	var out attendance.CheckInResponse
	err := c.call(ctx, http.MethodPost, "/api/checkin/instructor", req, &out, false)
	return out, err
}

func (c *APIClient) CheckOut(ctx context.Context, req attendance.CheckOutRequest) (attendance.CheckOutResponse, error) {
	var out attendance.CheckOutResponse
	err := c.call(ctx, http.MethodPost, "/api/checkout/instructor", req, &out, false)
	return out, err
}

func (c *APIClient) Scan(ctx context.Context, req attendance.ScanRequest) (attendance.ScanResponse, error) {
	var out attendance.ScanResponse
	err := c.call(ctx, http.MethodPost, "/api/scan/student", req, &out, false)
	return out, err
}

func (c *APIClient) ViewLock(ctx context.Context, sessionID string, req attendance.ViewLockRequest) (attendance.ViewLockResponse, error) {
	var out attendance.ViewLockResponse
	err := c.call(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/view-lock", req, &out, false)
	return out, err
}

func (c *APIClient) call(ctx context.Context, method, path string, in, out interface{}, apiKeyOnly bool) error {
	var raw []byte
	if in != nil {
		var err error
		if raw, err = json.Marshal(in); err != nil {
			return err
		}
	}
	resp, token, err := c.do(ctx, method, path, raw, apiKeyOnly)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		resp.Body.Close()
		c.renew(ctx, token)
		if resp, _, err = c.do(ctx, method, path, raw, apiKeyOnly); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &attendance.Error{Kind: attendance.KindTransient, Code: "BAD_RESPONSE", Message: fmt.Sprintf("decode %s: %v", path, err)}
	}
	return nil
}

// do sends one request and reports the bearer token it used, if any.
func (c *APIClient) do(ctx context.Context, method, path string, raw []byte, apiKeyOnly bool) (*http.Response, string, error) {
	var body io.Reader
	if raw != nil {
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, "", err
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if apiKeyOnly {
		token = ""
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set(auth.APIKeyHeader, c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", &attendance.Error{Kind: attendance.KindTransient, Code: "NETWORK", Message: fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	return resp, token, nil
}

// decodeError rebuilds the server's error in the shared taxonomy.
func decodeError(resp *http.Response) error {
	var body attendance.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = fmt.Sprintf("server returned %s", resp.Status)
	}
	return &attendance.Error{
		Kind:       kindForStatus(resp.StatusCode),
		Code:       body.Code,
		Message:    body.Error,
		Owner:      body.Owner,
		AcquiredAt: body.AcquiredAt,
	}
}

func kindForStatus(code int) attendance.Kind {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return attendance.KindValidation
	case http.StatusForbidden:
		return attendance.KindForbidden
	case http.StatusNotFound:
		return attendance.KindNotFound
	case http.StatusConflict:
		return attendance.KindConflict
	case http.StatusUnprocessableEntity:
		return attendance.KindFatalConfig
	}
	return attendance.KindTransient
}
