package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Person types returned by the recognition service.
const (
	PersonStudent    = "student"
	PersonInstructor = "instructor"
)

// ErrNoFace is returned when the frame contains no detectable face.
var ErrNoFace = errors.New("no face detected in frame")

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// Match is one identified person in a frame.
type Match struct {
	PersonID   string  `json:"person_id"`
	PersonType string  `json:"person_type"`
	Confidence float64 `json:"confidence"`
}

// IdentifyResult contains every face recognized in a frame.
type IdentifyResult struct {
	Matches       []Match
	FacesDetected int
}

// VerifyResult contains 1:1 verification result.
type VerifyResult struct {
	PersonID   string
	Verified   bool
	Similarity float64
	Threshold  float64
	Quality    *FaceQuality
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Identify runs 1:N recognition over an encoded frame.
func (c *Client) Identify(ctx context.Context, frame []byte) (*IdentifyResult, error) {
	if c.Skip {
		return &IdentifyResult{}, nil
	}
	if len(frame) == 0 {
		return nil, ErrNoFace
	}
	var out struct {
		Matches       []Match `json:"matches"`
		FacesDetected int     `json:"faces_detected"`
	}
	if err := c.post(ctx, "/identify", map[string]string{"image": encode(frame)}, &out); err != nil {
		return nil, err
	}
	return &IdentifyResult{Matches: out.Matches, FacesDetected: out.FacesDetected}, nil
}

// Verify performs 1:1 face verification of frame against personID.
func (c *Client) Verify(ctx context.Context, personID string, frame []byte) (*VerifyResult, error) {
	if c.Skip {
		return &VerifyResult{
			PersonID:   personID,
			Verified:   true,
			Similarity: 0.92,
			Threshold:  0.45,
			Quality:    &FaceQuality{Score: 0.85, IsFrontal: true},
		}, nil
	}
	if len(frame) == 0 {
		return nil, ErrNoFace
	}
	var out struct {
		PersonID   string       `json:"person_id"`
		Verified   bool         `json:"verified"`
		Similarity float64      `json:"similarity"`
		Threshold  float64      `json:"threshold"`
		Quality    *FaceQuality `json:"quality"`
	}
	payload := map[string]string{"person_id": personID, "image": encode(frame)}
	if err := c.post(ctx, "/verify", payload, &out); err != nil {
		return nil, err
	}
	return &VerifyResult{
		PersonID:   out.PersonID,
		Verified:   out.Verified,
		Similarity: out.Similarity,
		Threshold:  out.Threshold,
		Quality:    out.Quality,
	}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return ErrNoFace
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func encode(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}
