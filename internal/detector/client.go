// Package detector talks to the remote object-detection service.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

const (
	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20

	uploadField    = "file"
	uploadFilename = "frame.jpg"
)

// HealthReport is the payload of the health endpoint.
type HealthReport struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`

	// StatusCode is the HTTP status of the response, 0 when not recorded.
	StatusCode int `json:"-"`
}

// Healthy reports whether the service is up with its model loaded.
// A report carried by an error response is never healthy.
func (r HealthReport) Healthy() bool {
	if r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode > 299) {
		return false
	}
	return r.Status == "healthy" && r.ModelLoaded
}

type detectResponse struct {
	Success    bool              `json:"success"`
	Detections []types.Detection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

// Client is a stateless wrapper around the detect and health endpoints.
// It never retries and imposes no timeout of its own; callers bound calls
// through the context.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient returns a client for the service rooted at baseURL
// (e.g. "http://localhost:5000/api").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Detect uploads one encoded image and returns the detections found in it.
// Failures are *TransportError or *DecodeError.
func (c *Client) Detect(ctx context.Context, image []byte) ([]types.Detection, error) {
	const op = "detect"

	body, contentType, err := multipartImage(image)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	var payload detectResponse
	decodeErr := json.Unmarshal(data, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := http.StatusText(resp.StatusCode)
		if decodeErr == nil && payload.Error != "" {
			reason = payload.Error
		}
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(reason)}
	}
	if decodeErr != nil {
		return nil, &DecodeError{Op: op, Err: decodeErr}
	}
	if !payload.Success {
		reason := payload.Error
		if reason == "" {
			reason = "service reported failure"
		}
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(reason)}
	}

	for i, det := range payload.Detections {
		if det.Class == "" {
			return nil, &DecodeError{Op: op, Err: fmt.Errorf("detection %d has no class", i)}
		}
	}
	if payload.Detections == nil {
		payload.Detections = []types.Detection{}
	}
	return payload.Detections, nil
}

// Health queries the liveness endpoint. Every failure is a *HealthError.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthReport{}, &HealthError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return HealthReport{}, &HealthError{Err: err}
	}
	defer resp.Body.Close()

	// The service answered; an error status with a readable body still
	// counts as reachable.
	var report HealthReport
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&report); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return HealthReport{}, &HealthError{Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return HealthReport{}, &HealthError{Err: fmt.Errorf("decode: %w", err)}
	}
	report.StatusCode = resp.StatusCode
	return report, nil
}

func multipartImage(image []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadField, uploadFilename))
	header.Set("Content-Type", "image/jpeg")

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
