// Package client is a small HTTP client for the sensorlink API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	defaultPoll    = 500 * time.Millisecond
)

// ErrRequest wraps transport and encoding failures.
var ErrRequest = errors.New("sensorlink request failed")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sensorlink: %d %s: %s", e.Status, e.Code, e.Message)
}

// JobAck is the answer to a job submission.
type JobAck struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Existing bool   `json:"existing"`
}

// JobState is the subset of a polled job the CLI needs; Result stays raw.
type JobState struct {
	JobID  string          `json:"job_id"`
	Kind   string          `json:"kind"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Terminal reports whether the job will not change state again.
func (j JobState) Terminal() bool {
	switch j.Status {
	case "succeeded", "failed", "cancelled":
		return true
	}
	return false
}

// Client talks to one sensorlink server.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client for baseURL, e.g. "http://localhost:9080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rank posts a rank request and returns the raw response document.
func (c *Client) Rank(ctx context.Context, req any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/v1/rank", req, nil, &out)
	return out, err
}

// Correlate posts a correlation request.
func (c *Client) Correlate(ctx context.Context, req any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/v1/correlation", req, nil, &out)
	return out, err
}

// Preview posts a preview request.
func (c *Client) Preview(ctx context.Context, req any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/v1/preview", req, nil, &out)
	return out, err
}

// Sensors lists the catalog, optionally for one node.
func (c *Client) Sensors(ctx context.Context, nodeID string) (json.RawMessage, error) {
	path := "/v1/sensors"
	if nodeID != "" {
		path += "?node_id=" + url.QueryEscape(nodeID)
	}
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

// SubmitJob queues a rank or correlation job. A non-empty key is sent as Idempotency-Key.
func (c *Client) SubmitJob(ctx context.Context, kind string, req any, key string) (JobAck, error) {
	body := struct {
		Kind    string `json:"kind"`
		Request any    `json:"request"`
	}{Kind: kind, Request: req}
	var hdr http.Header
	if key != "" {
		hdr = http.Header{"Idempotency-Key": []string{key}}
	}
	var ack JobAck
	err := c.do(ctx, http.MethodPost, "/v1/jobs", body, hdr, &ack)
	return ack, err
}

// Job polls a job once.
func (c *Client) Job(ctx context.Context, id string) (JobState, error) {
	var js JobState
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, nil, &js)
	return js, err
}

// CancelJob cancels a queued or running job.
func (c *Client) CancelJob(ctx context.Context, id string) (JobState, error) {
	var js JobState
	err := c.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(id), nil, nil, &js)
	return js, err
}

// WaitJob polls every interval until the job is terminal or ctx ends.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (JobState, error) {
	if interval <= 0 {
		interval = defaultPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		js, err := c.Job(ctx, id)
		if err != nil || js.Terminal() {
			return js, err
		}
		select {
		case <-ctx.Done():
			return js, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in any, hdr http.Header, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode: %w", ErrRequest, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrRequest, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = strings.ReplaceAll(strings.ToLower(http.StatusText(resp.StatusCode)), " ", "_")
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode: %w", ErrRequest, err)
	}
	return nil
}
