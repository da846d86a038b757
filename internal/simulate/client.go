package simulate

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

	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/domain/types"
)

// ErrUnexpectedStatus is wrapped by APIError.
var ErrUnexpectedStatus = errors.New("unexpected status")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %d: %s: %s", ErrUnexpectedStatus, e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrUnexpectedStatus }

// Client talks to the transcript HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func transcriptPath(uid, tid string) string {
	return "/users/" + url.PathEscape(uid) + "/transcripts/" + url.PathEscape(tid)
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, []byte, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return resp, raw, apiErr
	}
	return resp, raw, nil
}

// Health checks that the server answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// Create starts a transcript for plan.
func (c *Client) Create(ctx context.Context, plan model.Plan) (*types.TranscriptView, error) {
	_, raw, err := c.do(ctx, http.MethodPost, "/transcripts", plan, nil)
	if err != nil {
		return nil, err
	}
	var view types.TranscriptView
	return &view, json.Unmarshal(raw, &view)
}

// Append adds msg. A non-empty key is sent as the Idempotency-Key header.
func (c *Client) Append(ctx context.Context, uid, tid string, msg types.MessageRequest, key string) (types.AppendResponse, error) {
	header := http.Header{}
	if key != "" {
		header.Set("Idempotency-Key", key)
	}
	var out types.AppendResponse
	_, raw, err := c.do(ctx, http.MethodPost, transcriptPath(uid, tid)+"/messages", msg, header)
	if err != nil {
		return out, err
	}
	return out, json.Unmarshal(raw, &out)
}

// Finalize closes the transcript and returns its status.
func (c *Client) Finalize(ctx context.Context, uid, tid string) (model.Status, error) {
	_, raw, err := c.do(ctx, http.MethodPost, transcriptPath(uid, tid)+"/finalize", nil, nil)
	if err != nil {
		return "", err
	}
	var out types.FinalizeResponse
	return out.Status, json.Unmarshal(raw, &out)
}

// Get reads a transcript, optionally rebuilt from its streams.
func (c *Client) Get(ctx context.Context, uid, tid string, fromStreams bool) (*types.TranscriptView, error) {
	path := transcriptPath(uid, tid)
	if fromStreams {
		path += "?source=streams"
	}
	_, raw, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var view types.TranscriptView
	return &view, json.Unmarshal(raw, &view)
}

// Text renders the transcript for roles.
func (c *Client) Text(ctx context.Context, uid, tid string, roles ...model.Role) (string, error) {
	path := transcriptPath(uid, tid) + "/text"
	if len(roles) > 0 {
		names := make([]string, len(roles))
		for i, r := range roles {
			names[i] = r.String()
		}
		path += "?roles=" + url.QueryEscape(strings.Join(names, ","))
	}
	_, raw, err := c.do(ctx, http.MethodGet, path, nil, nil)
	return string(raw), err
}

// Delete removes the transcript.
func (c *Client) Delete(ctx context.Context, uid, tid string) error {
	_, _, err := c.do(ctx, http.MethodDelete, transcriptPath(uid, tid), nil, nil)
	return err
}
