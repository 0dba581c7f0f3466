// Package authority talks to the application API that owns the pending
// deletion bookkeeping: it lists uploads marked for removal and receives the
// outcome of each cleanup cycle.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/closeness/sweeper/internal/config"
	"github.com/closeness/sweeper/internal/models"
)

const (
	pendingPath = "/api/internal/cleanup/pending"
	confirmPath = "/api/internal/cleanup/confirm"

	// APIKeyHeader carries the shared cleanup credential.
	APIKeyHeader = "X-Cleanup-API-Key"

	maxErrBody = 4096
)

// ErrMalformedResponse is returned when a 2xx listing body cannot be used as a batch.
var ErrMalformedResponse = errors.New("authority: malformed response")

// StatusError is returned when the authority answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("authority: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client is an HTTP client for the authority's internal cleanup endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client from config.
func NewClient(cfg config.AuthorityConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Files is a pointer so a missing or null "files" key is told apart from an
// empty batch.
type pendingResponse struct {
	Files *[]models.PendingFile `json:"files"`
}

// ListPending returns the current batch of files marked for deletion, in the
// order the authority returned them.
func (c *Client) ListPending(ctx context.Context) ([]models.PendingFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pendingPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("authority: list pending: new request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authority: list pending: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("list pending", resp); err != nil {
		return nil, err
	}

	var out pendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: list pending: decode: %w", ErrMalformedResponse, err)
	}
	if out.Files == nil {
		return nil, fmt.Errorf("%w: list pending: body has no files array", ErrMalformedResponse)
	}
	return *out.Files, nil
}

// ConfirmOutcome reports which ids were deleted and which failed.
func (c *Client) ConfirmOutcome(ctx context.Context, outcome models.Outcome) error {
	if outcome.DeletedIDs == nil {
		outcome.DeletedIDs = []string{}
	}
	if outcome.FailedIDs == nil {
		outcome.FailedIDs = []string{}
	}
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("authority: confirm: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+confirmPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("authority: confirm: new request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authority: confirm: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	defer io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrBody))

	return checkStatus("confirm", resp)
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
