package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/closeness/sweeper/internal/config"
)

const defaultSupabaseBucket = "uploads"

// SupabaseStore deletes objects through the Supabase Storage REST API.
type SupabaseStore struct {
	baseURL    string
	bucket     string
	key        string
	httpClient *http.Client
}

// NewSupabaseStore creates a SupabaseStore for the configured project and bucket.
func NewSupabaseStore(cfg config.SupabaseConfig, timeout time.Duration) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("storage: supabase url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("storage: parse supabase url: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultSupabaseBucket
	}
	return &SupabaseStore{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		bucket:     bucket,
		key:        cfg.Key,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (s *SupabaseStore) Provider() string { return "supabase" }

// DeleteObject issues DELETE /storage/v1/object/<bucket>/<key>.
// 404 maps to ErrObjectNotFound; 429 to *RateLimitError.
func (s *SupabaseStore) DeleteObject(ctx context.Context, key string) error {
	key, err := objectKey(key)
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), escapeKey(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("storage: supabase new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: supabase delete: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrObjectNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Provider:   s.Provider(),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("storage: supabase delete: HTTP %d: %s", resp.StatusCode, body)
	}
}

// escapeKey escapes each path segment but keeps the separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
