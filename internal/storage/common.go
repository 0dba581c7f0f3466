package storage

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

const defaultRetryAfter = 30 * time.Second

// RateLimitError is returned when a provider responds with HTTP 429.
// It is still a failed delete; RetryAfter only feeds logs.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("storage: %s rate limited (retry after %v)", e.Provider, e.RetryAfter)
}

// ParseRetryAfter parses the Retry-After header.
// It supports both seconds (integer) and HTTP date format.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

// objectKey checks a key for the remote providers. S3 and Supabase keys are
// opaque strings, so "a//b", "./x" and "dir/" pass through untouched; only
// empty keys, NUL bytes and ".." segments are refused.
func objectKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("storage: empty key")
	}
	if strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("storage: invalid key %q", key)
		}
	}
	return key, nil
}

// fsKey is the strict form used for local paths: the key must already be
// clean and must name a file below the root.
func fsKey(key string) (string, error) {
	key, err := objectKey(key)
	if err != nil {
		return "", err
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return cleaned, nil
}
