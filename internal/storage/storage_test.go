package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/closeness/sweeper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_DeleteObject(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024-05-01"), 0o755))
	objPath := filepath.Join(root, "2024-05-01", "a.pdf")
	require.NoError(t, os.WriteFile(objPath, []byte("%PDF-1.7"), 0o644))

	store, err := NewFSStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.DeleteObject(ctx, "2024-05-01/a.pdf"))
	_, err = os.Stat(objPath)
	assert.True(t, os.IsNotExist(err), "object must be gone")

	// A second delete finds nothing.
	err = store.DeleteObject(ctx, "2024-05-01/a.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "uploads")
	require.NoError(t, os.Mkdir(root, 0o755))
	outside := filepath.Join(parent, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	store, err := NewFSStore(root)
	require.NoError(t, err)

	for _, key := range []string{"../secret.txt", "", "dir/", "a/../../secret.txt"} {
		err := store.DeleteObject(context.Background(), key)
		require.Error(t, err, "key %q", key)
		assert.NotErrorIs(t, err, ErrObjectNotFound, "key %q", key)
	}
	_, err = os.Stat(outside)
	assert.NoError(t, err, "file outside root must survive")
}

func TestObjectKey(t *testing.T) {
	for _, key := range []string{"a//b", "./x", "dir/", "/lead", "user-1/2024 05/a.pdf"} {
		got, err := objectKey(key)
		require.NoError(t, err, "key %q", key)
		assert.Equal(t, key, got)
	}
	for _, key := range []string{"", "   ", "../x", "a/../../b", "a/..", "a\x00b"} {
		_, err := objectKey(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestNewFSStore_MissingRoot(t *testing.T) {
	_, err := NewFSStore(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestSupabaseStore_DeleteObject(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{name: "deleted", status: http.StatusOK, check: func(t *testing.T, err error) { assert.NoError(t, err) }},
		{name: "no content", status: http.StatusNoContent, check: func(t *testing.T, err error) { assert.NoError(t, err) }},
		{name: "not found", status: http.StatusNotFound, check: func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrObjectNotFound)
		}},
		{name: "rate limited", status: http.StatusTooManyRequests, retryAfter: "7", check: func(t *testing.T, err error) {
			var rl *RateLimitError
			require.ErrorAs(t, err, &rl)
			assert.Equal(t, 7*time.Second, rl.RetryAfter)
			assert.Equal(t, "supabase", rl.Provider)
		}},
		{name: "server error", status: http.StatusInternalServerError, check: func(t *testing.T, err error) {
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrObjectNotFound)
			assert.Contains(t, err.Error(), "HTTP 500")
		}},
		{name: "unauthorized", status: http.StatusUnauthorized, check: func(t *testing.T, err error) {
			require.Error(t, err)
			assert.Contains(t, err.Error(), "HTTP 401")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/storage/v1/object/uploads/2024-05-01/file%20one.pdf", r.URL.EscapedPath())
				assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
				assert.Equal(t, "service-key", r.Header.Get("apikey"))
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			store, err := NewSupabaseStore(config.SupabaseConfig{URL: server.URL + "/", Key: "service-key"}, 5*time.Second)
			require.NoError(t, err)

			tt.check(t, store.DeleteObject(context.Background(), "2024-05-01/file one.pdf"))
		})
	}
}

func TestSupabaseStore_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	store, err := NewSupabaseStore(config.SupabaseConfig{URL: url, Key: "k"}, time.Second)
	require.NoError(t, err)

	err = store.DeleteObject(context.Background(), "a.pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)
}

type fakeS3 struct {
	err  error
	keys []string
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.keys = append(f.keys, *in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_DeleteObject(t *testing.T) {
	ctx := context.Background()

	ok := &fakeS3{}
	require.NoError(t, NewS3StoreWithClient(ok, "uploads").DeleteObject(ctx, "2024/a.pdf"))
	assert.Equal(t, []string{"2024/a.pdf"}, ok.keys)

	// Keys S3 accepts verbatim are sent verbatim.
	raw := &fakeS3{}
	store := NewS3StoreWithClient(raw, "uploads")
	for _, key := range []string{"a//b", "./x", "dir/"} {
		require.NoError(t, store.DeleteObject(ctx, key))
	}
	assert.Equal(t, []string{"a//b", "./x", "dir/"}, raw.keys)

	missing := &fakeS3{err: &smithy.GenericAPIError{Code: "NoSuchKey", Message: "gone"}}
	assert.ErrorIs(t, NewS3StoreWithClient(missing, "uploads").DeleteObject(ctx, "a.pdf"), ErrObjectNotFound)

	denied := &fakeS3{err: &smithy.GenericAPIError{Code: "AccessDenied"}}
	err := NewS3StoreWithClient(denied, "uploads").DeleteObject(ctx, "a.pdf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)

	transport := &fakeS3{err: errors.New("connection reset")}
	err = NewS3StoreWithClient(transport, "uploads").DeleteObject(ctx, "a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

type stubDeleter struct {
	name string
	err  error
}

func (s stubDeleter) DeleteObject(context.Context, string) error { return s.err }
func (s stubDeleter) Provider() string                           { return s.name }

func TestMultiStore_DeleteObject(t *testing.T) {
	ctx := context.Background()
	ok := stubDeleter{name: "a"}
	absent := stubDeleter{name: "b", err: ErrObjectNotFound}
	broken := stubDeleter{name: "c", err: errors.New("boom")}

	assert.NoError(t, NewMultiStore(ok, absent).DeleteObject(ctx, "k"))
	assert.ErrorIs(t, NewMultiStore(absent, absent).DeleteObject(ctx, "k"), ErrObjectNotFound)

	err := NewMultiStore(ok, broken, absent).DeleteObject(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)
	assert.Contains(t, err.Error(), "c: boom")

	assert.Error(t, NewMultiStore().DeleteObject(ctx, "k"))
	assert.Equal(t, "a+b", NewMultiStore(ok, absent).Provider())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, defaultRetryAfter, ParseRetryAfter("", now))
	assert.Equal(t, 12*time.Second, ParseRetryAfter("12", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(time.RFC1123), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(time.RFC1123), now))
	assert.Equal(t, defaultRetryAfter, ParseRetryAfter("soon", now))
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{
		Storage:  config.StorageConfig{Backends: []string{config.BackendFS}, FSRoot: root},
		Supabase: config.SupabaseConfig{URL: "https://project.supabase.co", Key: "k"},
	}

	d, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "filesystem", d.Provider())

	cfg.Storage.Backends = []string{config.BackendSupabase, config.BackendFS}
	d, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "supabase+filesystem", d.Provider())

	cfg.Storage.Backends = []string{"ftp"}
	_, err = Open(context.Background(), cfg)
	require.Error(t, err)
}
