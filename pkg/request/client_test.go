package request

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bairrosgo/pkg/cache"
	"bairrosgo/pkg/db"
	"bairrosgo/pkg/store"
	"bairrosgo/pkg/tracker"
)

func testConfig() ClientConfig {
	return ClientConfig{Retries: 3, Timeout: 5 * time.Second, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
}

func newSQLiteCache(t *testing.T) cache.Cacher {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "client_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return cache.NewSQLiteCache(store.NewSQLiteStore(d, 8), 0)
}

// fetch downloads u into memory.
func fetch(ctx context.Context, client *Client, u string, opts DownloadOptions) (string, error) {
	var buf bytes.Buffer
	_, err := client.Download(ctx, u, &buf, opts)
	return buf.String(), err
}

func TestDownload_Sequential(t *testing.T) {
	// Requests to one provider must never overlap.
	var conc, maxConc int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)
		for {
			m := atomic.LoadInt32(&maxConc)
			if current <= m || atomic.CompareAndSwapInt32(&maxConc, m, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	client := New(newSQLiteCache(t), tracker.New(), testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fetch(context.Background(), client, svr.URL, DownloadOptions{}); err != nil {
				t.Errorf("Download failed: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConc), "requests to one provider must be sequential")
}

func TestDownload_Retry(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	client := New(newSQLiteCache(t), tracker.New(), testConfig())

	body, err := fetch(context.Background(), client, svr.URL, DownloadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "success", body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDownload_MaxRetries(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer svr.Close()

	client := New(nil, nil, testConfig())
	_, err := fetch(context.Background(), client, svr.URL, DownloadOptions{})
	assert.ErrorIs(t, err, ErrMaxRetries)
}

func TestDownload_StatusError(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(nil, tr, testConfig())
	_, err := fetch(context.Background(), client, svr.URL+"/missing.zip", DownloadOptions{CacheKey: "dataset:missing"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	provider := normalizeProvider(strings.TrimPrefix(svr.URL, "http://"))
	assert.Equal(t, int64(1), tr.Snapshot()[provider].APIFailures)

	_, hit := client.cache.GetCache(context.Background(), "dataset:missing")
	assert.False(t, hit, "failed downloads are not cached")
}

func TestDownload_Cache(t *testing.T) {
	var hits int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("payload"))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(newSQLiteCache(t), tr, testConfig())
	ctx := context.Background()
	opts := DownloadOptions{CacheKey: "dataset:test"}

	for i := 0; i < 2; i++ {
		body, err := fetch(ctx, client, svr.URL, opts)
		require.NoError(t, err)
		assert.Equal(t, "payload", body)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second call must be served from cache")

	provider := normalizeProvider(strings.TrimPrefix(svr.URL, "http://"))
	stats := tr.Snapshot()[provider]
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)

	opts.Refresh = true
	_, err := fetch(ctx, client, svr.URL, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "refresh bypasses the cache")
	assert.Equal(t, int64(2), tr.Snapshot()[provider].CacheMisses)
}

func TestDownload_CacheHitReportsProgress(t *testing.T) {
	c := newSQLiteCache(t)
	require.NoError(t, c.SetCache(context.Background(), "dataset:cached", []byte("cached body")))
	client := New(c, nil, testConfig())

	var done, total int64
	body, err := fetch(context.Background(), client, "http://unreachable.invalid/a.zip", DownloadOptions{
		CacheKey: "dataset:cached",
		Progress: func(d, n int64) { done, total = d, n },
	})
	require.NoError(t, err)
	assert.Equal(t, "cached body", body)
	assert.Equal(t, int64(len("cached body")), done)
	assert.Equal(t, done, total)
}

func TestDownload_ValidateRejectsBeforeCaching(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer svr.Close()

	errHTML := errors.New("html page")
	client := New(newSQLiteCache(t), nil, testConfig())
	_, err := fetch(context.Background(), client, svr.URL, DownloadOptions{
		CacheKey: "dataset:html",
		Validate: func(body []byte) error {
			if bytes.HasPrefix(body, []byte("<html")) {
				return errHTML
			}
			return nil
		},
	})
	assert.ErrorIs(t, err, errHTML)

	_, hit := client.cache.GetCache(context.Background(), "dataset:html")
	assert.False(t, hit)
}

func TestDownload_Progress(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64*1024)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer svr.Close()

	client := New(nil, nil, testConfig())

	var buf bytes.Buffer
	var last, total int64
	n, err := client.Download(context.Background(), svr.URL, &buf, DownloadOptions{Progress: func(done, tot int64) {
		last, total = done, tot
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.Bytes())
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, int64(len(payload)), total)
}

func TestDownload_InvalidURL(t *testing.T) {
	client := New(nil, nil, testConfig())
	_, err := client.Download(context.Background(), "not a url", &bytes.Buffer{}, DownloadOptions{})
	assert.Error(t, err)
}

func TestDownload_ContextCancelled(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer svr.Close()

	client := New(nil, nil, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := fetch(ctx, client, svr.URL, DownloadOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
