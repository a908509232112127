package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bairrosgo/pkg/cache"
	"bairrosgo/pkg/tracker"
	"bairrosgo/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("bairrosgo/%s (neighborhood resolver)", version.Version)

// ErrMaxRetries is returned when every attempt hit a retryable failure.
var ErrMaxRetries = errors.New("max retries exceeded")

// StatusError is a non-retryable HTTP error response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d for %s", e.StatusCode, e.URL)
}

// ProgressFunc receives the bytes written so far and the expected total (-1 when unknown).
type ProgressFunc func(done, total int64)

// ClientConfig holds retry and timeout settings.
type ClientConfig struct {
	Retries   int
	Timeout   time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultClientConfig mirrors the request section defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Retries:   3,
		Timeout:   120 * time.Second,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
	}
}

// Client downloads with per-provider queuing, a response cache and usage tracking.
type Client struct {
	httpClient *http.Client
	cache      cache.Cacher
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	cfg        ClientConfig

	// Queues per provider (host)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	dst      io.Writer
	progress ProgressFunc
	respChan chan jobResult
}

type jobResult struct {
	written int64
	err     error
}

// New creates a new Client.
func New(c cache.Cacher, t *tracker.Tracker, cfg ClientConfig) *Client {
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if c == nil {
		c = cache.Nop{}
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:        cfg,
		queues:     make(map[string]chan job),
	}
}

// Tracker exposes the usage statistics.
func (c *Client) Tracker() *tracker.Tracker {
	return c.tracker
}

// Backoff exposes the per-provider backoff state.
func (c *Client) Backoff() *ProviderBackoff {
	return c.backoff
}

// DownloadOptions tune a Download.
type DownloadOptions struct {
	// CacheKey enables the response cache. Empty downloads straight from the network.
	CacheKey string
	// Refresh skips the cache lookup; a completed download still replaces the entry.
	Refresh bool
	// Validate must accept the full body before it is cached.
	Validate func(body []byte) error
	Progress ProgressFunc
}

// Download streams a GET response into w, reporting progress as bytes arrive. With a cache
// key, a fresh cached body is written instead of hitting the network.
// Retries happen only before the first body byte is written.
func (c *Client) Download(ctx context.Context, u string, w io.Writer, opts DownloadOptions) (int64, error) {
	provider, err := providerOf(u)
	if err != nil {
		return 0, err
	}

	if opts.CacheKey != "" {
		if !opts.Refresh {
			if val, hit := c.cache.GetCache(ctx, opts.CacheKey); hit {
				c.tracker.TrackCacheHit(provider)
				slog.Debug("Cache Hit", "provider", provider, "key", opts.CacheKey)
				n, err := w.Write(val)
				if opts.Progress != nil {
					opts.Progress(int64(n), int64(len(val)))
				}
				return int64(n), err
			}
		}
		c.tracker.TrackCacheMiss(provider)
		slog.Debug("Cache Miss", "provider", provider, "key", opts.CacheKey, "refresh", opts.Refresh)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	dst := w
	var body bytes.Buffer
	if opts.CacheKey != "" {
		dst = io.MultiWriter(w, &body)
	}
	res := c.submit(ctx, provider, job{req: req, dst: dst, progress: opts.Progress})
	if res.err != nil || opts.CacheKey == "" {
		return res.written, res.err
	}

	if opts.Validate != nil {
		if err := opts.Validate(body.Bytes()); err != nil {
			return res.written, err
		}
	}
	if err := c.cache.SetCache(ctx, opts.CacheKey, body.Bytes()); err != nil {
		slog.Error("Failed to cache response", "url", u, "error", err)
	}
	return res.written, nil
}

func providerOf(u string) (string, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("invalid url: %q has no host", u)
	}
	return normalizeProvider(parsedURL.Host), nil
}

func (c *Client) submit(ctx context.Context, provider string, j job) jobResult {
	j.respChan = make(chan jobResult, 1)
	c.dispatch(provider, j)

	select {
	case <-ctx.Done():
		return jobResult{err: ctx.Err()}
	case res := <-j.respChan:
		return res
	}
}

// normalizeProvider groups hosts that share a rate limit.
func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com") ||
		strings.HasSuffix(host, ".githubusercontent.com"):
		return "github"
	case strings.HasSuffix(host, ".prefeitura.sp.gov.br"):
		return "geosampa"
	case strings.HasSuffix(host, ".curitiba.pr.gov.br"):
		return "ippuc"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller.
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}
		if err := c.backoff.Wait(ctx, provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		j.req.Header.Set("User-Agent", defaultUserAgent)

		start := time.Now()
		res := c.executeWithBackoff(j)
		c.tracker.TrackLatency(provider, time.Since(start))

		if res.err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.backoff.RecordSuccess(provider)
		} else {
			c.tracker.TrackAPIFailure(provider)
			var se *StatusError
			if !errors.As(res.err, &se) {
				c.backoff.RecordFailure(provider)
			}
		}

		j.respChan <- res

		// Small gap between requests to the same provider
		time.Sleep(100 * time.Millisecond)
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(j job) jobResult {
	req := j.req
	baseDelay := c.cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	sleep := func(attempt int) error {
		d := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
		select {
		case <-time.After(d):
			return nil
		case <-req.Context().Done():
			return req.Context().Err()
		}
	}

	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if req.Context().Err() != nil {
			return jobResult{err: req.Context().Err()}
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return jobResult{err: req.Context().Err()}
			}
			slog.Warn("Request failed, retrying", "url", req.URL, "attempt", attempt+1, "error", err)
			if err := sleep(attempt); err != nil {
				return jobResult{err: err}
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			resp.Body.Close()
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			if err := sleep(attempt); err != nil {
				return jobResult{err: err}
			}
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return jobResult{err: &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}}
		}

		n, err := io.Copy(j.dst, &progressReader{r: resp.Body, total: resp.ContentLength, fn: j.progress})
		resp.Body.Close()
		if err != nil {
			return jobResult{written: n, err: fmt.Errorf("download interrupted: %w", err)}
		}
		return jobResult{written: n}
	}

	return jobResult{err: ErrMaxRetries}
}

type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.done, p.total)
	}
	return n, err
}
