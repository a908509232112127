package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"bairrosgo/pkg/request"
)

// Downloader streams a URL through the response cache. *request.Client implements it.
type Downloader interface {
	Download(ctx context.Context, u string, w io.Writer, opts request.DownloadOptions) (int64, error)
}

// Format is the detected payload type of a download.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatGeoJSON
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatGeoJSON:
		return "geojson"
	}
	return "unknown"
}

// NormalizeURL rewrites GitHub page links to their raw download form:
// github.com/{owner}/{repo}/blob/{ref}/{path} becomes raw.githubusercontent.com/{owner}/{repo}/{ref}/{path}.
// Other URLs are returned unchanged.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid url: %v", ErrUnsupportedSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: url scheme %q", ErrUnsupportedSource, u.Scheme)
	}
	if !strings.EqualFold(u.Host, "github.com") && !strings.EqualFold(u.Host, "www.github.com") {
		return u.String(), nil
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 5 || (parts[2] != "blob" && parts[2] != "raw") {
		return u.String(), nil
	}
	out := url.URL{
		Scheme: "https",
		Host:   "raw.githubusercontent.com",
		Path:   "/" + strings.Join(append(parts[:2:2], parts[3:]...), "/"),
	}
	return out.String(), nil
}

// DetectFormat sniffs a payload. HTML pages (a GitHub page instead of the file, a login
// wall) are rejected with ErrUnsupportedSource.
func DetectFormat(data []byte) (Format, error) {
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return FormatZip, nil
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatGeoJSON, nil
	}
	head := strings.ToLower(string(trimmed[:min(len(trimmed), 512)]))
	if strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") {
		if title := htmlTitle(trimmed); title != "" {
			return FormatUnknown, fmt.Errorf("%w: server returned an HTML page (%q), not a dataset", ErrUnsupportedSource, title)
		}
		return FormatUnknown, fmt.Errorf("%w: server returned an HTML page, not a dataset", ErrUnsupportedSource)
	}
	return FormatUnknown, fmt.Errorf("%w: unrecognised payload", ErrUnsupportedSource)
}

// htmlTitle returns the text of the first <title> element.
func htmlTitle(data []byte) string {
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != atom.Title {
				continue
			}
			if z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}
			return ""
		}
	}
}

// CacheKey is the response cache key of a normalized dataset URL.
func CacheKey(u string) string {
	return "dataset:" + u
}

// Fetch downloads a dataset URL. The downloader serves a fresh cached copy unless refresh
// is set, and caches only payloads DetectFormat accepts.
func Fetch(ctx context.Context, d Downloader, rawURL string, refresh bool, progress request.ProgressFunc) ([]byte, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	slog.Debug("Fetching dataset", "url", u, "refresh", refresh)
	var buf bytes.Buffer
	n, err := d.Download(ctx, u, &buf, request.DownloadOptions{
		CacheKey: CacheKey(u),
		Refresh:  refresh,
		Validate: validPayload,
		Progress: progress,
	})
	if errors.Is(err, ErrUnsupportedSource) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download dataset: %w", err)
	}
	data := buf.Bytes()
	if err := validPayload(data); err != nil {
		return nil, err
	}
	slog.Info("Dataset fetched", "url", u, "bytes", n)
	return data, nil
}

func validPayload(data []byte) error {
	_, err := DetectFormat(data)
	return err
}
