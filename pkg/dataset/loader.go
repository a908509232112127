package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"bairrosgo/pkg/config"
	"bairrosgo/pkg/geo"
	"bairrosgo/pkg/request"
)

// Source produces the ordered polygon records of a dataset.
type Source interface {
	Load(ctx context.Context) ([]geo.Record, error)
	Describe() string
}

// Loader reads the dataset described by the dataset config section.
type Loader struct {
	cfg        config.DatasetConfig
	downloader Downloader
	refresh    bool
}

// NewLoader creates a Loader. The downloader is required for the url source only.
func NewLoader(cfg config.DatasetConfig, d Downloader) *Loader {
	return &Loader{cfg: cfg, downloader: d}
}

// Refreshing returns a copy that ignores cached downloads.
func (l *Loader) Refreshing() *Loader {
	cp := *l
	cp.refresh = true
	return &cp
}

func (l *Loader) options() ShapefileOptions {
	return ShapefileOptions{
		NameField: l.cfg.NameField,
		SourceCRS: l.cfg.SourceCRS,
		Encoding:  l.cfg.Encoding,
	}
}

// Describe names the source for status output and logs.
func (l *Loader) Describe() string {
	switch l.cfg.Source {
	case config.SourceURL:
		return "url:" + l.cfg.URL
	case "":
		return config.SourceShapefile + ":" + l.cfg.Path
	}
	return l.cfg.Source + ":" + l.cfg.Path
}

// CacheKey is the download cache entry of a url source, empty otherwise.
func (l *Loader) CacheKey() string {
	if l.cfg.Source != config.SourceURL {
		return ""
	}
	u, err := NormalizeURL(l.cfg.URL)
	if err != nil {
		return ""
	}
	return CacheKey(u)
}

// Load reads and reprojects the dataset.
func (l *Loader) Load(ctx context.Context) ([]geo.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch l.cfg.Source {
	case config.SourceShapefile, "":
		if strings.EqualFold(filepath.Ext(l.cfg.Path), ".zip") {
			return ReadZipFile(l.cfg.Path, l.cfg.Layer, l.options())
		}
		return ReadShapefile(l.cfg.Path, l.options())
	case config.SourceZip:
		return ReadZipFile(l.cfg.Path, l.cfg.Layer, l.options())
	case config.SourceGeoJSON:
		return ReadGeoJSONFile(l.cfg.Path, l.cfg.NameField, l.cfg.SourceCRS)
	case config.SourceURL:
		data, err := l.Fetch(ctx, nil)
		if err != nil {
			return nil, err
		}
		return l.decode(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, l.cfg.Source)
}

// Fetch downloads the remote dataset (or reads it from cache) without decoding it.
func (l *Loader) Fetch(ctx context.Context, progress request.ProgressFunc) ([]byte, error) {
	if l.cfg.Source != config.SourceURL {
		return nil, fmt.Errorf("%w: source %q has nothing to fetch", ErrUnsupportedSource, l.cfg.Source)
	}
	if l.downloader == nil {
		return nil, fmt.Errorf("%w: no downloader configured", ErrUnsupportedSource)
	}
	return Fetch(ctx, l.downloader, l.cfg.URL, l.refresh, progress)
}

func (l *Loader) decode(data []byte) ([]geo.Record, error) {
	format, err := DetectFormat(data)
	if err != nil {
		return nil, err
	}
	if format == FormatGeoJSON {
		return ReadGeoJSON(data, l.cfg.NameField, l.cfg.SourceCRS)
	}
	return ReadZip(data, l.cfg.Layer, l.options())
}
