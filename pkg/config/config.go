package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "configs/bairros.yaml"

// Environment overrides, applied after the file.
const (
	EnvDatasetURL    = "BAIRROS_DATASET_URL"
	EnvDatasetPath   = "BAIRROS_DATASET_PATH"
	EnvServerAddress = "BAIRROS_SERVER_ADDRESS"
)

// Dataset sources.
const (
	SourceShapefile = "shapefile"
	SourceZip       = "zip"
	SourceGeoJSON   = "geojson"
	SourceURL       = "url"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Resolver ResolverConfig `yaml:"resolver"`
	Request  RequestConfig  `yaml:"request"`
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	History  HistoryConfig  `yaml:"history"`
	Map      MapConfig      `yaml:"map"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address  string `yaml:"address"`
	MaxConns int    `yaml:"max_conns"` // 0 disables the listener cap
}

// DatasetConfig describes where the neighborhood polygons come from.
type DatasetConfig struct {
	Source    string   `yaml:"source"`
	Path      string   `yaml:"path"`
	URL       string   `yaml:"url"`
	Layer     string   `yaml:"layer"` // shapefile base name inside an archive
	NameField string   `yaml:"name_field"`
	SourceCRS string   `yaml:"source_crs"` // e.g. EPSG:31982; empty reads the .prj
	Encoding  string   `yaml:"encoding"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// ResolverConfig holds lookup settings.
type ResolverConfig struct {
	Index       bool     `yaml:"index"`
	CellSizeDeg float64  `yaml:"cell_size_deg"`
	NearestMax  Distance `yaml:"nearest_max"` // misses closer than this report the nearest neighborhood
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig controls query history and the heatmap.
type HistoryConfig struct {
	Enabled      bool     `yaml:"enabled"`
	H3Resolution int      `yaml:"h3_resolution"`
	Limit        int      `yaml:"limit"`
	Retention    Duration `yaml:"retention"` // 0 keeps history forever
}

// MapConfig holds the map view settings.
type MapConfig struct {
	CenterLat float64     `yaml:"center_lat"`
	CenterLon float64     `yaml:"center_lon"`
	ZoomHit   int         `yaml:"zoom_hit"`
	ZoomMiss  int         `yaml:"zoom_miss"`
	Matched   StyleConfig `yaml:"matched"`
	Unmatched StyleConfig `yaml:"unmatched"`
	Base      string      `yaml:"base"` // tile URL template
}

// StyleConfig is the polygon style of one layer.
type StyleConfig struct {
	Fill        string  `yaml:"fill"`
	Stroke      string  `yaml:"stroke"`
	FillOpacity float64 `yaml:"fill_opacity"`
	Weight      int     `yaml:"weight"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:  "localhost:8501",
			MaxConns: 256,
		},
		Dataset: DatasetConfig{
			Source:    SourceShapefile,
			Path:      "./data/DIVISA_DE_BAIRROS.shp",
			NameField: "NOME",
			Encoding:  "windows-1252",
			CacheTTL:  Duration(30 * Day),
		},
		Resolver: ResolverConfig{
			Index:       true,
			CellSizeDeg: 0.01,
			NearestMax:  Distance(2000),
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(120 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/bairros.db",
		},
		History: HistoryConfig{
			Enabled:      true,
			H3Resolution: 8,
			Limit:        100,
			Retention:    Duration(90 * Day),
		},
		Map: MapConfig{
			CenterLat: -25.4284,
			CenterLon: -49.2772,
			ZoomHit:   14,
			ZoomMiss:  12,
			Matched: StyleConfig{
				Fill:        "#ff0000",
				Stroke:      "#ff0000",
				FillOpacity: 0.5,
				Weight:      2,
			},
			Unmatched: StyleConfig{
				Fill:        "#cccccc",
				Stroke:      "#666666",
				FillOpacity: 0.2,
				Weight:      1,
			},
			Base: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges it over the defaults without writing back, so user comments survive.
// Environment overrides are applied last and never persisted.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	cfg.applyEnv()
	cfg.DB.Path = os.ExpandEnv(cfg.DB.Path)
	cfg.Dataset.Path = os.ExpandEnv(cfg.Dataset.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if u := os.Getenv(EnvDatasetURL); u != "" {
		c.Dataset.URL = u
		c.Dataset.Source = SourceURL
	}
	if p := os.Getenv(EnvDatasetPath); p != "" {
		c.Dataset.Path = p
	}
	if a := os.Getenv(EnvServerAddress); a != "" {
		c.Server.Address = a
	}
}

var reHexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Validate checks the values Load cannot fix up by merging defaults.
func (c *Config) Validate() error {
	var errs []error
	switch c.Dataset.Source {
	case SourceShapefile, SourceZip, SourceGeoJSON:
		if c.Dataset.Path == "" {
			errs = append(errs, fmt.Errorf("dataset.path is required for source %q", c.Dataset.Source))
		}
	case SourceURL:
		if c.Dataset.URL == "" {
			errs = append(errs, errors.New("dataset.url is required for source \"url\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dataset.source %q (options: shapefile, zip, geojson, url)", c.Dataset.Source))
	}
	if c.Dataset.NameField == "" {
		errs = append(errs, errors.New("dataset.name_field must not be empty"))
	}
	if c.Resolver.Index && !(c.Resolver.CellSizeDeg > 0) {
		errs = append(errs, fmt.Errorf("resolver.cell_size_deg must be positive, got %v", c.Resolver.CellSizeDeg))
	}
	if c.History.H3Resolution < 0 || c.History.H3Resolution > 15 {
		errs = append(errs, fmt.Errorf("history.h3_resolution must be within 0..15, got %d", c.History.H3Resolution))
	}
	if math.Abs(c.Map.CenterLat) > 90 || math.Abs(c.Map.CenterLon) > 180 {
		errs = append(errs, fmt.Errorf("map center %v,%v is out of range", c.Map.CenterLat, c.Map.CenterLon))
	}
	styles := []struct {
		name string
		s    StyleConfig
	}{{"matched", c.Map.Matched}, {"unmatched", c.Map.Unmatched}}
	for _, style := range styles {
		name, s := style.name, style.s
		if !reHexColor.MatchString(s.Fill) || !reHexColor.MatchString(s.Stroke) {
			errs = append(errs, fmt.Errorf("map.%s colours must be #rgb or #rrggbb", name))
		}
		if s.FillOpacity < 0 || s.FillOpacity > 1 {
			errs = append(errs, fmt.Errorf("map.%s.fill_opacity must be within 0..1", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Bairros Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# Environment overrides: BAIRROS_DATASET_URL, BAIRROS_DATASET_PATH, BAIRROS_SERVER_ADDRESS

`)
	data = append(header, data...)

	// Inject comments for enum-like fields.
	reSource := regexp.MustCompile(`(?m)^(\s+)source:`)
	data = reSource.ReplaceAll(data, []byte("${1}# Options: shapefile, zip, geojson, url\n${1}source:"))

	reCRS := regexp.MustCompile(`(?m)^(\s+)source_crs:`)
	data = reCRS.ReplaceAll(data, []byte("${1}# EPSG code (e.g. EPSG:31982); empty reads the .prj\n${1}source_crs:"))

	reRes := regexp.MustCompile(`(?m)^(\s+)h3_resolution:`)
	data = reRes.ReplaceAll(data, []byte("${1}# 0 (continent) .. 15 (square meter)\n${1}h3_resolution:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
