package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the file leaves a secret empty.
const (
	EnvMapsKey   = "GOOGLE_MAPS_API_KEY"
	EnvRemoteDSN = "ROAMGO_REMOTE_DSN"
)

// Config holds the application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log"`
	DB           DBConfig           `yaml:"db"`
	Server       ServerConfig       `yaml:"server"`
	Request      RequestConfig      `yaml:"request"`
	Maps         MapsConfig         `yaml:"maps"`
	Remote       RemoteConfig       `yaml:"remote"`
	Quota        QuotaConfig        `yaml:"quota"`
	Places       PlacesConfig       `yaml:"places"`
	Routes       RoutesConfig       `yaml:"routes"`
	Visited      VisitedConfig      `yaml:"visited"`
	Location     LocationConfig     `yaml:"location"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path" validate:"required"`
	Level string `yaml:"level" validate:"omitempty,oneof=TRACE DEBUG INFO WARN ERROR trace debug info warn error"`
}

// DBConfig holds local database settings.
type DBConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries" validate:"gte=0,lte=10"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// MapsConfig holds settings for the places and routing provider.
type MapsConfig struct {
	Key      string `yaml:"key"`
	BaseURL  string `yaml:"base_url" validate:"required,url"`
	Language string `yaml:"language"`
	// Breaker opens after this many consecutive provider failures.
	BreakerFailures uint32   `yaml:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  Duration `yaml:"breaker_timeout"`
}

// RemoteConfig holds settings for the shared document store.
// An empty DSN selects the in-process store.
type RemoteConfig struct {
	DSN        string `yaml:"dsn"`
	BatchLimit int    `yaml:"batch_limit" validate:"gte=1,lte=500"`
	MaxConns   int32  `yaml:"max_conns" validate:"gte=0"`
}

// QuotaConfig holds the daily ceiling for billable provider calls.
type QuotaConfig struct {
	DailyLimit int `yaml:"daily_limit" validate:"gte=1"`
	// Reserved is the minimum number of calls held back for each category.
	Reserved map[string]int `yaml:"reserved"`
}

// PlacesConfig holds nearby search and caching settings.
type PlacesConfig struct {
	SearchRadius       Distance `yaml:"search_radius" validate:"gt=0"`
	RecacheDistance    Distance `yaml:"recache_distance" validate:"gt=0"`
	TTL                Duration `yaml:"ttl"`
	DetailsTTL         Duration `yaml:"details_ttl"`
	DetailsRefreshAge  Duration `yaml:"details_refresh_age"`
	MaxResults         int      `yaml:"max_results" validate:"gte=1"`
	MaxPages           int      `yaml:"max_pages" validate:"gte=1,lte=3"`
	PageDelay          Duration `yaml:"page_delay"`
	MinScore           float64  `yaml:"min_score"`
	MemoryCapacity     int      `yaml:"memory_capacity" validate:"gte=1"`
	CleanupInterval    Duration `yaml:"cleanup_interval"`
	IncludedCategories []string `yaml:"included_categories" validate:"min=1"`
}

// RoutesConfig holds route caching settings.
type RoutesConfig struct {
	TTL              Duration `yaml:"ttl"`
	WalkingThreshold Distance `yaml:"walking_threshold" validate:"gt=0"`
	WalkingSpeedKmh  float64  `yaml:"walking_speed_kmh" validate:"gt=0"`
	DrivingSpeedKmh  float64  `yaml:"driving_speed_kmh" validate:"gt=0"`
}

// VisitedConfig holds visited-status settings.
type VisitedConfig struct {
	TTL        Duration `yaml:"ttl"`
	BatchSize  int      `yaml:"batch_size" validate:"gte=1"`
	RetryDelay Duration `yaml:"retry_delay"`
}

// LocationConfig holds refresh gating and history settings.
type LocationConfig struct {
	MinRefreshInterval Duration `yaml:"min_refresh_interval"`
	// MoveFraction is the share of the last result radius the user must
	// travel before nearby places are refreshed.
	MoveFraction   float64 `yaml:"move_fraction" validate:"gt=0,lte=1"`
	HistoryEnabled bool    `yaml:"history_enabled"`
	HistoryRes     int     `yaml:"history_resolution" validate:"gte=0,lte=15"`
	HeadingWindow  int     `yaml:"heading_window" validate:"gte=2"`
	// TickInterval is how often scheduled jobs are evaluated.
	TickInterval Duration `yaml:"tick_interval"`
}

// ConnectivityConfig holds the network probe settings.
type ConnectivityConfig struct {
	ProbeURL string   `yaml:"probe_url" validate:"required,url"`
	CacheFor Duration `yaml:"cache_for"`
	Timeout  Duration `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
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
			Path: "./data/roamgo.db",
		},
		Server: ServerConfig{
			Address: "localhost:1930",
		},
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Maps: MapsConfig{
			BaseURL:         "https://maps.googleapis.com/maps/api",
			Language:        "en",
			BreakerFailures: 5,
			BreakerTimeout:  Duration(60 * time.Second),
		},
		Remote: RemoteConfig{
			BatchLimit: 500,
			MaxConns:   4,
		},
		Quota: QuotaConfig{
			DailyLimit: 100,
			Reserved: map[string]int{
				"places":  20,
				"routing": 10,
			},
		},
		Places: PlacesConfig{
			SearchRadius:      Distance(1500),
			RecacheDistance:   Distance(500),
			TTL:               Duration(Day),
			DetailsTTL:        Duration(Week),
			DetailsRefreshAge: Duration(30 * Day),
			MaxResults:        20,
			MaxPages:          3,
			PageDelay:         Duration(2 * time.Second),
			MinScore:          20,
			MemoryCapacity:    50,
			CleanupInterval:   Duration(Day),
			IncludedCategories: []string{
				"tourist_attraction", "museum", "art_gallery", "park",
				"church", "place_of_worship", "historical_landmark",
				"zoo", "aquarium", "amusement_park",
			},
		},
		Routes: RoutesConfig{
			TTL:              Duration(Week),
			WalkingThreshold: Distance(2000),
			WalkingSpeedKmh:  5,
			DrivingSpeedKmh:  40,
		},
		Visited: VisitedConfig{
			TTL:        Duration(Week),
			BatchSize:  10,
			RetryDelay: Duration(5 * time.Second),
		},
		Location: LocationConfig{
			MinRefreshInterval: Duration(60 * time.Second),
			MoveFraction:       0.25,
			HistoryEnabled:     true,
			HistoryRes:         9,
			HeadingWindow:      5,
			TickInterval:       Duration(time.Second),
		},
		Connectivity: ConnectivityConfig{
			ProbeURL: "https://clients3.google.com/generate_204",
			CacheFor: Duration(15 * time.Second),
			Timeout:  Duration(3 * time.Second),
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// Secrets left empty in the file are taken from the environment, with a
// .env file next to the working directory loaded first if present.
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

	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills secrets from the environment without writing them to disk.
func applyEnv(cfg *Config) {
	if cfg.Maps.Key == "" {
		cfg.Maps.Key = os.Getenv(EnvMapsKey)
	}
	if cfg.Remote.DSN == "" {
		cfg.Remote.DSN = os.Getenv(EnvRemoteDSN)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var languageTag = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Maps.Language != "" && !languageTag.MatchString(cfg.Maps.Language) {
		return fmt.Errorf("invalid maps.language '%s': must be 'xx' or 'xx-YY'", cfg.Maps.Language)
	}
	if cfg.Places.RecacheDistance > cfg.Places.SearchRadius {
		return fmt.Errorf("places.recache_distance (%.0fm) must not exceed places.search_radius (%.0fm)",
			cfg.Places.RecacheDistance.Meters(), cfg.Places.SearchRadius.Meters())
	}
	if cfg.Routes.TTL.D() < cfg.Places.TTL.D() {
		return fmt.Errorf("routes.ttl must be at least places.ttl")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# RoamGo Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us, ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# Secrets may be left empty and supplied via GOOGLE_MAPS_API_KEY / ROAMGO_REMOTE_DSN.

`)
	data = append(header, data...)

	reDSN := regexp.MustCompile(`(?m)^(\s+)dsn:`)
	data = reDSN.ReplaceAll(data, []byte("${1}# Empty: in-process store (no sharing between devices)\n${1}dsn:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
