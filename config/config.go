package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scraper   ScraperConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	Fetch     FetchConfig
	Optimizer OptimizerConfig
	Settings  SettingsConfig
}

// FetchConfig controls the multi-engine racing dispatcher.
type FetchConfig struct {
	// EnableMultiEngine toggles the multi-engine dispatcher for pages that
	// do not need captured geometry.
	EnableMultiEngine bool // default: true

	// EscalationDelays is the staged start delay for each engine tier.
	EscalationDelays []time.Duration // default: [0s, 2s, 5s]

	// HTTPTimeout is the deadline for the pure HTTP engine.
	HTTPTimeout time.Duration // default: 5s

	// DomainMemoryTTL is how long a winning engine is remembered per host.
	DomainMemoryTTL time.Duration // default: 24h
}

// OptimizerConfig tunes the per-page optimization engine.
type OptimizerConfig struct {
	// IdleTimeout bounds how long a coalesced batch may wait for idle time.
	IdleTimeout time.Duration // default: 1s

	// PrefetchIdleTimeout bounds the wait before a prefetch hint is injected.
	PrefetchIdleTimeout time.Duration // default: 2s

	// LoadDelay is the simulated time between interactive and complete when
	// replaying a captured page.
	LoadDelay time.Duration // default: 150ms

	// ViewportWidth and ViewportHeight size the layout when no geometry was
	// captured.
	ViewportWidth  int // default: 1440
	ViewportHeight int // default: 900
}

// SettingsConfig controls where optimization settings live.
type SettingsConfig struct {
	// Path is a YAML settings file. Empty keeps settings in memory.
	Path string

	// Watch pushes file edits to running engines.
	Watch bool // default: true

	// Debounce collapses bursts of file events.
	Debounce time.Duration // default: 200ms
}

// CacheConfig controls the optimize response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 10

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// ScraperConfig controls page capture.
type ScraperConfig struct {
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout time.Duration // default: 30s

	// MaxTimeout is the maximum allowed timeout from the client.
	MaxTimeout time.Duration // default: 120s

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 15s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("PAGELIFT_HOST", "0.0.0.0"),
			Port: envIntOr("PAGELIFT_PORT", 8080),
			Mode: envOr("PAGELIFT_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("PAGELIFT_HEADLESS", true),
			MaxPages:     envIntOr("PAGELIFT_MAX_PAGES", 10),
			DefaultProxy: os.Getenv("PAGELIFT_PROXY"),
			NoSandbox:    envBoolOr("PAGELIFT_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("PAGELIFT_BROWSER_BIN"),
		},
		Scraper: ScraperConfig{
			DefaultTimeout:    envDurationOr("PAGELIFT_DEFAULT_TIMEOUT", 30*time.Second),
			MaxTimeout:        envDurationOr("PAGELIFT_MAX_TIMEOUT", 120*time.Second),
			NavigationTimeout: envDurationOr("PAGELIFT_NAV_TIMEOUT", 15*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PAGELIFT_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PAGELIFT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PAGELIFT_RATE_RPS", 5.0),
			Burst:             envIntOr("PAGELIFT_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("PAGELIFT_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("PAGELIFT_LOG_LEVEL", "info"),
			Format: envOr("PAGELIFT_LOG_FORMAT", "json"),
		},
		Fetch: FetchConfig{
			EnableMultiEngine: envBoolOr("PAGELIFT_MULTI_ENGINE", true),
			EscalationDelays:  envDurationSliceOr("PAGELIFT_ESCALATION_DELAYS", []time.Duration{0, 2 * time.Second, 5 * time.Second}),
			HTTPTimeout:       envDurationOr("PAGELIFT_HTTP_TIMEOUT", 5*time.Second),
			DomainMemoryTTL:   envDurationOr("PAGELIFT_DOMAIN_MEMORY_TTL", 24*time.Hour),
		},
		Optimizer: OptimizerConfig{
			IdleTimeout:         envDurationOr("PAGELIFT_IDLE_TIMEOUT", time.Second),
			PrefetchIdleTimeout: envDurationOr("PAGELIFT_PREFETCH_IDLE_TIMEOUT", 2*time.Second),
			LoadDelay:           envDurationOr("PAGELIFT_LOAD_DELAY", 150*time.Millisecond),
			ViewportWidth:       envIntOr("PAGELIFT_VIEWPORT_WIDTH", 1440),
			ViewportHeight:      envIntOr("PAGELIFT_VIEWPORT_HEIGHT", 900),
		},
		Settings: SettingsConfig{
			Path:     os.Getenv("PAGELIFT_SETTINGS_FILE"),
			Watch:    envBoolOr("PAGELIFT_SETTINGS_WATCH", true),
			Debounce: envDurationOr("PAGELIFT_SETTINGS_DEBOUNCE", 200*time.Millisecond),
		},
	}
}

func envDurationSliceOr(key string, fallback []time.Duration) []time.Duration {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]time.Duration, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				if d, err := time.ParseDuration(trimmed); err == nil {
					result = append(result, d)
				}
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
