package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Data store backends.
const (
	DataStoreLocal = "local" // sqlite at <baseDir>/drip.db
	DataStoreREST  = "rest"  // PostgREST-compatible remote store
)

// Environment variables that override file configuration.
const (
	EnvAPIBaseURL   = "DRIP_API_BASE_URL"
	EnvDataStore    = "DRIP_DATA_STORE"
	EnvDataStoreURL = "DRIP_DATA_STORE_URL"
	EnvDataStoreKey = "DRIP_DATA_STORE_KEY"
	EnvLogLevel     = "DRIP_LOG_LEVEL"
)

// Config holds application configuration.
type Config struct {
	// APIBaseURL is the base URL of the rewrite and checkout API.
	APIBaseURL string `json:"api_base_url"`

	// DataStore selects where usage, plan and history live: "local" or "rest".
	DataStore string `json:"data_store"`

	// DataStoreURL is the base URL of the REST data store (required for "rest").
	DataStoreURL string `json:"data_store_url,omitempty"`

	// DataStoreKey is sent as both apikey and bearer token to the REST data store.
	DataStoreKey string `json:"data_store_key,omitempty"`

	// Tones is the set of tones accepted by the rewrite service.
	Tones []string `json:"tones,omitempty"`

	// PageSize is the number of emails per history page.
	PageSize int `json:"page_size"`

	// HistoryLimit caps how many emails are fetched for history. 0 fetches all.
	HistoryLimit int `json:"history_limit,omitempty"`

	// RequestTimeoutSeconds bounds every outbound HTTP request.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`

	// CopyResetMillis is how long a copied field stays marked as copied.
	CopyResetMillis int `json:"copy_reset_ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// LogFormat is text or json.
	LogFormat string `json:"log_format"`

	// AllowedPaths is an allowlist of directories exports may be written to.
	// Paths outside ~/.drip/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultTones is the tone set the rewrite service ships with.
var DefaultTones = []string{"Polite", "Funny", "Karen", "Direct"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:            "http://localhost:8080",
		DataStore:             DataStoreLocal,
		Tones:                 append([]string(nil), DefaultTones...),
		PageSize:              10,
		RequestTimeoutSeconds: 30,
		CopyResetMillis:       2000,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load loads configuration from baseDir/config.json, then applies environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.drip.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// ApplyEnv overrides configuration from environment variables.
// getenv is injected so tests don't touch the process environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIBaseURL)); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvDataStore)); v != "" {
		cfg.DataStore = v
	}
	if v := strings.TrimSpace(getenv(EnvDataStoreURL)); v != "" {
		cfg.DataStoreURL = v
	}
	if v := strings.TrimSpace(getenv(EnvDataStoreKey)); v != "" {
		cfg.DataStoreKey = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validateURL("api_base_url", c.APIBaseURL); err != nil {
		return err
	}

	switch c.DataStore {
	case DataStoreLocal:
	case DataStoreREST:
		if c.DataStoreURL == "" {
			return fmt.Errorf("data_store_url is required when data_store is %q", DataStoreREST)
		}
		if err := validateURL("data_store_url", c.DataStoreURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown data_store %q (want %q or %q)", c.DataStore, DataStoreLocal, DataStoreREST)
	}

	if len(c.Tones) == 0 {
		return fmt.Errorf("tones must not be empty")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be non-negative")
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, u.Scheme)
	}
	return nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except Tones, which the overlay replaces wholesale.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.APIBaseURL = firstString(overlay.APIBaseURL, base.APIBaseURL)
	result.DataStore = firstString(overlay.DataStore, base.DataStore)
	result.DataStoreURL = firstString(overlay.DataStoreURL, base.DataStoreURL)
	result.DataStoreKey = firstString(overlay.DataStoreKey, base.DataStoreKey)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = firstString(overlay.LogFormat, base.LogFormat)

	result.PageSize = firstInt(overlay.PageSize, base.PageSize)
	result.HistoryLimit = firstInt(overlay.HistoryLimit, base.HistoryLimit)
	result.RequestTimeoutSeconds = firstInt(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds)
	result.CopyResetMillis = firstInt(overlay.CopyResetMillis, base.CopyResetMillis)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// The tone set is a closed enum; merging two sets would silently widen it.
	tones := mergeStringSlice(nil, overlay.Tones)
	if tones == nil {
		tones = mergeStringSlice(nil, base.Tones)
	}
	result.Tones = tones

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
