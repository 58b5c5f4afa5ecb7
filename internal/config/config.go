// Package config handles TOML configuration loading, validation, and hot reload.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/nephrogo-edge/config.toml",
	"configs/config.toml",
}

// defaultGzipTypes is the compressible MIME allow-list applied when gzip.types
// is not set: text, JSON, XML, JavaScript, SVG, and common web font types.
var defaultGzipTypes = []string{
	"text/plain",
	"text/css",
	"text/xml",
	"text/javascript",
	"application/json",
	"application/javascript",
	"application/x-javascript",
	"application/xml",
	"application/rss+xml",
	"application/atom+xml",
	"application/vnd.ms-fontobject",
	"application/x-font-ttf",
	"font/opentype",
	"image/svg+xml",
	"image/x-icon",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream string `kong:"help='Upstream base URL (overrides config).',env='UPSTREAM_URL'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Edge     EdgeConfig     `toml:"edge"`
	Upstream UpstreamConfig `toml:"upstream"`
	Static   StaticConfig   `toml:"static"`
	Gzip     GzipConfig     `toml:"gzip"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Watch    WatchConfig    `toml:"watch"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (80); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// EdgeConfig holds the virtual-host allow-list.
type EdgeConfig struct {
	Domains []string `toml:"domains"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// StaticConfig holds static/media serving settings.
type StaticConfig struct {
	Root               string `toml:"root"`
	CacheMaxAgeSeconds int    `toml:"cache_max_age_seconds"`
}

// GzipConfig controls response compression.
type GzipConfig struct {
	Enabled   *bool    `toml:"enabled"`    // nil means "use default" (on)
	Level     int      `toml:"level"`      // 0 means "use default" (5)
	MinLength int      `toml:"min_length"` // 0 means "use default" (256)
	Types     []string `toml:"types"`
}

// On reports whether compression is enabled. Compression is on unless the
// config sets enabled = false; an omitted [gzip] table keeps it on.
func (c *GzipConfig) On() bool {
	return c.Enabled == nil || *c.Enabled
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// WatchConfig controls hot reload of the config file.
type WatchConfig struct {
	Enabled bool `toml:"enabled"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/nephrogo-edge/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}
	return LoadFile(path, cli)
}

// LoadFile reads a specific TOML config file and applies CLI overrides.
// The watcher uses this to re-read the same file on change.
func LoadFile(path string, cli *CLI) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli == nil {
		return
	}
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.BaseURL = cli.Upstream
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// The host gate is the whole point of the edge: refuse to start open.
	if len(c.Edge.Domains) == 0 {
		return fmt.Errorf("edge.domains must list at least one domain")
	}
	for _, d := range c.Edge.Domains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("edge.domains contains an empty entry")
		}
		if strings.Contains(d, "/") {
			return fmt.Errorf("edge.domains entry %q must be a bare hostname, not a URL", d)
		}
	}

	// Upstream URL: must parse and use http or https when set.
	if c.Upstream.BaseURL != "" {
		u, err := url.Parse(c.Upstream.BaseURL)
		if err != nil {
			return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
		}
		if u.Host == "" {
			return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Static.CacheMaxAgeSeconds < 0 {
		return fmt.Errorf("static.cache_max_age_seconds must be non-negative; got %d", c.Static.CacheMaxAgeSeconds)
	}
	if c.Gzip.Level < 0 || c.Gzip.Level > 9 {
		return fmt.Errorf("gzip.level must be 0–9; got %d", c.Gzip.Level)
	}
	if c.Gzip.MinLength < 0 {
		return fmt.Errorf("gzip.min_length must be non-negative; got %d", c.Gzip.MinLength)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/static", "/media", "/healthz", "/edge/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, MinLength, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0
// in the config file therefore results in the default port (80).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 80
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://127.0.0.1:8080"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Static.Root == "" {
		c.Static.Root = "/srv/nephrogo-api"
	}
	if c.Static.CacheMaxAgeSeconds == 0 {
		c.Static.CacheMaxAgeSeconds = 14 * 24 * 60 * 60 // 14 days
	}
	if c.Gzip.Level == 0 {
		c.Gzip.Level = 5
	}
	if c.Gzip.MinLength == 0 {
		c.Gzip.MinLength = 256
	}
	if len(c.Gzip.Types) == 0 {
		c.Gzip.Types = defaultGzipTypes
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MatchesHost reports whether the given Host header value names a configured
// domain. The comparison is case-insensitive and ignores any port suffix.
func (c *EdgeConfig) MatchesHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	for _, d := range c.Domains {
		if host == strings.ToLower(d) {
			return true
		}
	}
	return false
}

// MaxAge returns the static cache lifetime as a Duration.
func (c *StaticConfig) MaxAge() time.Duration {
	return time.Duration(c.CacheMaxAgeSeconds) * time.Second
}

// Compressible reports whether the given Content-Type is on the gzip
// allow-list. Media-type parameters (charset) are ignored.
func (c *GzipConfig) Compressible(contentType string) bool {
	if i := strings.Index(contentType, ";"); i != -1 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, t := range c.Types {
		if contentType == t {
			return true
		}
	}
	return false
}

// FilePath returns the resolved config file path.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
