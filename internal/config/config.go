// Package config handles configuration loading and validation.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"edge-proxy-go/internal/route"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/edge-proxy/config.toml",
	"configs/config.toml",
	"config.json",
}

// reservedPaths are served by the proxy itself and cannot be route prefixes.
var reservedPaths = []string{"/healthz", "/proxy/status"}

// EnvProduction disables the development introspection endpoint.
const EnvProduction = "production"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to config file (.toml, .yaml, .yml or .json).',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Env      string `kong:"help='Deployment environment; production hides the config dump on /.',env='APP_ENV,NODE_ENV',default='development'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server         ServerConfig         `toml:"server" yaml:"server" json:"server"`
	Upstream       UpstreamConfig       `toml:"upstream" yaml:"upstream" json:"upstream"`
	Routes         []RouteConfig        `toml:"routes" yaml:"routes" json:"routes"`
	Targets        []RouteConfig        `toml:"targets" yaml:"targets" json:"targets"` // legacy name for routes
	Log            LogConfig            `toml:"log" yaml:"log" json:"log"`
	Metrics        MetricsConfig        `toml:"metrics" yaml:"metrics" json:"metrics"`
	Tracing        TracingConfig        `toml:"tracing" yaml:"tracing" json:"tracing"`
	CircuitBreaker CircuitBreakerConfig `toml:"circuit_breaker" yaml:"circuit_breaker" json:"circuit_breaker"`

	Env string `toml:"-" yaml:"-" json:"-"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host" yaml:"host" json:"host"`
	Port         int    `toml:"port" yaml:"port" json:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes" yaml:"body_max_bytes" json:"body_max_bytes"`
}

// UpstreamConfig holds backend connection settings shared by all routes.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"` // 0 means no overall timeout
	IdleConnections int `toml:"idle_connections" yaml:"idle_connections" json:"idle_connections"`
}

// RouteConfig is one route entry: requests under Path go to URL with Headers added.
type RouteConfig struct {
	Path    string            `toml:"path" yaml:"path" json:"path"`
	URL     string            `toml:"url" yaml:"url" json:"url"`
	Headers map[string]string `toml:"headers" yaml:"headers" json:"headers,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `toml:"path" yaml:"path" json:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `toml:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint     string  `toml:"endpoint" yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `toml:"sampling_rate" yaml:"sampling_rate" json:"sampling_rate"`
	ServiceName  string  `toml:"service_name" yaml:"service_name" json:"service_name"`
}

// CircuitBreakerConfig holds per-route circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool `toml:"enabled" yaml:"enabled" json:"enabled"`
	FailureThreshold int  `toml:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
	OpenSeconds      int  `toml:"open_seconds" yaml:"open_seconds" json:"open_seconds"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/edge-proxy/config.toml, configs/config.toml, then config.json.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := unmarshal(path, data, &cfg); err != nil {
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

// unmarshal decodes data by file extension. Unknown keys are ignored in
// every format.
func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(cfg); err != nil {
			return err
		}
		if dec.More() {
			return fmt.Errorf("unexpected data after the top-level object")
		}
		return nil
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	c.Env = cli.Env
}

func (c *Config) validate() error {
	routes := c.AllRoutes()
	if len(routes) == 0 {
		return fmt.Errorf("at least one entry in routes is required")
	}

	// The route table is built again at startup; building it here rejects
	// a bad file before anything else is wired.
	table, err := route.Build(c.RouteSpecs())
	if err != nil {
		return err
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
	if c.CircuitBreaker.FailureThreshold < 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be non-negative; got %d", c.CircuitBreaker.FailureThreshold)
	}
	if c.CircuitBreaker.OpenSeconds < 0 {
		return fmt.Errorf("circuit_breaker.open_seconds must be non-negative; got %d", c.CircuitBreaker.OpenSeconds)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0, 1]; got %v", c.Tracing.SamplingRate)
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

	reserved := append([]string{}, reservedPaths...)

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p == "" {
			p = "/metrics"
		}
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, r := range reservedPaths {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
		reserved = append(reserved, p)
	}

	// Route prefixes must not shadow the proxy's own endpoints.
	for _, prefix := range table.Prefixes() {
		for _, r := range reserved {
			if prefix == r || strings.HasPrefix(r, prefix+"/") || strings.HasPrefix(prefix, r+"/") {
				return fmt.Errorf("route %q conflicts with reserved route %q", prefix, r)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because
// the file formats cannot distinguish an explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
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
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "edge-proxy"
	}
	if c.Tracing.Enabled && c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.OpenSeconds == 0 {
		c.CircuitBreaker.OpenSeconds = 30
	}
	if c.Env == "" {
		c.Env = "development"
	}
}

// AllRoutes returns routes followed by legacy targets, in file order.
func (c *Config) AllRoutes() []RouteConfig {
	out := make([]RouteConfig, 0, len(c.Routes)+len(c.Targets))
	out = append(out, c.Routes...)
	return append(out, c.Targets...)
}

// RouteSpecs converts the configured routes into route table input.
func (c *Config) RouteSpecs() []route.Spec {
	routes := c.AllRoutes()
	specs := make([]route.Spec, len(routes))
	for i, r := range routes {
		specs[i] = route.Spec{Path: r.Path, URL: r.URL, Headers: r.Headers}
	}
	return specs
}

// Production reports whether the proxy runs in the production environment.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, EnvProduction)
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

// WarnPermissions logs a warning if the config file is readable by group or
// others. Static route headers often carry backend credentials.
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
