package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port              string        `yaml:"port" envconfig:"PORT"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address derived from Port.
func (s ServerConfig) Addr() string {
	if strings.Contains(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

// Duration is a time.Duration that also accepts a bare number of seconds,
// so CACHE_TTL=3600 and CACHE_TTL=1h are the same setting.
type Duration time.Duration

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := parseDuration(value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.Decode(raw)
}

func parseDuration(value string) (Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return Duration(time.Duration(secs) * time.Second), nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: want seconds or a Go duration", value)
	}
	return Duration(parsed), nil
}

// CacheConfig holds backing store settings. An empty URL disables caching.
type CacheConfig struct {
	URL        string        `yaml:"url" envconfig:"REDIS_URL"`
	DefaultTTL Duration      `yaml:"default_ttl" envconfig:"CACHE_TTL"`
	OpTimeout  Duration      `yaml:"op_timeout" envconfig:"CACHE_OP_TIMEOUT"`
	PoolSize   int           `yaml:"pool_size" envconfig:"CACHE_POOL_SIZE"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker in front of the store.
// A zero ErrorPct disables the breaker.
type BreakerConfig struct {
	ErrorPct       float64       `yaml:"error_pct" envconfig:"CACHE_BREAKER_ERROR_PCT"`
	MinRequests    int           `yaml:"min_requests" envconfig:"CACHE_BREAKER_MIN_REQUESTS"`
	WindowDuration time.Duration `yaml:"window" envconfig:"CACHE_BREAKER_WINDOW"`
	OpenDuration   time.Duration `yaml:"open_duration" envconfig:"CACHE_BREAKER_OPEN"`
}

// CORSConfig holds the referer allow-list
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"CORS"`
}

// DataConfig locates the datasets served by the providers
type DataConfig struct {
	ListingRoot string   `yaml:"listing_root" envconfig:"FTP_PATH"`
	DataPath    string   `yaml:"data_path" envconfig:"DATA_PATH"`
	ResultsFile string   `yaml:"results_file" envconfig:"RESULTS_FILE"`
	SearchFile  string   `yaml:"search_file" envconfig:"SEARCH_FILE"`
	S3          S3Config `yaml:"s3"`
}

// S3Config tunes the client used when the listing root is an s3:// URL.
// Empty fields fall back to the AWS default credential and region chain.
type S3Config struct {
	Region       string `yaml:"region" envconfig:"S3_REGION"`
	Endpoint     string `yaml:"endpoint" envconfig:"S3_ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" envconfig:"S3_PATH_STYLE"`
	AccessKey    string `yaml:"access_key" envconfig:"S3_ACCESS_KEY"`
	SecretKey    string `yaml:"secret_key" envconfig:"S3_SECRET_KEY"`
}

// RateLimitConfig throttles API clients per address. Buckets live in Redis
// when the cache store is Redis, in memory otherwise.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies" envconfig:"RATE_LIMIT_TRUSTED_PROXIES"`
}

// LogConfig holds operational logger settings
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" envconfig:"OTEL_ENABLED"`
	Exporter    string  `yaml:"exporter" envconfig:"OTEL_EXPORTER"`
	Endpoint    string  `yaml:"endpoint" envconfig:"OTEL_ENDPOINT"`
	ServiceName string  `yaml:"service_name" envconfig:"OTEL_SERVICE_NAME"`
	SampleRate  float64 `yaml:"sample_rate" envconfig:"OTEL_SAMPLE_RATE"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Namespace string `yaml:"namespace" envconfig:"METRICS_NAMESPACE"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Data      DataConfig      `yaml:"data"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "3333",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL: Duration(time.Hour),
			OpTimeout:  Duration(2 * time.Second),
			PoolSize:   10,
			Breaker: BreakerConfig{
				ErrorPct:       50,
				MinRequests:    5,
				WindowDuration: 30 * time.Second,
				OpenDuration:   10 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Data: DataConfig{
			ResultsFile: "results.json",
			SearchFile:  "search.json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "plebiscito",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Namespace: "plebiscito",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
// Variables that are not set leave the current value untouched.
func LoadFromEnv(cfg *Config) error {
	for _, section := range []any{
		&cfg.Server,
		&cfg.Cache,
		&cfg.CORS,
		&cfg.RateLimit,
		&cfg.Data,
		&cfg.Log,
		&cfg.Tracing,
		&cfg.Metrics,
	} {
		if err := envconfig.Process("", section); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
	}
	cfg.CORS.AllowedOrigins = normalizeList(cfg.CORS.AllowedOrigins)
	cfg.RateLimit.TrustedProxies = normalizeList(cfg.RateLimit.TrustedProxies)
	return nil
}

// Load builds the effective configuration: defaults, then the optional YAML
// file, then the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache default TTL must be positive, got %s", c.Cache.DefaultTTL)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests per second must be positive, got %v", c.RateLimit.RequestsPerSecond)
	}
	if c.Cache.OpTimeout < 0 {
		return fmt.Errorf("cache op timeout must not be negative, got %s", c.Cache.OpTimeout)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
