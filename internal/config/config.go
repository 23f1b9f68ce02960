// Package config assembles the proxy's configuration: sensible defaults,
// an optional YAML file, and the command line's flag/positional grammar,
// applied in that order so later sources override earlier ones.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the complete proxy configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	Dial      DialConfig      `yaml:"dial" json:"dial"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
}

// ServerConfig controls the raw TCP proxy listener.
type ServerConfig struct {
	Port         int           `yaml:"port" json:"port" default:"8080"`
	MaxClients   int           `yaml:"maxClients" json:"maxClients" default:"1000"`
	ReadTimeout  time.Duration `yaml:"readTimeout" json:"readTimeout" default:"30s"`
	WriteTimeout time.Duration `yaml:"writeTimeout" json:"writeTimeout" default:"30s"`
}

// CacheConfig controls the registry's byte budget and on-disk mirror
// directory.
type CacheConfig struct {
	MaxSizeMB int    `yaml:"maxSizeMB" json:"maxSizeMB" default:"100"`
	Dir       string `yaml:"dir" json:"dir" default:"./cache"`
}

// MaxSizeBytes returns the configured byte budget.
func (c CacheConfig) MaxSizeBytes() int64 { return int64(c.MaxSizeMB) * 1024 * 1024 }

// RateLimitConfig controls the shared token-bucket limiter.
type RateLimitConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled" default:"true"`
	Capacity   int  `yaml:"capacity" json:"capacity" default:"100"`
	RefillRate int  `yaml:"refillRate" json:"refillRate" default:"10"`
}

// DialConfig selects the algorithm used to pick among an origin's
// resolved addresses.
type DialConfig struct {
	Algorithm string `yaml:"algorithm" json:"algorithm" default:"round-robin"`
}

// AdminConfig controls the secondary HTTP surface exposing metrics and a
// health check.
type AdminConfig struct {
	Port       int    `yaml:"port" json:"port" default:"9090"`
	HealthPath string `yaml:"healthPath" json:"healthPath" default:"/healthz"`
}

// TracingConfig controls OpenTelemetry tracing and exporter selection.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled" default:"false"`
	ServiceName    string  `yaml:"serviceName" json:"serviceName" default:"cacheproxy"`
	ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion" default:"1.0.0"`
	Environment    string  `yaml:"environment" json:"environment" default:"development"`
	JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio" default:"0.1"`
}

// DefaultConfig returns the baseline configuration, matching spec.md §6's
// stated defaults (port 8080, max clients/backlog 1000).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			MaxClients:   1000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			MaxSizeMB: 100,
			Dir:       "./cache",
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			Capacity:   100,
			RefillRate: 10,
		},
		Dial: DialConfig{
			Algorithm: "round-robin",
		},
		Admin: AdminConfig{
			Port:       9090,
			HealthPath: "/healthz",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "cacheproxy",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SamplingRatio:  0.1,
		},
	}
}

// GetInstance returns the process-wide config singleton, initializing it
// to defaults on first use if LoadConfig hasn't run yet.
func GetInstance() *Config {
	once.Do(func() {
		instance = DefaultConfig()
	})
	return instance
}

// LoadConfig reads path as YAML over top of the defaults and installs the
// result as the singleton. It is a no-op on the singleton if called more
// than once in a process, matching the teacher's sync.Once contract.
func LoadConfig(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		return nil, err
	}

	once.Do(func() {
		instance = cfg
	})
	return instance, nil
}

func loadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
