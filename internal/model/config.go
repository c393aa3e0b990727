package model

import (
	"runtime"
	"time"
)

// Config holds the complete specwarden configuration
type Config struct {
	Manifest    ManifestConfig    `yaml:"manifest" mapstructure:"manifest"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Domain      DomainConfig      `yaml:"domain" mapstructure:"domain"`
	Health      HealthConfig      `yaml:"health" mapstructure:"health"`
	Run         RunConfig         `yaml:"run" mapstructure:"run"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
}

// ManifestConfig locates the document manifest
type ManifestConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// FetchConfig controls document retrieval
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"` // per document
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy" mapstructure:"no_proxy"`

	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"` // per host
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// ConcurrencyConfig bounds the per-document worker pools
type ConcurrencyConfig struct {
	FetchWorkers int `yaml:"fetch_workers" mapstructure:"fetch_workers"`
	ParseWorkers int `yaml:"parse_workers" mapstructure:"parse_workers"`
}

// CacheConfig controls the conditional-fetch cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// DomainConfig holds the insurance-domain naming conventions
type DomainConfig struct {
	InsurancePrefix    string   `yaml:"insurance_prefix" mapstructure:"insurance_prefix"`
	SpecialFiles       []string `yaml:"special_files" mapstructure:"special_files"`
	InlineSchemas      []string `yaml:"inline_schemas" mapstructure:"inline_schemas"`
	CorrelationAffixes []string `yaml:"correlation_affixes" mapstructure:"correlation_affixes"`
}

// HealthConfig controls the health state machine
type HealthConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// RunConfig controls run timing and the periodic trigger
type RunConfig struct {
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	FullInterval     time.Duration `yaml:"full_interval" mapstructure:"full_interval"`
	CriticalInterval time.Duration `yaml:"critical_interval" mapstructure:"critical_interval"`
}

// StoreConfig locates the record store
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}

	return &Config{
		Manifest: ManifestConfig{
			Path: "manifest.yaml",
		},
		Fetch: FetchConfig{
			Timeout:           30 * time.Second,
			UserAgent:         "specwarden/0.1 (+https://github.com/ppiankov/specwarden)",
			MaxBodyBytes:      10_000_000,
			RespectRobots:     true,
			RequestsPerSecond: 5,
			BurstSize:         5,
		},
		Concurrency: ConcurrencyConfig{
			FetchWorkers: workers,
			ParseWorkers: workers,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       ".specwarden/cache",
			MemoryTTL: 1 * time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Domain: DomainConfig{
			InsurancePrefix:    "insurance-",
			SpecialFiles:       []string{"person.yaml", "resources_v2.yaml"},
			InlineSchemas:      []string{"AmountDetails"},
			CorrelationAffixes: []string{"Response", "Request", "Data", "Base", "List"},
		},
		Health: HealthConfig{
			FailureThreshold: 3,
		},
		Run: RunConfig{
			Timeout:          15 * time.Minute,
			FullInterval:     24 * time.Hour,
			CriticalInterval: 6 * time.Hour,
		},
		Store: StoreConfig{
			Path: ".specwarden/specwarden.db",
		},
	}
}
