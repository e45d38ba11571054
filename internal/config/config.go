// Package config loads and defaults the node fabric's TOML
// configuration, one sub-struct per component, mirroring the
// transport/breaker/auth/cache/balancer/merger/router/discovery/
// forwarder surface named in spec §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level fabric configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Transport TransportConfig `toml:"transport"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Auth      AuthConfig      `toml:"auth"`
	Cache     CacheConfig     `toml:"cache"`
	Balancer  BalancerConfig  `toml:"balancer"`
	Merger    MergerConfig    `toml:"merger"`
	Router    RouterConfig    `toml:"router"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Forwarder ForwarderConfig `toml:"forwarder"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this node within the fleet.
type NodeConfig struct {
	Slug    string `toml:"slug"`
	Name    string `toml:"name"`
	Type    string `toml:"type"` // "master" | "child"
	Version string `toml:"version"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TransportConfig controls outbound HTTP calls to peers.
type TransportConfig struct {
	RequestTimeoutSeconds int  `toml:"request_timeout_seconds"`
	VerifySSL             bool `toml:"verify_ssl"`
}

// BreakerConfig mirrors internal/breaker.Config.
type BreakerConfig struct {
	FailureThreshold   int `toml:"failure_threshold"`
	SuccessThreshold   int `toml:"success_threshold"`
	RetryTimeoutSeconds int `toml:"retry_timeout_seconds"`
}

// AuthConfig controls JWT issuance and verification.
type AuthConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	JWTTTLSeconds int    `toml:"jwt_ttl_seconds"`
	RefreshTTLSeconds int `toml:"refresh_ttl_seconds"`
	Issuer        string `toml:"issuer"`
	Audience      string `toml:"audience"`
	Algorithm     string `toml:"algorithm"`
}

// CacheConfig controls the two-tier federated search cache.
type CacheConfig struct {
	Enabled              bool   `toml:"enabled"`
	DefaultTTLSeconds    int    `toml:"default_ttl_seconds"`
	UseDurable           bool   `toml:"use_durable"`
	UseTags              bool   `toml:"use_tags"`
	FlushAllOnInvalidate bool   `toml:"flush_all_on_invalidate"`
	Prefix               string `toml:"prefix"`
}

// BalancerConfig selects the load-balancer strategy.
type BalancerConfig struct {
	Strategy string `toml:"strategy"`
	MaxNodes int    `toml:"max_nodes"`
}

// MergerConfig selects the result-merge strategy.
type MergerConfig struct {
	Strategy      string `toml:"strategy"`
	Deduplication bool   `toml:"deduplication"`
}

// RouterConfig controls routing fallback thresholds and digest mode.
type RouterConfig struct {
	MinKeywordScore       int    `toml:"min_keyword_score"`
	DigestMode            string `toml:"digest_mode"`
	DigestCacheTTLMinutes int    `toml:"digest_cache_ttl_minutes"`
	RoutingModel          string `toml:"routing_model"`
}

// DiscoveryConfig controls local metadata caching.
type DiscoveryConfig struct {
	LocalMetadataCacheTTLMinutes int `toml:"local_metadata_cache_ttl_minutes"`
}

// ForwarderConfig controls retry/backoff.
type ForwarderConfig struct {
	MaxRetries    int `toml:"max_retries"`
	BackoffBaseMs int `toml:"backoff_base_ms"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig holds telemetry settings. Neither field is read by
// the daemon: /metrics is always served by the API server, on the API
// port.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// Default returns the fabric's default configuration, matching the
// constants spec §6 names per component.
func Default() Config {
	home := fabricHome()
	return Config{
		Node: NodeConfig{Type: "child", Version: "dev"},
		API: APIConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Transport: TransportConfig{RequestTimeoutSeconds: 30, VerifySSL: true},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			RetryTimeoutSeconds: 30,
		},
		Auth: AuthConfig{
			JWTTTLSeconds:     3600,
			RefreshTTLSeconds: 86400,
			Algorithm:         "HS256",
		},
		Cache: CacheConfig{
			Enabled:           true,
			DefaultTTLSeconds: 900,
		},
		Balancer: BalancerConfig{Strategy: "response_time"},
		Merger:   MergerConfig{Strategy: "score", Deduplication: true},
		Router: RouterConfig{
			MinKeywordScore:       10,
			DigestMode:            "template",
			DigestCacheTTLMinutes: 60,
		},
		Discovery: DiscoveryConfig{LocalMetadataCacheTTLMinutes: 30},
		Forwarder: ForwarderConfig{MaxRetries: 1, BackoffBaseMs: 200},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "fabric.log"),
		},
		Telemetry: TelemetryConfig{Enabled: true, Port: 9090},
	}
}

// Load reads path into the default configuration, leaving defaults in
// place for any key the file omits. A missing file is not an error —
// the caller gets the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func fabricHome() string {
	if env := os.Getenv("FABRIC_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nodefabric")
}
