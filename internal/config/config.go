// Package config loads depot configuration from a YAML file with
// environment variable overrides, mirroring how the rest of the process
// is wired together at startup.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the two listeners the depot owns: the HTTP
// content surface and the Drop RPC transport.
type ServerConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	DropListenAddr string `yaml:"drop_listen_addr"`
	DropServerURL  string `yaml:"drop_server_url"`
	WorkingDir     string `yaml:"working_directory"`
	ReaderThreads  int    `yaml:"reader_threads"`
}

// CacheConfig controls the context cache's TTL sweep.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HardwareConfig toggles platform-specific AES acceleration paths.
type HardwareConfig struct {
	EnableAESNI    bool `yaml:"enable_aesni"`
	EnableARMv8AES bool `yaml:"enable_armv8_aes"`
}

// KeyManagerConfig selects and configures the manifest-key wrapper.
type KeyManagerConfig struct {
	Provider string   `yaml:"provider"` // "none", "kmip", "local"
	KMIP     KMIPConfig `yaml:"kmip"`
	LocalKey string   `yaml:"local_key"` // base64-encoded 32-byte secretbox key
}

// KMIPConfig configures the ovh/kmip-go based KeyManager.
type KMIPConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	KeyID     string        `yaml:"key_id"`
	Version   int           `yaml:"version"`
	Timeout   time.Duration `yaml:"timeout"`
	TLSCAFile string        `yaml:"tls_ca_file"`
}

// AuditSinkConfig configures where audit events are written.
type AuditSinkConfig struct {
	Type          string            `yaml:"type"` // "stdout", "file", "http", "redis"
	FilePath      string            `yaml:"file_path"`
	Endpoint      string            `yaml:"endpoint"`
	Headers       map[string]string `yaml:"headers"`
	RedisAddr     string            `yaml:"redis_addr"`
	RedisKey      string            `yaml:"redis_key"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
	RetryCount    int               `yaml:"retry_count"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff"`
}

// AuditConfig wraps the audit logger's top-level knobs.
type AuditConfig struct {
	Enabled            bool            `yaml:"enabled"`
	MaxEvents          int             `yaml:"max_events"`
	RedactMetadataKeys []string        `yaml:"redact_metadata_keys"`
	Sink               AuditSinkConfig `yaml:"sink"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Exporter       string `yaml:"exporter"` // "stdout", "otlp", "jaeger", "none"
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// Config is the top-level process configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Cache      CacheConfig      `yaml:"cache"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	KeyManager KeyManagerConfig `yaml:"key_manager"`
	Audit      AuditConfig      `yaml:"audit"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// Default returns the configuration that matches the original depot's
// hardcoded defaults (§6 of the spec).
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:     "0.0.0.0:5000",
			DropListenAddr: "127.0.0.1:33148",
			DropServerURL:  "http://localhost:3000",
			ReaderThreads:  runtime.NumCPU() / 2,
		},
		Cache: CacheConfig{
			TTL:           600 * time.Second,
			SweepInterval: 60 * time.Second,
		},
		Hardware: HardwareConfig{
			EnableAESNI:    true,
			EnableARMv8AES: true,
		},
		KeyManager: KeyManagerConfig{
			Provider: "none",
		},
		Audit: AuditConfig{
			Enabled:   true,
			MaxEvents: 10_000,
			Sink:      AuditSinkConfig{Type: "stdout"},
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "torrential-depot",
		},
	}
}

// Load reads a YAML file (if path is non-empty and exists) layered on top
// of Default(), then applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.ReaderThreads <= 0 {
		cfg.Server.ReaderThreads = 1
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("DROP_SERVER_URL"); ok {
		cfg.Server.DropServerURL = v
	}
	if v, ok := os.LookupEnv("WORKING_DIRECTORY"); ok {
		cfg.Server.WorkingDir = v
	}
	if v, ok := os.LookupEnv("READER_THREADS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.ReaderThreads = n
		}
	}
	if v, ok := os.LookupEnv("DEPOT_LISTEN_ADDR"); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := os.LookupEnv("DROP_LISTEN_ADDR"); ok {
		cfg.Server.DropListenAddr = v
	}
}
