// Package config provides the configuration structure for the csm-api service.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Environment variables honored as overrides after the TOML file is loaded.
// These preserve the contract the serverless platform injects at runtime.
const (
	EnvModelName  = "MODEL_NAME"
	EnvPort       = "PORT"
	EnvDevice     = "DEVICE"
	EnvAPIKey     = "API_KEY"
	EnvRunpodKey  = "RUNPOD_API_KEY"
	EnvHubToken   = "HF_TOKEN"
	EnvHubTokenHF = "HUGGINGFACEHUB_API_TOKEN"
	EnvCacheDir   = "CACHE_DIR"
)

// Default values applied when neither the TOML file nor the environment
// provides a setting.
const (
	defaultModelName      = "saishah/sesame-csm-1b"
	defaultHubURL         = "https://huggingface.co"
	defaultDevice         = "cpu"
	defaultPort           = 8000
	defaultTimeoutSeconds = 120
	defaultMaxTextLength  = 500
	defaultTemperature    = 0.7
	defaultSampleRate     = 22050
	defaultMaxBodyBytes   = 1 << 20
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
}

// ModelConfig holds the model hub and inference settings.
type ModelConfig struct {
	Name            string  `toml:"name"`
	HubURL          string  `toml:"hub_url"`
	HubToken        string  `toml:"hub_token"`
	CacheDir        string  `toml:"cache_dir"`
	Device          string  `toml:"device"`
	LibraryPath     string  `toml:"onnx_library_path"`
	MaxTextLength   int     `toml:"max_text_length"`
	Temperature     float64 `toml:"temperature"`
	FallbackRate    int     `toml:"fallback_sample_rate"`
	OutputRate      int     `toml:"output_sample_rate"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	DownloadSeconds int     `toml:"download_timeout_seconds"`
}

// AuthConfig holds the optional shared-secret settings.
type AuthConfig struct {
	APIKey string `toml:"api_key"`
}

// NATSConfig holds the optional pipeline worker settings.
type NATSConfig struct {
	Enabled                  bool   `toml:"enabled"`
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Model  ModelConfig  `toml:"model"`
	Auth   AuthConfig   `toml:"auth"`
	NATS   NATSConfig   `toml:"nats"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the csm-api service, applies environment
// overrides, and fills in defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyEnvOverrides layers the serverless platform's environment contract on
// top of whatever the TOML file provided. Environment wins over file.
func (c *Config) ApplyEnvOverrides() {
	if name := os.Getenv(EnvModelName); name != "" {
		c.Model.Name = name
	}

	if port := os.Getenv(EnvPort); port != "" {
		parsed, err := strconv.Atoi(port)
		if err == nil && parsed > 0 {
			c.Server.Port = parsed
		}
	}

	if device := os.Getenv(EnvDevice); device != "" {
		c.Model.Device = device
	}

	if key := firstNonEmptyEnv(EnvAPIKey, EnvRunpodKey); key != "" {
		c.Auth.APIKey = key
	}

	if token := firstNonEmptyEnv(EnvHubToken, EnvHubTokenHF); token != "" {
		c.Model.HubToken = token
	}

	if cacheDir := os.Getenv(EnvCacheDir); cacheDir != "" {
		c.Model.CacheDir = cacheDir
	}
}

// ApplyDefaults fills zero-valued settings with the service defaults.
func (c *Config) ApplyDefaults() {
	if c.Model.Name == "" {
		c.Model.Name = defaultModelName
	}

	if c.Model.HubURL == "" {
		c.Model.HubURL = defaultHubURL
	}

	if c.Model.Device == "" {
		c.Model.Device = defaultDevice
	}

	if c.Model.MaxTextLength == 0 {
		c.Model.MaxTextLength = defaultMaxTextLength
	}

	if c.Model.Temperature == 0 {
		c.Model.Temperature = defaultTemperature
	}

	if c.Model.FallbackRate == 0 {
		c.Model.FallbackRate = defaultSampleRate
	}

	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}

	if c.Server.TimeoutSeconds == 0 {
		c.Server.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func firstNonEmptyEnv(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}

	return ""
}
