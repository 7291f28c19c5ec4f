package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Capability CapabilityConfig `json:"capability"`
	Providers  []ProviderConfig `json:"providers"`
	Database   DatabaseConfig   `json:"database"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Gateway    GatewayConfig    `json:"gateway"`
	Crew       CrewConfig       `json:"crew"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

type ServerConfig struct {
	Port      int    `json:"port"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	UploadDir string `json:"upload_dir"`
}

// CapabilityConfig picks the text generator shared by every worker.
// Type "keyword" needs no provider; "chat" routes through Providers.
type CapabilityConfig struct {
	Type      string   `json:"type"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	System    string   `json:"system"`
	Fallbacks []string `json:"fallbacks"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"` // "openai" or "anthropic"
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Model    string            `json:"model"`
	Timeout  string            `json:"timeout"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type DatabaseConfig struct {
	// Recorder is a SQLite file path or a postgres:// URL.
	Recorder string       `json:"recorder"`
	Redis    RedisConfig  `json:"redis"`
	Qdrant   QdrantConfig `json:"qdrant"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

// CrewConfig points at an optional YAML crew definition. Without one the
// built-in verification and analysis crew is used.
type CrewConfig struct {
	Definition string `json:"definition"`
}

type DispatchConfig struct {
	Backend   string `json:"backend"` // "memory" or "redis"
	Workers   int    `json:"workers"`
	Stream    string `json:"stream"`
	Group     string `json:"group"`
	ResultTTL string `json:"result_ttl"`
}

type TelemetryConfig struct {
	Exporter     string `json:"exporter"`
	OTLPEndpoint string `json:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			LogLevel:  "info",
			LogFormat: "json",
			UploadDir: "data",
		},
		Capability: CapabilityConfig{Type: "keyword"},
		Database: DatabaseConfig{
			Recorder: "results.db",
			Qdrant:   QdrantConfig{Host: "localhost", Port: 6334},
		},
		Embedding: EmbeddingConfig{Provider: "hash", Dimension: 256},
		Dispatch: DispatchConfig{
			Backend:   "memory",
			Workers:   4,
			Stream:    "finsight:jobs",
			Group:     "finsight-workers",
			ResultTTL: "24h",
		},
		Telemetry: TelemetryConfig{Exporter: "none"},
	}
}

// TTL parses ResultTTL, defaulting to a day.
func (d DispatchConfig) TTL() time.Duration {
	if v, err := time.ParseDuration(d.ResultTTL); err == nil && v > 0 {
		return v
	}
	return 24 * time.Hour
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

func expandEnv(data []byte) []byte {
	return envVarRe.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envVarRe.FindSubmatch(match)
		if v := os.Getenv(string(parts[1])); v != "" {
			return []byte(v)
		}
		return parts[2]
	})
}

// Load reads a JSON config file over Default, substituting environment
// variable references first. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Capability.Type {
	case "", "keyword":
	case "chat":
		if len(c.Providers) == 0 {
			return fmt.Errorf("capability type chat needs at least one provider")
		}
	default:
		return fmt.Errorf("unknown capability type %q", c.Capability.Type)
	}
	switch c.Dispatch.Backend {
	case "", "memory":
	case "redis":
		if c.Database.Redis.URL == "" {
			return fmt.Errorf("dispatch backend redis needs database.redis.url")
		}
	default:
		return fmt.Errorf("unknown dispatch backend %q", c.Dispatch.Backend)
	}
	return nil
}
