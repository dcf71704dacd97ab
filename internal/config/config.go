package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models plcgate.yml. It is loaded once at startup and treated as
// read-only afterwards.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Database struct {
		Workspace string `yaml:"workspace" json:"workspace"`
	} `yaml:"database" json:"database"`
	Auth struct {
		SecretKey       string `yaml:"secret_key" json:"-"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes" json:"token_ttl_minutes"`
	} `yaml:"auth" json:"auth"`
	Gates   GateConfig    `yaml:"gates" json:"gates"`
	Copilot CopilotConfig `yaml:"copilot" json:"copilot"`
	Log     struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type GateConfig struct {
	MinEvidenceLinks int `yaml:"min_evidence_links" json:"min_evidence_links"`
}

type CopilotConfig struct {
	SearchExcerptChars int `yaml:"search_excerpt_chars" json:"search_excerpt_chars"`
	TraceSummaryChars  int `yaml:"trace_summary_chars" json:"trace_summary_chars"`
}

// WebhookConfig describes one audit event subscriber.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

const DefaultSecretKey = "dev-secret-change-in-prod"

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with plc config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Database.Workspace = workspace
			return cfg, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Clone returns a deep copy; the copy shares no slices or pointers with c.
func (c Config) Clone() Config {
	out := c
	if c.Webhooks != nil {
		out.Webhooks = make([]WebhookConfig, len(c.Webhooks))
		for i, hook := range c.Webhooks {
			hook.Events = append([]string(nil), hook.Events...)
			if hook.Enabled != nil {
				enabled := *hook.Enabled
				hook.Enabled = &enabled
			}
			out.Webhooks[i] = hook
		}
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		return fmt.Errorf("config.auth.secret_key is required")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if c.Gates.MinEvidenceLinks < 1 {
		return fmt.Errorf("config.gates.min_evidence_links must be at least 1")
	}
	if c.Copilot.SearchExcerptChars < 1 || c.Copilot.TraceSummaryChars < 1 {
		return fmt.Errorf("config.copilot excerpt sizes must be positive")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "plcgate.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys fall
// back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(v string) (slog.Level, error) {
	switch strings.ToLower(v) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", v)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

database:
  workspace: .

auth:
  secret_key: ` + DefaultSecretKey + `
  token_ttl_minutes: 1440

gates:
  # Growth -> Maturity needs at least this many evidence links.
  min_evidence_links: 3

copilot:
  search_excerpt_chars: 500
  trace_summary_chars: 200

log:
  level: info
  format: text
`
