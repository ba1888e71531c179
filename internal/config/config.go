package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Vault     VaultConfig     `yaml:"vault"`
	Router    RouterConfig    `yaml:"router"`
	Roster    RosterConfig    `yaml:"roster"`
}

// BackendConfig selects and configures the model completion backend.
type BackendConfig struct {
	Kind        string        `yaml:"kind"` // "http" or "nats"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

// SandboxConfig configures the container runner used for run_command actions.
type SandboxConfig struct {
	Enabled bool          `yaml:"enabled"`
	Image   string        `yaml:"image"`
	Workdir string        `yaml:"workdir"`
	Timeout time.Duration `yaml:"timeout"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type RouterConfig struct {
	DefaultAgent string `yaml:"default_agent"`
}

// RosterConfig declares the agents available at startup, keyed by agent id.
type RosterConfig struct {
	Agents map[string]AgentDefinition `yaml:"agents"`
}

// AgentDefinition is the static configuration of one roster agent.
type AgentDefinition struct {
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Description  string   `yaml:"description"`
	Model        string   `yaml:"model"`
	Capabilities []string `yaml:"capabilities"`
	SystemPrompt string   `yaml:"system_prompt"`
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			Kind:      "http",
			BaseURL:   "https://api.anthropic.com",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/crewd.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			Image:   "alpine:3",
			Workdir: "/work",
			Timeout: 5 * time.Minute,
		},
		Router: RouterConfig{
			DefaultAgent: "developer",
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CREWD_CONFIG")
	if path == "" {
		path = "config/crewd.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("CREWD_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CREWD_TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("CREWD_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CREWD_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CREWD_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CREWD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CREWD_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
