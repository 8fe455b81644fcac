package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Discord  DiscordConfig   `json:"discord"`
	Routing  RoutingConfig   `json:"routing"`
	Redis    RedisConfig     `json:"redis"`
	Metrics  MetricsConfig   `json:"metrics"`
	Notify   NotifyConfig    `json:"notify"`
	Logging  LoggingConfig   `json:"logging"`
	Accounts []AccountConfig `json:"accounts"`
}

// DiscordConfig overrides the upstream endpoints; empty fields fall back to
// the official ones. Useful behind mirrors and in tests.
type DiscordConfig struct {
	GatewayServer string `json:"gateway_server" env:"MJPROXY_DISCORD_GATEWAY_SERVER"`
	RestServer    string `json:"rest_server" env:"MJPROXY_DISCORD_REST_SERVER"`
	CDNServer     string `json:"cdn_server" env:"MJPROXY_DISCORD_CDN_SERVER"`
}

type RoutingConfig struct {
	// Rule is one of best_wait_idle, weight, round_robin.
	Rule string `json:"rule" env:"MJPROXY_ROUTING_RULE"`
}

type RedisConfig struct {
	URL string `json:"url" env:"MJPROXY_REDIS_URL"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"MJPROXY_METRICS_ENABLED"`
	Listen  string `json:"listen" env:"MJPROXY_METRICS_LISTEN"`
}

type NotifyConfig struct {
	DefaultHook    string `json:"default_hook" env:"MJPROXY_NOTIFY_DEFAULT_HOOK"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"MJPROXY_NOTIFY_TIMEOUT_SECONDS"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"MJPROXY_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"MJPROXY_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"MJPROXY_LOGGING_FILE_PATH"`
}

// AccountConfig is one upstream login plus its capacity and routing policy.
type AccountConfig struct {
	ID             string  `json:"id"`
	GuildID        string  `json:"guild_id"`
	ChannelID      string  `json:"channel_id"`
	UserToken      string  `json:"user_token"`
	BotToken       string  `json:"bot_token,omitempty"`
	UserAgent      string  `json:"user_agent,omitempty"`
	Proxy          string  `json:"proxy,omitempty"`
	Enable         *bool   `json:"enable,omitempty"`
	CoreSize       int     `json:"core_size"`
	QueueSize      int     `json:"queue_size"`
	TimeoutMinutes int     `json:"timeout_minutes"`
	Interval       float64 `json:"interval"`
	Weight         int     `json:"weight"`
	Sort           int     `json:"sort"`
}

// Enabled treats a missing enable flag as on.
func (a AccountConfig) Enabled() bool {
	return a.Enable == nil || *a.Enable
}

func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{},
		Routing: RoutingConfig{
			Rule: "best_wait_idle",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9822",
		},
		Notify: NotifyConfig{
			TimeoutSeconds: 15,
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: false,
			FilePath:    "~/.mjproxy/mjproxy.log",
		},
		Accounts: []AccountConfig{},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	resolveTokenEnvRefs(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.ID == "" {
			a.ID = a.ChannelID
		}
		if a.ID == "" {
			return fmt.Errorf("account %d: id or channel_id required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("account %s: duplicate id", a.ID)
		}
		seen[a.ID] = true
		if a.Enabled() && a.UserToken == "" {
			return fmt.Errorf("account %s: user_token required", a.ID)
		}
	}
	switch c.Routing.Rule {
	case "", "best_wait_idle", "weight", "round_robin":
	default:
		return fmt.Errorf("routing rule %q unknown", c.Routing.Rule)
	}
	return nil
}

// resolveTokenEnvRefs lets tokens reference environment variables as
// "$NAME" or "${NAME}" so config files stay free of secrets.
func resolveTokenEnvRefs(cfg *Config) {
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		a.UserToken = resolveEnvRef(a.UserToken)
		a.BotToken = resolveEnvRef(a.BotToken)
	}
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		key := strings.TrimSpace(s[1:])
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
	}
	return v
}
