package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for slack2tg.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Routing  RoutingConfig  `json:"routing" yaml:"routing"`
	Security SecurityConfig `json:"security" yaml:"security"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
	Audit    AuditConfig    `json:"audit" yaml:"audit"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"` // debug | info | warn | error
	JSONLogs bool   `json:"jsonLogs" yaml:"jsonLogs"`
}

type ServerConfig struct {
	ListenAddr   string `json:"listenAddr" yaml:"listenAddr"`
	MaxBodyBytes int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`
}

type TelegramConfig struct {
	Token             string `json:"token" yaml:"token"`
	ParseMode         string `json:"parseMode" yaml:"parseMode"` // MarkdownV2 | HTML | Markdown | "" (plain)
	DisableWebPreview bool   `json:"disableWebPreview" yaml:"disableWebPreview"`
	MaxMedia          int    `json:"maxMedia" yaml:"maxMedia"`                           // media group cap, 1..10
	APIEndpoint       string `json:"apiEndpoint,omitempty" yaml:"apiEndpoint,omitempty"` // override for self-hosted Bot API servers
	TimeoutSeconds    int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`

	// Per-chat pacing of Bot API calls; 0 disables it and relies on 429 handling.
	RatePerMinute float64 `json:"ratePerMinute" yaml:"ratePerMinute"`
	RateBurst     int     `json:"rateBurst" yaml:"rateBurst"`
}

type RoutingConfig struct {
	DefaultChatID string   `json:"defaultChatId" yaml:"defaultChatId"`
	Routes        RouteMap `json:"routes" yaml:"routes"`
}

type SecurityConfig struct {
	SharedSecret string   `json:"sharedSecret,omitempty" yaml:"sharedSecret,omitempty"`
	AllowIPs     []string `json:"allowIps,omitempty" yaml:"allowIps,omitempty"` // empty = allow all
}

type RetryConfig struct {
	MaxAttempts    int     `json:"maxAttempts" yaml:"maxAttempts"`
	BackoffSeconds float64 `json:"backoffSeconds" yaml:"backoffSeconds"`
}

type AuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"` // 0 = keep forever
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// RouteMap maps a route key (or Slack channel) to a Telegram chat ID. Chat IDs
// may be written as JSON strings or numbers (e.g. "-100123" or -100123).
type RouteMap map[string]string

func (m *RouteMap) UnmarshalJSON(data []byte) error {
	var ss map[string]string
	if err := json.Unmarshal(data, &ss); err == nil {
		*m = ss
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make(map[string]string, len(raw))
	for key, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result[key] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			result[key] = n.String()
			continue
		}
		return fmt.Errorf("route %q: chat ID must be a string or number", key)
	}
	*m = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.slack2tg).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slack2tg"
	}
	return filepath.Join(home, ".slack2tg")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load builds the configuration: defaults, then the file at path (skipped when
// path is empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg, lookup)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg to path, as YAML or JSON depending on the extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// May contain the bot token and shared secret.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, "server.listenAddr is required")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}

	switch cfg.Telegram.ParseMode {
	case "", "MarkdownV2", "HTML", "Markdown":
	default:
		errs = append(errs, "telegram.parseMode must be one of: MarkdownV2, HTML, Markdown or empty")
	}
	if cfg.Telegram.MaxMedia < 1 || cfg.Telegram.MaxMedia > 10 {
		errs = append(errs, "telegram.maxMedia must be between 1 and 10")
	}
	if cfg.Telegram.TimeoutSeconds < 1 {
		errs = append(errs, "telegram.timeoutSeconds must be >= 1")
	}
	if cfg.Telegram.RatePerMinute < 0 || cfg.Telegram.RateBurst < 0 {
		errs = append(errs, "telegram.ratePerMinute and telegram.rateBurst must be >= 0")
	}

	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, "retry.maxAttempts must be >= 0")
	}
	if cfg.Retry.BackoffSeconds < 0 {
		errs = append(errs, "retry.backoffSeconds must be >= 0")
	}

	for _, ip := range cfg.Security.AllowIPs {
		if net.ParseIP(ip) == nil {
			errs = append(errs, fmt.Sprintf("security.allowIps: invalid IP address %q", ip))
		}
	}

	for key, chatID := range cfg.Routing.Routes {
		if key == "" || chatID == "" {
			errs = append(errs, fmt.Sprintf("routing.routes: empty key or chat ID in entry %q", key))
		}
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retentionDays must be >= 0")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Ready reports whether the Telegram credentials needed to deliver are present.
func (c *Config) Ready() bool {
	return c.Telegram.Token != "" && c.Routing.DefaultChatID != ""
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	b, err := strconv.ParseBool(s)
	return b, err == nil
}
