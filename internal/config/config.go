package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for smsgate.
type Config struct {
	General    GeneralConfig             `json:"general"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Store      StoreConfig               `json:"store"`
	Automation AutomationConfig          `json:"automation"`
	Gateway    GatewayConfig             `json:"gateway"`
	Metrics    MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel           string   `json:"logLevel"`
	LogFile            string   `json:"logFile,omitempty"`
	DefaultProvider    string   `json:"defaultProvider"`
	FallbackChain      []string `json:"fallbackChain,omitempty"` // provider failover order after the requested/default one
	MaxConcurrentSends int      `json:"maxConcurrentSends"`
	SendTimeoutSeconds int      `json:"sendTimeoutSeconds"` // per-provider attempt timeout
}

// ProviderConfig holds one provider's credentials and default sender.
// Read-only at dispatch time.
type ProviderConfig struct {
	Enabled   bool   `json:"enabled"`
	APIBase   string `json:"apiBase,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	APISecret string `json:"apiSecret,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Username  string `json:"username,omitempty"` // Africa's Talking account username
	Token     string `json:"token,omitempty"`    // Telegram bot token
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type AutomationConfig struct {
	RulesDir       string      `json:"rulesDir"`
	HistoryBackend string      `json:"historyBackend"` // "sqlite" | "redis"
	Redis          RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

type GatewayConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.smsgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".smsgate"
	}
	return filepath.Join(home, ".smsgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = expandPath(cfg.Store.DBPath)
	cfg.Automation.RulesDir = expandPath(cfg.Automation.RulesDir)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
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
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentSends < 1 || cfg.General.MaxConcurrentSends > 100 {
		errs = append(errs, "general.maxConcurrentSends must be between 1 and 100")
	}
	if cfg.General.SendTimeoutSeconds < 1 {
		errs = append(errs, "general.sendTimeoutSeconds must be >= 1")
	}
	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider %q has no providers entry", cfg.General.DefaultProvider))
		}
	}
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}
	switch cfg.Automation.HistoryBackend {
	case "", "sqlite", "redis":
		// valid
	default:
		errs = append(errs, "automation.historyBackend must be one of: sqlite, redis")
	}
	if cfg.Automation.HistoryBackend == "redis" && cfg.Automation.Redis.Addr == "" {
		errs = append(errs, "automation.redis.addr is required for the redis history backend")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
