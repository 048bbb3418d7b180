package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for ticketbridge.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Channels ChannelsConfig `json:"channels"`
	Drafting DraftingConfig `json:"drafting"`
	Jira     JiraConfig     `json:"jira"`
	Storage  StorageConfig  `json:"storage"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	DataDir  string `json:"dataDir"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	Enabled       bool     `json:"enabled"`
	AppSecret     string   `json:"appSecret,omitempty"`
	AccessToken   string   `json:"accessToken,omitempty"`
	VerifyToken   string   `json:"verifyToken,omitempty"`
	PhoneNumberID string   `json:"phoneNumberId,omitempty"`
	WebhookPath   string   `json:"webhookPath,omitempty"`
	AllowFrom     []string `json:"allowFrom,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type DraftingConfig struct {
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type JiraConfig struct {
	BaseURL    string `json:"baseUrl"`
	Email      string `json:"email"`
	APIToken   string `json:"apiToken,omitempty"`
	ProjectKey string `json:"projectKey"`
}

type StorageConfig struct {
	DBPath string      `json:"dbPath"`
	Media  MediaConfig `json:"media"`
}

type MediaConfig struct {
	Driver     string   `json:"driver"` // "local" | "s3"
	UploadsDir string   `json:"uploadsDir,omitempty"`
	S3         S3Config `json:"s3,omitempty"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	UseSSL    bool   `json:"useSsl,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.ticketbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ticketbridge"
	}
	return filepath.Join(home, ".ticketbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON, or YAML for .yaml/.yml extensions),
// expands ${VAR} environment references, applies defaults, and validates.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// Decode through a generic map so the JSON struct tags stay
		// authoritative for both formats.
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
		data, err = json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("cannot convert yaml config %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Storage.Media.UploadsDir = ExpandPath(cfg.Storage.Media.UploadsDir)

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

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	switch cfg.Storage.Media.Driver {
	case "local":
		if cfg.Storage.Media.UploadsDir == "" {
			errs = append(errs, "storage.media.uploadsDir is required for the local driver")
		}
	case "s3":
		s3 := cfg.Storage.Media.S3
		if s3.Endpoint == "" {
			errs = append(errs, "storage.media.s3.endpoint is required for the s3 driver")
		}
		if s3.AccessKey == "" || s3.SecretKey == "" {
			errs = append(errs, "storage.media.s3 access and secret keys are required")
		}
		if s3.Bucket == "" {
			errs = append(errs, "storage.media.s3.bucket is required")
		}
	default:
		errs = append(errs, "storage.media.driver must be one of: local, s3")
	}

	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
	}

	if cfg.Jira.BaseURL != "" {
		if cfg.Jira.Email == "" || cfg.Jira.APIToken == "" {
			errs = append(errs, "jira.email and jira.apiToken are required when jira.baseUrl is set")
		}
	}

	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.AccessToken == "" {
		errs = append(errs, "channels.whatsapp.accessToken is required when the channel is enabled")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when the channel is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a deep copy with secrets redacted, for display and the
// status command.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Channels.WhatsApp.AppSecret = redact(cfg.Channels.WhatsApp.AppSecret)
	out.Channels.WhatsApp.AccessToken = redact(cfg.Channels.WhatsApp.AccessToken)
	out.Channels.WhatsApp.VerifyToken = redact(cfg.Channels.WhatsApp.VerifyToken)
	out.Channels.Telegram.Token = redact(cfg.Channels.Telegram.Token)
	out.Jira.APIToken = redact(cfg.Jira.APIToken)
	out.Storage.Media.S3.SecretKey = redact(cfg.Storage.Media.S3.SecretKey)
	return &out
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
