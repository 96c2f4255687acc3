// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the smtp-transport command.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-transport/internal/options"
)

// Provider names accepted in Config.Provider. An empty value means SMTP.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string `yaml:"provider"`
	// SMTP is handed to the transport unresolved, so presets and URLs in it
	// are applied by options.Resolve.
	SMTP options.Options `yaml:"smtp"`
	// Proxy is a socks5://, socks5h:// or http:// proxy URL.
	Proxy   string        `yaml:"proxy"`
	SES     SESConfig     `yaml:"ses"`
	Graph   GraphConfig   `yaml:"graph"`
	Logging LoggingConfig `yaml:"logging"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks that the selected provider has what it needs.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", ProviderSMTP, ProviderStdout:
	case ProviderSES:
		if !c.SESConfigured() {
			return fmt.Errorf("provider %q requires SES_REGION and SES_SENDER", c.Provider)
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			return fmt.Errorf("provider %q requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	switch c.Logging.Format {
	case "text", "logfmt", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set. Keys are
// optional since the default AWS credential chain applies without them.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// AuthEnabled returns true if SMTP credentials are configured.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Auth != nil && c.SMTP.Auth.User != ""
}

// applyDefaults sets default values for fields the transport does not
// resolve itself.
func (c *Config) applyDefaults() {
	c.Logging.Level = "info"
	c.Logging.Format = "text"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.SMTP.URL, "SMTP_URL")
	setString(&c.SMTP.Service, "SMTP_SERVICE")
	setString(&c.SMTP.Host, "SMTP_HOST")
	setString(&c.SMTP.Name, "SMTP_NAME")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_SECURE"); v != "" {
		if secure, err := strconv.ParseBool(v); err == nil {
			c.SMTP.Secure = options.Bool(secure)
		}
	}
	setBool(&c.SMTP.IgnoreTLS, "SMTP_IGNORE_TLS")
	setBool(&c.SMTP.RequireTLS, "SMTP_REQUIRE_TLS")

	user, pass := os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD")
	if user != "" || pass != "" {
		if c.SMTP.Auth == nil {
			c.SMTP.Auth = &options.Auth{}
		}
		if user != "" {
			c.SMTP.Auth.User = user
		}
		if pass != "" {
			c.SMTP.Auth.Pass = pass
		}
	}

	setString(&c.SMTP.TLS.CAFile, "TLS_CA_FILE")
	setBool(&c.SMTP.TLS.InsecureSkipVerify, "TLS_INSECURE_SKIP_VERIFY")
	setString(&c.Proxy, "SMTP_PROXY")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
