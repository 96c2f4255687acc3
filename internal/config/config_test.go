package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// allEnvVars lists every variable the loader reads.
var allEnvVars = []string{
	"PROVIDER",
	"SMTP_URL", "SMTP_SERVICE", "SMTP_HOST", "SMTP_PORT", "SMTP_SECURE", "SMTP_NAME",
	"SMTP_IGNORE_TLS", "SMTP_REQUIRE_TLS", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_PROXY",
	"TLS_CA_FILE", "TLS_INSECURE_SKIP_VERIFY",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_SENDER",
	"LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != "" {
		t.Errorf("Provider: got %q, want empty", cfg.Provider)
	}
	if cfg.SMTP.Host != "" || cfg.SMTP.Port != 0 || cfg.SMTP.Secure != nil {
		t.Errorf("SMTP: got %+v, want unset fields left for the resolver", cfg.SMTP)
	}
	if cfg.SMTP.Auth != nil {
		t.Errorf("SMTP.Auth: got %+v, want nil", cfg.SMTP.Auth)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(): %v", err)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROVIDER", "SES")
	t.Setenv("SMTP_URL", "smtps://u:p@smtp.example.com")
	t.Setenv("SMTP_SERVICE", "gmail")
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_SECURE", "false")
	t.Setenv("SMTP_NAME", "client.example.com")
	t.Setenv("SMTP_REQUIRE_TLS", "true")
	t.Setenv("SMTP_USERNAME", "admin")
	t.Setenv("SMTP_PASSWORD", "secret123")
	t.Setenv("SMTP_PROXY", "socks5://127.0.0.1:1080")
	t.Setenv("TLS_CA_FILE", "/etc/ca.pem")
	t.Setenv("TLS_INSECURE_SKIP_VERIFY", "1")
	t.Setenv("SES_REGION", "eu-west-1")
	t.Setenv("SES_SENDER", "ses@example.com")
	t.Setenv("GRAPH_TENANT_ID", "tid-123")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Provider", cfg.Provider, "ses"},
		{"SMTP.URL", cfg.SMTP.URL, "smtps://u:p@smtp.example.com"},
		{"SMTP.Service", cfg.SMTP.Service, "gmail"},
		{"SMTP.Host", cfg.SMTP.Host, "mail.example.com"},
		{"SMTP.Port", cfg.SMTP.Port, 2525},
		{"SMTP.Secure set", cfg.SMTP.Secure != nil, true},
		{"SMTP.Name", cfg.SMTP.Name, "client.example.com"},
		{"SMTP.RequireTLS", cfg.SMTP.RequireTLS, true},
		{"SMTP.TLS.CAFile", cfg.SMTP.TLS.CAFile, "/etc/ca.pem"},
		{"SMTP.TLS.InsecureSkipVerify", cfg.SMTP.TLS.InsecureSkipVerify, true},
		{"Proxy", cfg.Proxy, "socks5://127.0.0.1:1080"},
		{"SES.Region", cfg.SES.Region, "eu-west-1"},
		{"Graph.TenantID", cfg.Graph.TenantID, "tid-123"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Logging.Format", cfg.Logging.Format, "json"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.SMTP.Secure != nil && *cfg.SMTP.Secure {
		t.Error("SMTP.Secure: got true, want explicit false")
	}
	if !cfg.AuthEnabled() || cfg.SMTP.Auth.User != "admin" || cfg.SMTP.Auth.Pass != "secret123" {
		t.Errorf("SMTP.Auth: got %+v", cfg.SMTP.Auth)
	}
}

func TestLoad_InvalidNumbersIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("SMTP_SECURE", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Port != 0 {
		t.Errorf("SMTP.Port: got %d, want 0", cfg.SMTP.Port)
	}
	if cfg.SMTP.Secure != nil {
		t.Errorf("SMTP.Secure: got %v, want nil", *cfg.SMTP.Secure)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
provider: graph
proxy: "http://proxy.internal:3128"
smtp:
  service: "Outlook365"
  host: "smtp.yaml.example"
  port: 2587
  secure: true
  name: "yaml-client"
  auth:
    user: "yamluser"
    pass: "yamlpass"
  tls:
    server_name: "mail.yaml.example"
  connection_timeout: 15s
  socket_timeout: 1m
graph:
  tenant_id: "yaml-tenant"
  client_id: "yaml-client"
  client_secret: "yaml-secret"
  sender: "yaml@example.com"
logging:
  level: "warn"
  format: "logfmt"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != ProviderGraph {
		t.Errorf("Provider: got %q, want %q", cfg.Provider, ProviderGraph)
	}
	if cfg.Proxy != "http://proxy.internal:3128" {
		t.Errorf("Proxy: got %q", cfg.Proxy)
	}
	if cfg.SMTP.Service != "Outlook365" || cfg.SMTP.Host != "smtp.yaml.example" || cfg.SMTP.Port != 2587 {
		t.Errorf("SMTP: got service %q host %q port %d", cfg.SMTP.Service, cfg.SMTP.Host, cfg.SMTP.Port)
	}
	if !cfg.SMTP.IsSecure() {
		t.Error("SMTP.Secure: got false, want true")
	}
	if cfg.SMTP.Auth == nil || cfg.SMTP.Auth.User != "yamluser" {
		t.Errorf("SMTP.Auth: got %+v", cfg.SMTP.Auth)
	}
	if cfg.SMTP.TLS.ServerName != "mail.yaml.example" {
		t.Errorf("SMTP.TLS.ServerName: got %q", cfg.SMTP.TLS.ServerName)
	}
	if cfg.SMTP.ConnectionTimeout != 15*time.Second {
		t.Errorf("SMTP.ConnectionTimeout: got %v, want 15s", cfg.SMTP.ConnectionTimeout)
	}
	if cfg.SMTP.SocketTimeout != time.Minute {
		t.Errorf("SMTP.SocketTimeout: got %v, want 1m", cfg.SMTP.SocketTimeout)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "logfmt" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(): %v", err)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
smtp:
  host: "yaml.example"
  auth:
    user: "yamluser"
    pass: "yamlpass"
logging:
  level: "warn"
`)

	t.Setenv("SMTP_HOST", "env.example")
	t.Setenv("SMTP_PASSWORD", "envpass")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SMTP.Host != "env.example" {
		t.Errorf("SMTP.Host: got %q, want %q (env should override YAML)", cfg.SMTP.Host, "env.example")
	}
	// Empty env var should NOT override YAML value
	if cfg.SMTP.Auth.User != "yamluser" {
		t.Errorf("SMTP.Auth.User: got %q, want %q", cfg.SMTP.Auth.User, "yamluser")
	}
	if cfg.SMTP.Auth.Pass != "envpass" {
		t.Errorf("SMTP.Auth.Pass: got %q, want %q", cfg.SMTP.Auth.Pass, "envpass")
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "error")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Parallel()

	if _, err := LoadFromFile("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for missing file, got nil")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	graph := GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "g@example.com"}
	ses := SESConfig{Region: "us-east-1", Sender: "ses@example.com"}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default smtp", cfg: Config{}},
		{name: "explicit smtp", cfg: Config{Provider: ProviderSMTP}},
		{name: "stdout", cfg: Config{Provider: ProviderStdout}},
		{name: "ses configured", cfg: Config{Provider: ProviderSES, SES: ses}},
		{name: "ses missing sender", cfg: Config{Provider: ProviderSES, SES: SESConfig{Region: "us-east-1"}}, wantErr: true},
		{name: "graph configured", cfg: Config{Provider: ProviderGraph, Graph: graph}},
		{name: "graph missing secret", cfg: Config{Provider: ProviderGraph, Graph: GraphConfig{TenantID: "t"}}, wantErr: true},
		{name: "unknown provider", cfg: Config{Provider: "carrier-pigeon"}, wantErr: true},
		{name: "unknown log format", cfg: Config{Logging: LoggingConfig{Format: "xml"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			if cfg.Logging.Format == "" {
				cfg.Logging.Format = "text"
			}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(): got %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSESConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ses    SESConfig
		expect bool
	}{
		{name: "region and sender set", ses: SESConfig{Region: "us-east-1", Sender: "ses@example.com"}, expect: true},
		{name: "all fields set", ses: SESConfig{Region: "us-east-1", AccessKeyID: "key", SecretAccessKey: "secret", Sender: "ses@example.com"}, expect: true},
		{name: "missing region", ses: SESConfig{Sender: "ses@example.com"}},
		{name: "missing sender", ses: SESConfig{Region: "us-east-1"}},
		{name: "none set", ses: SESConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{SES: tt.ses}
			if got := cfg.SESConfigured(); got != tt.expect {
				t.Errorf("SESConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestGraphConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		graph  GraphConfig
		expect bool
	}{
		{name: "all set", graph: GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "x@example.com"}, expect: true},
		{name: "missing sender", graph: GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}},
		{name: "none set", graph: GraphConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Graph: tt.graph}
			if got := cfg.GraphConfigured(); got != tt.expect {
				t.Errorf("GraphConfigured(): got %v, want %v", got, tt.expect)
			}
		})
	}
}
