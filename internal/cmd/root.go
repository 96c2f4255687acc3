/*
Package cmd provides the CLI commands for smtp-transport.
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shineum/smtp-transport/internal/config"
)

var (
	cfgFile      string
	logLevel     string
	logFormat    string
	providerName string
	proxyURL     string
	timeout      time.Duration

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "smtp-transport",
	Short: "Send mail through SMTP, SES, Microsoft Graph or stdout",
	Long: `smtp-transport delivers messages over a fresh connection per
operation: connect, optional login, send, close.

Configuration is read from an optional YAML file and environment
variables. Flags override both.

Example:
  smtp-transport verify --config transport.yaml
  smtp-transport send --from me@example.com --to you@example.com --subject Hi --body Hello
  smtp-transport send --file message.eml --envelope-to audit@example.com`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and runs it until
// SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().StringVarP(&providerName, "provider", "p", "", "delivery provider (smtp, ses, graph, stdout)")
	rootCmd.PersistentFlags().StringVar(&proxyURL, "proxy", "", "socks5://, socks5h:// or http:// proxy for SMTP connections")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "overall deadline for the command")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	if logFormat != "" {
		cfg.Logging.Format = strings.ToLower(logFormat)
	}
	if providerName != "" {
		cfg.Provider = strings.ToLower(providerName)
	}
	if proxyURL != "" {
		cfg.Proxy = proxyURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogger(cfg.Logging)
	return nil
}

// setupLogger installs a charmbracelet/log handler as the slog default so
// every package logs through it.
func setupLogger(lc config.LoggingConfig) {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		level = log.InfoLevel
	}

	formatter := log.TextFormatter
	switch lc.Format {
	case "logfmt":
		formatter = log.LogfmtFormatter
	case "json":
		formatter = log.JSONFormatter
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	slog.SetDefault(slog.New(handler))
}

// commandContext applies --timeout to the command context.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
