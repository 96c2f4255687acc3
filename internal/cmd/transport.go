package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/smtp-transport/internal/config"
	"github.com/shineum/smtp-transport/internal/provider"
	"github.com/shineum/smtp-transport/internal/provider/graph"
	"github.com/shineum/smtp-transport/internal/provider/ses"
	"github.com/shineum/smtp-transport/internal/provider/stdout"
	"github.com/shineum/smtp-transport/internal/proxy"
	"github.com/shineum/smtp-transport/internal/smtp"
	"github.com/shineum/smtp-transport/internal/transport"
)

// newTransport builds a Transport for the loaded configuration.
func newTransport(ctx context.Context, cfg *config.Config) (*transport.Transport, error) {
	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fns := []transport.Option{
		transport.WithProvider(prov),
		transport.WithLogger(slog.Default()),
	}
	if cfg.Proxy != "" {
		if prov.Name() != smtp.ProviderName {
			slog.Warn("proxy ignored for non-smtp provider", "provider", prov.Name())
		} else {
			p, err := proxy.New(cfg.Proxy)
			if err != nil {
				return nil, err
			}
			slog.Info("using proxy", "proxy", p.String())
			fns = append(fns, transport.WithSocketProvider(p))
		}
	}

	t, err := transport.New(cfg.SMTP, fns...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return t, nil
}

// selectProvider chooses the delivery backend. An empty provider means SMTP
// when any SMTP destination is configured, otherwise the first configured
// API provider, otherwise SMTP with defaults.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		return smtp.Provider{}, nil
	case config.ProviderSES:
		return newSES(ctx, cfg)
	case config.ProviderGraph:
		return newGraph(cfg), nil
	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil
	case "":
		if cfg.SMTP.URL != "" || cfg.SMTP.Service != "" || cfg.SMTP.Host != "" {
			return smtp.Provider{}, nil
		}
		if cfg.GraphConfigured() {
			slog.Info("Graph provider auto-detected")
			return newGraph(cfg), nil
		}
		if cfg.SESConfigured() {
			slog.Info("SES provider auto-detected")
			return newSES(ctx, cfg)
		}
		return smtp.Provider{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newSES(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newGraph(cfg *config.Config) provider.Provider {
	slog.Info("using Microsoft Graph provider",
		"sender", cfg.Graph.Sender,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	})
}
