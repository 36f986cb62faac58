// Package app turns configuration into providers and assembles the
// aggregator and query service on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calagg/internal/aggregator"
	"calagg/internal/config"
	"calagg/internal/google"
	"calagg/internal/icsfeed"
	"calagg/internal/models"
	"calagg/internal/provider"
	"calagg/internal/query"
	"calagg/internal/yandex"
)

// App is a fully wired query stack.
type App struct {
	Config     *config.Config
	Location   *time.Location
	Aggregator *aggregator.Aggregator
	Query      *query.Service
}

// DefaultRegistry knows the built-in provider types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(config.TypeCalDAV, newCalDAV)
	_ = r.Register(config.TypeGoogle, newGoogle)
	_ = r.Register(config.TypeICS, newICS)
	return r
}

// Build creates every configured provider and the layers above them.
func Build(ctx context.Context, logger *slog.Logger, cfg *config.Config, registry *Registry) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var providers []provider.Provider
	for _, pc := range cfg.Providers {
		factory, err := registry.Get(pc.Type)
		if err != nil {
			return nil, err
		}
		created, err := factory(ctx, logger, pc, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", pc.Name, err)
		}
		for _, p := range created {
			logger.Info("Initialized provider", "provider", p.Name(), "type", pc.Type, "source", p.Source())
		}
		providers = append(providers, created...)
	}

	priority := make([]models.Source, 0, len(cfg.Priority))
	for _, s := range cfg.Priority {
		priority = append(priority, models.Source(s))
	}

	agg := aggregator.New(providers,
		aggregator.WithPriority(priority...),
		aggregator.WithProviderTimeout(cfg.ProviderTimeout),
		aggregator.WithQueryTimeout(cfg.QueryTimeout),
		aggregator.WithLocation(loc),
		aggregator.WithLogger(logger),
	)
	return &App{
		Config:     cfg,
		Location:   loc,
		Aggregator: agg,
		Query:      query.New(agg, loc, query.WithFindHorizon(cfg.FindHorizon)),
	}, nil
}

func newCalDAV(_ context.Context, logger *slog.Logger, pc config.ProviderConfig, loc *time.Location) ([]provider.Provider, error) {
	c, err := yandex.NewClient(logger, yandex.Config{
		Name:     pc.Name,
		Source:   models.Source(pc.Source),
		Endpoint: pc.URL,
		Username: pc.Username,
		Password: pc.Password,
		Calendar: pc.Calendar,
		Location: loc,
	})
	if err != nil {
		return nil, err
	}
	return []provider.Provider{c}, nil
}

func newICS(_ context.Context, logger *slog.Logger, pc config.ProviderConfig, loc *time.Location) ([]provider.Provider, error) {
	f, err := icsfeed.New(logger, icsfeed.Config{
		Name:     pc.Name,
		Source:   models.Source(pc.Source),
		URL:      pc.URL,
		Location: loc,
	})
	if err != nil {
		return nil, err
	}
	return []provider.Provider{f}, nil
}

// newGoogle creates one provider per account. Without an explicit account
// every token file in the token directory is used.
func newGoogle(ctx context.Context, logger *slog.Logger, pc config.ProviderConfig, loc *time.Location) ([]provider.Provider, error) {
	accounts := []string{pc.Account}
	if pc.Account == "" {
		found, err := google.GetTokenAccounts(pc.TokenDir)
		if err != nil {
			return nil, fmt.Errorf("could not find any google accounts, did you run auth command? %w", err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no google accounts found. Run the 'auth' command first")
		}
		accounts = found
	}

	var out []provider.Provider
	for _, acc := range accounts {
		name := pc.Name
		if len(accounts) > 1 {
			name = pc.Name + "-" + acc
		}
		c, err := google.NewClient(ctx, logger, google.Config{
			Name:         name,
			Account:      acc,
			Source:       models.Source(pc.Source),
			CalendarIDs:  pc.CalendarIDs,
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			TokenDir:     pc.TokenDir,
			Location:     loc,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", acc, err)
		}
		out = append(out, c)
	}
	return out, nil
}
