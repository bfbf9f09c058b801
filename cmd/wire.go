package main

import (
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/cache"
	"github.com/desertthunder/spotproxy/internal/models"
	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/desertthunder/spotproxy/internal/tasks"
)

// appTokens returns the process-wide application token supplier, creating it on first use.
func (r *Runner) appTokens() (*auth.AppTokenSupplier, error) {
	if r.app != nil {
		return r.app, nil
	}

	sp := r.config.Credentials.Spotify
	supplier, err := auth.NewAppTokenSupplier(auth.SupplierOpts{
		ClientID:     sp.ClientID,
		ClientSecret: sp.ClientSecret,
		TokenURL:     sp.TokenURL,
		HTTPClient:   r.httpClient,
		Logger:       shared.WithLogger(r.logger, "component", "app-token"),
		Metrics:      r.metrics,
	})
	if err != nil {
		return nil, err
	}
	r.app = supplier
	return supplier, nil
}

// upstream builds the Web API client. users may be nil when only application credentials are needed.
func (r *Runner) upstream(users services.UserTokens) (*services.Client, error) {
	app, err := r.appTokens()
	if err != nil {
		return nil, err
	}

	up := r.config.Upstream
	return services.NewClient(services.ClientOpts{
		BaseURL:    r.config.Credentials.Spotify.APIBaseURL,
		HTTPClient: r.httpClient,
		App:        app,
		Users:      users,
		Retry: services.RetryPolicy{
			MaxRateLimitRetries: up.MaxRateLimitRetries,
			BaseBackoff:         up.BaseBackoff(),
			MaxBackoff:          up.MaxBackoff(),
		},
		Logger:  shared.WithLogger(r.logger, "component", "upstream"),
		Metrics: r.metrics,
	})
}

// aggregator builds the collection aggregator with its metadata cache.
func (r *Runner) aggregator(fetcher tasks.PlaylistFetcher) (*tasks.Aggregator, error) {
	metadata := cache.New[models.CollectionMetadata](cache.Options{
		TTL:          r.config.Cache.TTL(),
		MaxEntries:   r.config.Cache.MaxEntries,
		SingleFlight: r.config.Cache.SingleFlight,
		Metrics:      r.metrics,
	})

	return tasks.NewAggregator(tasks.AggregatorOpts{
		Fetcher:    fetcher,
		Cache:      metadata,
		NumWorkers: r.config.Collections.Workers,
		RateLimit:  r.config.Collections.RateLimit,
		Logger:     shared.WithLogger(r.logger, "component", "collections"),
	})
}
