package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/shared"
	red "github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// NewTokenStore builds the token store named by cfg.Sessions.Backend.
//
// The returned close function releases the database or Redis connection and is never nil.
func NewTokenStore(ctx context.Context, cfg *shared.Config, logger *log.Logger) (auth.TokenStore, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(cfg.Sessions.Backend)) {
	case "", BackendMemory:
		logger.Debug("using in-memory session store")
		return NewMemoryTokenStore(), noop, nil

	case BackendSQLite:
		db, err := shared.NewDatabase(cfg.Database.Path)
		if err != nil {
			return nil, noop, err
		}
		shared.ConfigureDatabase(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		report, err := shared.RunMigrations(ctx, db)
		if err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Debug("using sqlite session store", "path", cfg.Database.Path, "schema", report.To)
		return NewSQLiteTokenStore(db), db.Close, nil

	case BackendRedis:
		client := red.NewClient(&red.Options{
			Addr:         cfg.Sessions.RedisAddr,
			Password:     cfg.Sessions.RedisPassword,
			DB:           cfg.Sessions.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("%w: redis ping failed: %v", shared.ErrServiceUnavailable, err)
		}
		logger.Debug("using redis session store", "addr", cfg.Sessions.RedisAddr, "db", cfg.Sessions.RedisDB)
		return NewRedisTokenStore(client, cfg.Sessions.KeyPrefix, cfg.Sessions.TTL()), client.Close, nil

	default:
		return nil, noop, fmt.Errorf("%w: unknown session backend %q", shared.ErrInvalidConfig, cfg.Sessions.Backend)
	}
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: session id is required", shared.ErrMissingArgument)
	}
	return nil
}

func requireTokens(tokens *auth.UserTokens) error {
	if tokens == nil || tokens.AccessToken == "" {
		return fmt.Errorf("%w: access token is required", shared.ErrInvalidInput)
	}
	return nil
}
