package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/logger"
	"github.com/headline-goat/splitpage/internal/settings"
	"github.com/headline-goat/splitpage/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withJars runs fn with the configured cookie backend.
func withJars(fn func(clientstore.Backend) error) error {
	if redisURL == "" {
		return withStore(func(s *store.SQLiteStore) error {
			return fn(s.Jars())
		})
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return fn(clientstore.NewRedisBackend(client, "splitpage"))
}

func newLogger() (*zap.SugaredLogger, error) {
	l, err := logger.New(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// loadSettings reads the site settings. The collector URL from the environment fills
// in a missing API URL.
func loadSettings() (*settings.Settings, error) {
	s, err := settings.Load(settingsPath)
	if err != nil {
		return nil, err
	}
	if s.API.URL == "" {
		s.API.URL = cfg.CollectorURL
	}
	return s, nil
}

// getTokenFilePath returns the path to the token file
func getTokenFilePath() string {
	// Store token file alongside the database
	return filepath.Join(filepath.Dir(dbPath), ".splitpage-token")
}
