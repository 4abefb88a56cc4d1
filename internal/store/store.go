package store

import (
	"context"

	"github.com/headline-goat/splitpage/internal/clientstore"
)

// Store defines the storage operations of the CLI and the collector.
type Store interface {
	// Visitor jars
	LoadJar(ctx context.Context, visitor string) (*clientstore.MemoryJar, error)
	SaveJar(ctx context.Context, visitor string, jar *clientstore.MemoryJar) error
	ForgetJar(ctx context.Context, visitor string) error
	ListVisitors(ctx context.Context) ([]string, error)

	// Captured events
	RecordEvents(ctx context.Context, siteID string, events []*Event) (int, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
	GetAlternativeStats(ctx context.Context, siteID string, experiment int) ([]AlternativeStats, error)

	// Key/value settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}
