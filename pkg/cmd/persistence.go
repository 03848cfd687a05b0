// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/shiftflow/pkg/persistence"
	"github.com/dukex/shiftflow/pkg/persistence/file"
	"github.com/dukex/shiftflow/pkg/persistence/memory"
	"github.com/dukex/shiftflow/pkg/persistence/postgresql"
	"github.com/dukex/shiftflow/pkg/persistence/redis"
)

var ErrUnsupportedDatabase = errors.New("unsupported database url")

// NewPersistence opens the store named by databaseURL's scheme: file://<dir>, memory://,
// postgres:// (or postgresql://) and redis://.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, databaseURL)
	}

	switch provider {
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("%w: file url needs a directory", ErrUnsupportedDatabase)
		}

		return file.NewPersistence(rest), nil
	case "memory":
		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis", "rediss":
		return redis.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, provider)
	}
}
