package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/persistence/file"
	"github.com/vendelabs/fluxo/pkg/persistence/postgresql"
)

// NewPersistence creates a storage backend from the database URL scheme.
// postgres:// gets the PostgreSQL backend; anything else is treated as a
// directory path for the file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to PostgreSQL: %w", err))
		}

		return persist
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parseProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
