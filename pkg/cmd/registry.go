package cmd

import (
	"log/slog"

	"github.com/vendelabs/fluxo/pkg/dispatchers/httpcall"
	"github.com/vendelabs/fluxo/pkg/dispatchers/logaction"
	"github.com/vendelabs/fluxo/pkg/dispatchers/queue"
	"github.com/vendelabs/fluxo/pkg/registry"
)

// NewRegistry creates the action registry with every native handler
// registered. The queue handler is only available when a Redis URL is
// configured.
func NewRegistry(logger *slog.Logger, redisURL string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.Register(logaction.NewFactory())
	reg.Register(httpcall.NewFactory())

	if redisURL != "" {
		reg.Register(queue.NewFactory(redisURL, queue.DefaultStream))
	}

	return reg
}
