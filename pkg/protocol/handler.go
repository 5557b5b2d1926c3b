package protocol

import (
	"context"
	"log/slog"
)

// ActionHandler performs one kind of side effect. Handlers must be safe for
// concurrent use; the dispatcher shares a single instance per action name.
type ActionHandler interface {
	Handle(ctx context.Context, request DispatchRequest, logger *slog.Logger) (*DispatchResult, error)
}

// ActionHandlerFactory creates handler instances for one action name.
type ActionHandlerFactory interface {
	Create(config map[string]any) (ActionHandler, error)
	ID() string
}
