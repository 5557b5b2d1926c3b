// Package logaction provides a handler that records the dispatch in the
// service log. Useful for workflow debugging and as the simplest handler
// reference.
package logaction

import (
	"context"
	"log/slog"

	"github.com/vendelabs/fluxo/pkg/protocol"
	"github.com/vendelabs/fluxo/pkg/template"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "log"
}

func (*Factory) Create(_ map[string]any) (protocol.ActionHandler, error) {
	return &Handler{}, nil
}

type Handler struct{}

// Handle logs the rendered message and always succeeds.
func (h *Handler) Handle(ctx context.Context, request protocol.DispatchRequest, logger *slog.Logger) (*protocol.DispatchResult, error) {
	logger = logger.With("action", "log")

	message, _ := request.Parameters["message"].(string)
	if message != "" {
		rendered, err := template.RenderString(message, request)
		if err != nil {
			return nil, protocol.NewConfigError(err)
		}

		message = rendered
	}

	logger.InfoContext(ctx, "Workflow log action",
		"execution_id", request.ExecutionID,
		"node_id", request.NodeID,
		"subject_type", request.Subject.Type,
		"subject_id", request.Subject.ID,
		"message", message,
	)

	return &protocol.DispatchResult{
		Outcome: protocol.DispatchSucceeded,
		Output:  map[string]any{"message": message},
	}, nil
}
