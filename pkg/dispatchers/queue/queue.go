// Package queue provides the asynchronous dispatch path: the side effect is
// enqueued on a Redis stream for the delivery fleet and the result arrives
// later through the dispatch callback. The handler therefore always reports
// pending.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vendelabs/fluxo/pkg/protocol"
	"github.com/vendelabs/fluxo/pkg/template"
)

// DefaultStream is the stream the delivery fleet consumes.
const DefaultStream = "fluxo:dispatches"

const connectTimeout = 5 * time.Second

type Factory struct {
	redisURL string
	stream   string
}

// NewFactory creates a queue handler factory. An empty stream selects
// DefaultStream.
func NewFactory(redisURL, stream string) *Factory {
	if stream == "" {
		stream = DefaultStream
	}

	return &Factory{redisURL: redisURL, stream: stream}
}

func (*Factory) ID() string {
	return "queue"
}

func (f *Factory) Create(_ map[string]any) (protocol.ActionHandler, error) {
	options, err := redis.ParseURL(f.redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Handler{client: client, stream: f.stream}, nil
}

type Handler struct {
	client *redis.Client
	stream string
}

// Handle enqueues the rendered action for out-of-process delivery. Redis
// being unreachable is transient; the engine retries with backoff.
func (h *Handler) Handle(ctx context.Context, request protocol.DispatchRequest, logger *slog.Logger) (*protocol.DispatchResult, error) {
	logger = logger.With("action", "queue")

	parameters, err := template.RenderParameters(request.Parameters, request)
	if err != nil {
		return nil, protocol.NewConfigError(err)
	}

	payload, err := json.Marshal(map[string]any{
		"execution_id": request.ExecutionID,
		"workflow_id":  request.WorkflowID,
		"node_id":      request.NodeID,
		"action":       request.Action,
		"subject_type": request.Subject.Type,
		"subject_id":   request.Subject.ID,
		"parameters":   parameters,
		"attempt":      request.Attempt,
	})
	if err != nil {
		return nil, protocol.NewConfigError(fmt.Errorf("failed to marshal dispatch payload: %w", err))
	}

	id, err := h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: h.stream,
		Values: map[string]any{"dispatch": string(payload)},
	}).Result()
	if err != nil {
		return nil, protocol.NewTransientError(fmt.Errorf("failed to enqueue dispatch: %w", err))
	}

	logger.InfoContext(ctx, "Dispatch enqueued",
		"execution_id", request.ExecutionID,
		"node_id", request.NodeID,
		"stream", h.stream,
		"stream_id", id,
	)

	return &protocol.DispatchResult{
		Outcome: protocol.DispatchPending,
		Output:  map[string]any{"stream_id": id},
	}, nil
}

// Close releases the Redis connection.
func (h *Handler) Close() error {
	return h.client.Close()
}
