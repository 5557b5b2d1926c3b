// Package dispatch implements the engine's gateway to side effects. It
// resolves the handler for an action, enforces at-most-once delivery per
// (execution, node) pair and classifies handler failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/protocol"
	"github.com/vendelabs/fluxo/pkg/registry"
)

// Dispatcher implements protocol.ActionDispatcher on top of the handler
// registry and the persistence-backed dispatch ledger.
type Dispatcher struct {
	logger     *slog.Logger
	registry   *registry.Registry
	dispatches persistence.DispatchRepository
}

func NewDispatcher(logger *slog.Logger, reg *registry.Registry, dispatches persistence.DispatchRepository) *Dispatcher {
	return &Dispatcher{
		logger:     logger.With("module", "dispatch"),
		registry:   reg,
		dispatches: dispatches,
	}
}

// Dispatch performs one action. A settled outcome already recorded for the
// (execution, node) pair short-circuits without touching the handler, so
// engine retries after a crash between side effect and save cannot fire the
// action twice.
func (d *Dispatcher) Dispatch(ctx context.Context, request protocol.DispatchRequest) (*protocol.DispatchResult, error) {
	record, err := d.dispatches.Get(ctx, request.ExecutionID, request.NodeID)
	if err != nil {
		return nil, protocol.NewTransientError(fmt.Errorf("failed to read dispatch ledger: %w", err))
	}

	if record != nil {
		d.logger.InfoContext(ctx, "Dispatch already settled, short-circuiting",
			"execution_id", request.ExecutionID,
			"node_id", request.NodeID,
			"outcome", record.Outcome,
		)

		return &protocol.DispatchResult{
			Outcome: protocol.DispatchOutcome(record.Outcome),
			Detail:  "outcome previously recorded",
		}, nil
	}

	handler, err := d.registry.Handler(request.Action)
	if err != nil {
		return nil, protocol.NewConfigError(err)
	}

	result, err := handler.Handle(ctx, request, d.logger)
	if err != nil {
		if protocol.IsTransient(err) || protocol.IsConfigError(err) {
			return nil, err
		}

		// Unclassified handler errors are treated as transient.
		return nil, protocol.NewTransientError(err)
	}

	if result.Outcome != protocol.DispatchPending {
		err = d.dispatches.Record(ctx, &persistence.DispatchRecord{
			ExecutionID: request.ExecutionID,
			NodeID:      request.NodeID,
			Outcome:     string(result.Outcome),
		})
		if err != nil && !errors.Is(err, persistence.ErrDispatchAlreadyRecorded) {
			return nil, protocol.NewTransientError(fmt.Errorf("failed to record dispatch outcome: %w", err))
		}
	}

	return result, nil
}
