package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vendelabs/fluxo/pkg/dispatch"
	"github.com/vendelabs/fluxo/pkg/engine"
	"github.com/vendelabs/fluxo/pkg/eventbus"
	"github.com/vendelabs/fluxo/pkg/events"
	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/registry"
)

// Worker consumes execution lifecycle events and steps the runs they name.
// Any number of workers can share a persistence layer; the optimistic lock
// on the execution record keeps them from double-advancing a run.
type Worker struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *engine.Engine
}

func NewWorker(
	id string,
	persist persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	reg *registry.Registry,
) *Worker {
	workerLogger := logger.With("module", "fluxo-worker", "worker_id", id)
	dispatcher := dispatch.NewDispatcher(workerLogger, reg, persist.DispatchRepository())

	return &Worker{
		id:          id,
		logger:      workerLogger,
		persistence: persist,
		eventBus:    eventBus,
		engine:      engine.NewEngine(workerLogger, persist, dispatcher, eventBus),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker", "worker_id", w.id)

	err := w.eventBus.Handle(events.ExecutionStartedEvent, w.handleExecutionStarted)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.ExecutionResumedEvent, w.handleExecutionResumed)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *Worker) handleExecutionStarted(ctx context.Context, event any) error {
	startedEvent, ok := event.(*events.ExecutionStarted)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionStarted")

		return nil
	}

	logger := w.logger.With(
		"execution_id", startedEvent.ExecutionID,
		"workflow_id", startedEvent.WorkflowID,
		"event_id", startedEvent.ID,
	)
	logger.InfoContext(ctx, "Processing execution started event")

	return w.run(ctx, logger, startedEvent.ExecutionID)
}

func (w *Worker) handleExecutionResumed(ctx context.Context, event any) error {
	resumedEvent, ok := event.(*events.ExecutionResumed)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionResumed")

		return nil
	}

	logger := w.logger.With(
		"execution_id", resumedEvent.ExecutionID,
		"workflow_id", resumedEvent.WorkflowID,
		"resumed_by", resumedEvent.ResumedBy,
	)
	logger.InfoContext(ctx, "Processing execution resumed event")

	return w.run(ctx, logger, resumedEvent.ExecutionID)
}

// run steps one execution. A vanished execution is dropped rather than
// retried; redelivering the event cannot make it appear.
func (w *Worker) run(ctx context.Context, logger *slog.Logger, executionID string) error {
	err := w.engine.Run(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			logger.WarnContext(ctx, "Execution no longer exists, dropping event")

			return nil
		}

		logger.ErrorContext(ctx, "Failed to step execution", "error", err)

		return err
	}

	return nil
}
