package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendelabs/fluxo/pkg/persistence"
	"github.com/vendelabs/fluxo/pkg/protocol"
	"github.com/vendelabs/fluxo/pkg/registry"
)

type memoryDispatchRepo struct {
	mu      sync.Mutex
	records map[string]*persistence.DispatchRecord
}

func newMemoryDispatchRepo() *memoryDispatchRepo {
	return &memoryDispatchRepo{records: make(map[string]*persistence.DispatchRecord)}
}

func (r *memoryDispatchRepo) Get(_ context.Context, executionID, nodeID string) (*persistence.DispatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.records[executionID+"/"+nodeID], nil
}

func (r *memoryDispatchRepo) Record(_ context.Context, record *persistence.DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := record.ExecutionID + "/" + record.NodeID
	if _, ok := r.records[key]; ok {
		return persistence.ErrDispatchAlreadyRecorded
	}

	r.records[key] = record

	return nil
}

type countingHandler struct {
	calls  int
	result *protocol.DispatchResult
	err    error
}

func (h *countingHandler) Handle(_ context.Context, _ protocol.DispatchRequest, _ *slog.Logger) (*protocol.DispatchResult, error) {
	h.calls++

	return h.result, h.err
}

type handlerFactory struct {
	id      string
	handler protocol.ActionHandler
}

func (f *handlerFactory) ID() string { return f.id }

func (f *handlerFactory) Create(_ map[string]any) (protocol.ActionHandler, error) {
	return f.handler, nil
}

func newDispatcher(t *testing.T, handlers map[string]protocol.ActionHandler) (*Dispatcher, *memoryDispatchRepo) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	reg := registry.NewRegistry(logger)

	for id, handler := range handlers {
		reg.Register(&handlerFactory{id: id, handler: handler})
	}

	repo := newMemoryDispatchRepo()

	return NewDispatcher(logger, reg, repo), repo
}

func request(action string) protocol.DispatchRequest {
	return protocol.DispatchRequest{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		NodeID:      "node-1",
		Action:      action,
		Parameters:  map[string]any{},
		Context:     map[string]any{},
	}
}

func TestDispatcher_RecordsSettledOutcome(t *testing.T) {
	handler := &countingHandler{result: &protocol.DispatchResult{Outcome: protocol.DispatchSucceeded}}
	dispatcher, repo := newDispatcher(t, map[string]protocol.ActionHandler{"send_email": handler})

	result, err := dispatcher.Dispatch(context.Background(), request("send_email"))
	require.NoError(t, err)
	assert.Equal(t, protocol.DispatchSucceeded, result.Outcome)

	record, err := repo.Get(context.Background(), "exec-1", "node-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "succeeded", record.Outcome)
}

func TestDispatcher_ShortCircuitsRecordedOutcome(t *testing.T) {
	handler := &countingHandler{result: &protocol.DispatchResult{Outcome: protocol.DispatchSucceeded}}
	dispatcher, _ := newDispatcher(t, map[string]protocol.ActionHandler{"send_email": handler})

	_, err := dispatcher.Dispatch(context.Background(), request("send_email"))
	require.NoError(t, err)

	result, err := dispatcher.Dispatch(context.Background(), request("send_email"))
	require.NoError(t, err)

	assert.Equal(t, protocol.DispatchSucceeded, result.Outcome)
	assert.Equal(t, 1, handler.calls, "handler must fire at most once per (execution, node)")
}

func TestDispatcher_PendingIsNotRecorded(t *testing.T) {
	handler := &countingHandler{result: &protocol.DispatchResult{Outcome: protocol.DispatchPending}}
	dispatcher, repo := newDispatcher(t, map[string]protocol.ActionHandler{"queue": handler})

	result, err := dispatcher.Dispatch(context.Background(), request("queue"))
	require.NoError(t, err)
	assert.Equal(t, protocol.DispatchPending, result.Outcome)

	record, err := repo.Get(context.Background(), "exec-1", "node-1")
	require.NoError(t, err)
	assert.Nil(t, record, "pending dispatches settle later through the callback")
}

func TestDispatcher_UnknownActionIsConfigError(t *testing.T) {
	dispatcher, _ := newDispatcher(t, nil)

	_, err := dispatcher.Dispatch(context.Background(), request("missing"))
	require.Error(t, err)
	assert.True(t, protocol.IsConfigError(err))
}

func TestDispatcher_UnclassifiedErrorBecomesTransient(t *testing.T) {
	handler := &countingHandler{err: errors.New("socket reset")}
	dispatcher, _ := newDispatcher(t, map[string]protocol.ActionHandler{"send_email": handler})

	_, err := dispatcher.Dispatch(context.Background(), request("send_email"))
	require.Error(t, err)
	assert.True(t, protocol.IsTransient(err))
}

func TestDispatcher_PreservesHandlerClassification(t *testing.T) {
	handler := &countingHandler{err: protocol.NewConfigError(errors.New("bad template"))}
	dispatcher, _ := newDispatcher(t, map[string]protocol.ActionHandler{"send_email": handler})

	_, err := dispatcher.Dispatch(context.Background(), request("send_email"))
	require.Error(t, err)
	assert.True(t, protocol.IsConfigError(err))
	assert.False(t, protocol.IsTransient(err))
}
