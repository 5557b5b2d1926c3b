package logaction

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendelabs/fluxo/pkg/models"
	"github.com/vendelabs/fluxo/pkg/protocol"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()
	assert.Equal(t, "log", factory.ID())

	handler, err := factory.Create(nil)
	require.NoError(t, err)
	assert.NotNil(t, handler)
}

func TestHandler_Handle(t *testing.T) {
	handler, err := NewFactory().Create(nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	result, err := handler.Handle(context.Background(), protocol.DispatchRequest{
		ExecutionID: "exec-1",
		NodeID:      "node-1",
		Action:      "log",
		Parameters:  map[string]any{"message": "lead {{.subject.id}} reached this step"},
		Subject:     models.Subject{Type: "lead", ID: "lead-42"},
		Context:     map[string]any{},
	}, logger)
	require.NoError(t, err)

	assert.Equal(t, protocol.DispatchSucceeded, result.Outcome)
	assert.Equal(t, "lead lead-42 reached this step", result.Output["message"])
}

func TestHandler_Handle_BadTemplate(t *testing.T) {
	handler, err := NewFactory().Create(nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_, err = handler.Handle(context.Background(), protocol.DispatchRequest{
		Parameters: map[string]any{"message": "{{.broken"},
	}, logger)
	require.Error(t, err)
	assert.True(t, protocol.IsConfigError(err))
}
