package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendelabs/fluxo/pkg/protocol"
)

type stubHandler struct{}

func (stubHandler) Handle(_ context.Context, _ protocol.DispatchRequest, _ *slog.Logger) (*protocol.DispatchResult, error) {
	return &protocol.DispatchResult{Outcome: protocol.DispatchSucceeded}, nil
}

type stubFactory struct {
	id        string
	createErr error
	created   int
}

func (f *stubFactory) ID() string { return f.id }

func (f *stubFactory) Create(_ map[string]any) (protocol.ActionHandler, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	f.created++

	return stubHandler{}, nil
}

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestRegistry_Handler(t *testing.T) {
	r := newTestRegistry()
	factory := &stubFactory{id: "send_email"}
	r.Register(factory)

	handler, err := r.Handler("send_email")
	require.NoError(t, err)
	assert.NotNil(t, handler)

	// Second resolution reuses the cached handler.
	_, err = r.Handler("send_email")
	require.NoError(t, err)
	assert.Equal(t, 1, factory.created)
}

func TestRegistry_Handler_Unregistered(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Handler("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRegistry_AvailableActions(t *testing.T) {
	r := newTestRegistry()
	r.Register(&stubFactory{id: "tag_lead"})
	r.Register(&stubFactory{id: "send_email"})

	assert.Equal(t, []string{"send_email", "tag_lead"}, r.AvailableActions())
	assert.True(t, r.IsRegistered("send_email"))
	assert.False(t, r.IsRegistered("send_sms"))
}

func TestRegistry_HealthCheck(t *testing.T) {
	r := newTestRegistry()
	r.Register(&stubFactory{id: "send_email"})

	require.NoError(t, r.HealthCheck(context.Background()))

	r.Register(&stubFactory{id: "broken", createErr: errors.New("boom")})

	err := r.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}
