package protocol

import "context"

// Startable is implemented by long-running components the binaries manage.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by components that need a graceful shutdown.
type Stoppable interface {
	Stop(ctx context.Context) error
}
