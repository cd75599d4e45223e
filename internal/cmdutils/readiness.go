package cmdutils

import (
	"context"
	"errors"
	"sync/atomic"
)

// ReadinessGate backs the status server's readiness probe. It starts closed
// and is opened by the business layer once its startup dependencies, most
// importantly OAuth endpoint discovery, have resolved.
type ReadinessGate struct {
	ready atomic.Bool
}

// MarkReady opens the gate. Calling it again is a no-op.
func (g *ReadinessGate) MarkReady() {
	g.ready.Store(true)
}

// Check reports whether the gate is open, in the shape the health checker
// expects.
func (g *ReadinessGate) Check(_ context.Context) error {
	if !g.ready.Load() {
		return errors.New("OAuth endpoint discovery has not completed")
	}

	return nil
}
