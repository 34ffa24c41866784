package main

import (
	"context"
	"sync"
)

// runGate serializes pipeline runs. Wait blocks until the current run is
// done; TryRun returns immediately when a run is in flight.
type runGate struct {
	mu  sync.Mutex
	run func(ctx context.Context) error
}

func (g *runGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.run(ctx)
}

// TryRun reports false without running when another run holds the gate.
func (g *runGate) TryRun(ctx context.Context) (bool, error) {
	if !g.mu.TryLock() {
		return false, nil
	}
	defer g.mu.Unlock()
	return true, g.run(ctx)
}
