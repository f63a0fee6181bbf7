package server

import (
	"context"
	"fmt"
)

// DependencyPinger adapts any probe function to the Pinger interface, so
// the serve command can register Qdrant, the document store, the embedding
// API, and the reasoning service uniformly.
type DependencyPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// probe performs the actual reachability check.
	probe func(ctx context.Context) error
}

// NewDependencyPinger constructs a DependencyPinger for the given name and
// probe function.
func NewDependencyPinger(name string, probe func(ctx context.Context) error) *DependencyPinger {
	return &DependencyPinger{name: name, probe: probe}
}

// Name returns the dependency label used in readiness responses.
func (p *DependencyPinger) Name() string { return p.name }

// Ping runs the probe. Returns nil if the dependency is reachable, or a
// descriptive error otherwise.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.probe(ctx); err != nil {
		return fmt.Errorf("%s probe failed: %w", p.name, err)
	}
	return nil
}
