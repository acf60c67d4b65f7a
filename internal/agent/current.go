package agent

import (
	"context"
	"sync/atomic"

	"github.com/cloudwego/eino/schema"
)

// Current runs conversations on whichever Orchestrator was stored last.
// A run in flight keeps the orchestrator it started with.
type Current struct {
	orch atomic.Pointer[Orchestrator]
}

// NewCurrent creates a Current serving o.
func NewCurrent(o *Orchestrator) *Current {
	c := &Current{}
	c.orch.Store(o)
	return c
}

// Load returns the orchestrator new runs will use.
func (c *Current) Load() *Orchestrator { return c.orch.Load() }

// Store replaces the orchestrator for subsequent runs.
func (c *Current) Store(o *Orchestrator) { c.orch.Store(o) }

// Run delegates to the current orchestrator.
func (c *Current) Run(ctx context.Context, history []*schema.Message, sink Sink) (*Result, error) {
	return c.orch.Load().Run(ctx, history, sink)
}
