// SPDX-License-Identifier: Apache-2.0

// Package worker defines the phase worker capability: the pluggable
// function-per-phase that produces a phase's artifact. The orchestration
// core only depends on the PhaseWorker contract; what generates the
// content behind it is interchangeable.
package worker

import (
	"context"
	"encoding/json"

	"github.com/devpilot/orchestrator/internal/domain"
)

type PhaseWorker interface {
	// Produce returns the artifact for phase given the current state, or an
	// error when no artifact could be produced. Timeouts are the adapter's
	// responsibility; the core treats any error as an ordinary phase failure.
	Produce(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (json.RawMessage, error)
}

// Func adapts a plain function to the PhaseWorker interface.
type Func func(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (json.RawMessage, error)

func (f Func) Produce(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (json.RawMessage, error) {
	return f(ctx, phase, state)
}
