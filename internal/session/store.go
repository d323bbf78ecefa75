// SPDX-License-Identifier: Apache-2.0

// Package session provides the workflow session store: durable (or
// in-memory) persistence of WorkflowState keyed by session id. Stores are
// last-write-wins; the executor serializes operations per session, so no
// compare-and-swap is needed at this layer.
package session

import (
	"context"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/google/uuid"
)

type Store interface {
	// Save persists the full state under its session id, replacing any
	// previous record.
	Save(ctx context.Context, state *domain.WorkflowState) error

	// Load returns the state for id, or domain.ErrSessionNotFound when the
	// id is unknown or the record has expired. The returned state is a
	// private copy; mutating it does not affect the store.
	Load(ctx context.Context, id uuid.UUID) (*domain.WorkflowState, error)

	// Delete removes the record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// Clear removes every record.
	Clear(ctx context.Context) error
}
