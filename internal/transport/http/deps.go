// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/devpilot/orchestrator/internal/connector"
	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/devpilot/orchestrator/internal/workflow"
	"github.com/google/uuid"
)

// SessionRunner is the session lifecycle the transport exposes. The
// workflow executor satisfies it.
type SessionRunner interface {
	Start(ctx context.Context, projectName string, autonomous bool) (*domain.WorkflowState, error)
	Continue(ctx context.Context, id uuid.UUID, input map[string]any) (*domain.WorkflowState, error)
	Approve(ctx context.Context, id uuid.UUID, gate domain.Phase) (*domain.WorkflowState, error)
	Feedback(ctx context.Context, id uuid.UUID, gate domain.Phase, text string) (*domain.WorkflowState, error)
	Status(ctx context.Context, id uuid.UUID) (workflow.StatusReport, error)
	Log(ctx context.Context, id uuid.UUID) ([]domain.ExecutionEntry, error)
	Terminate(ctx context.Context, id uuid.UUID) error
}

// ConnectorReporter exposes gateway health for the connectors endpoint.
type ConnectorReporter interface {
	Status(ctx context.Context) map[string]connector.Response
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
