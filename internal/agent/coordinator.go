// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devpilot/orchestrator/internal/connector"
	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/devpilot/orchestrator/internal/metrics"
	"github.com/devpilot/orchestrator/internal/worker"
)

// phaseRoles statically maps every work phase to its responsible agent
// roles, in execution order. Resolved once at construction, never per call.
var phaseRoles = map[domain.Phase][]domain.AgentRole{
	domain.PhaseInitialize:          {domain.RoleProjectManager},
	domain.PhaseCollectRequirements: {domain.RoleProjectManager, domain.RoleBusinessAnalyst},
	domain.PhaseGenerateStories:     {domain.RoleBusinessAnalyst},
	domain.PhaseCreateDesign:        {domain.RoleSoftwareArchitect, domain.RoleBusinessAnalyst},
	domain.PhaseReviseDesign:        {domain.RoleSoftwareArchitect},
	domain.PhaseGenerateCode:        {domain.RoleDeveloper, domain.RoleSoftwareArchitect},
	domain.PhaseFixCode:             {domain.RoleDeveloper},
	domain.PhaseSecurityScan:        {domain.RoleSecurityExpert, domain.RoleDeveloper},
	domain.PhaseFixAfterSecurity:    {domain.RoleDeveloper, domain.RoleSecurityExpert},
	domain.PhaseWriteTests:          {domain.RoleQAEngineer, domain.RoleDeveloper},
	domain.PhaseReviseTests:         {domain.RoleQAEngineer},
	domain.PhaseQATest:              {domain.RoleQAEngineer},
	domain.PhaseDeploy:              {domain.RoleDevOpsEngineer, domain.RoleDeveloper},
	domain.PhaseFinalizeArtifacts:   {domain.RoleProjectManager},
}

type Deps struct {
	Worker     worker.PhaseWorker
	Logger     *slog.Logger
	Connectors *connector.Manager
}

// Coordinator resolves which agents are responsible for a phase, runs them
// sequentially with a collaboration pass, merges their outputs into the
// workflow state and appends the audit trail.
type Coordinator struct {
	agents     map[domain.AgentRole]*Agent
	logger     *slog.Logger
	connectors *connector.Manager
}

func NewCoordinator(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := deps.Worker
	if w == nil {
		w = worker.NewTemplateWorker()
	}

	agents := make(map[domain.AgentRole]*Agent)
	for _, roles := range phaseRoles {
		for _, role := range roles {
			if _, ok := agents[role]; !ok {
				agents[role] = NewAgent(role, w, logger)
			}
		}
	}

	return &Coordinator{
		agents:     agents,
		logger:     logger,
		connectors: deps.Connectors,
	}
}

// RolesFor returns the responsible roles for a work phase, in order.
func (c *Coordinator) RolesFor(phase domain.Phase) []domain.AgentRole {
	return phaseRoles[phase]
}

// ExecutePhase runs every responsible agent for the phase. A single agent's
// failure is absorbed: it is logged with success=false and the remaining
// agents still run. The phase fails only when no agent produced the
// artifact.
func (c *Coordinator) ExecutePhase(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) error {
	roles := phaseRoles[phase]
	if len(roles) == 0 {
		return &domain.WorkerError{Phase: phase, Err: domain.ErrInvalidPhase}
	}

	started := time.Now()
	c.logger.Info("phase execution starting",
		"session_id", state.SessionID,
		"phase", phase,
		"agents", len(roles),
	)

	var produced bool
	var lastErr error
	ran := make([]*Agent, 0, len(roles))

	// Confidence is per run: evidence from an earlier attempt of this phase
	// must not carry into this one.
	delete(state.PhaseConfidence, phase)

	for _, role := range roles {
		if err := ctx.Err(); err != nil {
			return &domain.WorkerError{Phase: phase, Err: err}
		}

		ag := c.agents[role]
		ran = append(ran, ag)

		if err := c.runAgent(ctx, ag, phase, state, &produced); err != nil {
			// Per-agent isolation: record and keep going.
			agentErr := &domain.AgentError{Agent: ag.Name(), Phase: phase, Err: err}
			c.logger.Error("agent failed",
				"session_id", state.SessionID,
				"phase", phase,
				"agent", ag.Name(),
				"error", err,
			)
			metrics.IncAgentFailure(ag.Name())
			state.AppendLog(domain.ExecutionEntry{
				Phase:     phase,
				Agent:     ag.Name(),
				Success:   false,
				Error:     agentErr.Error(),
				Timestamp: time.Now(),
			})
			lastErr = err
			continue
		}

		state.AppendLog(domain.ExecutionEntry{
			Phase:     phase,
			Agent:     ag.Name(),
			Success:   true,
			Timestamp: time.Now(),
		})
	}

	c.collaborate(phase, state, ran)

	if !produced {
		metrics.IncPhaseExecution(string(phase), "failed")
		return &domain.WorkerError{Phase: phase, Err: lastErr}
	}

	metrics.IncPhaseExecution(string(phase), "completed")
	metrics.ObservePhaseDuration(time.Since(started))

	if state.PhasePartial(phase) {
		c.logger.Warn("phase completed partially",
			"session_id", state.SessionID,
			"phase", phase,
		)
	}

	c.notifyPhaseComplete(phase, state)
	return nil
}

func (c *Coordinator) runAgent(ctx context.Context, ag *Agent, phase domain.Phase, state *domain.WorkflowState, produced *bool) error {
	decision, err := ag.Analyze(ctx, phase, state)
	if err != nil {
		return err
	}
	state.RecordConfidence(phase, decision.Confidence)

	// Actions run in decision order; priority is advisory metadata only.
	for _, action := range decision.Actions {
		result, err := ag.ExecuteAction(ctx, action, phase, state)
		if err != nil {
			return err
		}
		if len(result.Artifact) > 0 && !*produced {
			// First producer wins; later agents refine via their own
			// decisions, not by overwriting the phase artifact.
			state.SetArtifact(phase, result.Artifact, time.Now())
			*produced = true
		}
	}
	return nil
}

// collaborate runs the pairwise collaboration pass. Synergies are log data
// only; collaboration never mutates workflow state.
func (c *Coordinator) collaborate(phase domain.Phase, state *domain.WorkflowState, agents []*Agent) {
	for i, ag := range agents {
		for j, peer := range agents {
			if i == j {
				continue
			}
			for _, synergy := range ag.Collaborate(peer) {
				c.logger.Info("agent collaboration",
					"session_id", state.SessionID,
					"phase", phase,
					"agent", ag.Name(),
					"peer", peer.Name(),
					"synergy", synergy,
				)
			}
		}
	}
}

// PhaseConfidence returns the best confidence recorded for the phase's
// latest run in this session. ok is false when the phase has not executed
// for this session yet. Agent decision memory is shared across sessions and
// is deliberately not consulted here: one session's confident run must never
// approve another session's gate.
func (c *Coordinator) PhaseConfidence(state *domain.WorkflowState, phase domain.Phase) (float64, bool) {
	confidence, ok := state.PhaseConfidence[phase]
	return confidence, ok
}

// Recommendations returns each agent's most recent decision, keyed by role.
func (c *Coordinator) Recommendations() map[domain.AgentRole]domain.AgentDecision {
	out := make(map[domain.AgentRole]domain.AgentDecision)
	for role, ag := range c.agents {
		if decision, ok := ag.LatestDecision(); ok {
			out[role] = decision
		}
	}
	return out
}

// HandleFeedback primes the responsible agents with reviewer feedback ahead
// of the revision run.
func (c *Coordinator) HandleFeedback(phase domain.Phase, feedback string, state *domain.WorkflowState) {
	for _, role := range phaseRoles[phase] {
		c.logger.Info("feedback routed to agent",
			"session_id", state.SessionID,
			"phase", phase,
			"agent", string(role),
			"feedback", feedback,
		)
	}
}

func (c *Coordinator) notifyPhaseComplete(phase domain.Phase, state *domain.WorkflowState) {
	if c.connectors == nil {
		return
	}

	completion := state.CompletionPercentage()
	// title/text are the rendered form for sinks that post human-readable
	// messages (chat webhooks, issue trackers); the raw fields stay for
	// machine consumers.
	c.connectors.Notify(map[string]any{
		"event":      "phase_completed",
		"session_id": state.SessionID.String(),
		"project":    state.ProjectName,
		"phase":      string(phase),
		"completion": completion,
		"title":      fmt.Sprintf("%s: phase %s completed", state.ProjectName, phase),
		"text": fmt.Sprintf("Phase %s completed for project %s (%.0f%% done, session %s).",
			phase, state.ProjectName, completion, state.SessionID),
	})
}
