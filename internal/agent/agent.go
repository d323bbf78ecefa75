// SPDX-License-Identifier: Apache-2.0

// Package agent implements the role-scoped agents that do the work inside
// each lifecycle phase, and the coordinator that runs them.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/devpilot/orchestrator/internal/worker"
	"github.com/google/uuid"
)

const (
	ActionProduceArtifact = "produce-artifact"
	ActionNotifyProgress  = "notify-progress"

	// maxMemory bounds per-agent decision history. Older decisions fall off;
	// they are context for future analysis, never replayed.
	maxMemory = 20

	baseConfidence     = 0.9
	revisionConfidence = 0.7
)

// Agent wraps a phase worker with a named role, bounded decision memory and
// a collaboration step with peers. One agent instance serves every session,
// so memory access is guarded: sessions execute phases concurrently.
type Agent struct {
	role   domain.AgentRole
	name   string
	worker worker.PhaseWorker
	logger *slog.Logger

	mu     sync.Mutex
	memory []domain.AgentDecision
}

func NewAgent(role domain.AgentRole, w worker.PhaseWorker, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		role:   role,
		name:   string(role),
		worker: w,
		logger: logger,
	}
}

func (a *Agent) Role() domain.AgentRole { return a.role }
func (a *Agent) Name() string           { return a.name }

// Analyze inspects the state and produces this agent's decision for the
// phase. The decision is appended to the agent's memory before any action
// runs so collaboration peers can see it.
func (a *Agent) Analyze(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (domain.AgentDecision, error) {
	if err := ctx.Err(); err != nil {
		return domain.AgentDecision{}, err
	}
	if !phase.Valid() || phase.Kind() != domain.KindWork {
		return domain.AgentDecision{}, fmt.Errorf("%w: %s", domain.ErrInvalidPhase, phase)
	}

	confidence := baseConfidence
	reasoning := fmt.Sprintf("%s analysis for %s in phase %s", a.role, state.ProjectName, phase)
	if art, ok := state.PhaseArtifacts[phase]; ok && art.Revision >= 1 && !art.Final {
		// Revision work after reviewer feedback: hold a lower confidence so
		// autonomous gates prefer a human look at reworked artifacts.
		confidence = revisionConfidence
		reasoning = fmt.Sprintf("%s rework for phase %s after reviewer feedback", a.role, phase)
	}

	decision := domain.AgentDecision{
		ID:         uuid.New(),
		Role:       a.role,
		Phase:      phase,
		Reasoning:  reasoning,
		Confidence: confidence,
		Actions: []domain.AgentAction{
			{
				Type:              ActionProduceArtifact,
				Target:            string(phase),
				Priority:          1,
				EstimatedDuration: time.Minute,
			},
			{
				Type:         ActionNotifyProgress,
				Target:       string(phase),
				Priority:     3,
				Dependencies: []string{ActionProduceArtifact},
			},
		},
		Timestamp: time.Now(),
	}

	a.remember(decision)
	return decision, nil
}

// ActionResult carries the state fragment an executed action contributes.
// Only artifact production mutates workflow state; everything else is
// observability.
type ActionResult struct {
	Artifact json.RawMessage
}

func (a *Agent) ExecuteAction(ctx context.Context, action domain.AgentAction, phase domain.Phase, state *domain.WorkflowState) (ActionResult, error) {
	switch action.Type {
	case ActionProduceArtifact:
		content, err := a.worker.Produce(ctx, phase, state)
		if err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Artifact: content}, nil
	case ActionNotifyProgress:
		a.logger.Debug("agent progress",
			"agent", a.name,
			"phase", phase,
			"target", action.Target,
		)
		return ActionResult{}, nil
	default:
		return ActionResult{}, fmt.Errorf("unknown action type %q", action.Type)
	}
}

// Collaborate compares this agent's latest decision with a peer's and
// returns any detected synergies. Pure log data, never state.
func (a *Agent) Collaborate(peer *Agent) []string {
	mine, ok := a.LatestDecision()
	if !ok {
		return nil
	}
	theirs, ok := peer.LatestDecision()
	if !ok {
		return nil
	}

	myActions := make(map[string]struct{}, len(mine.Actions))
	for _, action := range mine.Actions {
		myActions[action.Type] = struct{}{}
	}

	var synergies []string
	for _, action := range theirs.Actions {
		if _, shared := myActions[action.Type]; shared {
			synergies = append(synergies, fmt.Sprintf("shared action %s with %s", action.Type, peer.Name()))
		}
	}
	return synergies
}

func (a *Agent) LatestDecision() (domain.AgentDecision, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.memory) == 0 {
		return domain.AgentDecision{}, false
	}
	return a.memory[len(a.memory)-1], true
}

// DecisionCount reports how many decisions are currently held in memory.
func (a *Agent) DecisionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.memory)
}

func (a *Agent) remember(decision domain.AgentDecision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = append(a.memory, decision)
	if len(a.memory) > maxMemory {
		a.memory = a.memory[len(a.memory)-maxMemory:]
	}
}
