// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/devpilot/orchestrator/internal/metrics"
	"github.com/devpilot/orchestrator/internal/session"
	"github.com/google/uuid"
)

// Coordinator is what the executor needs from the agent layer.
type Coordinator interface {
	// ExecutePhase runs the responsible agents for a work phase, merging
	// their output and audit entries into state.
	ExecutePhase(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) error

	// HandleFeedback primes the responsible agents for a revision run.
	HandleFeedback(phase domain.Phase, feedback string, state *domain.WorkflowState)
}

type Deps struct {
	Machine     *Machine
	Coordinator Coordinator
	Store       session.Store
	Router      Router
	Logger      *slog.Logger
}

// Executor is the session façade over the state machine. It serializes
// operations per session id, persists state after every transition and runs
// work phases until the next gate or terminal phase.
type Executor struct {
	machine *Machine
	coord   Coordinator
	store   session.Store
	router  Router
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewExecutor(deps Deps) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		machine: deps.Machine,
		coord:   deps.Coordinator,
		store:   deps.Store,
		router:  deps.Router,
		logger:  logger,
	}
}

// Start creates a new session and runs it forward until the first gate, or
// to completion when autonomous routing approves every gate. The returned
// state is persisted even when a phase failed; the failure is in the error.
func (e *Executor) Start(ctx context.Context, projectName string, autonomous bool) (*domain.WorkflowState, error) {
	state := domain.NewWorkflowState(projectName, autonomous, time.Now().UTC())
	state.CurrentPhase = e.machine.EntryPhase()

	unlock := e.lockSession(state.SessionID)
	defer unlock()

	metrics.IncSession("started")
	e.logger.Info("session started",
		"session_id", state.SessionID,
		"project", projectName,
		"autonomous", autonomous,
	)

	if err := e.save(ctx, state); err != nil {
		return nil, err
	}
	return state, e.advance(ctx, state)
}

// Continue resumes a session: optional caller-supplied fields are merged
// into the state, then work phases run until the next gate or terminal
// phase. At a gate with an unresolved review it is a no-op under
// fail-closed routing.
func (e *Executor) Continue(ctx context.Context, id uuid.UUID, input map[string]any) (*domain.WorkflowState, error) {
	unlock := e.lockSession(id)
	defer unlock()

	state, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(input) > 0 {
		if state.Inputs == nil {
			state.Inputs = make(map[string]any, len(input))
		}
		for k, v := range input {
			state.Inputs[k] = v
		}
		state.LastUpdatedAt = time.Now().UTC()
		if err := e.save(ctx, state); err != nil {
			return nil, err
		}
	}

	return state, e.advance(ctx, state)
}

// Approve resolves the review at gate as approved and runs the session
// forward. The gate must be the session's current phase.
func (e *Executor) Approve(ctx context.Context, id uuid.UUID, gate domain.Phase) (*domain.WorkflowState, error) {
	unlock := e.lockSession(id)
	defer unlock()

	state, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.checkGate(state, gate); err != nil {
		return nil, err
	}

	state.ReviewStatus[gate] = domain.ReviewApproved
	state.LastUpdatedAt = time.Now().UTC()
	e.logger.Info("review approved",
		"session_id", state.SessionID,
		"phase", gate,
	)

	if err := e.save(ctx, state); err != nil {
		return nil, err
	}
	return state, e.advance(ctx, state)
}

// Feedback resolves the review at gate as feedback: the status and text are
// recorded and current_phase moves along the feedback edge. No work runs;
// the next Continue regenerates the artifact.
func (e *Executor) Feedback(ctx context.Context, id uuid.UUID, gate domain.Phase, text string) (*domain.WorkflowState, error) {
	unlock := e.lockSession(id)
	defer unlock()

	state, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.checkGate(state, gate); err != nil {
		return nil, err
	}

	next, err := e.machine.NextGate(gate, domain.OutcomeFeedback)
	if err != nil {
		return nil, err
	}

	state.ReviewStatus[gate] = domain.ReviewFeedback
	state.FeedbackText[gate] = text
	state.CurrentPhase = next
	state.LastUpdatedAt = time.Now().UTC()

	e.coord.HandleFeedback(e.machine.GateSource(gate), text, state)
	e.logger.Info("review feedback recorded",
		"session_id", state.SessionID,
		"phase", gate,
		"next_phase", next,
	)

	return state, e.save(ctx, state)
}

// StatusReport is the read-only session view returned by Status.
type StatusReport struct {
	SessionID      uuid.UUID                            `json:"session_id"`
	ProjectName    string                               `json:"project_name"`
	CurrentPhase   domain.Phase                         `json:"current_phase"`
	PhaseKind      domain.PhaseKind                     `json:"phase_kind"`
	AutonomousMode bool                                 `json:"autonomous_mode"`
	Completion     float64                              `json:"completion_percentage"`
	ReviewStatus   map[domain.Phase]domain.ReviewStatus `json:"review_status"`
	Summary        domain.ExecutionSummary              `json:"execution_summary"`
	StartedAt      time.Time                            `json:"started_at"`
	LastUpdatedAt  time.Time                            `json:"last_updated_at"`
}

func (e *Executor) Status(ctx context.Context, id uuid.UUID) (StatusReport, error) {
	state, err := e.store.Load(ctx, id)
	if err != nil {
		return StatusReport{}, err
	}

	return StatusReport{
		SessionID:      state.SessionID,
		ProjectName:    state.ProjectName,
		CurrentPhase:   state.CurrentPhase,
		PhaseKind:      state.CurrentPhase.Kind(),
		AutonomousMode: state.AutonomousMode,
		Completion:     state.CompletionPercentage(),
		ReviewStatus:   state.ReviewStatus,
		Summary:        state.Summary(),
		StartedAt:      state.StartedAt,
		LastUpdatedAt:  state.LastUpdatedAt,
	}, nil
}

// Log returns the session's execution log for streaming consumers.
func (e *Executor) Log(ctx context.Context, id uuid.UUID) ([]domain.ExecutionEntry, error) {
	state, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return state.ExecutionLog, nil
}

// Terminate deletes the session record.
func (e *Executor) Terminate(ctx context.Context, id uuid.UUID) error {
	unlock := e.lockSession(id)
	defer unlock()

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()

	metrics.IncSession("terminated")
	e.logger.Info("session terminated", "session_id", id)
	return nil
}

// advance drives the session forward until a gate holds for review, a work
// phase fails, or the terminal phase is reached. State is persisted after
// every transition; cancellation between phases never persists a partial
// phase result.
func (e *Executor) advance(ctx context.Context, state *domain.WorkflowState) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		phase := state.CurrentPhase
		switch phase.Kind() {
		case domain.KindTerminal:
			return nil

		case domain.KindGate:
			held, err := e.resolveGate(ctx, state, phase)
			if err != nil || held {
				return err
			}

		case domain.KindWork:
			if err := e.runWorkPhase(ctx, state, phase); err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: %s", domain.ErrInvalidPhase, phase)
		}
	}
}

// resolveGate routes the gate. held=true means the session stays at the
// gate waiting for a human review.
func (e *Executor) resolveGate(ctx context.Context, state *domain.WorkflowState, gate domain.Phase) (bool, error) {
	if state.ReviewStatus[gate] == "" {
		state.ReviewStatus[gate] = domain.ReviewPending
		state.LastUpdatedAt = time.Now().UTC()
		if err := e.save(ctx, state); err != nil {
			return false, err
		}
	}

	outcome, ok := e.router.Route(state, gate, e.machine.GateSource(gate))
	if !ok {
		return true, nil
	}

	next, err := e.machine.NextGate(gate, outcome)
	if err != nil {
		return false, err
	}

	if outcome == domain.OutcomeAutonomousApprove {
		state.ReviewStatus[gate] = domain.ReviewApproved
		metrics.IncAutonomousApproval(string(gate))
		e.logger.Info("gate autonomously approved",
			"session_id", state.SessionID,
			"phase", gate,
		)
	}

	state.CurrentPhase = next
	state.LastUpdatedAt = time.Now().UTC()
	return false, e.save(ctx, state)
}

func (e *Executor) runWorkPhase(ctx context.Context, state *domain.WorkflowState, phase domain.Phase) error {
	gate, isProducing := e.machine.SourceGate(phase)

	// Re-entry into a producing phase after feedback reopens the review:
	// the gate returns to pending and the artifact loses its final flag so
	// the revision runs at reduced confidence. Prior revisions are kept.
	if isProducing && state.ReviewStatus[gate] == domain.ReviewFeedback {
		state.ReviewStatus[gate] = domain.ReviewPending
		if art := state.PhaseArtifacts[phase]; art != nil {
			art.Final = false
		}
	}

	err := e.coord.ExecutePhase(ctx, phase, state)
	state.LastUpdatedAt = time.Now().UTC()
	if err != nil {
		// The phase does not advance; failed attempts stay in the log and
		// the session remains resumable from the same phase.
		if saveErr := e.save(ctx, state); saveErr != nil {
			e.logger.Error("failed to persist state after phase failure",
				"session_id", state.SessionID,
				"phase", phase,
				"error", saveErr,
			)
		}
		return err
	}

	if isProducing {
		// The regenerated artifact consumed the reviewer's feedback.
		delete(state.FeedbackText, gate)
	}

	next, err := e.machine.NextWork(phase)
	if err != nil {
		return err
	}
	state.CurrentPhase = next

	if next.IsTerminal() {
		metrics.IncSession("completed")
		e.logger.Info("session completed",
			"session_id", state.SessionID,
			"project", state.ProjectName,
		)
	}

	return e.save(ctx, state)
}

// checkGate validates that gate is a review phase the session is currently
// waiting at.
func (e *Executor) checkGate(state *domain.WorkflowState, gate domain.Phase) error {
	if !gate.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidPhase, gate)
	}
	if !gate.IsGate() {
		return fmt.Errorf("%w: %s", domain.ErrNotGatePhase, gate)
	}
	if state.CurrentPhase.IsTerminal() {
		return domain.ErrSessionTerminal
	}
	if state.CurrentPhase != gate {
		if status := state.ReviewStatus[gate]; status == domain.ReviewApproved || status == domain.ReviewFeedback {
			return fmt.Errorf("%w: %s is %s", domain.ErrReviewAlreadyResolved, gate, status)
		}
		return fmt.Errorf("%w: session is at %s", domain.ErrPhaseNotAwaitingReview, state.CurrentPhase)
	}
	return nil
}

func (e *Executor) save(ctx context.Context, state *domain.WorkflowState) error {
	started := time.Now()
	err := e.store.Save(ctx, state)
	metrics.ObserveSessionStoreLatency(time.Since(started))
	if err != nil {
		return fmt.Errorf("persist session %s: %w", state.SessionID, err)
	}
	return nil
}

func (e *Executor) lockSession(id uuid.UUID) func() {
	for {
		e.mu.Lock()
		if e.locks == nil {
			e.locks = make(map[uuid.UUID]*sync.Mutex)
		}
		lock, ok := e.locks[id]
		if !ok {
			lock = &sync.Mutex{}
			e.locks[id] = lock
		}
		e.mu.Unlock()

		lock.Lock()

		// Terminate may retire the map entry while we waited on it. Holding
		// a retired lock does not exclude callers that minted a fresh one,
		// so only a lock still registered for the id counts.
		e.mu.Lock()
		current := e.locks[id]
		e.mu.Unlock()
		if current == lock {
			return lock.Unlock
		}
		lock.Unlock()
	}
}
