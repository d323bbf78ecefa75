// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/devpilot/orchestrator/internal/agent"
	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/devpilot/orchestrator/internal/session"
	"github.com/devpilot/orchestrator/internal/worker"
	"github.com/google/uuid"
)

func newTestExecutor(t *testing.T, w worker.PhaseWorker) (*Executor, *session.MemoryStore) {
	t.Helper()

	machine, err := NewMachine()
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	store := session.NewMemoryStore(0)
	coord := agent.NewCoordinator(agent.Deps{Worker: w})

	exec := NewExecutor(Deps{
		Machine:     machine,
		Coordinator: coord,
		Store:       store,
		Router:      Router{Confidence: coord},
	})
	return exec, store
}

func TestStartStopsAtFirstGate(t *testing.T) {
	exec, store := newTestExecutor(t, nil)

	state, err := exec.Start(context.Background(), "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if state.CurrentPhase != domain.PhaseReviewStories {
		t.Fatalf("current phase = %s, want review-stories", state.CurrentPhase)
	}
	if state.ReviewStatus[domain.PhaseReviewStories] != domain.ReviewPending {
		t.Fatalf("review status = %s, want pending", state.ReviewStatus[domain.PhaseReviewStories])
	}
	for _, phase := range []domain.Phase{domain.PhaseInitialize, domain.PhaseCollectRequirements, domain.PhaseGenerateStories} {
		if _, ok := state.PhaseArtifacts[phase]; !ok {
			t.Fatalf("missing artifact for %s", phase)
		}
	}
	if got := state.CompletionPercentage(); got != 20 {
		t.Fatalf("completion = %v, want 20", got)
	}

	// The held state must already be persisted.
	persisted, err := store.Load(context.Background(), state.SessionID)
	if err != nil {
		t.Fatalf("load persisted: %v", err)
	}
	if persisted.CurrentPhase != state.CurrentPhase {
		t.Fatalf("persisted phase %s != returned %s", persisted.CurrentPhase, state.CurrentPhase)
	}
}

func TestContinueIsNoOpAtPendingGate(t *testing.T) {
	exec, store := newTestExecutor(t, nil)

	state, err := exec.Start(context.Background(), "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	before, err := store.Load(context.Background(), state.SessionID)
	if err != nil {
		t.Fatalf("load before: %v", err)
	}

	if _, err := exec.Continue(context.Background(), state.SessionID, nil); err != nil {
		t.Fatalf("continue: %v", err)
	}

	after, err := store.Load(context.Background(), state.SessionID)
	if err != nil {
		t.Fatalf("load after: %v", err)
	}

	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(after)
	if string(beforeJSON) != string(afterJSON) {
		t.Fatalf("continue at pending gate mutated state:\nbefore %s\nafter  %s", beforeJSON, afterJSON)
	}
	if len(after.ExecutionLog) != len(before.ExecutionLog) {
		t.Fatalf("continue added log entries: %d -> %d", len(before.ExecutionLog), len(after.ExecutionLog))
	}
}

func TestContinueMergesInputs(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	state, err := exec.Start(context.Background(), "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	updated, err := exec.Continue(context.Background(), state.SessionID, map[string]any{"priority": "high"})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if updated.Inputs["priority"] != "high" {
		t.Fatalf("input not merged: %v", updated.Inputs)
	}
}

func TestFeedbackLoopRegeneratesArtifact(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	state, err := exec.Start(context.Background(), "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	firstContent := string(state.PhaseArtifacts[domain.PhaseGenerateStories].Content)

	state, err = exec.Feedback(context.Background(), state.SessionID, domain.PhaseReviewStories, "add acceptance criteria")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if state.CurrentPhase != domain.PhaseGenerateStories {
		t.Fatalf("after feedback current phase = %s, want generate-stories", state.CurrentPhase)
	}
	if state.ReviewStatus[domain.PhaseReviewStories] != domain.ReviewFeedback {
		t.Fatalf("review status = %s, want feedback", state.ReviewStatus[domain.PhaseReviewStories])
	}
	if got := state.CompletionPercentage(); got != 20 {
		t.Fatalf("completion regressed to %v during revision loop", got)
	}

	state, err = exec.Continue(context.Background(), state.SessionID, nil)
	if err != nil {
		t.Fatalf("continue after feedback: %v", err)
	}

	art := state.PhaseArtifacts[domain.PhaseGenerateStories]
	if art.Revision != 2 {
		t.Fatalf("artifact revision = %d, want 2", art.Revision)
	}
	if len(art.Previous) != 1 {
		t.Fatalf("previous revisions = %d, want 1", len(art.Previous))
	}
	if string(art.Content) == firstContent {
		t.Fatal("regenerated artifact is identical to the rejected one")
	}
	if state.CurrentPhase != domain.PhaseReviewStories {
		t.Fatalf("current phase = %s, want review-stories again", state.CurrentPhase)
	}
	if state.ReviewStatus[domain.PhaseReviewStories] != domain.ReviewPending {
		t.Fatalf("review status after regeneration = %s, want pending", state.ReviewStatus[domain.PhaseReviewStories])
	}
	if _, ok := state.FeedbackText[domain.PhaseReviewStories]; ok {
		t.Fatal("feedback text should be cleared once consumed")
	}

	// Only the stories artifact was touched; earlier artifacts kept rev 1.
	if rev := state.PhaseArtifacts[domain.PhaseCollectRequirements].Revision; rev != 1 {
		t.Fatalf("collect-requirements revision = %d, want 1", rev)
	}

	// The audit trail retains both attempts.
	runs := 0
	for _, entry := range state.ExecutionLog {
		if entry.Phase == domain.PhaseGenerateStories {
			runs++
		}
	}
	if runs != 2 {
		t.Fatalf("execution log has %d generate-stories entries, want 2", runs)
	}
}

func TestApproveAdvancesToNextGate(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	state, err := exec.Start(context.Background(), "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	state, err = exec.Approve(context.Background(), state.SessionID, domain.PhaseReviewStories)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	if state.CurrentPhase != domain.PhaseReviewDesign {
		t.Fatalf("current phase = %s, want review-design", state.CurrentPhase)
	}
	if state.ReviewStatus[domain.PhaseReviewStories] != domain.ReviewApproved {
		t.Fatalf("review-stories status = %s, want approved", state.ReviewStatus[domain.PhaseReviewStories])
	}
	if _, ok := state.PhaseArtifacts[domain.PhaseCreateDesign]; !ok {
		t.Fatal("missing design artifact")
	}
	if got := state.CompletionPercentage(); got != 35 {
		t.Fatalf("completion = %v, want 35", got)
	}
}

func TestApproveValidation(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	ctx := context.Background()

	state, err := exec.Start(ctx, "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := exec.Approve(ctx, uuid.New(), domain.PhaseReviewStories); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("unknown session: %v", err)
	}
	if _, err := exec.Approve(ctx, state.SessionID, domain.Phase("bogus")); !errors.Is(err, domain.ErrInvalidPhase) {
		t.Fatalf("bogus phase: %v", err)
	}
	if _, err := exec.Approve(ctx, state.SessionID, domain.PhaseGenerateCode); !errors.Is(err, domain.ErrNotGatePhase) {
		t.Fatalf("work phase: %v", err)
	}
	if _, err := exec.Approve(ctx, state.SessionID, domain.PhaseReviewDesign); !errors.Is(err, domain.ErrPhaseNotAwaitingReview) {
		t.Fatalf("future gate: %v", err)
	}

	if _, err := exec.Approve(ctx, state.SessionID, domain.PhaseReviewStories); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := exec.Approve(ctx, state.SessionID, domain.PhaseReviewStories); !errors.Is(err, domain.ErrReviewAlreadyResolved) {
		t.Fatalf("re-approve: %v", err)
	}
}

func TestAutonomousRunCompletes(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	state, err := exec.Start(context.Background(), "Inventory System", true)
	if err != nil {
		t.Fatalf("autonomous start: %v", err)
	}

	if state.CurrentPhase != domain.PhaseDone {
		t.Fatalf("current phase = %s, want done", state.CurrentPhase)
	}
	if got := state.CompletionPercentage(); got != 100 {
		t.Fatalf("completion = %v, want 100", got)
	}
	for _, gate := range []domain.Phase{
		domain.PhaseReviewStories, domain.PhaseReviewDesign, domain.PhaseCodeReview,
		domain.PhaseSecurityReview, domain.PhaseTestReview, domain.PhaseQAReview,
	} {
		if state.ReviewStatus[gate] != domain.ReviewApproved {
			t.Fatalf("gate %s status = %s, want approved", gate, state.ReviewStatus[gate])
		}
	}
	summary := state.Summary()
	if summary.Failed != 0 {
		t.Fatalf("autonomous run recorded %d failures", summary.Failed)
	}
}

func TestFailedPhaseDoesNotAdvance(t *testing.T) {
	failing := true
	w := worker.Func(func(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (json.RawMessage, error) {
		if failing && phase == domain.PhaseCreateDesign {
			return nil, errors.New("model unavailable")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	exec, store := newTestExecutor(t, w)
	ctx := context.Background()

	state, err := exec.Start(ctx, "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = exec.Approve(ctx, state.SessionID, domain.PhaseReviewStories)
	var workerErr *domain.WorkerError
	if !errors.As(err, &workerErr) {
		t.Fatalf("expected WorkerError, got %v", err)
	}
	if workerErr.Phase != domain.PhaseCreateDesign {
		t.Fatalf("failing phase = %s, want create-design", workerErr.Phase)
	}

	// Failure is persisted: the session is parked at the failing phase with
	// the failed attempts in the log.
	persisted, err := store.Load(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if persisted.CurrentPhase != domain.PhaseCreateDesign {
		t.Fatalf("current phase = %s, want create-design", persisted.CurrentPhase)
	}
	if _, ok := persisted.PhaseArtifacts[domain.PhaseCreateDesign]; ok {
		t.Fatal("failed phase must not leave an artifact")
	}

	// The session is resumable from the same phase once the worker recovers.
	failing = false
	resumed, err := exec.Continue(ctx, state.SessionID, nil)
	if err != nil {
		t.Fatalf("continue after recovery: %v", err)
	}
	if resumed.CurrentPhase != domain.PhaseReviewDesign {
		t.Fatalf("current phase = %s, want review-design", resumed.CurrentPhase)
	}
	if resumed.Summary().Failed == 0 {
		t.Fatal("audit trail lost the failed attempts")
	}
}

func TestSingleAgentFailureStillCompletesPhase(t *testing.T) {
	// create-design runs two agents; fail only the first call into the
	// phase. The phase completes best-effort and the failure stays visible.
	failedOnce := false
	w := worker.Func(func(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (json.RawMessage, error) {
		if phase == domain.PhaseCreateDesign && !failedOnce {
			failedOnce = true
			return nil, errors.New("model unavailable")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	exec, _ := newTestExecutor(t, w)
	ctx := context.Background()

	state, err := exec.Start(ctx, "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	state, err = exec.Approve(ctx, state.SessionID, domain.PhaseReviewStories)
	if err != nil {
		t.Fatalf("approve despite one agent failing: %v", err)
	}

	if state.CurrentPhase != domain.PhaseReviewDesign {
		t.Fatalf("current phase = %s, want review-design", state.CurrentPhase)
	}
	if _, ok := state.PhaseArtifacts[domain.PhaseCreateDesign]; !ok {
		t.Fatal("expected best-effort design artifact")
	}
	if !state.PhasePartial(domain.PhaseCreateDesign) {
		t.Fatal("expected create-design flagged partial")
	}
	if state.Summary().Failed != 1 {
		t.Fatalf("summary failed = %d, want 1", state.Summary().Failed)
	}
}

func TestStatusReport(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	ctx := context.Background()

	state, err := exec.Start(ctx, "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	report, err := exec.Status(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.CurrentPhase != domain.PhaseReviewStories || report.PhaseKind != domain.KindGate {
		t.Fatalf("unexpected report position: %s/%s", report.CurrentPhase, report.PhaseKind)
	}
	if report.Completion != 20 {
		t.Fatalf("report completion = %v, want 20", report.Completion)
	}
	if report.Summary.Failed != 0 || report.Summary.SuccessRate != 1 {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}

	if _, err := exec.Status(ctx, uuid.New()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("unknown session status: %v", err)
	}
}

func TestTerminateRemovesSession(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	ctx := context.Background()

	state, err := exec.Start(ctx, "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := exec.Terminate(ctx, state.SessionID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, err := exec.Status(ctx, state.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after terminate, got %v", err)
	}
}

func TestAutonomousApprovalUsesOwnSessionEvidence(t *testing.T) {
	exec, store := newTestExecutor(t, nil)
	ctx := context.Background()

	// Session B regenerates after reviewer feedback; its stories run carries
	// the reduced revision confidence and holds at review-stories.
	b, err := exec.Start(ctx, "Billing", false)
	if err != nil {
		t.Fatalf("start b: %v", err)
	}
	if _, err := exec.Feedback(ctx, b.SessionID, domain.PhaseReviewStories, "split the epics"); err != nil {
		t.Fatalf("feedback b: %v", err)
	}
	if _, err := exec.Continue(ctx, b.SessionID, nil); err != nil {
		t.Fatalf("continue b: %v", err)
	}

	// Session A then runs every phase fresh at full confidence on the same
	// shared agents, making its decisions the agents' most recent memory.
	a, err := exec.Start(ctx, "Inventory System", true)
	if err != nil {
		t.Fatalf("start a: %v", err)
	}
	if a.CurrentPhase != domain.PhaseDone {
		t.Fatalf("session a phase = %s, want done", a.CurrentPhase)
	}

	state, err := store.Load(ctx, b.SessionID)
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if got := state.PhaseConfidence[domain.PhaseGenerateStories]; got >= DefaultConfidenceThreshold {
		t.Fatalf("revision confidence = %v, want below %v", got, DefaultConfidenceThreshold)
	}

	// Even in autonomous mode, B's gate must hold on B's own evidence.
	state.AutonomousMode = true
	if outcome, ok := exec.router.Route(state, domain.PhaseReviewStories, domain.PhaseGenerateStories); ok {
		t.Fatalf("revision gate approved with outcome %s using another session's confidence", outcome)
	}
}

func TestSessionLockStaysExclusiveAcrossTermination(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	id := uuid.New()

	const workers = 16
	var counter int // guarded only by the session lock
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			unlock := exec.lockSession(id)
			counter++
			unlock()
		}()
	}

	close(start)
	// Terminate retires the lock entry while the workers contend for it;
	// a waiter must re-acquire on the replacement, never proceed on the
	// retired mutex.
	for i := 0; i < workers; i++ {
		if err := exec.Terminate(context.Background(), id); err != nil {
			t.Fatalf("terminate: %v", err)
		}
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("counter = %d, want %d: session lock exclusivity lost", counter, workers)
	}
}

func TestFeedbackAfterResolutionRejected(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	ctx := context.Background()

	state, err := exec.Start(ctx, "Inventory System", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := exec.Feedback(ctx, state.SessionID, domain.PhaseReviewStories, "more detail"); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if _, err := exec.Feedback(ctx, state.SessionID, domain.PhaseReviewStories, "again"); !errors.Is(err, domain.ErrReviewAlreadyResolved) {
		t.Fatalf("second feedback: %v", err)
	}
}
