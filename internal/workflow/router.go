// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"github.com/devpilot/orchestrator/internal/domain"
)

// DefaultConfidenceThreshold is the minimum best-agent confidence for an
// autonomous gate approval.
const DefaultConfidenceThreshold = 0.8

// ConfidenceSource reports the best agent confidence for the phase's latest
// run in the given session. ok is false when the phase has not executed for
// that session yet. Confidence is per-session evidence: implementations must
// not answer from another session's runs.
type ConfidenceSource interface {
	PhaseConfidence(state *domain.WorkflowState, phase domain.Phase) (float64, bool)
}

// Router decides the outcome at a review gate. It is pure routing: it never
// mutates state and never executes work.
type Router struct {
	Confidence ConfidenceSource

	// Threshold for autonomous approval; zero means DefaultConfidenceThreshold.
	Threshold float64

	// FailOpen treats an unresolved review as approved instead of holding
	// the session at the gate. Off by default: an unreviewed artifact does
	// not pass a gate on its own.
	FailOpen bool
}

// Route returns the outcome for the gate, or ok=false when the session must
// hold for a human decision. An explicit review status always wins; the
// autonomous path only applies to sessions started in autonomous mode.
func (r Router) Route(state *domain.WorkflowState, gate, producing domain.Phase) (domain.ReviewOutcome, bool) {
	switch state.ReviewStatus[gate] {
	case domain.ReviewApproved:
		return domain.OutcomeApproved, true
	case domain.ReviewFeedback:
		return domain.OutcomeFeedback, true
	}

	if state.AutonomousMode && r.autoApprove(state, producing) {
		return domain.OutcomeAutonomousApprove, true
	}

	if r.FailOpen {
		return domain.OutcomeApproved, true
	}
	return "", false
}

// autoApprove holds unless the producing phase's latest run was clean and
// the best agent confidence clears the threshold.
func (r Router) autoApprove(state *domain.WorkflowState, producing domain.Phase) bool {
	if r.Confidence == nil {
		return false
	}

	confidence, ok := r.Confidence.PhaseConfidence(state, producing)
	if !ok {
		return false
	}
	threshold := r.Threshold
	if threshold == 0 {
		threshold = DefaultConfidenceThreshold
	}
	if confidence < threshold {
		return false
	}

	return latestRunClean(state, producing)
}

// latestRunClean reports whether the most recent execution of phase
// completed with every agent succeeding. Agents of one phase execution log
// consecutively, so the trailing block of entries for the phase is its
// latest run.
func latestRunClean(state *domain.WorkflowState, phase domain.Phase) bool {
	last := -1
	for i := len(state.ExecutionLog) - 1; i >= 0; i-- {
		if state.ExecutionLog[i].Phase == phase {
			last = i
			break
		}
	}
	if last < 0 {
		return false
	}

	for i := last; i >= 0 && state.ExecutionLog[i].Phase == phase; i-- {
		if !state.ExecutionLog[i].Success {
			return false
		}
	}
	return true
}
