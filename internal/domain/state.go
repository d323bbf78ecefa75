// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewFeedback ReviewStatus = "feedback"
)

type ReviewOutcome string

const (
	OutcomeApproved          ReviewOutcome = "approved"
	OutcomeFeedback          ReviewOutcome = "feedback"
	OutcomeAutonomousApprove ReviewOutcome = "autonomous_approve"
)

// Artifact is the output of one work phase. Regeneration after feedback
// bumps Revision and pushes the old content onto Previous; history is never
// discarded.
type Artifact struct {
	Phase     Phase             `json:"phase"`
	Content   json.RawMessage   `json:"content"`
	Revision  int               `json:"revision"`
	Final     bool              `json:"final"`
	Previous  []json.RawMessage `json:"previous,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Supersede replaces the artifact content, retaining the prior revision.
func (a *Artifact) Supersede(content json.RawMessage, now time.Time) {
	if len(a.Content) > 0 {
		a.Previous = append(a.Previous, a.Content)
	}
	a.Content = content
	a.Revision++
	a.Final = true
	a.UpdatedAt = now
}

// ExecutionEntry is one audit record of an agent running within a phase.
// Entries are append-only once written.
type ExecutionEntry struct {
	Phase     Phase     `json:"phase"`
	Agent     string    `json:"agent"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState is the single mutable record threaded through every phase.
// JSON field names are the persisted wire contract: sessions written by an
// older build must load in a newer one.
type WorkflowState struct {
	SessionID      uuid.UUID              `json:"session_id"`
	ProjectName    string                 `json:"project_name"`
	CurrentPhase   Phase                  `json:"current_phase"`
	AutonomousMode bool                   `json:"autonomous_mode"`
	PhaseArtifacts map[Phase]*Artifact    `json:"phase_artifacts"`
	ReviewStatus   map[Phase]ReviewStatus `json:"review_status"`
	FeedbackText   map[Phase]string       `json:"feedback_text,omitempty"`
	// PhaseConfidence holds the best agent confidence of each phase's
	// latest run in this session. Autonomous gate routing reads it, so it
	// must never mix in evidence from other sessions.
	PhaseConfidence map[Phase]float64 `json:"phase_confidence,omitempty"`
	Inputs          map[string]any    `json:"inputs,omitempty"`
	ExecutionLog    []ExecutionEntry  `json:"execution_log"`
	StartedAt       time.Time         `json:"started_at"`
	LastUpdatedAt   time.Time         `json:"last_updated_at"`
}

func NewWorkflowState(projectName string, autonomous bool, now time.Time) *WorkflowState {
	return &WorkflowState{
		SessionID:       uuid.New(),
		ProjectName:     projectName,
		CurrentPhase:    PhaseInitialize,
		AutonomousMode:  autonomous,
		PhaseArtifacts:  make(map[Phase]*Artifact),
		ReviewStatus:    make(map[Phase]ReviewStatus),
		FeedbackText:    make(map[Phase]string),
		PhaseConfidence: make(map[Phase]float64),
		Inputs:          make(map[string]any),
		ExecutionLog:    nil,
		StartedAt:       now,
		LastUpdatedAt:   now,
	}
}

// SetArtifact records the artifact produced by phase. Only the producing
// phase's execution step may call this.
func (s *WorkflowState) SetArtifact(phase Phase, content json.RawMessage, now time.Time) *Artifact {
	art, ok := s.PhaseArtifacts[phase]
	if !ok {
		art = &Artifact{
			Phase:     phase,
			Content:   content,
			Revision:  1,
			Final:     true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.PhaseArtifacts[phase] = art
		return art
	}
	art.Supersede(content, now)
	return art
}

// RecordConfidence keeps the best confidence observed so far for the
// current run of phase. Sessions persisted by older builds load with a nil
// map, so the map is created on first use.
func (s *WorkflowState) RecordConfidence(phase Phase, confidence float64) {
	if s.PhaseConfidence == nil {
		s.PhaseConfidence = make(map[Phase]float64)
	}
	if confidence > s.PhaseConfidence[phase] {
		s.PhaseConfidence[phase] = confidence
	}
}

// AppendLog appends one audit entry. The log is authoritative for
// completion metrics, so callers must never truncate or rewrite it.
func (s *WorkflowState) AppendLog(entry ExecutionEntry) {
	s.ExecutionLog = append(s.ExecutionLog, entry)
}

// CompletionPercentage is the maximum static weight across the current
// phase and every phase recorded in the execution log. Using the high-water
// mark keeps the percentage monotone across revision loops.
func (s *WorkflowState) CompletionPercentage() float64 {
	pct := s.CurrentPhase.Weight()
	for _, entry := range s.ExecutionLog {
		if w := entry.Phase.Weight(); w > pct {
			pct = w
		}
	}
	return pct
}

// ExecutionSummary aggregates the audit trail for status reporting.
type ExecutionSummary struct {
	PhasesExecuted int     `json:"phases_executed"`
	AgentsExecuted int     `json:"agents_executed"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	SuccessRate    float64 `json:"success_rate"`
}

func (s *WorkflowState) Summary() ExecutionSummary {
	phases := make(map[Phase]struct{})
	summary := ExecutionSummary{}
	for _, entry := range s.ExecutionLog {
		phases[entry.Phase] = struct{}{}
		summary.AgentsExecuted++
		if entry.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	summary.PhasesExecuted = len(phases)
	if summary.AgentsExecuted > 0 {
		summary.SuccessRate = float64(summary.Successful) / float64(summary.AgentsExecuted)
	}
	return summary
}

// PhasePartial reports whether the phase completed with at least one agent
// failure, i.e. its artifact is best-effort rather than full success.
func (s *WorkflowState) PhasePartial(phase Phase) bool {
	failed := false
	succeeded := false
	for _, entry := range s.ExecutionLog {
		if entry.Phase != phase {
			continue
		}
		if entry.Success {
			succeeded = true
		} else {
			failed = true
		}
	}
	return failed && succeeded
}
