// SPDX-License-Identifier: Apache-2.0

// Package workflow contains the orchestration core: the static phase
// transition table, the review-gate router and the session executor that
// drives workflow state through them.
package workflow

import (
	"errors"
	"fmt"

	"github.com/devpilot/orchestrator/internal/domain"
)

// ErrIncompleteTransitions is returned by NewMachine when the transition
// table does not cover every phase and gate outcome. It is a construction
// error: a machine that validates never fails to route at run time.
var ErrIncompleteTransitions = errors.New("incomplete transition table")

// Machine is the static lifecycle transition table. Work phases have exactly
// one successor; gate phases map each review outcome to a successor. The
// table is fixed at construction and safe for concurrent use.
type Machine struct {
	workNext   map[domain.Phase]domain.Phase
	gateNext   map[domain.Phase]map[domain.ReviewOutcome]domain.Phase
	gateSource map[domain.Phase]domain.Phase
	sourceGate map[domain.Phase]domain.Phase
}

func NewMachine() (*Machine, error) {
	m := &Machine{
		workNext: map[domain.Phase]domain.Phase{
			domain.PhaseInitialize:          domain.PhaseCollectRequirements,
			domain.PhaseCollectRequirements: domain.PhaseGenerateStories,
			domain.PhaseGenerateStories:     domain.PhaseReviewStories,
			domain.PhaseCreateDesign:        domain.PhaseReviewDesign,
			domain.PhaseReviseDesign:        domain.PhaseCreateDesign,
			domain.PhaseGenerateCode:        domain.PhaseCodeReview,
			domain.PhaseFixCode:             domain.PhaseGenerateCode,
			domain.PhaseSecurityScan:        domain.PhaseSecurityReview,
			domain.PhaseFixAfterSecurity:    domain.PhaseSecurityScan,
			domain.PhaseWriteTests:          domain.PhaseTestReview,
			domain.PhaseReviseTests:         domain.PhaseWriteTests,
			domain.PhaseQATest:              domain.PhaseQAReview,
			domain.PhaseDeploy:              domain.PhaseFinalizeArtifacts,
			domain.PhaseFinalizeArtifacts:   domain.PhaseDone,
		},
		gateNext: map[domain.Phase]map[domain.ReviewOutcome]domain.Phase{
			domain.PhaseReviewStories: {
				domain.OutcomeApproved:          domain.PhaseCreateDesign,
				domain.OutcomeAutonomousApprove: domain.PhaseCreateDesign,
				domain.OutcomeFeedback:          domain.PhaseGenerateStories,
			},
			domain.PhaseReviewDesign: {
				domain.OutcomeApproved:          domain.PhaseGenerateCode,
				domain.OutcomeAutonomousApprove: domain.PhaseGenerateCode,
				domain.OutcomeFeedback:          domain.PhaseReviseDesign,
			},
			domain.PhaseCodeReview: {
				domain.OutcomeApproved:          domain.PhaseSecurityScan,
				domain.OutcomeAutonomousApprove: domain.PhaseSecurityScan,
				domain.OutcomeFeedback:          domain.PhaseFixCode,
			},
			domain.PhaseSecurityReview: {
				domain.OutcomeApproved:          domain.PhaseWriteTests,
				domain.OutcomeAutonomousApprove: domain.PhaseWriteTests,
				domain.OutcomeFeedback:          domain.PhaseFixAfterSecurity,
			},
			domain.PhaseTestReview: {
				domain.OutcomeApproved:          domain.PhaseQATest,
				domain.OutcomeAutonomousApprove: domain.PhaseQATest,
				domain.OutcomeFeedback:          domain.PhaseReviseTests,
			},
			domain.PhaseQAReview: {
				domain.OutcomeApproved:          domain.PhaseDeploy,
				domain.OutcomeAutonomousApprove: domain.PhaseDeploy,
				domain.OutcomeFeedback:          domain.PhaseGenerateCode,
			},
		},
		gateSource: map[domain.Phase]domain.Phase{
			domain.PhaseReviewStories:  domain.PhaseGenerateStories,
			domain.PhaseReviewDesign:   domain.PhaseCreateDesign,
			domain.PhaseCodeReview:     domain.PhaseGenerateCode,
			domain.PhaseSecurityReview: domain.PhaseSecurityScan,
			domain.PhaseTestReview:     domain.PhaseWriteTests,
			domain.PhaseQAReview:       domain.PhaseQATest,
		},
	}

	m.sourceGate = make(map[domain.Phase]domain.Phase, len(m.gateSource))
	for gate, source := range m.gateSource {
		m.sourceGate[source] = gate
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

var reviewOutcomes = []domain.ReviewOutcome{
	domain.OutcomeApproved,
	domain.OutcomeFeedback,
	domain.OutcomeAutonomousApprove,
}

func (m *Machine) validate() error {
	for _, phase := range domain.AllPhases {
		switch phase.Kind() {
		case domain.KindWork:
			next, ok := m.workNext[phase]
			if !ok {
				return fmt.Errorf("%w: work phase %s has no successor", ErrIncompleteTransitions, phase)
			}
			if !next.Valid() {
				return fmt.Errorf("%w: work phase %s points at unknown phase %s", ErrIncompleteTransitions, phase, next)
			}
		case domain.KindGate:
			outcomes, ok := m.gateNext[phase]
			if !ok {
				return fmt.Errorf("%w: gate %s has no outcome table", ErrIncompleteTransitions, phase)
			}
			for _, outcome := range reviewOutcomes {
				next, ok := outcomes[outcome]
				if !ok {
					return fmt.Errorf("%w: gate %s missing outcome %s", ErrIncompleteTransitions, phase, outcome)
				}
				if !next.Valid() {
					return fmt.Errorf("%w: gate %s outcome %s points at unknown phase %s", ErrIncompleteTransitions, phase, outcome, next)
				}
			}
			source, ok := m.gateSource[phase]
			if !ok {
				return fmt.Errorf("%w: gate %s has no producing phase", ErrIncompleteTransitions, phase)
			}
			if source.Kind() != domain.KindWork {
				return fmt.Errorf("%w: gate %s producing phase %s is not a work phase", ErrIncompleteTransitions, phase, source)
			}
		}
	}

	for phase := range m.workNext {
		if phase.Kind() != domain.KindWork {
			return fmt.Errorf("%w: %s in work table is not a work phase", ErrIncompleteTransitions, phase)
		}
	}
	for gate := range m.gateNext {
		if !gate.IsGate() {
			return fmt.Errorf("%w: %s in gate table is not a gate", ErrIncompleteTransitions, gate)
		}
	}
	return nil
}

// NextWork returns the successor of a work phase.
func (m *Machine) NextWork(phase domain.Phase) (domain.Phase, error) {
	next, ok := m.workNext[phase]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidPhase, phase)
	}
	return next, nil
}

// NextGate returns the successor of a gate for the given review outcome.
func (m *Machine) NextGate(gate domain.Phase, outcome domain.ReviewOutcome) (domain.Phase, error) {
	outcomes, ok := m.gateNext[gate]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrNotGatePhase, gate)
	}
	next, ok := outcomes[outcome]
	if !ok {
		return "", fmt.Errorf("unknown review outcome %q at gate %s", outcome, gate)
	}
	return next, nil
}

// GateSource returns the work phase whose artifact the gate reviews.
func (m *Machine) GateSource(gate domain.Phase) domain.Phase {
	return m.gateSource[gate]
}

// SourceGate returns the gate reviewing the given producing work phase, if
// any. Revise phases are not producing phases; their output is reviewed
// after the producing phase re-runs.
func (m *Machine) SourceGate(phase domain.Phase) (domain.Phase, bool) {
	gate, ok := m.sourceGate[phase]
	return gate, ok
}

// EntryPhase is where every new session starts.
func (m *Machine) EntryPhase() domain.Phase {
	return domain.PhaseInitialize
}
