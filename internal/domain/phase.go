// SPDX-License-Identifier: Apache-2.0

package domain

// Phase names are part of the wire contract: callers and persisted sessions
// match on these strings, so they must remain stable across versions.
type Phase string

const (
	PhaseInitialize          Phase = "initialize"
	PhaseCollectRequirements Phase = "collect-requirements"
	PhaseGenerateStories     Phase = "generate-stories"
	PhaseReviewStories       Phase = "review-stories"
	PhaseCreateDesign        Phase = "create-design"
	PhaseReviseDesign        Phase = "revise-design"
	PhaseReviewDesign        Phase = "review-design"
	PhaseGenerateCode        Phase = "generate-code"
	PhaseFixCode             Phase = "fix-code"
	PhaseCodeReview          Phase = "code-review"
	PhaseSecurityScan        Phase = "security-scan"
	PhaseFixAfterSecurity    Phase = "fix-after-security"
	PhaseSecurityReview      Phase = "security-review"
	PhaseWriteTests          Phase = "write-tests"
	PhaseReviseTests         Phase = "revise-tests"
	PhaseTestReview          Phase = "test-review"
	PhaseQATest              Phase = "qa-test"
	PhaseQAReview            Phase = "qa-review"
	PhaseDeploy              Phase = "deploy"
	PhaseFinalizeArtifacts   Phase = "finalize-artifacts"
	PhaseDone                Phase = "done"
)

type PhaseKind string

const (
	KindWork     PhaseKind = "work"
	KindGate     PhaseKind = "gate"
	KindTerminal PhaseKind = "terminal"
)

// AllPhases lists every phase in lifecycle order.
var AllPhases = []Phase{
	PhaseInitialize,
	PhaseCollectRequirements,
	PhaseGenerateStories,
	PhaseReviewStories,
	PhaseCreateDesign,
	PhaseReviseDesign,
	PhaseReviewDesign,
	PhaseGenerateCode,
	PhaseFixCode,
	PhaseCodeReview,
	PhaseSecurityScan,
	PhaseFixAfterSecurity,
	PhaseSecurityReview,
	PhaseWriteTests,
	PhaseReviseTests,
	PhaseTestReview,
	PhaseQATest,
	PhaseQAReview,
	PhaseDeploy,
	PhaseFinalizeArtifacts,
	PhaseDone,
}

var phaseKinds = map[Phase]PhaseKind{
	PhaseInitialize:          KindWork,
	PhaseCollectRequirements: KindWork,
	PhaseGenerateStories:     KindWork,
	PhaseReviewStories:       KindGate,
	PhaseCreateDesign:        KindWork,
	PhaseReviseDesign:        KindWork,
	PhaseReviewDesign:        KindGate,
	PhaseGenerateCode:        KindWork,
	PhaseFixCode:             KindWork,
	PhaseCodeReview:          KindGate,
	PhaseSecurityScan:        KindWork,
	PhaseFixAfterSecurity:    KindWork,
	PhaseSecurityReview:      KindGate,
	PhaseWriteTests:          KindWork,
	PhaseReviseTests:         KindWork,
	PhaseTestReview:          KindGate,
	PhaseQATest:              KindWork,
	PhaseQAReview:            KindGate,
	PhaseDeploy:              KindWork,
	PhaseFinalizeArtifacts:   KindWork,
	PhaseDone:                KindTerminal,
}

// phaseWeights drives Status completion percentages. Weights are static per
// phase so completion never depends on artifact size or agent confidence.
var phaseWeights = map[Phase]float64{
	PhaseInitialize:          5,
	PhaseCollectRequirements: 10,
	PhaseGenerateStories:     20,
	PhaseReviewStories:       20,
	PhaseCreateDesign:        35,
	PhaseReviseDesign:        35,
	PhaseReviewDesign:        35,
	PhaseGenerateCode:        50,
	PhaseFixCode:             50,
	PhaseCodeReview:          50,
	PhaseSecurityScan:        60,
	PhaseFixAfterSecurity:    60,
	PhaseSecurityReview:      60,
	PhaseWriteTests:          70,
	PhaseReviseTests:         70,
	PhaseTestReview:          70,
	PhaseQATest:              80,
	PhaseQAReview:            80,
	PhaseDeploy:              90,
	PhaseFinalizeArtifacts:   100,
	PhaseDone:                100,
}

func (p Phase) Valid() bool {
	_, ok := phaseKinds[p]
	return ok
}

func (p Phase) Kind() PhaseKind {
	return phaseKinds[p]
}

func (p Phase) IsGate() bool {
	return phaseKinds[p] == KindGate
}

func (p Phase) IsTerminal() bool {
	return phaseKinds[p] == KindTerminal
}

// Weight returns the static completion weight for the phase, 0 for unknown
// phases.
func (p Phase) Weight() float64 {
	return phaseWeights[p]
}
