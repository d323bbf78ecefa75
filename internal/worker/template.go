// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devpilot/orchestrator/internal/domain"
)

// TemplateWorker produces deterministic placeholder artifacts for every
// work phase. It is the default worker so the engine runs end to end with
// no external model configured; swap in an LLM-backed worker for real
// content.
type TemplateWorker struct{}

func NewTemplateWorker() *TemplateWorker {
	return &TemplateWorker{}
}

func (w *TemplateWorker) Produce(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	revision := 1
	if art, ok := state.PhaseArtifacts[phase]; ok {
		revision = art.Revision + 1
	}
	feedback := state.FeedbackText[gateFor(phase)]

	var payload any
	switch phase {
	case domain.PhaseInitialize:
		payload = map[string]any{
			"project":        state.ProjectName,
			"initialized_at": time.Now().UTC().Format(time.RFC3339),
		}
	case domain.PhaseCollectRequirements:
		payload = map[string]any{
			"requirements": []string{
				fmt.Sprintf("%s shall provide user authentication", state.ProjectName),
				fmt.Sprintf("%s shall persist its data durably", state.ProjectName),
				fmt.Sprintf("%s shall expose an HTTP API", state.ProjectName),
			},
		}
	case domain.PhaseGenerateStories:
		payload = map[string]any{
			"revision": revision,
			"feedback": feedback,
			"stories": []map[string]any{
				{"id": fmt.Sprintf("US-%d01", revision), "title": "As a user I can sign in", "points": 3},
				{"id": fmt.Sprintf("US-%d02", revision), "title": "As a user I can browse items", "points": 5},
				{"id": fmt.Sprintf("US-%d03", revision), "title": "As an admin I can manage inventory", "points": 8},
			},
		}
	case domain.PhaseCreateDesign, domain.PhaseReviseDesign:
		payload = map[string]any{
			"revision": revision,
			"documents": map[string]string{
				"functional": fmt.Sprintf("Functional design for %s (rev %d)", state.ProjectName, revision),
				"technical":  fmt.Sprintf("Technical design for %s (rev %d)", state.ProjectName, revision),
			},
		}
	case domain.PhaseGenerateCode, domain.PhaseFixCode, domain.PhaseFixAfterSecurity:
		payload = map[string]any{
			"revision": revision,
			"files": map[string]string{
				"main.go":    fmt.Sprintf("// %s entry point (rev %d)\n", state.ProjectName, revision),
				"service.go": "// service layer\n",
			},
		}
	case domain.PhaseSecurityScan:
		payload = map[string]any{
			"findings": []map[string]any{
				{"severity": "medium", "issue": "missing input validation", "resolved": revision > 1},
			},
			"revision": revision,
		}
	case domain.PhaseWriteTests, domain.PhaseReviseTests:
		payload = map[string]any{
			"revision": revision,
			"test_cases": []string{
				"sign in with valid credentials",
				"reject invalid credentials",
				"list inventory items",
			},
		}
	case domain.PhaseQATest:
		payload = map[string]any{
			"passed":   3,
			"failed":   0,
			"comments": fmt.Sprintf("QA pass for %s", state.ProjectName),
		}
	case domain.PhaseDeploy:
		payload = map[string]any{
			"environment": "staging",
			"status":      "deployed",
		}
	case domain.PhaseFinalizeArtifacts:
		payload = map[string]any{
			"bundle": []string{"stories.md", "design.md", "src.tar.gz", "tests.md", "qa-report.md"},
		}
	default:
		return nil, fmt.Errorf("no artifact template for phase %s", phase)
	}

	return json.Marshal(payload)
}

// gateFor maps a producing work phase to the gate whose feedback applies to
// it. Revise phases inherit the originating gate.
func gateFor(phase domain.Phase) domain.Phase {
	switch phase {
	case domain.PhaseGenerateStories:
		return domain.PhaseReviewStories
	case domain.PhaseCreateDesign, domain.PhaseReviseDesign:
		return domain.PhaseReviewDesign
	case domain.PhaseGenerateCode, domain.PhaseFixCode:
		return domain.PhaseCodeReview
	case domain.PhaseSecurityScan, domain.PhaseFixAfterSecurity:
		return domain.PhaseSecurityReview
	case domain.PhaseWriteTests, domain.PhaseReviseTests:
		return domain.PhaseTestReview
	case domain.PhaseQATest:
		return domain.PhaseQAReview
	default:
		return ""
	}
}
