// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/tmc/langchaingo/llms"
)

// LLMWorker produces phase artifacts from a language model. The model is
// injected so the orchestration core stays free of provider bindings.
type LLMWorker struct {
	model llms.Model
}

func NewLLMWorker(model llms.Model) *LLMWorker {
	return &LLMWorker{model: model}
}

func (w *LLMWorker) Produce(ctx context.Context, phase domain.Phase, state *domain.WorkflowState) (json.RawMessage, error) {
	prompt, err := phasePrompt(phase, state)
	if err != nil {
		return nil, err
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, w.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm generation for %s: %w", phase, err)
	}

	// Models frequently wrap JSON in fences; strip them before validating.
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	out = strings.TrimSpace(out)

	if json.Valid([]byte(out)) {
		return json.RawMessage(out), nil
	}

	// Fall back to wrapping free text so a sloppy model never fails the phase.
	return json.Marshal(map[string]string{"text": out})
}

func phasePrompt(phase domain.Phase, state *domain.WorkflowState) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", state.ProjectName)

	if feedback := state.FeedbackText[gateFor(phase)]; feedback != "" {
		fmt.Fprintf(&b, "Reviewer feedback to address: %s\n", feedback)
	}
	if art, ok := state.PhaseArtifacts[phase]; ok && len(art.Content) > 0 {
		fmt.Fprintf(&b, "Previous attempt:\n%s\n", art.Content)
	}

	switch phase {
	case domain.PhaseCollectRequirements:
		b.WriteString("List the functional requirements for this project as JSON {\"requirements\": [..]}.")
	case domain.PhaseGenerateStories:
		b.WriteString("Write user stories as JSON {\"stories\": [{\"id\",\"title\",\"points\"}]}.")
	case domain.PhaseCreateDesign, domain.PhaseReviseDesign:
		b.WriteString("Write functional and technical design documents as JSON {\"documents\": {\"functional\",\"technical\"}}.")
	case domain.PhaseGenerateCode, domain.PhaseFixCode, domain.PhaseFixAfterSecurity:
		b.WriteString("Generate the implementation as JSON {\"files\": {path: content}}.")
	case domain.PhaseSecurityScan:
		b.WriteString("Review the generated code for vulnerabilities as JSON {\"findings\": [{\"severity\",\"issue\"}]}.")
	case domain.PhaseWriteTests, domain.PhaseReviseTests:
		b.WriteString("Write test cases as JSON {\"test_cases\": [..]}.")
	case domain.PhaseQATest:
		b.WriteString("Produce a QA report as JSON {\"passed\",\"failed\",\"comments\"}.")
	case domain.PhaseDeploy:
		b.WriteString("Produce a deployment report as JSON {\"environment\",\"status\"}.")
	case domain.PhaseFinalizeArtifacts:
		b.WriteString("List the deliverable artifact bundle as JSON {\"bundle\": [..]}.")
	case domain.PhaseInitialize:
		b.WriteString("Summarize the project kickoff as JSON {\"project\",\"initialized_at\"}.")
	default:
		return "", fmt.Errorf("no prompt for phase %s", phase)
	}

	return b.String(), nil
}
