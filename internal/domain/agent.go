// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type AgentRole string

const (
	RoleProjectManager    AgentRole = "project-manager"
	RoleBusinessAnalyst   AgentRole = "business-analyst"
	RoleSoftwareArchitect AgentRole = "software-architect"
	RoleDeveloper         AgentRole = "developer"
	RoleSecurityExpert    AgentRole = "security-expert"
	RoleQAEngineer        AgentRole = "qa-engineer"
	RoleDevOpsEngineer    AgentRole = "devops-engineer"
)

// AgentAction is one unit of work inside a decision. Priority is advisory
// metadata for observability; execution follows the decision's list order.
type AgentAction struct {
	Type              string         `json:"type"`
	Target            string         `json:"target"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	Priority          int            `json:"priority"`
	EstimatedDuration time.Duration  `json:"estimated_duration,omitempty"`
	Dependencies      []string       `json:"dependencies,omitempty"`
}

// AgentDecision is the output of one agent's analysis for one phase.
// Decisions live in the agent's bounded in-process memory and are context
// for later decisions only, never replayed.
type AgentDecision struct {
	ID         uuid.UUID     `json:"id"`
	Role       AgentRole     `json:"role"`
	Phase      Phase         `json:"phase"`
	Reasoning  string        `json:"reasoning"`
	Confidence float64       `json:"confidence"`
	Actions    []AgentAction `json:"actions"`
	Timestamp  time.Time     `json:"timestamp"`
}
