// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrNotGatePhase = errors.New("phase is not a review gate")
var ErrInvalidPhase = errors.New("unknown phase")
var ErrSessionTerminal = errors.New("session already completed")
var ErrReviewAlreadyResolved = errors.New("review status already resolved")
var ErrPhaseNotAwaitingReview = errors.New("phase is not awaiting review")

// WorkerError marks a phase that failed to produce its artifact. The phase
// does not advance and the session stays resumable from the same phase.
type WorkerError struct {
	Phase Phase
	Err   error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// AgentError marks a single agent's failure within a multi-agent phase.
// It is absorbed per-agent and recorded in the execution log, never
// propagated to the session API caller.
type AgentError struct {
	Agent string
	Phase Phase
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s failed in phase %s: %v", e.Agent, e.Phase, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }
