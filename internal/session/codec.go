// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/google/uuid"
)

// All backends store the same JSON encoding of WorkflowState, so a session
// written by one backend can be imported into another unchanged.

func encodeState(state *domain.WorkflowState) ([]byte, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", state.SessionID, err)
	}
	return payload, nil
}

func decodeState(id uuid.UUID, payload []byte) (*domain.WorkflowState, error) {
	var state domain.WorkflowState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &state, nil
}
