// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/google/uuid"
)

func sampleState(t *testing.T) *domain.WorkflowState {
	t.Helper()

	state := domain.NewWorkflowState("Inventory System", true, time.Now().UTC().Truncate(time.Second))
	state.CurrentPhase = domain.PhaseReviewStories
	state.SetArtifact(domain.PhaseGenerateStories, json.RawMessage(`{"stories":[{"id":"US-101"}]}`), state.StartedAt)
	state.ReviewStatus[domain.PhaseReviewStories] = domain.ReviewPending
	state.FeedbackText[domain.PhaseReviewStories] = "tighten acceptance criteria"
	state.RecordConfidence(domain.PhaseGenerateStories, 0.9)
	state.Inputs["priority"] = "high"
	state.AppendLog(domain.ExecutionEntry{
		Phase:     domain.PhaseGenerateStories,
		Agent:     "business-analyst",
		Success:   true,
		Timestamp: state.StartedAt,
	})
	state.AppendLog(domain.ExecutionEntry{
		Phase:     domain.PhaseGenerateStories,
		Agent:     "project-manager",
		Success:   false,
		Error:     "model unavailable",
		Timestamp: state.StartedAt,
	})
	return state
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	state := sampleState(t)

	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(state, loaded) {
		t.Fatalf("round trip mismatch:\nsaved  %+v\nloaded %+v", state, loaded)
	}
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	state := sampleState(t)

	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := store.Load(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first.CurrentPhase = domain.PhaseDone
	first.ReviewStatus[domain.PhaseReviewStories] = domain.ReviewApproved

	second, err := store.Load(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.CurrentPhase != domain.PhaseReviewStories {
		t.Fatal("mutating a loaded state leaked into the store")
	}
	if second.ReviewStatus[domain.PhaseReviewStories] != domain.ReviewPending {
		t.Fatal("mutating a loaded map leaked into the store")
	}
}

func TestMemoryStoreUnknownID(t *testing.T) {
	store := NewMemoryStore(0)

	if _, err := store.Load(context.Background(), uuid.New()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	now := time.Now()
	store.now = func() time.Time { return now }

	ctx := context.Background()
	state := sampleState(t)
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.Load(ctx, state.SessionID); err != nil {
		t.Fatalf("load before expiry: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := store.Load(ctx, state.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryStoreSaveOverwrites(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	state := sampleState(t)

	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	state.CurrentPhase = domain.PhaseCreateDesign
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("resave: %v", err)
	}

	loaded, err := store.Load(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.CurrentPhase != domain.PhaseCreateDesign {
		t.Fatalf("expected last write to win, got %s", loaded.CurrentPhase)
	}
}

func TestMemoryStoreDeleteAndClear(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	a := sampleState(t)
	b := sampleState(t)
	for _, state := range []*domain.WorkflowState{a, b} {
		if err := store.Save(ctx, state); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if err := store.Delete(ctx, a.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, a.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected delete to remove record, got %v", err)
	}
	if err := store.Delete(ctx, a.SessionID); err != nil {
		t.Fatalf("double delete should be harmless: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load(ctx, b.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected clear to remove all records, got %v", err)
	}
}
