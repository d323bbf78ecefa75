// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/devpilot/orchestrator/internal/domain"
	"github.com/google/uuid"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
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

func TestSQLiteStoreUpsert(t *testing.T) {
	store := newSQLiteStore(t)
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
		t.Fatalf("expected upsert to replace record, got %s", loaded.CurrentPhase)
	}
}

func TestSQLiteStoreUnknownID(t *testing.T) {
	store := newSQLiteStore(t)

	if _, err := store.Load(context.Background(), uuid.New()); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLiteStoreDeleteAndClear(t *testing.T) {
	store := newSQLiteStore(t)
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
		t.Fatalf("expected deleted record to be gone, got %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load(ctx, b.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected cleared store to be empty, got %v", err)
	}
}
