package statestore

import (
	"context"
	"errors"
	"testing"

	"github.com/rflorenc/chef-migration-workbench/internal/models"
)

func TestMemoryStoreSaveGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	r := models.NewMigrationResult([]string{"nginx"})
	r.Metrics = models.ConversionMetrics{TotalResources: 3, Converted: 3}
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != r.ID || got.Status != models.StatusPending {
		t.Errorf("Get = %+v", got)
	}
	if got.Metrics.Converted != 3 {
		t.Errorf("Metrics = %+v", got.Metrics)
	}

	// The stored copy must not alias the caller's value.
	got.Status = models.StatusFailed
	again, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Status != models.StatusPending {
		t.Error("mutating a returned result leaked into the store")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSaveIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := models.NewMigrationResult([]string{"apache"})
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	r.Status = models.StatusInProgress
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	got, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusInProgress {
		t.Errorf("Status = %s, want IN_PROGRESS", got.Status)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List = %d entries, want 1", len(list))
	}
}

func TestMemoryStoreListOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := models.NewMigrationResult([]string{"a"})
	b := models.NewMigrationResult([]string{"b"})
	b.StartedAt = a.StartedAt.Add(1)
	for _, r := range []*models.MigrationResult{a, b} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Errorf("List should be most recent first")
	}
}
