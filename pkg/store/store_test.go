package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/garden/pkg/scheduler"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLifecycle(t *testing.T) {
	s := setupTestStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestSaveAndLoadMemo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	runID := uuid.New().String()
	if err := s.CreateRun(ctx, runID, "/tmp/project"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	key := scheduler.MemoKey{Type: scheduler.Build, Name: "web", Version: "v1"}
	result := &scheduler.Result{
		Key:       key,
		Status:    scheduler.Complete,
		Outputs:   map[string]interface{}{"image": "web:v1"},
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}
	if err := s.SaveResult(ctx, runID, result); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	memo, err := s.LoadMemo(ctx)
	if err != nil {
		t.Fatalf("LoadMemo failed: %v", err)
	}
	got, ok := memo[key]
	if !ok {
		t.Fatalf("expected memo entry for %+v", key)
	}
	if got.Outputs["image"] != "web:v1" {
		t.Errorf("expected memoized output 'web:v1', got %v", got.Outputs["image"])
	}
	if !got.Memoized {
		t.Error("expected Memoized to be true for a loaded cache entry")
	}

	if err := s.CompleteRun(ctx, runID, "completed", nil); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
}

func TestModuleVersionCacheRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetModuleVersion(ctx, "web"); err != nil || ok {
		t.Fatalf("expected no cached version initially, got ok=%v err=%v", ok, err)
	}

	if err := s.SetModuleVersion(ctx, "web", "v1-abc123", []string{"garden.yml", "Dockerfile"}); err != nil {
		t.Fatalf("SetModuleVersion failed: %v", err)
	}

	version, ok, err := s.GetModuleVersion(ctx, "web")
	if err != nil || !ok {
		t.Fatalf("expected a cached version, got ok=%v err=%v", ok, err)
	}
	if version != "v1-abc123" {
		t.Errorf("expected version 'v1-abc123', got %q", version)
	}
}

func TestEventPublisherPersistsEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	runID := uuid.New().String()
	if err := s.CreateRun(ctx, runID, "/tmp/project"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	pub := s.Publish(runID)
	pub.Publish(ctx, scheduler.Event{
		Key:       scheduler.MemoKey{Type: scheduler.Build, Name: "web", Version: "v1"},
		Status:    scheduler.Complete,
		Message:   "build finished",
		Timestamp: time.Now(),
	})

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id = ?`, runID)
	var count int
	if err := row.Scan(&count); err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 persisted event, got %d", count)
	}
}
