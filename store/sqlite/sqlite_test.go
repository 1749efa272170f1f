package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	anvil "github.com/nevindra/anvil"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func sampleConversation(id string) anvil.Conversation {
	wf := anvil.Workflow{
		Variables: map[string]any{"project": "demo"},
		Agents: []anvil.Agent{{
			ID:        "main",
			Model:     "test-model",
			Subscribe: []string{"act/user_task_init"},
		}},
	}
	conv := anvil.NewConversation(id, wf)
	conv.InsertEvent(anvil.NewEvent("act/user_task_init", "hello"))
	return conv.Snapshot()
}

func TestUpsertGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	conv := sampleConversation("c1")
	if err := s.Upsert(ctx, conv); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID != "c1" {
		t.Errorf("id = %q", loaded.ID)
	}
	if loaded.Variables["project"] != "demo" {
		t.Errorf("variables = %v", loaded.Variables)
	}
	if len(loaded.Agents) != 1 || loaded.Agents[0].ID != "main" {
		t.Errorf("agents = %+v", loaded.Agents)
	}
	if len(loaded.State["main"].Queue) != 1 {
		t.Errorf("queue = %+v", loaded.State["main"])
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	conv := sampleConversation("c1")
	if err := s.Upsert(ctx, conv); err != nil {
		t.Fatal(err)
	}
	conv.State["main"].TurnCount = 7
	if err := s.Upsert(ctx, conv); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.State["main"].TurnCount != 7 {
		t.Errorf("turn count = %d, want 7", loaded.State["main"].TurnCount)
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	if _, err := s.Get(context.Background(), "ghost"); err == nil {
		t.Error("missing conversation must error")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, id := range []string{"c1", "c2"} {
		if i > 0 {
			// updated_at has one-second resolution.
			time.Sleep(1100 * time.Millisecond)
		}
		if err := s.Upsert(ctx, sampleConversation(id)); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("list = %d", len(all))
	}
	if all[0].ID != "c2" || all[1].ID != "c1" {
		t.Errorf("order = %s, %s; want c2, c1", all[0].ID, all[1].ID)
	}
}

func TestArchive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, sampleConversation("c1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Archive(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Archived {
		t.Error("conversation should be archived")
	}

	if err := s.Archive(ctx, "ghost"); err == nil {
		t.Error("archiving a missing conversation must error")
	}
}
