package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/platformkit/composer/internal/errors"
)

func TestMemory_GetSetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if _, err := store.Get(ctx, "widgets", "w1"); !errors.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	err := store.Set(ctx, "widgets", "w1", map[string]any{
		"layout_id": "L",
		"configured_values": map[string]any{
			"title": "Hello",
		},
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := store.Update(ctx, "widgets", "w1", map[string]any{
		"configured_values.elevation": float64(4),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, err := store.Get(ctx, "widgets", "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	values := doc.Fields["configured_values"].(map[string]any)
	if values["title"] != "Hello" {
		t.Fatalf("sibling field clobbered by field-path update: %#v", values)
	}
	if values["elevation"] != float64(4) {
		t.Fatalf("field-path update not applied: %#v", values)
	}

	if err := store.Update(ctx, "widgets", "missing", map[string]any{"x": 1}); !errors.IsNotFound(err) {
		t.Fatalf("expected not-found on update of missing doc, got %v", err)
	}

	if err := store.Delete(ctx, "widgets", "w1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "widgets", "w1"); !errors.IsNotFound(err) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestMemory_QueryFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for _, doc := range []struct {
		id     string
		layout string
		order  int
	}{
		{"b", "L1", 1},
		{"a", "L1", 0},
		{"c", "L1", 2},
		{"x", "L2", 0},
	} {
		if err := store.Set(ctx, "instances", doc.id, map[string]any{
			"layout_id": doc.layout,
			"order":     doc.order,
		}); err != nil {
			t.Fatalf("set %s: %v", doc.id, err)
		}
	}

	docs, err := store.Query(ctx, "instances", Query{}.Where("layout_id", "L1").Ascending("order"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if docs[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, docs[i].ID)
		}
	}
}

func TestMemory_SubscribePushesFullResultSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Set(ctx, "instances", "a", map[string]any{"layout_id": "L", "order": 0}); err != nil {
		t.Fatalf("set: %v", err)
	}

	sub, err := store.Subscribe(ctx, "instances", Query{}.Where("layout_id", "L").Ascending("order"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	initial := waitForPush(t, sub)
	if len(initial) != 1 || initial[0].ID != "a" {
		t.Fatalf("unexpected initial push: %#v", initial)
	}

	if err := store.Set(ctx, "instances", "b", map[string]any{"layout_id": "L", "order": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	next := waitForPush(t, sub)
	if len(next) != 2 {
		t.Fatalf("expected full replacement result set of 2, got %d", len(next))
	}

	// A change in another layout must not disturb this subscription's result.
	if err := store.Set(ctx, "instances", "z", map[string]any{"layout_id": "other", "order": 0}); err != nil {
		t.Fatalf("set: %v", err)
	}
	same := waitForPush(t, sub)
	if len(same) != 2 {
		t.Fatalf("expected unchanged result set of 2, got %d", len(same))
	}
}

func TestMemory_AtomicBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	ids := []string{"a", "b", "c"}
	for i, id := range ids {
		if err := store.Set(ctx, "instances", id, map[string]any{"layout_id": "L", "order": i}); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}

	// Fault after 2 of 3 writes: nothing may be applied.
	store.batchFault = 2
	err := store.AtomicBatch(ctx, []Write{
		{Collection: "instances", ID: "c", Fields: map[string]any{"order": 0}},
		{Collection: "instances", ID: "a", Fields: map[string]any{"order": 1}},
		{Collection: "instances", ID: "b", Fields: map[string]any{"order": 2}},
	})
	if !errors.IsRetryable(err) {
		t.Fatalf("expected retryable store failure, got %v", err)
	}

	docs, err := store.Query(ctx, "instances", Query{}.Where("layout_id", "L").Ascending("order"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for i, want := range ids {
		if docs[i].ID != want {
			t.Fatalf("pre-batch state disturbed by failed batch: %#v", docs)
		}
	}

	// Without the fault the same batch commits completely.
	store.batchFault = 0
	if err := store.AtomicBatch(ctx, []Write{
		{Collection: "instances", ID: "c", Fields: map[string]any{"order": 0}},
		{Collection: "instances", ID: "a", Fields: map[string]any{"order": 1}},
		{Collection: "instances", ID: "b", Fields: map[string]any{"order": 2}},
	}); err != nil {
		t.Fatalf("atomic batch: %v", err)
	}
	docs, _ = store.Query(ctx, "instances", Query{}.Where("layout_id", "L").Ascending("order"))
	for i, want := range []string{"c", "a", "b"} {
		if docs[i].ID != want {
			t.Fatalf("post-batch order wrong at %d: %#v", i, docs)
		}
	}
}

func TestMemory_AtomicBatchRemove(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Set(ctx, "instances", "a", map[string]any{"order": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.AtomicBatch(ctx, []Write{
		{Collection: "instances", ID: "a", Remove: true},
		{Collection: "instances", ID: "b", Fields: map[string]any{"order": 0}},
	}); err != nil {
		t.Fatalf("atomic batch: %v", err)
	}
	if _, err := store.Get(ctx, "instances", "a"); !errors.IsNotFound(err) {
		t.Fatalf("expected a removed, got %v", err)
	}
	if _, err := store.Get(ctx, "instances", "b"); err != nil {
		t.Fatalf("expected b created: %v", err)
	}
}

func waitForPush(t *testing.T, sub Subscription) []Document {
	t.Helper()
	select {
	case docs := <-sub.Updates():
		return docs
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscription push")
		return nil
	}
}
