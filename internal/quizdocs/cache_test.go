package quizdocs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quizzer-backend/internal/quiz"
	"quizzer-backend/internal/shared/storage/kv"
	"quizzer-backend/internal/shared/storage/kv/memory"
)

// autoClock returns a clock that advances one second per call, so every save
// and access gets a distinct, ordered timestamp.
func autoClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newTestCache(t *testing.T, store kv.Store, bus *kv.Bus, maxDocs int) *Cache {
	t.Helper()
	c := New(store, bus, Options{
		MaxDocuments:    maxDocs,
		MonitorInterval: -1,
		Now:             autoClock(),
	})
	t.Cleanup(c.Close)
	return c
}

func mustSave(t *testing.T, c *Cache, filename string, size int64) string {
	t.Helper()
	id, ok := c.SaveDocument(context.Background(), FileMeta{Filename: filename, Size: size}, []quiz.Question{
		{"question": "q for " + filename, "options": []any{"a", "b"}, "answer": "a"},
	})
	if !ok {
		t.Fatalf("SaveDocument(%s) failed", filename)
	}
	return id
}

func waitForEvent(t *testing.T, ch <-chan ChangeEvent, want ChangeType) ChangeEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)

	id := mustSave(t, c, "biology.json", 2048)

	rec, ok := c.GetDocument(context.Background(), id)
	if !ok {
		t.Fatalf("GetDocument(%s) missed", id)
	}
	if rec.Filename != "biology.json" || rec.FileSize != 2048 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.QuestionCount != 1 || rec.MCQCount != 1 {
		t.Fatalf("unexpected counts: %+v", rec)
	}
	if !rec.LastAccessed.After(rec.UploadDate) {
		t.Fatalf("Get must bump last-accessed past upload date")
	}
}

func TestSaveRejectsInvalidInput(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	ctx := context.Background()

	if _, ok := c.SaveDocument(ctx, FileMeta{Filename: ""}, []quiz.Question{{"question": "q"}}); ok {
		t.Fatalf("empty filename must be rejected")
	}
	if _, ok := c.SaveDocument(ctx, FileMeta{Filename: "a.json"}, nil); ok {
		t.Fatalf("nil questions must be rejected")
	}
}

func TestReplaceByFilenameAndSizeKeepsIdentity(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	ctx := context.Background()

	id1, ok := c.SaveDocument(ctx, FileMeta{Filename: "dup.json", Size: 100}, []quiz.Question{
		{"question": "v1"},
	})
	if !ok {
		t.Fatalf("first save failed")
	}
	first, _ := c.GetDocument(ctx, id1)

	id2, ok := c.SaveDocument(ctx, FileMeta{Filename: "dup.json", Size: 100}, []quiz.Question{
		{"question": "v2a"},
		{"question": "v2b"},
	})
	if !ok {
		t.Fatalf("re-upload failed")
	}

	if id2 != id1 {
		t.Fatalf("re-upload changed id: %q -> %q", id1, id2)
	}
	if got := c.List(); len(got) != 1 {
		t.Fatalf("re-upload duplicated the record: %d entries", len(got))
	}

	rec, _ := c.GetDocument(ctx, id1)
	if rec.QuestionCount != 2 {
		t.Fatalf("re-upload did not replace content: %+v", rec)
	}
	if !rec.UploadDate.Equal(first.UploadDate) {
		t.Fatalf("re-upload changed upload date: %v -> %v", first.UploadDate, rec.UploadDate)
	}
}

func TestUniqueIDSuffixing(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	c.docs = []Record{{ID: "abc"}, {ID: "abc_1"}}

	if got := c.uniqueIDLocked("abc"); got != "abc_2" {
		t.Fatalf("uniqueIDLocked = %q, want abc_2", got)
	}
	if got := c.uniqueIDLocked("fresh"); got != "fresh" {
		t.Fatalf("unclaimed id must pass through, got %q", got)
	}
}

func TestGetRejectsMalformedIDs(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	mustSave(t, c, "a.json", 10)

	for _, id := range []string{"", "../secrets", "abc-def", "a b"} {
		if _, ok := c.GetDocument(context.Background(), id); ok {
			t.Fatalf("id %q must be rejected", id)
		}
	}
}

func TestListOrdersByUploadDateDesc(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	idA := mustSave(t, c, "a.json", 1)
	idB := mustSave(t, c, "b.json", 2)
	idC := mustSave(t, c, "c.json", 3)

	got := c.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].ID != idC || got[1].ID != idB || got[2].ID != idA {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestListByLastAccessTracksReads(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	idA := mustSave(t, c, "a.json", 1)
	idB := mustSave(t, c, "b.json", 2)
	idC := mustSave(t, c, "c.json", 3)

	if _, ok := c.GetDocument(context.Background(), idA); !ok {
		t.Fatalf("get failed")
	}

	got := c.ListByLastAccess()
	if got[0].ID != idA || got[1].ID != idC || got[2].ID != idB {
		t.Fatalf("unexpected access order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestRemoveDocument(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	id := mustSave(t, c, "a.json", 1)
	ctx := context.Background()

	if !c.RemoveDocument(ctx, id) {
		t.Fatalf("remove reported nothing removed")
	}
	if _, ok := c.GetDocument(ctx, id); ok {
		t.Fatalf("document still present after remove")
	}
	if c.RemoveDocument(ctx, id) {
		t.Fatalf("second remove must report false")
	}
}

func TestClearAllEmptiesBackend(t *testing.T) {
	store := memory.New(0)
	c := newTestCache(t, store, nil, 0)
	mustSave(t, c, "a.json", 1)
	ctx := context.Background()

	c.ClearAll(ctx)

	if got := c.List(); len(got) != 0 {
		t.Fatalf("expected empty cache, got %d", len(got))
	}
	if _, err := store.Get(ctx, StorageKey); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected backend key removed, got %v", err)
	}
}

func TestEvictionAtDocumentCap(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 10)

	ids := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		ids = append(ids, mustSave(t, c, fmt.Sprintf("f%d.json", i), int64(100+i)))
	}

	// Inserting the 11th document at a cap of 10 trims to the count-cap tier
	// (80% of cap) before the insert: 8 survivors plus the new document.
	got := c.List()
	if len(got) != 9 {
		t.Fatalf("expected 9 records after eviction, got %d", len(got))
	}

	present := make(map[string]bool, len(got))
	for _, rec := range got {
		present[rec.ID] = true
	}
	if present[ids[0]] || present[ids[1]] {
		t.Fatalf("least-recently-accessed records must be evicted first")
	}
	if !present[ids[10]] {
		t.Fatalf("newly saved record missing after eviction")
	}
}

func TestRecentAccessProtectsFromEviction(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 10)

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, mustSave(t, c, fmt.Sprintf("f%d.json", i), int64(100+i)))
	}
	if _, ok := c.GetDocument(context.Background(), ids[0]); !ok {
		t.Fatalf("get failed")
	}

	mustSave(t, c, "f10.json", 200)

	present := make(map[string]bool)
	for _, rec := range c.List() {
		present[rec.ID] = true
	}
	if !present[ids[0]] {
		t.Fatalf("recently accessed record was evicted")
	}
	if present[ids[1]] || present[ids[2]] {
		t.Fatalf("stale records survived eviction")
	}
}

func TestDegradedInMemoryMode(t *testing.T) {
	// A one-byte budget fails the availability probe with a quota error and
	// leaves nothing to recover, so the cache falls back to memory only.
	store := memory.New(1)
	c := newTestCache(t, store, nil, 0)
	ctx := context.Background()

	if !c.InMemoryMode() {
		t.Fatalf("expected in-memory mode")
	}

	id := mustSave(t, c, "a.json", 10)
	if _, ok := c.GetDocument(ctx, id); !ok {
		t.Fatalf("degraded cache must still serve documents")
	}

	if keys, _ := store.Keys(ctx); len(keys) != 0 {
		t.Fatalf("degraded cache must not write the store, found %v", keys)
	}

	health := c.Health(ctx)
	if health.Healthy || !health.InMemoryMode {
		t.Fatalf("health must flag degraded mode: %+v", health)
	}
	if usage := c.Usage(ctx); !usage.InMemoryMode || usage.DocumentsInCache != 1 {
		t.Fatalf("usage must flag degraded mode: %+v", usage)
	}
}

func TestStartupLoadsExistingSet(t *testing.T) {
	store := memory.New(0)
	first := newTestCache(t, store, nil, 0)
	idA := mustSave(t, first, "a.json", 1)
	mustSave(t, first, "b.json", 2)

	second := newTestCache(t, store, nil, 0)
	got := second.List()
	if len(got) != 2 {
		t.Fatalf("expected 2 records loaded at startup, got %d", len(got))
	}
	if _, ok := second.GetDocument(context.Background(), idA); !ok {
		t.Fatalf("loaded set missing %s", idA)
	}
}

func TestStartupClearsCorruptPayload(t *testing.T) {
	store := memory.New(0)
	ctx := context.Background()
	if err := store.Set(ctx, StorageKey, []byte(`{"corrupt":`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := newTestCache(t, store, nil, 0)
	if got := c.List(); len(got) != 0 {
		t.Fatalf("expected empty cache after corrupt load, got %d", len(got))
	}
	if _, err := store.Get(ctx, StorageKey); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected corrupt payload cleared, got %v", err)
	}
}

func TestSavePersistFailureReportsFalse(t *testing.T) {
	// Budget admits the availability probe but not a serialized record, and the
	// cleanup-then-retry cannot free anything with a single document.
	store := memory.New(60)
	c := newTestCache(t, store, nil, 0)

	if c.InMemoryMode() {
		t.Fatalf("probe should have succeeded")
	}

	id, ok := c.SaveDocument(context.Background(), FileMeta{Filename: "a.json", Size: 10}, []quiz.Question{
		{"question": "q", "options": []any{"a", "b"}, "answer": "a"},
	})
	if ok || id != "" {
		t.Fatalf("expected save to fail, got id=%q ok=%v", id, ok)
	}
}

func TestCrossInstanceUpdateNotification(t *testing.T) {
	store := memory.New(0)
	bus := kv.NewBus()
	writer := newTestCache(t, store, bus, 0)
	reader := newTestCache(t, store, bus, 0)

	events, cancel := reader.Subscribe()
	defer cancel()

	id := mustSave(t, writer, "shared.json", 42)

	evt := waitForEvent(t, events, ChangeUpdated)
	if evt.DocumentCount != 1 {
		t.Fatalf("expected count 1 in event, got %d", evt.DocumentCount)
	}
	if _, ok := reader.GetDocument(context.Background(), id); !ok {
		t.Fatalf("reader did not adopt the writer's document")
	}
}

func TestCrossInstanceClearNotification(t *testing.T) {
	store := memory.New(0)
	bus := kv.NewBus()
	writer := newTestCache(t, store, bus, 0)
	reader := newTestCache(t, store, bus, 0)

	mustSave(t, writer, "shared.json", 42)

	events, cancel := reader.Subscribe()
	defer cancel()

	writer.ClearAll(context.Background())

	evt := waitForEvent(t, events, ChangeCleared)
	if evt.DocumentCount != 0 {
		t.Fatalf("expected count 0 in cleared event, got %d", evt.DocumentCount)
	}
	if got := reader.List(); len(got) != 0 {
		t.Fatalf("reader still holds %d records after clear", len(got))
	}
}

func TestForceSyncCheckReloadsOnDrift(t *testing.T) {
	// No shared bus: the reader cannot hear the writer and must reconcile
	// explicitly.
	store := memory.New(0)
	writer := newTestCache(t, store, nil, 0)
	reader := newTestCache(t, store, nil, 0)

	events, cancel := reader.Subscribe()
	defer cancel()

	id := mustSave(t, writer, "elsewhere.json", 7)
	if got := reader.List(); len(got) != 0 {
		t.Fatalf("reader saw the write without reconciling")
	}

	reader.ForceSyncCheck(context.Background())

	evt := waitForEvent(t, events, ChangeSynced)
	if evt.DocumentCount != 1 {
		t.Fatalf("expected count 1 in synced event, got %d", evt.DocumentCount)
	}
	if _, ok := reader.GetDocument(context.Background(), id); !ok {
		t.Fatalf("reader missing document after sync")
	}
}

func TestForceSyncCheckNoopWhenInSync(t *testing.T) {
	store := memory.New(0)
	c := newTestCache(t, store, nil, 0)
	mustSave(t, c, "a.json", 1)

	events, cancel := c.Subscribe()
	defer cancel()

	c.ForceSyncCheck(context.Background())

	select {
	case evt := <-events:
		t.Fatalf("unexpected event %+v from in-sync check", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCheckQuotaEvictsAndNotifies(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 10)
	for i := 0; i < 10; i++ {
		mustSave(t, c, fmt.Sprintf("f%d.json", i), int64(100+i))
	}

	events, cancel := c.Subscribe()
	defer cancel()

	c.CheckQuota(context.Background())

	evt := waitForEvent(t, events, ChangeCleanup)
	if evt.DocumentCount != 8 {
		t.Fatalf("expected trim to 8, event says %d", evt.DocumentCount)
	}
	if got := c.List(); len(got) != 8 {
		t.Fatalf("expected 8 records, got %d", len(got))
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	events, cancel := c.Subscribe()
	cancel()

	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	// Double cancel must be safe.
	cancel()
}

func TestUsageBoundaryRecords(t *testing.T) {
	c := newTestCache(t, memory.New(0), nil, 0)
	idA := mustSave(t, c, "a.json", 1)
	idB := mustSave(t, c, "b.json", 2)
	if _, ok := c.GetDocument(context.Background(), idA); !ok {
		t.Fatalf("get failed")
	}

	usage := c.Usage(context.Background())
	if usage.DocumentsInCache != 2 {
		t.Fatalf("expected 2 documents, got %d", usage.DocumentsInCache)
	}
	if usage.OldestDocument == nil || usage.OldestDocument.ID != idB {
		t.Fatalf("oldest must be the least recently accessed, got %+v", usage.OldestDocument)
	}
	if usage.NewestDocument == nil || usage.NewestDocument.ID != idB {
		t.Fatalf("newest must be the most recently uploaded, got %+v", usage.NewestDocument)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(memory.New(0), kv.NewBus(), Options{MonitorInterval: -1})
	c.Close()
	c.Close()
}
