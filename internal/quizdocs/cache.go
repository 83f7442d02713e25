package quizdocs

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizzer-backend/internal/quiz"
	"quizzer-backend/internal/shared/metrics"
	"quizzer-backend/internal/shared/storage/kv"
	"quizzer-backend/internal/shared/telemetry"
)

// DefaultMonitorInterval is how often the background quota check runs.
const DefaultMonitorInterval = 30 * time.Second

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// FileMeta is the upload metadata the parse collaborator hands to
// SaveDocument.
type FileMeta struct {
	Filename string
	Size     int64
}

// Options tunes a Cache. Zero values mean defaults; MonitorInterval < 0
// disables the background monitor.
type Options struct {
	MaxDocuments    int
	MaxStorageBytes int64
	MonitorInterval time.Duration
	Now             func() time.Time
}

// Cache orchestrates the document set: save/get/list/delete with automatic
// least-recently-accessed eviction, degraded in-memory operation when the
// backend is unavailable, reconciliation with writes from other cache
// instances, and change notification to observers.
//
// One Cache instance owns one storage origin. The constructor probes, loads,
// subscribes, and starts monitoring; Close tears all of that down.
type Cache struct {
	mu       sync.Mutex
	backend  *Backend
	quota    *QuotaTracker
	docs     []Record
	inMemory bool
	origin   string
	now      func() time.Time

	watchCancel func()
	stopMonitor chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once

	obsMu   sync.Mutex
	nextObs int
	obs     map[int]chan ChangeEvent
}

// New builds a cache over store. bus may be nil when no other instance shares
// the store. If the backend is unavailable the cache still works, in memory
// only, and says so via Health().
func New(store kv.Store, bus *kv.Bus, opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	origin := uuid.NewString()

	c := &Cache{
		backend: NewBackend(store, bus, origin, opts.MaxDocuments, opts.MaxStorageBytes),
		quota:   NewQuotaTracker(opts.MaxDocuments),
		origin:  origin,
		now:     now,
		obs:     map[int]chan ChangeEvent{},
	}

	ctx := context.Background()
	avail := c.backend.Availability(ctx)
	if !avail.Available {
		telemetry.Warn("cache.degraded", map[string]any{"reason": avail.Reason})
		c.inMemory = true
		if avail.Reason == ReasonQuota && c.backend.AttemptRecovery(ctx) {
			telemetry.Info("cache.recovery.succeeded", nil)
			c.inMemory = false
		}
	}

	if !c.inMemory {
		c.docs = c.backend.Load(ctx)

		if bus != nil {
			events, cancel := bus.Subscribe(origin, StorageKey)
			c.watchCancel = cancel
			c.wg.Add(1)
			go c.watch(events)
		}

		interval := opts.MonitorInterval
		if interval == 0 {
			interval = DefaultMonitorInterval
		}
		if interval > 0 {
			c.stopMonitor = make(chan struct{})
			c.wg.Add(1)
			go c.monitor(interval)
		}
	}

	return c
}

// InMemoryMode reports whether the cache runs without persistence.
func (c *Cache) InMemoryMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inMemory
}

// SaveDocument caches a parsed upload. A file matching an existing record by
// filename and size replaces that record's content under its original id and
// upload date; otherwise a new record is created, evicting first if the cache
// is at its count cap. On persistence failure it evicts once and retries
// exactly once; a second failure is reported as ok=false. It never panics
// outward.
func (c *Cache) SaveDocument(ctx context.Context, meta FileMeta, questions []quiz.Question) (id string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Error("cache.save.panic", map[string]any{"error": rec})
			id, ok = "", false
		}
	}()

	if meta.Filename == "" || questions == nil {
		telemetry.Warn("cache.save.invalid_input", map[string]any{"filename": meta.Filename})
		return "", false
	}

	start := time.Now()
	metrics.IncCacheSaves()

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := NewRecord(meta.Filename, meta.Size, questions, c.now())

	existing := -1
	for i := range c.docs {
		if c.docs[i].Filename == meta.Filename && c.docs[i].FileSize == meta.Size {
			existing = i
			break
		}
	}

	if existing >= 0 {
		rec = rec.WithID(c.docs[existing].ID)
		rec.UploadDate = c.docs[existing].UploadDate
		c.docs[existing] = rec
	} else {
		if len(c.docs) >= c.backend.MaxDocuments() {
			c.cleanupLocked(ctx)
		}
		rec = rec.WithID(c.uniqueIDLocked(rec.ID))
		c.docs = append(c.docs, rec)
	}

	if !c.persistLocked(ctx) {
		c.cleanupLocked(ctx)
		if !c.persistLocked(ctx) {
			metrics.IncCacheSaveFailures()
			telemetry.Error("cache.save.gave_up", map[string]any{"filename": meta.Filename})
			return "", false
		}
	}

	metrics.ObserveCacheSaveDurationMs(float64(time.Since(start).Microseconds()) / 1000.0)
	return rec.ID, true
}

// GetDocument returns the record for id, bumping and persisting its
// last-accessed timestamp. Malformed ids and misses both report ok=false.
func (c *Cache) GetDocument(ctx context.Context, id string) (Record, bool) {
	if !validID(id) {
		return Record{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.docs {
		if c.docs[i].ID == id {
			c.docs[i].TouchAccess(c.now())
			c.persistLocked(ctx)
			return c.docs[i], true
		}
	}
	return Record{}, false
}

// List returns all records ordered by upload date, newest first. Ties keep
// insertion order.
func (c *Cache) List() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, len(c.docs))
	copy(out, c.docs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadDate.After(out[j].UploadDate)
	})
	return out
}

// ListByLastAccess returns all records ordered by last access, most recent
// first.
func (c *Cache) ListByLastAccess() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, len(c.docs))
	copy(out, c.docs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out
}

// RemoveDocument deletes the record for id and reports whether anything was
// removed. The backend is only written when a removal happened.
func (c *Cache) RemoveDocument(ctx context.Context, id string) bool {
	if !validID(id) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.docs[:0]
	for _, doc := range c.docs {
		if doc.ID != id {
			kept = append(kept, doc)
		}
	}
	removed := len(kept) < len(c.docs)
	c.docs = kept

	if removed {
		c.persistLocked(ctx)
	}
	return removed
}

// ClearAll empties the cache and the backend key unconditionally.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = nil
	c.backend.Clear(ctx)
}

// Health reports the cache's current self-assessment.
func (c *Cache) Health(ctx context.Context) Health {
	snap := c.backend.Usage(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quota.HealthReport(snap, c.inMemory, len(c.docs))
}

// CacheUsage extends the backend snapshot with live cache state and the
// boundary records an operator cares about.
type CacheUsage struct {
	UsageSnapshot
	InMemoryMode     bool    `json:"inMemoryMode"`
	DocumentsInCache int     `json:"documentsInCache"`
	OldestDocument   *Record `json:"oldestDocument,omitempty"`
	NewestDocument   *Record `json:"newestDocument,omitempty"`
}

// Usage returns usage diagnostics: the backend snapshot plus the
// least-recently-accessed and most-recently-uploaded records.
func (c *Cache) Usage(ctx context.Context) CacheUsage {
	snap := c.backend.Usage(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	usage := CacheUsage{
		UsageSnapshot:    snap,
		InMemoryMode:     c.inMemory,
		DocumentsInCache: len(c.docs),
	}
	if len(c.docs) == 0 {
		return usage
	}

	oldest, newest := c.docs[0], c.docs[0]
	for _, doc := range c.docs[1:] {
		if doc.LastAccessed.Before(oldest.LastAccessed) {
			oldest = doc
		}
		if doc.UploadDate.After(newest.UploadDate) {
			newest = doc
		}
	}
	usage.OldestDocument = &oldest
	usage.NewestDocument = &newest
	return usage
}

// ForceSyncCheck compares the in-memory id set against the backend's and
// reloads wholesale on mismatch. It exists because change events only reach
// instances in the same process; writes from elsewhere are silent.
func (c *Cache) ForceSyncCheck(ctx context.Context) {
	c.mu.Lock()
	if c.inMemory {
		c.mu.Unlock()
		return
	}
	stored := c.backend.Load(ctx)

	if sameIDSet(c.docs, stored) {
		c.mu.Unlock()
		return
	}

	telemetry.Info("cache.sync.reload", map[string]any{
		"in_memory_count": len(c.docs),
		"stored_count":    len(stored),
	})
	c.docs = stored
	count := len(c.docs)
	c.mu.Unlock()

	metrics.IncCacheSyncReloads()
	c.emit(ChangeEvent{Type: ChangeSynced, DocumentCount: count})
}

// CheckQuota runs one pass of the periodic monitor: evict if the tracker says
// usage crossed a threshold.
func (c *Cache) CheckQuota(ctx context.Context) {
	snap := c.backend.Usage(ctx)
	if !c.quota.ShouldEvict(snap) {
		return
	}
	telemetry.Warn("cache.quota.threshold", map[string]any{
		"usage_percentage": snap.UsagePercentage,
		"document_count":   snap.DocumentCount,
	})

	c.mu.Lock()
	removed := c.cleanupLocked(ctx)
	count := len(c.docs)
	c.mu.Unlock()

	if removed > 0 {
		c.emit(ChangeEvent{Type: ChangeCleanup, DocumentCount: count})
	}
}

// Subscribe registers a change observer. The returned cancel releases it.
// Delivery is best effort: slow observers miss events rather than blocking
// the cache.
func (c *Cache) Subscribe() (<-chan ChangeEvent, func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	id := c.nextObs
	c.nextObs++
	ch := make(chan ChangeEvent, 16)
	c.obs[id] = ch

	cancel := func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		if existing, ok := c.obs[id]; ok {
			delete(c.obs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Close detaches the change subscription and stops the quota monitor. The
// cache remains usable afterwards; it just no longer reacts to the outside.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		if c.watchCancel != nil {
			c.watchCancel()
		}
		if c.stopMonitor != nil {
			close(c.stopMonitor)
		}
		c.wg.Wait()
	})
}

func (c *Cache) watch(events <-chan kv.Event) {
	defer c.wg.Done()
	for evt := range events {
		c.handleExternalChange(evt)
	}
}

func (c *Cache) handleExternalChange(evt kv.Event) {
	c.mu.Lock()

	if evt.Value == nil {
		c.docs = nil
		c.mu.Unlock()
		c.emit(ChangeEvent{Type: ChangeCleared, DocumentCount: 0})
		return
	}

	records, ok := decodeRecords(evt.Value)
	if !ok {
		c.mu.Unlock()
		telemetry.Error("cache.sync.bad_external_payload", map[string]any{"payload_bytes": len(evt.Value)})
		return
	}

	c.docs = records
	count := len(c.docs)
	c.mu.Unlock()

	c.emit(ChangeEvent{Type: ChangeUpdated, DocumentCount: count})
}

func (c *Cache) monitor(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckQuota(context.Background())
		case <-c.stopMonitor:
			return
		}
	}
}

// cleanupLocked evicts least-recently-accessed records down to the tracker's
// target and persists once if anything went. Caller holds c.mu.
func (c *Cache) cleanupLocked(ctx context.Context) int {
	if len(c.docs) == 0 {
		return 0
	}

	sort.SliceStable(c.docs, func(i, j int) bool {
		return c.docs[i].LastAccessed.Before(c.docs[j].LastAccessed)
	})

	snap := c.backend.Usage(ctx)
	target := c.quota.EvictionTarget(snap, len(c.docs))

	removed := 0
	for len(c.docs) > target && len(c.docs) > 0 {
		evicted := c.docs[0]
		c.docs = c.docs[1:]
		removed++
		telemetry.Info("cache.evicted", map[string]any{
			"filename":      evicted.Filename,
			"last_accessed": evicted.LastAccessed,
		})
	}

	if removed > 0 {
		metrics.AddCacheEvictions(removed)
		c.backend.Save(ctx, c.docs)
	}
	return removed
}

// persistLocked writes the current set. In-memory mode reports success
// without persisting. Caller holds c.mu.
func (c *Cache) persistLocked(ctx context.Context) bool {
	if c.inMemory {
		return true
	}
	return c.backend.Save(ctx, c.docs)
}

func (c *Cache) uniqueIDLocked(base string) string {
	id := base
	for counter := 1; c.hasIDLocked(id); counter++ {
		id = base + "_" + strconv.Itoa(counter)
	}
	return id
}

func (c *Cache) hasIDLocked(id string) bool {
	for i := range c.docs {
		if c.docs[i].ID == id {
			return true
		}
	}
	return false
}

func (c *Cache) emit(evt ChangeEvent) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for _, ch := range c.obs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func validID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}

func decodeRecords(data []byte) ([]Record, bool) {
	trimmed := 0
	for trimmed < len(data) && (data[trimmed] == ' ' || data[trimmed] == '\n' || data[trimmed] == '\t' || data[trimmed] == '\r') {
		trimmed++
	}
	if trimmed >= len(data) || data[trimmed] != '[' {
		return nil, false
	}
	var records []Record
	if err := json.Unmarshal(data[trimmed:], &records); err != nil {
		return nil, false
	}
	return records, true
}

func sameIDSet(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]struct{}, len(a))
	for _, doc := range a {
		ids[doc.ID] = struct{}{}
	}
	for _, doc := range b {
		if _, ok := ids[doc.ID]; !ok {
			return false
		}
	}
	return true
}
