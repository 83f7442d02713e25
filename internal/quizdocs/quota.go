package quizdocs

// QuotaTracker derives eviction and health signals from usage snapshots. It
// owns no storage; it only interprets numbers.
type QuotaTracker struct {
	maxDocuments int
}

// NewQuotaTracker constructs a tracker for the given document cap.
func NewQuotaTracker(maxDocuments int) *QuotaTracker {
	if maxDocuments <= 0 {
		maxDocuments = DefaultMaxDocuments
	}
	return &QuotaTracker{maxDocuments: maxDocuments}
}

// ShouldEvict reports whether usage warrants a cleanup pass: storage above 90%
// or the document count at the cap.
func (q *QuotaTracker) ShouldEvict(snap UsageSnapshot) bool {
	return snap.UsagePercentage > 90 || snap.DocumentCount >= q.maxDocuments
}

// EvictionTarget returns the document count a cleanup pass should reduce the
// set to. Tiers: aggressive (60% of cap) when storage is nearly full, standard
// (80% of cap) when the count cap is hit, otherwise a small headroom trim.
// currentCount covers the degraded in-memory case where the snapshot sees an
// empty backend but documents live in memory.
func (q *QuotaTracker) EvictionTarget(snap UsageSnapshot, currentCount int) int {
	count := snap.DocumentCount
	if currentCount > count {
		count = currentCount
	}

	switch {
	case snap.UsagePercentage > 90:
		return q.maxDocuments * 6 / 10
	case count >= q.maxDocuments:
		return q.maxDocuments * 8 / 10
	default:
		return q.maxDocuments - 5
	}
}

// Health is the cache's self-assessment, surfaced to the UI so it can inform
// the user (degraded mode, pending cleanup) without inspecting internals.
type Health struct {
	Healthy         bool     `json:"healthy"`
	InMemoryMode    bool     `json:"inMemoryMode"`
	NeedsCleanup    bool     `json:"needsCleanup"`
	NearLimit       bool     `json:"nearLimit"`
	DocumentCount   int      `json:"documentCount"`
	StorageUsage    float64  `json:"storageUsage"`
	Recommendations []string `json:"recommendations"`
}

// HealthReport combines a usage snapshot with live cache state. The
// recommendations are advisory strings only; nothing branches on them.
func (q *QuotaTracker) HealthReport(snap UsageSnapshot, inMemory bool, docsInCache int) Health {
	var recs []string
	if inMemory {
		recs = append(recs, "Enable persistent storage for durable document history")
	}
	if snap.NeedsCleanup {
		recs = append(recs, "Consider removing old documents to free up space")
	}
	if snap.IsNearLimit {
		recs = append(recs, "Storage is nearly full, automatic cleanup may occur")
	}
	if docsInCache == 0 {
		recs = append(recs, "No documents cached yet")
	}

	return Health{
		Healthy:         !snap.NeedsCleanup && !inMemory,
		InMemoryMode:    inMemory,
		NeedsCleanup:    snap.NeedsCleanup,
		NearLimit:       snap.IsNearLimit,
		DocumentCount:   docsInCache,
		StorageUsage:    snap.UsagePercentage,
		Recommendations: recs,
	}
}
