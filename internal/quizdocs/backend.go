package quizdocs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"quizzer-backend/internal/shared/storage/kv"
	"quizzer-backend/internal/shared/telemetry"
)

// StorageKey is the single key the whole record set lives under.
const StorageKey = "quizzer:document_cache"

const probeKey = "quizzer:storage_probe"

// Capacity defaults.
const (
	DefaultMaxDocuments   = 50
	DefaultMaxStorageSize = 5 << 20 // 5 MiB serialized
)

// Availability reasons.
const (
	ReasonAvailable    = "available"
	ReasonQuota        = "quota_exceeded"
	ReasonSecurity     = "security_error"
	ReasonNotSupported = "not_supported"
	ReasonTestFailed   = "test_failed"
	ReasonUnknown      = "unknown_error"
)

// Availability is the result of probing the underlying store.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
}

// UsageSnapshot describes how full the backend is. It is a pure computation
// over the stored payload; the flags encode the alert thresholds (near limit
// above 80%, cleanup at the count cap or above 90%).
type UsageSnapshot struct {
	CurrentSize     int64   `json:"currentSize"`
	MaxSize         int64   `json:"maxSize"`
	DocumentCount   int     `json:"documentCount"`
	MaxDocuments    int     `json:"maxDocuments"`
	UsagePercentage float64 `json:"usagePercentage"`
	AvailableSpace  int64   `json:"availableSpace"`
	IsNearLimit     bool    `json:"isNearLimit"`
	NeedsCleanup    bool    `json:"needsCleanup"`
}

// Backend wraps a kv.Store with the cache's byte and count budgets. Every
// operation absorbs underlying faults: nothing below this boundary throws past
// it, results degrade to booleans, empty sets, or classified reasons.
type Backend struct {
	store    kv.Store
	bus      *kv.Bus
	origin   string
	maxDocs  int
	maxBytes int64
}

// NewBackend wraps store. origin identifies this cache instance on the bus so
// it does not hear its own writes. Zero limits fall back to the defaults.
func NewBackend(store kv.Store, bus *kv.Bus, origin string, maxDocs int, maxBytes int64) *Backend {
	if maxDocs <= 0 {
		maxDocs = DefaultMaxDocuments
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxStorageSize
	}
	return &Backend{
		store:    store,
		bus:      bus,
		origin:   origin,
		maxDocs:  maxDocs,
		maxBytes: maxBytes,
	}
}

// MaxDocuments returns the record count budget.
func (b *Backend) MaxDocuments() int { return b.maxDocs }

// Save serializes the full record set and writes it atomically under the
// cache key. It returns false, without failing loudly, when the payload would
// exceed the byte budget or the underlying write fails for any reason.
func (b *Backend) Save(ctx context.Context, records []Record) bool {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		telemetry.Error("cache.save.marshal_failed", map[string]any{"error": err.Error()})
		return false
	}

	if int64(len(data)) > b.maxBytes {
		telemetry.Warn("cache.save.size_limit_exceeded", map[string]any{
			"payload_bytes": len(data),
			"max_bytes":     b.maxBytes,
		})
		return false
	}

	if err := b.store.Set(ctx, StorageKey, data); err != nil {
		if errors.Is(err, kv.ErrQuotaExceeded) {
			telemetry.Warn("cache.save.quota_exceeded", map[string]any{"error": err.Error()})
		} else {
			telemetry.Error("cache.save.failed", map[string]any{"error": err.Error()})
		}
		return false
	}

	if b.bus != nil {
		b.bus.Publish(kv.Event{Key: StorageKey, Value: data, Origin: b.origin})
	}
	return true
}

// Load reads and deserializes the stored record set. A missing key yields an
// empty set. A structurally invalid payload (anything but a JSON array) also
// yields an empty set and clears the corrupted entry as a side effect.
func (b *Backend) Load(ctx context.Context) []Record {
	data, err := b.store.Get(ctx, StorageKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			telemetry.Error("cache.load.failed", map[string]any{"error": err.Error()})
		}
		return nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		telemetry.Warn("cache.load.invalid_structure", map[string]any{"payload_bytes": len(data)})
		b.Clear(ctx)
		return nil
	}

	var records []Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		telemetry.Warn("cache.load.corrupt_payload", map[string]any{"error": err.Error()})
		b.Clear(ctx)
		return nil
	}
	return records
}

// Clear removes the cache key. Failures are logged and swallowed.
func (b *Backend) Clear(ctx context.Context) {
	if err := b.store.Delete(ctx, StorageKey); err != nil {
		telemetry.Error("cache.clear.failed", map[string]any{"error": err.Error()})
		return
	}
	if b.bus != nil {
		b.bus.Publish(kv.Event{Key: StorageKey, Value: nil, Origin: b.origin})
	}
}

// Availability probes the store with a throwaway write/read/delete cycle and
// classifies any failure.
func (b *Backend) Availability(ctx context.Context) Availability {
	if b.store == nil {
		return Availability{Available: false, Reason: ReasonNotSupported}
	}

	const probeValue = "probe"
	if err := b.store.Set(ctx, probeKey, []byte(probeValue)); err != nil {
		return Availability{Available: false, Reason: classifyError(err)}
	}

	got, err := b.store.Get(ctx, probeKey)
	if err != nil {
		_ = b.store.Delete(ctx, probeKey)
		return Availability{Available: false, Reason: classifyError(err)}
	}
	_ = b.store.Delete(ctx, probeKey)

	if string(got) != probeValue {
		return Availability{Available: false, Reason: ReasonTestFailed}
	}
	return Availability{Available: true, Reason: ReasonAvailable}
}

// AttemptRecovery tries to reclaim space by removing keys elsewhere in the
// origin whose names look temporary, then re-probes. This is a blunt
// best-effort sweep: any unrelated data sharing the origin under a
// temp/cache/tmp name is fair game, so every removal is logged.
func (b *Backend) AttemptRecovery(ctx context.Context) bool {
	keys, err := b.store.Keys(ctx)
	if err != nil {
		telemetry.Error("cache.recovery.list_failed", map[string]any{"error": err.Error()})
		return false
	}

	for _, key := range keys {
		if key == StorageKey || !looksTemporary(key) {
			continue
		}
		if err := b.store.Delete(ctx, key); err != nil {
			continue
		}
		telemetry.Info("cache.recovery.removed_key", map[string]any{"key": key})
	}

	return b.Availability(ctx).Available
}

// Usage computes the current usage snapshot from the stored payload.
func (b *Backend) Usage(ctx context.Context) UsageSnapshot {
	snap := UsageSnapshot{
		MaxSize:        b.maxBytes,
		MaxDocuments:   b.maxDocs,
		AvailableSpace: b.maxBytes,
	}

	data, err := b.store.Get(ctx, StorageKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		telemetry.Error("cache.usage.failed", map[string]any{"error": err.Error()})
		return snap
	}

	snap.CurrentSize = int64(len(data))
	snap.DocumentCount = len(b.Load(ctx))
	snap.UsagePercentage = float64(snap.CurrentSize) / float64(b.maxBytes) * 100
	snap.AvailableSpace = b.maxBytes - snap.CurrentSize
	snap.IsNearLimit = snap.UsagePercentage > 80
	snap.NeedsCleanup = snap.DocumentCount >= b.maxDocs || snap.UsagePercentage > 90
	return snap
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, kv.ErrQuotaExceeded):
		return ReasonQuota
	case errors.Is(err, kv.ErrPermission):
		return ReasonSecurity
	default:
		return ReasonUnknown
	}
}

func looksTemporary(key string) bool {
	return strings.Contains(key, "temp") ||
		strings.Contains(key, "cache") ||
		strings.Contains(key, "tmp")
}
