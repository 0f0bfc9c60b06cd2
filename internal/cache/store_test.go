package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/models"
)

func entryFixture(exactKey, simKey string, quality float64, ttl time.Duration) *models.CacheEntry {
	return &models.CacheEntry{
		ID:            uuid.New(),
		ExactKey:      exactKey,
		SimilarityKey: simKey,
		Artifact:      "<html><body>cached</body></html>",
		Provider:      "gemini-flash",
		Quality:       models.QualityScore{Composite: quality},
		OriginalCost:  0.04,
		TTL:           ttl,
		CreatedAt:     time.Now(),
		LastAccessAt:  time.Now(),
	}
}

func TestLookupExactMissThenHit(t *testing.T) {
	store := NewMemoryStore(100, 0.2)
	ctx := context.Background()

	got, err := store.LookupExact(ctx, "k1")
	if err != nil {
		t.Fatalf("LookupExact() error = %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss on empty store, got entry %v", got.ID)
	}

	entry := entryFixture("k1", "s1", 85, time.Hour)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err = store.LookupExact(ctx, "k1")
	if err != nil {
		t.Fatalf("LookupExact() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected hit after Put")
	}
	if got.Artifact != entry.Artifact {
		t.Errorf("artifact = %q, want %q", got.Artifact, entry.Artifact)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats hits/misses = %d/%d, want 1/1", stats.Hits, stats.Misses)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	store := NewMemoryStore(100, 0.2)
	ctx := context.Background()

	entry := entryFixture("k1", "s1", 85, time.Minute)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	got, err := store.LookupExact(ctx, "k1")
	if err != nil {
		t.Fatalf("LookupExact() error = %v", err)
	}
	if got != nil {
		t.Error("expired entry should read as a miss")
	}
}

func TestPutReplacesOnlyHigherQuality(t *testing.T) {
	store := NewMemoryStore(100, 0.2)
	ctx := context.Background()

	first := entryFixture("k1", "s1", 85, time.Hour)
	first.Artifact = "original"
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	lower := entryFixture("k1", "s1", 70, time.Hour)
	lower.Artifact = "worse"
	if err := store.Put(ctx, lower); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, _ := store.LookupExact(ctx, "k1")
	if got.Artifact != "original" {
		t.Errorf("lower quality Put replaced entry, artifact = %q", got.Artifact)
	}

	equal := entryFixture("k1", "s1", 85, time.Hour)
	equal.Artifact = "same quality"
	if err := store.Put(ctx, equal); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, _ = store.LookupExact(ctx, "k1")
	if got.Artifact != "original" {
		t.Errorf("equal quality Put replaced entry, artifact = %q", got.Artifact)
	}

	higher := entryFixture("k1", "s1", 92, time.Hour)
	higher.Artifact = "better"
	if err := store.Put(ctx, higher); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, _ = store.LookupExact(ctx, "k1")
	if got.Artifact != "better" {
		t.Errorf("higher quality Put did not replace entry, artifact = %q", got.Artifact)
	}
}

func TestLookupSimilarOrdering(t *testing.T) {
	store := NewMemoryStore(100, 0.2)
	ctx := context.Background()

	old := entryFixture("k-old", "shared", 90, time.Hour)
	old.LastAccessAt = time.Now().Add(-time.Hour)
	mid := entryFixture("k-mid", "shared", 75, time.Hour)
	recent := entryFixture("k-recent", "shared", 90, time.Hour)
	other := entryFixture("k-other", "different", 99, time.Hour)

	for _, e := range []*models.CacheEntry{old, mid, recent, other} {
		if err := store.Put(ctx, e); err != nil {
			t.Fatalf("Put(%s) error = %v", e.ExactKey, err)
		}
	}

	got, err := store.LookupSimilar(ctx, "shared")
	if err != nil {
		t.Fatalf("LookupSimilar() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].ExactKey != "k-recent" {
		t.Errorf("first entry = %s, want k-recent (quality tie broken by recency)", got[0].ExactKey)
	}
	if got[1].ExactKey != "k-old" {
		t.Errorf("second entry = %s, want k-old", got[1].ExactKey)
	}
	if got[2].ExactKey != "k-mid" {
		t.Errorf("third entry = %s, want k-mid (lowest quality last)", got[2].ExactKey)
	}
}

func TestRecordHitAccumulates(t *testing.T) {
	store := NewMemoryStore(100, 0.2)
	ctx := context.Background()

	entry := entryFixture("k1", "s1", 85, time.Hour)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.RecordHit(ctx, entry.ID, 0.04); err != nil {
		t.Fatalf("RecordHit() error = %v", err)
	}
	if err := store.RecordHit(ctx, entry.ID, 0.04); err != nil {
		t.Fatalf("RecordHit() error = %v", err)
	}

	got, _ := store.LookupExact(ctx, "k1")
	if got.HitCount != 2 {
		t.Errorf("hit count = %d, want 2", got.HitCount)
	}
	if got.CostSaved < 0.079 || got.CostSaved > 0.081 {
		t.Errorf("cost saved = %f, want ~0.08", got.CostSaved)
	}

	if err := store.RecordHit(ctx, uuid.New(), 0.04); err != models.ErrEntryNotFound {
		t.Errorf("RecordHit(unknown) error = %v, want ErrEntryNotFound", err)
	}
}

func TestEvictRemovesExpiredFirst(t *testing.T) {
	store := NewMemoryStore(100, 0.2)
	ctx := context.Background()

	expired := entryFixture("k-expired", "s1", 85, time.Minute)
	live := entryFixture("k-live", "s1", 85, time.Hour)
	for _, e := range []*models.CacheEntry{expired, live} {
		if err := store.Put(ctx, e); err != nil {
			t.Fatalf("Put(%s) error = %v", e.ExactKey, err)
		}
	}

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	removed, err := store.Evict(ctx)
	if err != nil {
		t.Fatalf("Evict() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if got, _ := store.LookupExact(ctx, "k-live"); got == nil {
		t.Error("live entry was evicted")
	}
}

func TestEvictTrimsLowValueEntriesOverCapacity(t *testing.T) {
	store := NewMemoryStore(4, 0.25)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, key := range []string{"k0", "k1", "k2", "k3", "k4", "k5"} {
		e := entryFixture(key, "s1", 85, 24*time.Hour)
		e.CreatedAt = base
		e.LastAccessAt = base
		if err := store.Put(ctx, e); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
		// k0 is the coldest entry, k5 the hottest.
		for j := 0; j < i; j++ {
			if err := store.RecordHit(ctx, e.ID, 0.01); err != nil {
				t.Fatalf("RecordHit(%s) error = %v", key, err)
			}
		}
	}

	removed, err := store.Evict(ctx)
	if err != nil {
		t.Fatalf("Evict() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	for _, key := range []string{"k0", "k1"} {
		if got, _ := store.LookupExact(ctx, key); got != nil {
			t.Errorf("cold entry %s survived eviction", key)
		}
	}
	for _, key := range []string{"k4", "k5"} {
		if got, _ := store.LookupExact(ctx, key); got == nil {
			t.Errorf("hot entry %s was evicted", key)
		}
	}
}

func TestStatsHitRate(t *testing.T) {
	store := NewMemoryStore(100, 0.2)
	ctx := context.Background()

	entry := entryFixture("k1", "s1", 85, time.Hour)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	store.LookupExact(ctx, "k1")      // hit
	store.LookupExact(ctx, "k1")      // hit
	store.LookupExact(ctx, "missing") // miss

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries)
	}
	want := 2.0 / 3.0
	if stats.HitRate < want-0.001 || stats.HitRate > want+0.001 {
		t.Errorf("hit rate = %f, want %f", stats.HitRate, want)
	}
}
