package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/models"
	"go.uber.org/zap"
)

// Store holds validated artifacts for reuse. Lookups never fail a request:
// callers treat a wrapped models.ErrCacheUnavailable as a miss and carry on.
type Store interface {
	// LookupExact returns the entry at the exact key, or nil on a miss.
	LookupExact(ctx context.Context, exactKey string) (*models.CacheEntry, error)
	// LookupSimilar returns live entries sharing the similarity key, ordered
	// by quality descending then last access descending.
	LookupSimilar(ctx context.Context, similarityKey string) ([]*models.CacheEntry, error)
	// Put stores the entry. An existing entry at the same exact key is
	// replaced only when the new entry's composite quality is strictly
	// higher; otherwise the existing entry is kept and Put returns nil.
	Put(ctx context.Context, entry *models.CacheEntry) error
	// RecordHit bumps the entry's hit count, last access time and cumulative
	// cost saved after an artifact is served from cache.
	RecordHit(ctx context.Context, entryID uuid.UUID, costAvoided float64) error
	// Evict removes expired entries, then trims the lowest-value survivors
	// until the store is under capacity. Returns the number removed.
	Evict(ctx context.Context) (int, error)
	// Stats reports hit/miss counters and cumulative savings.
	Stats(ctx context.Context) (models.CacheStats, error)
}

// RunEvictionLoop runs Evict on the given interval until ctx is cancelled.
func RunEvictionLoop(ctx context.Context, store Store, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Evict(ctx)
			if err != nil {
				logger.Warn("cache eviction pass failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("cache eviction pass", zap.Int("removed", removed))
			}
		}
	}
}

// MemoryStore is a mutex-guarded in-process Store for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	byExact   map[string]*models.CacheEntry
	byID      map[uuid.UUID]string
	bySimilar map[string]map[string]struct{}

	capacity      int
	evictFraction float64

	hits      int64
	misses    int64
	costSaved float64

	now func() time.Time
}

// NewMemoryStore creates an empty store bounded at capacity entries
func NewMemoryStore(capacity int, evictFraction float64) *MemoryStore {
	return &MemoryStore{
		byExact:       make(map[string]*models.CacheEntry),
		byID:          make(map[uuid.UUID]string),
		bySimilar:     make(map[string]map[string]struct{}),
		capacity:      capacity,
		evictFraction: evictFraction,
		now:           time.Now,
	}
}

func (s *MemoryStore) LookupExact(ctx context.Context, exactKey string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byExact[exactKey]
	if ok && entry.Expired(s.now()) {
		s.removeLocked(entry)
		ok = false
	}
	if !ok {
		s.misses++
		return nil, nil
	}
	s.hits++
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) LookupSimilar(ctx context.Context, similarityKey string) ([]*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []*models.CacheEntry
	for exactKey := range s.bySimilar[similarityKey] {
		entry, ok := s.byExact[exactKey]
		if !ok {
			continue
		}
		if entry.Expired(now) {
			s.removeLocked(entry)
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	sortEntries(out)
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byExact[entry.ExactKey]; ok {
		if entry.Quality.Composite <= existing.Quality.Composite {
			return nil
		}
		s.removeLocked(existing)
	}

	cp := *entry
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	if cp.LastAccessAt.IsZero() {
		cp.LastAccessAt = cp.CreatedAt
	}

	s.byExact[cp.ExactKey] = &cp
	s.byID[cp.ID] = cp.ExactKey
	if cp.SimilarityKey != "" {
		set, ok := s.bySimilar[cp.SimilarityKey]
		if !ok {
			set = make(map[string]struct{})
			s.bySimilar[cp.SimilarityKey] = set
		}
		set[cp.ExactKey] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) RecordHit(ctx context.Context, entryID uuid.UUID, costAvoided float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exactKey, ok := s.byID[entryID]
	if !ok {
		return models.ErrEntryNotFound
	}
	entry := s.byExact[exactKey]
	entry.HitCount++
	entry.LastAccessAt = s.now()
	entry.CostSaved += costAvoided
	s.costSaved += costAvoided
	return nil
}

func (s *MemoryStore) Evict(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, entry := range s.byExact {
		if entry.Expired(now) {
			s.removeLocked(entry)
			removed++
		}
	}

	over := len(s.byExact) - s.capacity
	if over <= 0 {
		return removed, nil
	}

	n := int(s.evictFraction * float64(len(s.byExact)))
	if n < over {
		n = over
	}

	survivors := make([]*models.CacheEntry, 0, len(s.byExact))
	for _, entry := range s.byExact {
		survivors = append(survivors, entry)
	}
	sort.Slice(survivors, func(i, j int) bool {
		return evictScore(survivors[i], now) < evictScore(survivors[j], now)
	})
	for i := 0; i < n && i < len(survivors); i++ {
		s.removeLocked(survivors[i])
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (models.CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.CacheStats{
		Entries:        int64(len(s.byExact)),
		Hits:           s.hits,
		Misses:         s.misses,
		TotalCostSaved: s.costSaved,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats, nil
}

func (s *MemoryStore) removeLocked(entry *models.CacheEntry) {
	delete(s.byExact, entry.ExactKey)
	delete(s.byID, entry.ID)
	if set, ok := s.bySimilar[entry.SimilarityKey]; ok {
		delete(set, entry.ExactKey)
		if len(set) == 0 {
			delete(s.bySimilar, entry.SimilarityKey)
		}
	}
}

// evictScore ranks entries for removal: fewer hits per second of age means
// less value retained.
func evictScore(entry *models.CacheEntry, now time.Time) float64 {
	age := now.Sub(entry.CreatedAt).Seconds()
	if age < 1 {
		age = 1
	}
	return float64(entry.HitCount) / age
}

// sortEntries orders by composite quality descending, breaking ties on the
// most recently accessed entry.
func sortEntries(entries []*models.CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Quality.Composite != entries[j].Quality.Composite {
			return entries[i].Quality.Composite > entries[j].Quality.Composite
		}
		return entries[i].LastAccessAt.After(entries[j].LastAccessAt)
	})
}
