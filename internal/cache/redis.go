package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	entryKeyPrefix = "cache:entry:"
	idKeyPrefix    = "cache:id:"
	simKeyPrefix   = "cache:sim:"
	indexKey       = "cache:index"
	hitsKey        = "cache:hits"
	missesKey      = "cache:misses"
	costSavedKey   = "cache:cost_saved"
)

// RedisStore is the production Store. Entries live as JSON values with a
// Redis TTL matching the entry TTL, so expiry needs no sweeper of its own;
// Evict only handles the capacity bound and index cleanup.
type RedisStore struct {
	client        *redis.Client
	capacity      int
	evictFraction float64
	logger        *zap.Logger
}

// NewRedisStore creates a store over the shared Redis client
func NewRedisStore(client *redis.Client, capacity int, evictFraction float64, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:        client,
		capacity:      capacity,
		evictFraction: evictFraction,
		logger:        logger,
	}
}

func (s *RedisStore) LookupExact(ctx context.Context, exactKey string) (*models.CacheEntry, error) {
	raw, err := s.client.Get(ctx, entryKeyPrefix+exactKey).Result()
	if err == redis.Nil {
		s.client.Incr(ctx, missesKey)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup exact: %v", models.ErrCacheUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Corrupt value: drop it and treat as a miss.
		s.client.Del(ctx, entryKeyPrefix+exactKey)
		s.client.Incr(ctx, missesKey)
		return nil, nil
	}
	s.client.Incr(ctx, hitsKey)
	return &entry, nil
}

func (s *RedisStore) LookupSimilar(ctx context.Context, similarityKey string) ([]*models.CacheEntry, error) {
	members, err := s.client.SMembers(ctx, simKeyPrefix+similarityKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lookup similar: %v", models.ErrCacheUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = entryKeyPrefix + m
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lookup similar: %v", models.ErrCacheUnavailable, err)
	}

	var out []*models.CacheEntry
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Entry expired out from under the index.
			s.client.SRem(ctx, simKeyPrefix+similarityKey, members[i])
			continue
		}
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, &entry)
	}
	sortEntries(out)
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	existingRaw, err := s.client.Get(ctx, entryKeyPrefix+entry.ExactKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: put: %v", models.ErrCacheUnavailable, err)
	}
	if err == nil {
		var existing models.CacheEntry
		if json.Unmarshal([]byte(existingRaw), &existing) == nil &&
			entry.Quality.Composite <= existing.Quality.Composite {
			return nil
		}
	}

	cp := *entry
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.LastAccessAt.IsZero() {
		cp.LastAccessAt = cp.CreatedAt
	}

	raw, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("%w: put: %v", models.ErrCacheUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKeyPrefix+cp.ExactKey, raw, cp.TTL)
	pipe.Set(ctx, idKeyPrefix+cp.ID.String(), cp.ExactKey, cp.TTL)
	pipe.SAdd(ctx, indexKey, cp.ExactKey)
	if cp.SimilarityKey != "" {
		pipe.SAdd(ctx, simKeyPrefix+cp.SimilarityKey, cp.ExactKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: put: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *RedisStore) RecordHit(ctx context.Context, entryID uuid.UUID, costAvoided float64) error {
	exactKey, err := s.client.Get(ctx, idKeyPrefix+entryID.String()).Result()
	if err == redis.Nil {
		return models.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: record hit: %v", models.ErrCacheUnavailable, err)
	}

	raw, err := s.client.Get(ctx, entryKeyPrefix+exactKey).Result()
	if err == redis.Nil {
		return models.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: record hit: %v", models.ErrCacheUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("%w: record hit: %v", models.ErrCacheUnavailable, err)
	}
	entry.HitCount++
	entry.LastAccessAt = time.Now().UTC()
	entry.CostSaved += costAvoided

	updated, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("%w: record hit: %v", models.ErrCacheUnavailable, err)
	}

	pipe := s.client.TxPipeline()
	pipe.SetArgs(ctx, entryKeyPrefix+exactKey, updated, redis.SetArgs{KeepTTL: true})
	pipe.IncrByFloat(ctx, costSavedKey, costAvoided)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: record hit: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Evict(ctx context.Context) (int, error) {
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: evict: %v", models.ErrCacheUnavailable, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = entryKeyPrefix + m
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: evict: %v", models.ErrCacheUnavailable, err)
	}

	now := time.Now().UTC()
	removed := 0
	var live []*models.CacheEntry
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// TTL already reaped the value; drop the index member.
			s.client.SRem(ctx, indexKey, members[i])
			removed++
			continue
		}
		var entry models.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.removeEntry(ctx, members[i], &entry)
			removed++
			continue
		}
		if entry.Expired(now) {
			s.removeEntry(ctx, members[i], &entry)
			removed++
			continue
		}
		live = append(live, &entry)
	}

	over := len(live) - s.capacity
	if over <= 0 {
		return removed, nil
	}

	n := int(s.evictFraction * float64(len(live)))
	if n < over {
		n = over
	}
	sortForEviction(live, now)
	for i := 0; i < n && i < len(live); i++ {
		s.removeEntry(ctx, live[i].ExactKey, live[i])
		removed++
	}
	return removed, nil
}

func (s *RedisStore) Stats(ctx context.Context) (models.CacheStats, error) {
	pipe := s.client.Pipeline()
	hits := pipe.Get(ctx, hitsKey)
	misses := pipe.Get(ctx, missesKey)
	saved := pipe.Get(ctx, costSavedKey)
	entries := pipe.SCard(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return models.CacheStats{}, fmt.Errorf("%w: stats: %v", models.ErrCacheUnavailable, err)
	}

	stats := models.CacheStats{
		Hits:           parseCounter(hits),
		Misses:         parseCounter(misses),
		Entries:        entries.Val(),
		TotalCostSaved: parseFloatCounter(saved),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

func (s *RedisStore) removeEntry(ctx context.Context, exactKey string, entry *models.CacheEntry) {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKeyPrefix+exactKey)
	pipe.SRem(ctx, indexKey, exactKey)
	if entry != nil && entry.SimilarityKey != "" {
		pipe.SRem(ctx, simKeyPrefix+entry.SimilarityKey, exactKey)
	}
	if entry != nil && entry.ID != uuid.Nil {
		pipe.Del(ctx, idKeyPrefix+entry.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("failed to remove cache entry", zap.String("exact_key", exactKey), zap.Error(err))
	}
}

func parseCounter(cmd *redis.StringCmd) int64 {
	v, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return v
}

func parseFloatCounter(cmd *redis.StringCmd) float64 {
	v, err := cmd.Float64()
	if err != nil {
		return 0
	}
	return v
}

// sortForEviction orders ascending by hits per second of age, lowest value
// first.
func sortForEviction(entries []*models.CacheEntry, now time.Time) {
	sort.Slice(entries, func(i, j int) bool {
		return evictScore(entries[i], now) < evictScore(entries[j], now)
	})
}
