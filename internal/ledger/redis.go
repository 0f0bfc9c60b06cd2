package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// reserveScript does the ceiling check and increment in one atomic step on
// the Redis side, which makes reservations linearizable per window key.
// KEYS[1] window key, ARGV[1] amount, ARGV[2] ceiling, ARGV[3] expiry secs.
// Returns {granted, new_spend}.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local ceiling = tonumber(ARGV[2])
if current + amount > ceiling then
  return {0, tostring(current)}
end
local updated = redis.call('INCRBYFLOAT', KEYS[1], amount)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, updated}
`)

// RedisLedger is the production ledger: spend windows live in Redis under
// daily keys, and every charged generation is journaled to Postgres through
// the Journal for durable reporting.
type RedisLedger struct {
	client   *redis.Client
	ceilings Ceilings
	expiry   time.Duration
	logger   *zap.Logger

	now func() time.Time
}

// NewRedisLedger creates a ledger over an existing Redis client
func NewRedisLedger(client *redis.Client, ceilings Ceilings, expiry time.Duration, logger *zap.Logger) *RedisLedger {
	return &RedisLedger{
		client:   client,
		ceilings: ceilings,
		expiry:   expiry,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *RedisLedger) key(tenantID uuid.UUID) string {
	return fmt.Sprintf("budget:daily:%s:%s", tenantID, dayKey(l.now()))
}

func (l *RedisLedger) TryReserve(ctx context.Context, tenantID uuid.UUID, tier models.Tier, amount float64) (Reservation, error) {
	ceiling := l.ceilings.For(tier)

	res, err := reserveScript.Run(ctx, l.client,
		[]string{l.key(tenantID)},
		amount, ceiling, int(l.expiry.Seconds()),
	).Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve budget: %w", err)
	}
	if len(res) != 2 {
		return Reservation{}, fmt.Errorf("reserve budget: unexpected script reply %v", res)
	}

	granted, _ := res[0].(int64)
	spendStr, _ := res[1].(string)
	var spend float64
	fmt.Sscanf(spendStr, "%g", &spend)

	return Reservation{
		Granted:   granted == 1,
		Remaining: ceiling - spend,
	}, nil
}

func (l *RedisLedger) Release(ctx context.Context, tenantID uuid.UUID, amount float64) error {
	if err := l.client.IncrByFloat(ctx, l.key(tenantID), -amount).Err(); err != nil {
		return fmt.Errorf("release budget: %w", err)
	}
	return nil
}

func (l *RedisLedger) Charge(ctx context.Context, tenantID uuid.UUID, amount float64) error {
	pipe := l.client.TxPipeline()
	pipe.IncrByFloat(ctx, l.key(tenantID), amount)
	pipe.Expire(ctx, l.key(tenantID), l.expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("charge budget: %w", err)
	}
	return nil
}

func (l *RedisLedger) AlertCheck(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (bool, error) {
	spend, err := l.spend(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return spend >= l.ceilings.For(tier)*l.ceilings.AlertFraction, nil
}

func (l *RedisLedger) Window(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (models.BudgetWindow, error) {
	spend, err := l.spend(ctx, tenantID)
	if err != nil {
		return models.BudgetWindow{}, err
	}

	ceiling := l.ceilings.For(tier)
	return models.BudgetWindow{
		TenantID:       tenantID,
		Day:            dayKey(l.now()),
		Spend:          spend,
		Ceiling:        ceiling,
		AlertThreshold: ceiling * l.ceilings.AlertFraction,
	}, nil
}

func (l *RedisLedger) spend(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	val, err := l.client.Get(ctx, l.key(tenantID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read budget window: %w", err)
	}
	return val, nil
}
