package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/database"
	"github.com/loomworks/api/internal/models"
	"go.uber.org/zap"
)

// Journal writes one durable usage row per charged generation. Journal
// failures are logged and swallowed: the authoritative spend number lives in
// the ledger window, the journal exists for reporting.
type Journal struct {
	db     *database.Postgres
	logger *zap.Logger
}

// NewJournal creates a journal over the shared connection pool
func NewJournal(db *database.Postgres, logger *zap.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// Record inserts a usage row. Runs with its own timeout so a slow database
// cannot hold up the response path it is called from.
func (j *Journal) Record(rec models.UsageRecord) {
	if j.db == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO usage_records (id, tenant_id, provider, tokens_in, tokens_out, cost, cache_hit, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := j.db.Pool().Exec(ctx, query,
		rec.ID, rec.TenantID, rec.Provider, rec.TokensIn, rec.TokensOut,
		rec.Cost, rec.CacheHit, rec.LatencyMs,
	)
	if err != nil {
		j.logger.Error("failed to journal usage record",
			zap.String("tenant_id", rec.TenantID.String()),
			zap.Error(err),
		)
	}
}
