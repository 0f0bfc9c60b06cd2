package models

import (
	"time"

	"github.com/google/uuid"
)

// TargetFormat is the kind of artifact a request asks for
type TargetFormat string

const (
	FormatMarkup    TargetFormat = "markup"
	FormatComponent TargetFormat = "component"
	FormatTemplate  TargetFormat = "template"
)

// Valid reports whether the format is one of the supported values
func (f TargetFormat) Valid() bool {
	switch f {
	case FormatMarkup, FormatComponent, FormatTemplate:
		return true
	}
	return false
}

// Tier is the tenant's subscription tier, which sets the daily spend ceiling
type Tier string

const (
	TierFree     Tier = "free"
	TierCreator  Tier = "creator"
	TierBusiness Tier = "business"
	TierAgency   Tier = "agency"
)

// Valid reports whether the tier is a known subscription tier
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierCreator, TierBusiness, TierAgency:
		return true
	}
	return false
}

// HealthState is the registry's view of a provider's availability
type HealthState string

const (
	HealthAvailable   HealthState = "available"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

// GenerationRequest is a single content-generation request. Immutable once
// received; all derived state lives in the orchestrator's attempt.
type GenerationRequest struct {
	TenantID         uuid.UUID         `json:"tenant_id"`
	Tier             Tier              `json:"tier"`
	Description      string            `json:"description"`
	Format           TargetFormat      `json:"format"`
	Complexity       int               `json:"complexity"` // 1-5
	StylePreferences map[string]string `json:"style_preferences,omitempty"`
	ImageHash        string            `json:"image_hash,omitempty"`
}

// Fingerprint addresses a request in the cache. ExactKey is stable across
// superficially different but semantically identical requests; SimilarityKey
// collides for near-duplicates with the same structural parameters.
type Fingerprint struct {
	ExactKey      string `json:"exact_key"`
	SimilarityKey string `json:"similarity_key"`
}

// Diagnostic is a single quality finding attached to a score
type Diagnostic struct {
	Category   string `json:"category"`
	Severity   string `json:"severity"` // error, warning, info
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// QualityScore is the six-category breakdown plus composite produced by the
// quality gate. Composite is forced to 0 when Structure is below the hard
// floor, regardless of the other categories.
type QualityScore struct {
	Composite     float64      `json:"composite"`
	Structure     float64      `json:"structure"`
	Security      float64      `json:"security"`
	Performance   float64      `json:"performance"`
	Accessibility float64      `json:"accessibility"`
	Conventions   float64      `json:"conventions"`
	Completeness  float64      `json:"completeness"`
	Diagnostics   []Diagnostic `json:"diagnostics,omitempty"`
}

// CacheEntry is a validated artifact held for reuse. Owned exclusively by the
// cache store; only RecordHit mutates it after creation.
type CacheEntry struct {
	ID            uuid.UUID     `json:"id"`
	ExactKey      string        `json:"exact_key"`
	SimilarityKey string        `json:"similarity_key"`
	Artifact      string        `json:"artifact"`
	Provider      string        `json:"provider"`
	Quality       QualityScore  `json:"quality"`
	OriginalCost  float64       `json:"original_cost"`
	CostSaved     float64       `json:"cost_saved"`
	HitCount      int64         `json:"hit_count"`
	TTL           time.Duration `json:"ttl"`
	CreatedAt     time.Time     `json:"created_at"`
	LastAccessAt  time.Time     `json:"last_access_at"`
}

// Expired reports whether the entry has outlived its TTL at the given time
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// ProviderDescriptor describes one generation provider in the registry.
// Health is mutated only through the registry's ReportOutcome path.
type ProviderDescriptor struct {
	ID               string      `json:"id"`
	InputCostPer1M   float64     `json:"input_cost_per_1m"`
	OutputCostPer1M  float64     `json:"output_cost_per_1m"`
	CapabilityTags   []string    `json:"capability_tags"`
	MaxComplexity    int         `json:"max_complexity"`
	SupportsVision   bool        `json:"supports_vision"`
	Health           HealthState `json:"health"`
	ConsecutiveFails int         `json:"-"`
	DegradedUntil    time.Time   `json:"-"`
}

// HasTag reports whether the descriptor declares the given capability
func (d *ProviderDescriptor) HasTag(tag string) bool {
	for _, t := range d.CapabilityTags {
		if t == tag {
			return true
		}
	}
	return false
}

// BudgetWindow is a tenant's spend accounting for one UTC day
type BudgetWindow struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	Day            string    `json:"day"` // 2006-01-02
	Spend          float64   `json:"spend"`
	Ceiling        float64   `json:"ceiling"`
	AlertThreshold float64   `json:"alert_threshold"`
}

// Remaining is the headroom left under the ceiling
func (w *BudgetWindow) Remaining() float64 {
	r := w.Ceiling - w.Spend
	if r < 0 {
		return 0
	}
	return r
}

// RejectReason categorizes a terminal orchestration failure for the caller
type RejectReason string

const (
	RejectBudgetExceeded   RejectReason = "budget_exceeded"
	RejectNoProvider       RejectReason = "no_provider_available"
	RejectRetriesExhausted RejectReason = "retries_exhausted"
	RejectCancelled        RejectReason = "cancelled"
	RejectInvalidRequest   RejectReason = "invalid_request"
	RejectReasonNone       RejectReason = ""
)

// GenerationResult is what the orchestrator hands back to the HTTP layer
type GenerationResult struct {
	Success      bool          `json:"success"`
	Artifact     string        `json:"artifact,omitempty"`
	Quality      *QualityScore `json:"quality,omitempty"`
	ProviderUsed string        `json:"provider_used,omitempty"`
	Cost         float64       `json:"cost"`
	CacheHit     bool          `json:"cache_hit"`
	Reason       RejectReason  `json:"reason,omitempty"`
}

// CacheStats summarizes cache effectiveness for the stats endpoint
type CacheStats struct {
	Entries        int64   `json:"entries"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	TotalCostSaved float64 `json:"total_cost_saved"`
}

// UsageRecord is one charged generation, journaled durably per tenant
type UsageRecord struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Provider  string    `json:"provider"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Cost      float64   `json:"cost"`
	CacheHit  bool      `json:"cache_hit"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
