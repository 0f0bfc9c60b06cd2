package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/models"
)

// Reservation is the outcome of a TryReserve call
type Reservation struct {
	Granted   bool
	Remaining float64
}

// Ledger tracks cumulative spend per tenant per UTC day and enforces the
// tier ceiling. TryReserve is linearizable per tenant-window: concurrent
// reservations never jointly exceed the ceiling.
type Ledger interface {
	// TryReserve atomically adds amount to the tenant's window if the
	// ceiling allows it. On a denied reservation nothing is mutated.
	TryReserve(ctx context.Context, tenantID uuid.UUID, tier models.Tier, amount float64) (Reservation, error)

	// Release reverses a reservation after a failed attempt so failed
	// generations are never charged.
	Release(ctx context.Context, tenantID uuid.UUID, amount float64) error

	// Charge records spend unconditionally, with no ceiling check. Used to
	// settle the overage when a generation's actual cost exceeds the
	// reserved estimate: the cost is already incurred, so the window must
	// reflect it even past the ceiling.
	Charge(ctx context.Context, tenantID uuid.UUID, amount float64) error

	// AlertCheck reports whether spend has crossed the alert threshold.
	// Decoupled from granting so alerting never blocks generation.
	AlertCheck(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (bool, error)

	// Window returns the tenant's current budget window.
	Window(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (models.BudgetWindow, error)
}

// Ceilings maps tiers to daily dollar ceilings
type Ceilings struct {
	Free     float64
	Creator  float64
	Business float64
	Agency   float64

	// AlertFraction of the ceiling at which AlertCheck fires
	AlertFraction float64
}

// For returns the ceiling for a tier, defaulting unknown tiers to free
func (c Ceilings) For(tier models.Tier) float64 {
	switch tier {
	case models.TierCreator:
		return c.Creator
	case models.TierBusiness:
		return c.Business
	case models.TierAgency:
		return c.Agency
	default:
		return c.Free
	}
}

// dayKey is the UTC day the window covers
func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// MemoryLedger is the in-process implementation used in development and
// tests. A single mutex serializes reservations, which trivially satisfies
// the linearizability requirement.
type MemoryLedger struct {
	mu       sync.Mutex
	ceilings Ceilings
	spend    map[string]float64 // tenant|day -> spend

	now func() time.Time
}

// NewMemoryLedger creates an in-memory ledger
func NewMemoryLedger(ceilings Ceilings) *MemoryLedger {
	return &MemoryLedger{
		ceilings: ceilings,
		spend:    make(map[string]float64),
		now:      time.Now,
	}
}

func (l *MemoryLedger) key(tenantID uuid.UUID) string {
	return tenantID.String() + "|" + dayKey(l.now())
}

func (l *MemoryLedger) TryReserve(ctx context.Context, tenantID uuid.UUID, tier models.Tier, amount float64) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ceiling := l.ceilings.For(tier)
	key := l.key(tenantID)
	current := l.spend[key]

	if current+amount > ceiling {
		return Reservation{Granted: false, Remaining: ceiling - current}, nil
	}

	l.spend[key] = current + amount
	return Reservation{Granted: true, Remaining: ceiling - (current + amount)}, nil
}

func (l *MemoryLedger) Release(ctx context.Context, tenantID uuid.UUID, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.key(tenantID)
	l.spend[key] -= amount
	if l.spend[key] < 0 {
		l.spend[key] = 0
	}
	return nil
}

func (l *MemoryLedger) Charge(ctx context.Context, tenantID uuid.UUID, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.spend[l.key(tenantID)] += amount
	return nil
}

func (l *MemoryLedger) AlertCheck(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ceiling := l.ceilings.For(tier)
	return l.spend[l.key(tenantID)] >= ceiling*l.ceilings.AlertFraction, nil
}

func (l *MemoryLedger) Window(ctx context.Context, tenantID uuid.UUID, tier models.Tier) (models.BudgetWindow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ceiling := l.ceilings.For(tier)
	return models.BudgetWindow{
		TenantID:       tenantID,
		Day:            dayKey(l.now()),
		Spend:          l.spend[l.key(tenantID)],
		Ceiling:        ceiling,
		AlertThreshold: ceiling * l.ceilings.AlertFraction,
	}, nil
}
