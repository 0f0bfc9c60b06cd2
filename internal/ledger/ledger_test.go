package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/models"
)

func testCeilings() Ceilings {
	return Ceilings{
		Free:          1.00,
		Creator:       8.82,
		Business:      23.84,
		Agency:        131.67,
		AlertFraction: 0.75,
	}
}

func TestTryReserveGrantsWithinCeiling(t *testing.T) {
	l := NewMemoryLedger(testCeilings())
	ctx := context.Background()
	tenant := uuid.New()

	res, err := l.TryReserve(ctx, tenant, models.TierFree, 0.40)
	if err != nil {
		t.Fatalf("TryReserve failed: %v", err)
	}
	if !res.Granted {
		t.Fatal("reservation within ceiling must be granted")
	}
	if res.Remaining != 0.60 {
		t.Errorf("expected 0.60 remaining, got %f", res.Remaining)
	}
}

func TestTryReserveDeniesOverCeiling(t *testing.T) {
	l := NewMemoryLedger(testCeilings())
	ctx := context.Background()
	tenant := uuid.New()

	l.TryReserve(ctx, tenant, models.TierFree, 0.90)

	res, err := l.TryReserve(ctx, tenant, models.TierFree, 0.20)
	if err != nil {
		t.Fatalf("TryReserve failed: %v", err)
	}
	if res.Granted {
		t.Error("reservation over ceiling must be denied")
	}

	// Denied reservations must not mutate the window.
	w, _ := l.Window(ctx, tenant, models.TierFree)
	if w.Spend != 0.90 {
		t.Errorf("denied reservation mutated spend: %f", w.Spend)
	}
}

func TestTryReserveAtomicUnderConcurrency(t *testing.T) {
	l := NewMemoryLedger(testCeilings())
	ctx := context.Background()
	tenant := uuid.New()

	// Ceiling 1.00, per-call 0.30: exactly 3 of N concurrent calls may win.
	const workers = 50
	var granted atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.TryReserve(ctx, tenant, models.TierFree, 0.30)
			if err != nil {
				t.Errorf("TryReserve failed: %v", err)
				return
			}
			if res.Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 3 {
		t.Errorf("expected exactly 3 grants under a 1.00 ceiling at 0.30 each, got %d", granted.Load())
	}
}

func TestReleaseRestoresHeadroom(t *testing.T) {
	l := NewMemoryLedger(testCeilings())
	ctx := context.Background()
	tenant := uuid.New()

	l.TryReserve(ctx, tenant, models.TierFree, 1.00)

	if res, _ := l.TryReserve(ctx, tenant, models.TierFree, 0.50); res.Granted {
		t.Fatal("window should be exhausted")
	}

	if err := l.Release(ctx, tenant, 1.00); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if res, _ := l.TryReserve(ctx, tenant, models.TierFree, 0.50); !res.Granted {
		t.Error("released budget should be reservable again")
	}
}

func TestChargeRecordsPastCeiling(t *testing.T) {
	l := NewMemoryLedger(testCeilings())
	ctx := context.Background()
	tenant := uuid.New()

	l.TryReserve(ctx, tenant, models.TierFree, 0.90)

	// Charge bypasses the ceiling check: spend already incurred must land
	// in the window even when it overflows.
	if err := l.Charge(ctx, tenant, 0.15); err != nil {
		t.Fatalf("Charge failed: %v", err)
	}

	w, _ := l.Window(ctx, tenant, models.TierFree)
	if diff := w.Spend - 1.05; diff < -0.0001 || diff > 0.0001 {
		t.Errorf("expected spend 1.05 after overage charge, got %f", w.Spend)
	}
	if w.Remaining() != 0 {
		t.Errorf("overflowed window should report zero headroom, got %f", w.Remaining())
	}
}

func TestAlertCheckThreshold(t *testing.T) {
	l := NewMemoryLedger(testCeilings())
	ctx := context.Background()
	tenant := uuid.New()

	l.TryReserve(ctx, tenant, models.TierFree, 0.50)
	if alert, _ := l.AlertCheck(ctx, tenant, models.TierFree); alert {
		t.Error("50% spend is below the 75% alert threshold")
	}

	l.TryReserve(ctx, tenant, models.TierFree, 0.30)
	if alert, _ := l.AlertCheck(ctx, tenant, models.TierFree); !alert {
		t.Error("80% spend should trip the alert")
	}
}

func TestWindowsIsolatedPerTenant(t *testing.T) {
	l := NewMemoryLedger(testCeilings())
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	l.TryReserve(ctx, a, models.TierFree, 1.00)

	res, _ := l.TryReserve(ctx, b, models.TierFree, 1.00)
	if !res.Granted {
		t.Error("one tenant's spend must not consume another tenant's window")
	}
}

func TestCeilingsPerTier(t *testing.T) {
	c := testCeilings()
	cases := []struct {
		tier models.Tier
		want float64
	}{
		{models.TierFree, 1.00},
		{models.TierCreator, 8.82},
		{models.TierBusiness, 23.84},
		{models.TierAgency, 131.67},
		{models.Tier("unknown"), 1.00},
	}
	for _, tc := range cases {
		if got := c.For(tc.tier); got != tc.want {
			t.Errorf("ceiling for %s: got %f want %f", tc.tier, got, tc.want)
		}
	}
}
