package registry

import (
	"testing"
	"time"

	"github.com/loomworks/api/internal/models"
	"github.com/loomworks/api/internal/providers"
	"go.uber.org/zap"
)

func descriptor(id string, inCost, outCost float64) models.ProviderDescriptor {
	return models.ProviderDescriptor{
		ID:              id,
		InputCostPer1M:  inCost,
		OutputCostPer1M: outCost,
		CapabilityTags:  []string{"markup", "component", "template"},
		MaxComplexity:   5,
	}
}

func testRequest() models.GenerationRequest {
	return models.GenerationRequest{
		Description: "pricing card",
		Format:      models.FormatComponent,
		Complexity:  3,
	}
}

func newTestRegistry() *Registry {
	return New(30*time.Second, 3, zap.NewNop())
}

func registerStatic(r *Registry, d models.ProviderDescriptor) *providers.StaticProvider {
	p := &providers.StaticProvider{Descriptor: d, Artifact: "<div/>"}
	r.Register(d, p)
	return p
}

func TestSelectNextPrefersCheapest(t *testing.T) {
	reg := newTestRegistry()
	registerStatic(reg, descriptor("cheap", 0.14, 0.28))
	registerStatic(reg, descriptor("premium", 10.0, 30.0))

	router := NewRouter(reg, zap.NewNop())

	d, cost, err := router.SelectNext(testRequest(), nil, 100)
	if err != nil {
		t.Fatalf("SelectNext failed: %v", err)
	}
	if d.ID != "cheap" {
		t.Errorf("expected cheapest provider, got %s", d.ID)
	}
	if cost <= 0 {
		t.Errorf("estimated cost should be positive, got %f", cost)
	}
}

func TestSelectNextHonorsExclusions(t *testing.T) {
	reg := newTestRegistry()
	registerStatic(reg, descriptor("cheap", 0.14, 0.28))
	registerStatic(reg, descriptor("premium", 10.0, 30.0))

	router := NewRouter(reg, zap.NewNop())

	d, _, err := router.SelectNext(testRequest(), map[string]bool{"cheap": true}, 100)
	if err != nil {
		t.Fatalf("SelectNext failed: %v", err)
	}
	if d.ID != "premium" {
		t.Errorf("excluded provider must be skipped, got %s", d.ID)
	}
}

func TestSelectNextSkipsUnavailable(t *testing.T) {
	reg := newTestRegistry()
	registerStatic(reg, descriptor("only", 0.14, 0.28))

	for i := 0; i < 3; i++ {
		reg.ReportOutcome("only", providers.ErrTimeout)
	}

	router := NewRouter(reg, zap.NewNop())
	if _, _, err := router.SelectNext(testRequest(), nil, 100); err != models.ErrNoProviderAvailable {
		t.Errorf("expected ErrNoProviderAvailable, got %v", err)
	}
}

func TestSelectNextRespectsBudget(t *testing.T) {
	reg := newTestRegistry()
	registerStatic(reg, descriptor("premium", 10.0, 30.0))

	router := NewRouter(reg, zap.NewNop())
	if _, _, err := router.SelectNext(testRequest(), nil, 0.0000001); err != models.ErrNoProviderAvailable {
		t.Errorf("provider above remaining budget must not be selected, got %v", err)
	}
}

func TestSelectNextFiltersCapabilities(t *testing.T) {
	reg := newTestRegistry()

	limited := descriptor("text-only", 0.1, 0.2)
	limited.CapabilityTags = []string{"markup"}
	registerStatic(reg, limited)

	router := NewRouter(reg, zap.NewNop())

	req := testRequest()
	req.Format = models.FormatComponent
	if _, _, err := router.SelectNext(req, nil, 100); err != models.ErrNoProviderAvailable {
		t.Errorf("provider without the format tag must be filtered, got %v", err)
	}

	req.Format = models.FormatMarkup
	if _, _, err := router.SelectNext(req, nil, 100); err != nil {
		t.Errorf("provider with the format tag should be selected: %v", err)
	}
}

func TestSelectNextRequiresVisionForImageRequests(t *testing.T) {
	reg := newTestRegistry()
	blind := descriptor("blind", 0.1, 0.2)
	registerStatic(reg, blind)

	sighted := descriptor("sighted", 5.0, 15.0)
	sighted.SupportsVision = true
	registerStatic(reg, sighted)

	router := NewRouter(reg, zap.NewNop())

	req := testRequest()
	req.ImageHash = "abc"
	d, _, err := router.SelectNext(req, nil, 100)
	if err != nil {
		t.Fatalf("SelectNext failed: %v", err)
	}
	if d.ID != "sighted" {
		t.Errorf("image requests need a vision provider, got %s", d.ID)
	}
}

func TestSelectNextTieBreaksOnHealth(t *testing.T) {
	// Identical pricing; the available provider must win the tie in either
	// registration order.
	orders := [][2]string{
		{"shaky", "steady"},
		{"steady", "shaky"},
	}
	for _, order := range orders {
		reg := newTestRegistry()
		registerStatic(reg, descriptor(order[0], 0.14, 0.28))
		registerStatic(reg, descriptor(order[1], 0.14, 0.28))

		reg.ReportOutcome("shaky", providers.ErrTimeout)
		if h := health(reg, "shaky"); h != models.HealthDegraded {
			t.Fatalf("expected shaky degraded, got %s", h)
		}

		router := NewRouter(reg, zap.NewNop())
		d, _, err := router.SelectNext(testRequest(), nil, 100)
		if err != nil {
			t.Fatalf("SelectNext failed: %v", err)
		}
		if d.ID != "steady" {
			t.Errorf("order %v: equal-cost tie should prefer the available provider, got %s", order, d.ID)
		}
	}
}

func TestReportOutcomeHealthTransitions(t *testing.T) {
	reg := newTestRegistry()
	registerStatic(reg, descriptor("p", 0.1, 0.2))

	reg.ReportOutcome("p", providers.ErrRateLimited)
	if h := health(reg, "p"); h != models.HealthDegraded {
		t.Errorf("transient failure should degrade, got %s", h)
	}

	reg.ReportOutcome("p", nil)
	if h := health(reg, "p"); h != models.HealthAvailable {
		t.Errorf("success should restore availability, got %s", h)
	}

	for i := 0; i < 3; i++ {
		reg.ReportOutcome("p", providers.ErrInvalidResponse)
	}
	if h := health(reg, "p"); h != models.HealthUnavailable {
		t.Errorf("repeated failures should mark unavailable, got %s", h)
	}

	// A later success acts as a probe and restores the provider.
	reg.ReportOutcome("p", nil)
	if h := health(reg, "p"); h != models.HealthAvailable {
		t.Errorf("probe success should restore availability, got %s", h)
	}
}

func TestDegradedCooldownLapses(t *testing.T) {
	reg := New(10*time.Millisecond, 3, zap.NewNop())
	registerStatic(reg, descriptor("p", 0.1, 0.2))

	reg.ReportOutcome("p", providers.ErrTimeout)
	if h := health(reg, "p"); h != models.HealthDegraded {
		t.Fatalf("expected degraded, got %s", h)
	}

	reg.now = func() time.Time { return time.Now().Add(time.Second) }
	if h := health(reg, "p"); h != models.HealthAvailable {
		t.Errorf("degraded state should lapse after the cooldown, got %s", h)
	}
}

func health(reg *Registry, id string) models.HealthState {
	for _, d := range reg.Snapshot() {
		if d.ID == id {
			return d.Health
		}
	}
	return ""
}
