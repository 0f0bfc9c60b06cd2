package quality

import (
	"testing"

	"github.com/loomworks/api/internal/models"
	"go.uber.org/zap"
)

const cleanComponent = `import React, { useState } from 'react';

interface PricingCardProps {
  title: string;
}

function PricingCard({ title }: PricingCardProps) {
  const [selected, setSelected] = useState(false);
  return (
    <button onClick={handleSelect} aria-label="select plan">{title}</button>
  );
}

export default PricingCard;
`

func newTestGate() *Gate {
	return NewGate(70, 50, zap.NewNop())
}

func TestEvaluateCleanComponent(t *testing.T) {
	g := newTestGate()

	score := g.Evaluate(cleanComponent, models.FormatComponent, 3)

	if score.Composite < 70 {
		t.Errorf("clean component should clear the admission threshold, got composite %.1f", score.Composite)
	}
	if !g.Admit(score) {
		t.Error("clean component should be admitted")
	}
	if score.Structure < 90 {
		t.Errorf("expected high structure score, got %.1f", score.Structure)
	}
}

func TestEvaluateEmptyArtifact(t *testing.T) {
	g := newTestGate()

	score := g.Evaluate("", models.FormatComponent, 1)

	if score.Composite != 0 {
		t.Errorf("empty artifact must score composite 0, got %.1f", score.Composite)
	}
	if len(score.Diagnostics) == 0 {
		t.Error("empty artifact should produce diagnostics")
	}
}

func TestStructureHardFloorForcesCompositeZero(t *testing.T) {
	g := newTestGate()

	// Unexported, unbalanced pseudo-component: structure collapses even
	// though the other categories stay clean.
	broken := "const card = () => { return <div<span "
	score := g.Evaluate(broken, models.FormatComponent, 1)

	if score.Structure >= 50 {
		t.Fatalf("expected structure below the hard floor, got %.1f", score.Structure)
	}
	if score.Composite != 0 {
		t.Errorf("composite must be forced to 0 below the structure floor, got %.1f", score.Composite)
	}
}

func TestSecurityFindingsPenalize(t *testing.T) {
	g := newTestGate()

	evil := cleanComponent + "\nconst run = () => eval(input);\n"
	score := g.Evaluate(evil, models.FormatComponent, 3)

	if score.Security > 75 {
		t.Errorf("eval() should cost an error penalty, security score %.1f", score.Security)
	}

	found := false
	for _, d := range score.Diagnostics {
		if d.Category == CategorySecurity && d.Severity == "error" {
			found = true
		}
	}
	if !found {
		t.Error("expected a security error diagnostic")
	}
}

func TestAccessibilityNeutralWithoutMarkup(t *testing.T) {
	g := newTestGate()

	score := g.Evaluate("export const sum = (a, b) => a + b;", models.FormatComponent, 1)

	if score.Accessibility != 100 {
		t.Errorf("no markup means nothing to assess; want neutral 100, got %.1f", score.Accessibility)
	}
}

func TestAccessibilityFlagsMissingAlt(t *testing.T) {
	g := newTestGate()

	markup := `<!DOCTYPE html><html><head><meta name="viewport" content="width=device-width"></head><body><img src="x.png"></body></html>`
	score := g.Evaluate(markup, models.FormatMarkup, 1)

	if score.Accessibility == 100 {
		t.Error("img without alt should be penalized")
	}
}

func TestTemplateWantsSlots(t *testing.T) {
	g := newTestGate()

	withSlots := g.Evaluate("<section>{{headline}} and {{body}}</section>", models.FormatTemplate, 1)
	without := g.Evaluate("<section>static text only</section>", models.FormatTemplate, 1)

	if withSlots.Structure <= without.Structure {
		t.Errorf("templates with slots should out-score slotless ones: %.1f vs %.1f",
			withSlots.Structure, without.Structure)
	}
}

func TestEvaluateNeverStoresBelowThresholdDecision(t *testing.T) {
	g := newTestGate()

	score := g.Evaluate("<div>plain</div>", models.FormatComponent, 5)
	if g.Admit(score) && score.Composite < 70 {
		t.Error("Admit must agree with the configured threshold")
	}
}
