package fingerprint

import (
	"testing"

	"github.com/loomworks/api/internal/models"
)

func baseRequest() models.GenerationRequest {
	return models.GenerationRequest{
		Description: "A pricing card with three tiers",
		Format:      models.FormatComponent,
		Complexity:  3,
		StylePreferences: map[string]string{
			"theme": "dark",
			"brand": "blue",
		},
	}
}

func TestComputeDeterministic(t *testing.T) {
	f := New(3, 2)

	a := f.Compute(baseRequest())
	b := f.Compute(baseRequest())

	if a.ExactKey != b.ExactKey {
		t.Errorf("identical requests produced different exact keys: %s vs %s", a.ExactKey, b.ExactKey)
	}
	if a.SimilarityKey != b.SimilarityKey {
		t.Errorf("identical requests produced different similarity keys")
	}
	if a.ExactKey == "" || a.SimilarityKey == "" {
		t.Error("keys must not be empty")
	}
}

func TestComputeNormalizesFormatting(t *testing.T) {
	f := New(3, 2)

	a := f.Compute(baseRequest())

	shouty := baseRequest()
	shouty.Description = "  A   PRICING card\twith three  tiers "
	b := f.Compute(shouty)

	if a.ExactKey != b.ExactKey {
		t.Error("whitespace and case differences should collapse to the same exact key")
	}
}

func TestComputeStylePreferenceOrderIrrelevant(t *testing.T) {
	f := New(3, 2)

	a := baseRequest()
	b := baseRequest()
	b.StylePreferences = map[string]string{
		"brand": "blue",
		"theme": "dark",
	}

	if f.Compute(a).ExactKey != f.Compute(b).ExactKey {
		t.Error("style preference map ordering must not affect the exact key")
	}
}

func TestComputeDistinguishesContent(t *testing.T) {
	f := New(3, 2)

	a := f.Compute(baseRequest())

	changed := baseRequest()
	changed.Description = "A hero banner with a call to action"
	b := f.Compute(changed)

	if a.ExactKey == b.ExactKey {
		t.Error("different descriptions must not share an exact key")
	}

	withImage := baseRequest()
	withImage.ImageHash = "abc123"
	c := f.Compute(withImage)

	if a.ExactKey == c.ExactKey {
		t.Error("presence of a reference image must change the exact key")
	}
}

func TestSimilarityKeyBucketsComplexity(t *testing.T) {
	f := New(3, 2)

	a := baseRequest()
	a.Complexity = 3
	b := baseRequest()
	b.Complexity = 4

	if f.Compute(a).SimilarityKey != f.Compute(b).SimilarityKey {
		t.Error("complexity 3 and 4 should share a bucket and a similarity key")
	}

	c := baseRequest()
	c.Complexity = 1
	if f.Compute(a).SimilarityKey == f.Compute(c).SimilarityKey {
		t.Error("complexity 1 and 3 are in different buckets")
	}
}

func TestSimilarityKeyIgnoresStopWords(t *testing.T) {
	f := New(3, 2)

	a := baseRequest()
	a.Description = "pricing card with three tiers"
	b := baseRequest()
	b.Description = "the pricing card with the three tiers"

	if f.Compute(a).SimilarityKey != f.Compute(b).SimilarityKey {
		t.Error("stop words should not affect the similarity key")
	}

	// Exact keys still differ: the descriptions are not identical.
	if f.Compute(a).ExactKey == f.Compute(b).ExactKey {
		t.Error("exact keys must still distinguish the raw descriptions")
	}
}

func TestComputeTotalOnDegenerateInput(t *testing.T) {
	f := New(3, 2)

	empty := models.GenerationRequest{Description: "", Complexity: -7}
	fp := f.Compute(empty)

	if fp.ExactKey == "" || fp.SimilarityKey == "" {
		t.Error("fingerprint must be computed even for degenerate input")
	}
}
