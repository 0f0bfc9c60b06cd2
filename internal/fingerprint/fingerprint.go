package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/loomworks/api/internal/models"
)

// Fingerprinter derives deterministic cache keys from generation requests.
// Computing a fingerprint is pure and total: malformed input is normalized,
// never rejected.
type Fingerprinter struct {
	shingleSize int
	bucketWidth int
}

// New creates a fingerprinter. shingleSize is the token window used for the
// similarity key, bucketWidth the complexity bucket granularity.
func New(shingleSize, bucketWidth int) *Fingerprinter {
	if shingleSize < 1 {
		shingleSize = 3
	}
	if bucketWidth < 1 {
		bucketWidth = 2
	}
	return &Fingerprinter{shingleSize: shingleSize, bucketWidth: bucketWidth}
}

// stopWords are low-signal tokens discarded before shingling
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true,
	"with": true, "and": true, "or": true, "to": true, "in": true,
	"on": true, "that": true, "this": true, "is": true, "it": true,
}

// Compute returns the fingerprint pair for a request. Identical normalized
// requests always produce identical exact keys.
func (f *Fingerprinter) Compute(req models.GenerationRequest) models.Fingerprint {
	desc := normalize(req.Description)

	var sb strings.Builder
	sb.WriteString(desc)
	sb.WriteByte('|')
	sb.WriteString(string(req.Format))
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%d", req.Complexity)
	sb.WriteByte('|')
	sb.WriteString(canonicalPrefs(req.StylePreferences))
	if req.ImageHash != "" {
		sb.WriteByte('|')
		sb.WriteString(req.ImageHash)
	}

	exact := hash(sb.String())

	var sim strings.Builder
	sim.WriteString(string(req.Format))
	sim.WriteByte('|')
	fmt.Fprintf(&sim, "%d", f.bucket(req.Complexity))
	for _, sh := range f.shingles(desc) {
		sim.WriteByte('|')
		sim.WriteString(sh)
	}

	return models.Fingerprint{
		ExactKey:      exact,
		SimilarityKey: hash(sim.String()),
	}
}

// normalize lowercases and collapses whitespace so formatting differences
// collide on the same key
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// canonicalPrefs renders style preferences as a stable sorted key=value list
func canonicalPrefs(prefs map[string]string) string {
	if len(prefs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, normalize(k)+"="+normalize(prefs[k]))
	}
	return strings.Join(parts, ",")
}

// bucket maps a complexity level onto its bucket so values one apart land
// together. Complexity outside 1-5 is clamped first.
func (f *Fingerprinter) bucket(complexity int) int {
	if complexity < 1 {
		complexity = 1
	}
	if complexity > 5 {
		complexity = 5
	}
	return (complexity - 1) / f.bucketWidth
}

// shingles returns the sorted unique token n-grams of the description with
// stop words and punctuation removed. A description shorter than the shingle
// size yields a single shingle of whatever tokens remain.
func (f *Fingerprinter) shingles(desc string) []string {
	raw := strings.FieldsFunc(desc, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if !stopWords[t] {
			tokens = append(tokens, t)
		}
	}

	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < f.shingleSize {
		return []string{strings.Join(tokens, " ")}
	}

	seen := make(map[string]bool)
	var out []string
	for i := 0; i+f.shingleSize <= len(tokens); i++ {
		sh := strings.Join(tokens[i:i+f.shingleSize], " ")
		if !seen[sh] {
			seen[sh] = true
			out = append(out, sh)
		}
	}
	sort.Strings(out)
	return out
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
