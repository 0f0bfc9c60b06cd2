package quality

import (
	"regexp"
	"strings"

	"github.com/loomworks/api/internal/models"
	"go.uber.org/zap"
)

// Severity penalty applied to a category score per finding
const (
	penaltyError   = 25
	penaltyWarning = 10
	penaltyInfo    = 5
)

const (
	CategoryStructure     = "structure"
	CategorySecurity      = "security"
	CategoryPerformance   = "performance"
	CategoryAccessibility = "accessibility"
	CategoryConventions   = "conventions"
	CategoryCompleteness  = "completeness"
)

// pattern is one regex check; a match deducts the severity's penalty from
// the pattern's category.
type pattern struct {
	re         *regexp.Regexp
	category   string
	severity   string
	message    string
	suggestion string
}

// Gate scores generated artifacts across six fixed categories and decides
// cache admission. Evaluate never fails; an artifact that cannot be assessed
// in some category gets a neutral passing score there.
type Gate struct {
	admissionThreshold float64
	structureHardFloor float64
	logger             *zap.Logger

	security    []pattern
	performance []pattern
}

// NewGate creates a quality gate with the configured thresholds
func NewGate(admissionThreshold, structureHardFloor float64, logger *zap.Logger) *Gate {
	return &Gate{
		admissionThreshold: admissionThreshold,
		structureHardFloor: structureHardFloor,
		logger:             logger,
		security:           securityPatterns(),
		performance:        performancePatterns(),
	}
}

// Evaluate scores an artifact for the given target format and complexity.
// The composite is the arithmetic mean of the six categories, forced to 0
// when structure falls below the hard floor: an artifact that does not parse
// cannot be salvaged by good accessibility.
func (g *Gate) Evaluate(artifact string, format models.TargetFormat, complexity int) models.QualityScore {
	var diags []models.Diagnostic

	structure := g.scoreStructure(artifact, format, &diags)
	security := g.scorePatterns(artifact, g.security, &diags)
	performance := g.scorePatterns(artifact, g.performance, &diags)
	accessibility := g.scoreAccessibility(artifact, &diags)
	conventions := g.scoreConventions(artifact, format, &diags)
	completeness := g.scoreCompleteness(artifact, complexity, &diags)

	composite := (structure + security + performance + accessibility + conventions + completeness) / 6
	if structure < g.structureHardFloor {
		composite = 0
	}

	g.logger.Debug("artifact evaluated",
		zap.Float64("composite", composite),
		zap.Float64("structure", structure),
		zap.Int("findings", len(diags)),
	)

	return models.QualityScore{
		Composite:     composite,
		Structure:     structure,
		Security:      security,
		Performance:   performance,
		Accessibility: accessibility,
		Conventions:   conventions,
		Completeness:  completeness,
		Diagnostics:   diags,
	}
}

// Admit reports whether a score clears the cache admission threshold
func (g *Gate) Admit(score models.QualityScore) bool {
	return score.Composite >= g.admissionThreshold
}

func (g *Gate) scoreStructure(artifact string, format models.TargetFormat, diags *[]models.Diagnostic) float64 {
	score := 100.0
	trimmed := strings.TrimSpace(artifact)

	if trimmed == "" {
		*diags = append(*diags, models.Diagnostic{
			Category: CategoryStructure,
			Severity: "error",
			Message:  "artifact is empty",
		})
		return 0
	}

	if !balancedAngles(trimmed) {
		score -= penaltyError
		*diags = append(*diags, models.Diagnostic{
			Category:   CategoryStructure,
			Severity:   "error",
			Message:    "unbalanced markup tags",
			Suggestion: "every opening tag needs a matching close",
		})
	}

	switch format {
	case models.FormatMarkup:
		if !reDoctype.MatchString(trimmed) {
			score -= penaltyWarning
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryStructure,
				Severity:   "warning",
				Message:    "missing DOCTYPE declaration",
				Suggestion: "start the document with <!DOCTYPE html>",
			})
		}
		if !reHTMLTag.MatchString(trimmed) {
			score -= penaltyError
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryStructure,
				Severity:   "error",
				Message:    "missing <html> element",
				Suggestion: "wrap content in <html> tags",
			})
		}
	case models.FormatComponent:
		if !reExport.MatchString(trimmed) {
			score -= penaltyError
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryStructure,
				Severity:   "error",
				Message:    "component is not exported",
				Suggestion: "add an export statement for the component",
			})
		}
		if strings.Contains(trimmed, "return") && !reJSXReturn.MatchString(trimmed) {
			score -= penaltyWarning
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryStructure,
				Severity:   "warning",
				Message:    "multi-line JSX return should be parenthesized",
				Suggestion: "wrap the returned JSX in parentheses",
			})
		}
	case models.FormatTemplate:
		if !reTemplateSlot.MatchString(trimmed) {
			score -= penaltyWarning
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryStructure,
				Severity:   "warning",
				Message:    "template has no placeholder slots",
				Suggestion: "add {{placeholder}} slots so the template is reusable",
			})
		}
	}

	return clamp(score)
}

func (g *Gate) scorePatterns(artifact string, pats []pattern, diags *[]models.Diagnostic) float64 {
	score := 100.0
	for _, p := range pats {
		if p.re.MatchString(artifact) {
			score -= severityPenalty(p.severity)
			*diags = append(*diags, models.Diagnostic{
				Category:   p.category,
				Severity:   p.severity,
				Message:    p.message,
				Suggestion: p.suggestion,
			})
		}
	}
	return clamp(score)
}

func (g *Gate) scoreAccessibility(artifact string, diags *[]models.Diagnostic) float64 {
	// No markup at all means there is nothing to assess; neutral pass.
	if !strings.Contains(artifact, "<") {
		return 100
	}

	score := 100.0

	for _, img := range reImgTag.FindAllString(artifact, -1) {
		if !strings.Contains(img, "alt=") {
			score -= penaltyWarning
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryAccessibility,
				Severity:   "warning",
				Message:    "image without alt text",
				Suggestion: "add an alt attribute to every img tag",
			})
		}
	}

	if reClickableDiv.MatchString(artifact) {
		score -= penaltyWarning
		*diags = append(*diags, models.Diagnostic{
			Category:   CategoryAccessibility,
			Severity:   "warning",
			Message:    "clickable div without button semantics",
			Suggestion: "use <button> or add role and keyboard handlers",
		})
	}

	for _, input := range reInputTag.FindAllString(artifact, -1) {
		if !strings.Contains(input, "aria-label") && !strings.Contains(input, "aria-labelledby") {
			score -= penaltyInfo
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryAccessibility,
				Severity:   "info",
				Message:    "form input without an ARIA label",
				Suggestion: "associate a label or aria-label with the input",
			})
		}
	}

	return clamp(score)
}

func (g *Gate) scoreConventions(artifact string, format models.TargetFormat, diags *[]models.Diagnostic) float64 {
	score := 100.0

	if format == models.FormatComponent {
		if m := reComponentName.FindStringSubmatch(artifact); m != nil {
			name := m[1]
			if name != "" && name[0] >= 'a' && name[0] <= 'z' {
				score -= penaltyWarning
				*diags = append(*diags, models.Diagnostic{
					Category:   CategoryConventions,
					Severity:   "warning",
					Message:    "component names should start with an uppercase letter",
					Suggestion: "rename " + name + " to start uppercase",
				})
			}
		}
		if strings.Contains(artifact, "interface") && !rePropsSuffix.MatchString(artifact) {
			score -= penaltyInfo
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryConventions,
				Severity:   "info",
				Message:    "prop interfaces conventionally carry a Props suffix",
				Suggestion: "name the interface <Component>Props",
			})
		}
	}

	if format == models.FormatMarkup && !reViewport.MatchString(artifact) && reHTMLTag.MatchString(artifact) {
		score -= penaltyInfo
		*diags = append(*diags, models.Diagnostic{
			Category:   CategoryConventions,
			Severity:   "info",
			Message:    "missing viewport meta tag",
			Suggestion: "add a responsive viewport meta tag in <head>",
		})
	}

	return clamp(score)
}

func (g *Gate) scoreCompleteness(artifact string, complexity int, diags *[]models.Diagnostic) float64 {
	score := 100.0

	if complexity >= 3 {
		hasEvents := reEventHandler.MatchString(artifact)
		hasState := reStateUsage.MatchString(artifact)
		if !hasEvents && !hasState {
			score -= penaltyInfo
			*diags = append(*diags, models.Diagnostic{
				Category:   CategoryCompleteness,
				Severity:   "info",
				Message:    "complexity 3+ artifacts usually carry interactivity or state",
				Suggestion: "add event handlers or state where the description implies them",
			})
		}
	}

	if complexity >= 4 && !reValidation.MatchString(artifact) {
		score -= penaltyInfo
		*diags = append(*diags, models.Diagnostic{
			Category:   CategoryCompleteness,
			Severity:   "info",
			Message:    "complexity 4+ artifacts usually include validation or error states",
			Suggestion: "add input validation and an error state",
		})
	}

	return clamp(score)
}

func severityPenalty(severity string) float64 {
	switch severity {
	case "error":
		return penaltyError
	case "warning":
		return penaltyWarning
	default:
		return penaltyInfo
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	return score
}

// balancedAngles is a cheap tag-balance check: counts of < and > match and
// the artifact never closes more brackets than it opened.
func balancedAngles(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

var (
	reDoctype       = regexp.MustCompile(`(?i)<!DOCTYPE\s+html>`)
	reHTMLTag       = regexp.MustCompile(`(?i)<html[^>]*>`)
	reExport        = regexp.MustCompile(`export\s+(default\s+)?\w`)
	reJSXReturn     = regexp.MustCompile(`return\s*\([\s\S]*<`)
	reTemplateSlot  = regexp.MustCompile(`\{\{[^}]+\}\}`)
	reComponentName = regexp.MustCompile(`(?:function|const)\s+(\w+)`)
	rePropsSuffix   = regexp.MustCompile(`interface\s+\w+Props`)
	reViewport      = regexp.MustCompile(`(?i)<meta[^>]*viewport`)

	reImgTag       = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	reInputTag     = regexp.MustCompile(`(?i)<input\b[^>]*>`)
	reClickableDiv = regexp.MustCompile(`<div[^>]*onClick`)

	reEventHandler = regexp.MustCompile(`(?i)on\w+\s*=|addEventListener`)
	reStateUsage   = regexp.MustCompile(`useState|ref\(|data\(\)`)
	reValidation   = regexp.MustCompile(`(?i)validation|error|isValid`)
)

func securityPatterns() []pattern {
	return []pattern{
		{
			re:         regexp.MustCompile(`\beval\s*\(`),
			category:   CategorySecurity,
			severity:   "error",
			message:    "eval() in generated output",
			suggestion: "use JSON.parse or explicit logic instead of eval",
		},
		{
			re:         regexp.MustCompile(`(?i)document\.write`),
			category:   CategorySecurity,
			severity:   "error",
			message:    "document.write is deprecated and unsafe",
			suggestion: "use DOM manipulation methods",
		},
		{
			re:         regexp.MustCompile(`(?i)javascript:`),
			category:   CategorySecurity,
			severity:   "error",
			message:    "javascript: URL scheme",
			suggestion: "use event handlers instead of javascript: links",
		},
		{
			re:         regexp.MustCompile(`dangerouslySetInnerHTML|innerHTML\s*=`),
			category:   CategorySecurity,
			severity:   "warning",
			message:    "raw HTML injection point",
			suggestion: "sanitize content or use textContent",
		},
	}
}

func performancePatterns() []pattern {
	return []pattern{
		{
			re:         regexp.MustCompile(`for\s*\([^{]*\{[^}]*document\.`),
			category:   CategoryPerformance,
			severity:   "warning",
			message:    "DOM query inside a loop",
			suggestion: "cache DOM elements outside the loop",
		},
		{
			re:         regexp.MustCompile(`setInterval\s*\([^,]*,\s*[0-9]{1,2}[^0-9]`),
			category:   CategoryPerformance,
			severity:   "warning",
			message:    "sub-100ms interval timer",
			suggestion: "use requestAnimationFrame or a longer interval",
		},
		{
			re:         regexp.MustCompile(`onClick=\{[^}]*=>`),
			category:   CategoryPerformance,
			severity:   "info",
			message:    "inline arrow function in JSX prop",
			suggestion: "hoist the handler or wrap it in useCallback",
		},
	}
}
