package protocol_extractor

import (
	"regexp"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// maxAge bounds plausible ages; larger numbers are page or section numbers.
const maxAge = 120

// AgeRange is the eligible age window in years.  A nil bound means the
// protocol does not state one.
type AgeRange struct {
	Lower *float64 `json:"lower"`
	Upper *float64 `json:"upper"`
}

type agePattern struct {
	re    *regexp.Regexp
	lower int // submatch index of the lower bound, 0 if absent
	upper int // submatch index of the upper bound, 0 if absent
}

// AgeModule extracts the eligible age range from inclusion criteria.
type AgeModule struct {
	patterns []agePattern
}

// NewAgeModule returns the age module.  Prediction: AgeRange.
// Default: AgeRange{nil, nil}.
func NewAgeModule() *AgeModule {
	return &AgeModule{patterns: []agePattern{
		{
			re:    regexp.MustCompile(`(?i)\b(?:aged?|ages)\s+(?:between\s+)?(\d{1,3})\s*(?:-|–|to|and)\s*(\d{1,3})\s*(?:years|yrs|y)\b`),
			lower: 1, upper: 2,
		},
		{
			re:    regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:-|–|to)\s*(\d{1,3})\s*(?:years|yrs)\s+(?:of\s+age|old)\b`),
			lower: 1, upper: 2,
		},
		{
			re:    regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:years?|yrs?)(?:\s+of\s+age|\s+old)?,?\s+(?:or|and)\s+(?:older|above|over)\b`),
			lower: 1,
		},
		{
			re:    regexp.MustCompile(`(?i)(?:≥|>=|\bat\s+least|\bolder\s+than|\bover\s+the\s+age\s+of|\baged\s+over)\s*(\d{1,3})\s*(?:years|yrs)?\b`),
			lower: 1,
		},
		{
			re:    regexp.MustCompile(`(?i)(?:≤|<=|\bup\s+to|\byounger\s+than|\bunder\s+the\s+age\s+of|\bnot\s+older\s+than)\s*(\d{1,3})\s*(?:years|yrs)\b`),
			upper: 1,
		},
		{
			re:    regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:years?|yrs?)(?:\s+of\s+age|\s+old)?,?\s+(?:or|and)\s+(?:younger|below|under)\b`),
			upper: 1,
		},
	}}
}

func (m *AgeModule) Name() string { return ModuleAge }

func (m *AgeModule) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          ModuleAge,
		Name:        "Age range",
		FeatureType: protocol.FeatureRange,
		Options:     []protocol.MetadataOption{},
	}
}

// Process keeps the smallest lower bound and the largest upper bound found.
// An upper bound below the lower bound is dropped.
func (m *AgeModule) Process(doc *protocol.Document) (PredictionResult, error) {
	var (
		lower, upper *float64
		evidence     []Evidence
	)
	for _, pt := range pagesOf(doc) {
		for _, p := range m.patterns {
			for _, sm := range p.re.FindAllStringSubmatchIndex(pt.text, -1) {
				found := false
				if p.lower > 0 {
					if v, ok := ageAt(pt.text, sm, p.lower); ok {
						if lower == nil || v < *lower {
							lower = floatPtr(v)
						}
						found = true
					}
				}
				if p.upper > 0 {
					if v, ok := ageAt(pt.text, sm, p.upper); ok {
						if upper == nil || v > *upper {
							upper = floatPtr(v)
						}
						found = true
					}
				}
				if found {
					evidence = append(evidence, pt.mark(ModuleAge, sm[0], sm[1], 1))
				}
			}
		}
	}
	if lower != nil && upper != nil && *upper < *lower {
		upper = nil
	}
	return PredictionResult{Prediction: AgeRange{Lower: lower, Upper: upper}, Evidence: evidence}, nil
}

func ageAt(text string, sm []int, group int) (float64, bool) {
	if sm[2*group] < 0 {
		return 0, false
	}
	v, ok := parseNumber(text[sm[2*group]:sm[2*group+1]])
	if !ok || v > maxAge {
		return 0, false
	}
	return v, true
}

func floatPtr(v float64) *float64 { return &v }
