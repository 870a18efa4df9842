package protocol_extractor

import (
	"regexp"
	"strings"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// weeksPerUnit converts a duration unit to weeks.
var weeksPerUnit = map[string]float64{
	"day":   1.0 / 7.0,
	"week":  1,
	"month": 52.0 / 12.0,
	"year":  52,
}

// DurationModule estimates the treatment regimen length.
type DurationModule struct {
	patterns []*regexp.Regexp
}

// NewDurationModule returns the duration module.  Prediction: float64 weeks,
// the longest regimen found.  Default: 0, meaning unknown.
func NewDurationModule() *DurationModule {
	return &DurationModule{patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,3}(?:\.\d+)?)[- ]?(days?|weeks?|months?|years?)\s+(?:of\s+)?(?:treatment|therapy|regimen|dosing|administration)\b`),
		regexp.MustCompile(`(?i)\b(?:treatment|therapy|regimen|dosing)\s+(?:duration|period|phase)?\s*(?:of|for|lasting|is)\s+(\d{1,3}(?:\.\d+)?)\s*(days?|weeks?|months?|years?)\b`),
		regexp.MustCompile(`(?i)\b(?:treated|dosed)\s+(?:daily\s+)?for\s+(\d{1,3}(?:\.\d+)?)\s*(days?|weeks?|months?|years?)\b`),
	}}
}

func (m *DurationModule) Name() string { return ModuleDuration }

func (m *DurationModule) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          ModuleDuration,
		Name:        "Regimen duration (weeks)",
		FeatureType: protocol.FeatureNumeric,
		Options:     []protocol.MetadataOption{},
	}
}

func (m *DurationModule) Process(doc *protocol.Document) (PredictionResult, error) {
	var (
		best     float64
		evidence []Evidence
	)
	for _, pt := range pagesOf(doc) {
		for _, re := range m.patterns {
			for _, sm := range re.FindAllStringSubmatchIndex(pt.text, -1) {
				n, ok := parseNumber(pt.text[sm[2]:sm[3]])
				if !ok || n <= 0 {
					continue
				}
				unit := strings.TrimSuffix(strings.ToLower(pt.text[sm[4]:sm[5]]), "s")
				weeks := n * weeksPerUnit[unit]
				evidence = append(evidence, pt.mark(ModuleDuration, sm[0], sm[1], weeks))
				if weeks > best {
					best = weeks
				}
			}
		}
	}
	return PredictionResult{Prediction: best, Evidence: evidence}, nil
}
