package protocol_extractor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

var phaseNumerals = map[string]float64{
	"0": 0, "i": 1, "ii": 2, "iii": 3, "iv": 4,
	"1": 1, "2": 2, "3": 3, "4": 4,
}

// PhaseModule reads the trial phase.
type PhaseModule struct {
	re *regexp.Regexp
}

// NewPhaseModule returns the phase module.  Prediction: float64, one of 0,
// 0.5, 1, 1.5, 2, 2.5, 3 or 4; combined phases such as "Phase I/II" yield the
// midpoint.  The most frequent value wins, ties go to the lower phase.
// Default: 0.
func NewPhaseModule() *PhaseModule {
	return &PhaseModule{re: regexp.MustCompile(
		`(?i)\bphase\s*(iv|iii|ii|i|[0-4])[ab]?\b(?:\s*(?:/|-|–|and|to)\s*(?:phase\s*)?(iv|iii|ii|i|[1-4])[ab]?\b)?`,
	)}
}

func (m *PhaseModule) Name() string { return ModulePhase }

func (m *PhaseModule) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          ModulePhase,
		Name:        "Trial phase",
		FeatureType: protocol.FeatureNumeric,
		Options: []protocol.MetadataOption{
			{Label: "Early phase", Value: 0.5},
			{Label: "Phase 1", Value: 1.0},
			{Label: "Phase 1/2", Value: 1.5},
			{Label: "Phase 2", Value: 2.0},
			{Label: "Phase 2/3", Value: 2.5},
			{Label: "Phase 3", Value: 3.0},
			{Label: "Phase 4", Value: 4.0},
		},
	}
}

func (m *PhaseModule) Process(doc *protocol.Document) (PredictionResult, error) {
	counts := make(map[float64]int)
	var evidence []Evidence
	for _, pt := range pagesOf(doc) {
		for _, sm := range m.re.FindAllStringSubmatchIndex(pt.text, -1) {
			first, ok := phaseNumerals[strings.ToLower(pt.text[sm[2]:sm[3]])]
			if !ok {
				continue
			}
			value := first
			if sm[4] >= 0 {
				if second, ok := phaseNumerals[strings.ToLower(pt.text[sm[4]:sm[5]])]; ok && second > first {
					value = (first + second) / 2
				}
			}
			if value == 0 {
				// "Phase 0" exploratory studies are reported as early phase.
				value = 0.5
			}
			counts[value]++
			evidence = append(evidence, pt.mark(ModulePhase, sm[0], sm[1], value))
		}
	}
	if len(counts) == 0 {
		return PredictionResult{Prediction: 0.0}, nil
	}

	values := make([]float64, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Float64s(values)
	best := values[0]
	for _, v := range values[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return PredictionResult{Prediction: best, Evidence: evidence}, nil
}
