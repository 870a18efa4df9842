package protocol_extractor

import (
	"regexp"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// countPattern extracts a number from submatch 1, or assigns fixed when the
// pattern has no capture group.
type countPattern struct {
	re    *regexp.Regexp
	fixed int
}

// countModule predicts an integer count.  The most frequently stated value
// wins; ties go to the larger value.
type countModule struct {
	name     string
	display  string
	max      int
	patterns []countPattern
}

func (m *countModule) Name() string { return m.name }

func (m *countModule) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          m.name,
		Name:        m.display,
		FeatureType: protocol.FeatureNumeric,
		Options:     []protocol.MetadataOption{},
	}
}

// Process returns an int.  Default: 0.
func (m *countModule) Process(doc *protocol.Document) (PredictionResult, error) {
	counts := make(map[int]int)
	var evidence []Evidence
	for _, pt := range pagesOf(doc) {
		for _, p := range m.patterns {
			for _, sm := range p.re.FindAllStringSubmatchIndex(pt.text, -1) {
				v := p.fixed
				if len(sm) >= 4 && sm[2] >= 0 {
					f, ok := parseNumber(pt.text[sm[2]:sm[3]])
					if !ok {
						continue
					}
					v = int(f)
				}
				if v <= 0 || v > m.max {
					continue
				}
				counts[v]++
				evidence = append(evidence, pt.mark(m.name, sm[0], sm[1], float64(v)))
			}
		}
	}

	best, bestCount := 0, 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v > best) {
			best, bestCount = v, c
		}
	}
	return PredictionResult{Prediction: best, Evidence: evidence}, nil
}

const participantNouns = `(?:participants|patients|subjects|volunteers|individuals|children|infants|adults|women|men|persons|people)`

// NewSampleSizeModule reads the planned enrolment.  Prediction: int.
// Default: 0.
func NewSampleSizeModule() Module {
	return &countModule{
		name:    ModuleSampleSize,
		display: "Sample size",
		max:     10000000,
		patterns: []countPattern{
			{re: regexp.MustCompile(`(?i)\b(?:total\s+of|sample\s+size\s+of|enrol+(?:ing|ment\s+of)?|recruit(?:ing|ment\s+of)?|randomi[sz]e|include)\s+(?:approximately\s+|about\s+|up\s+to\s+|at\s+least\s+)?(\d{1,3}(?:,\d{3})+|\d+)\s+` + participantNouns + `\b`)},
			{re: regexp.MustCompile(`(?i)\bsample\s+size\s+(?:is|will\s+be|of)\s+(?:approximately\s+)?(\d{1,3}(?:,\d{3})+|\d+)\b`)},
			{re: regexp.MustCompile(`\b[Nn]\s*=\s*(\d{1,3}(?:,\d{3})+|\d+)\b`)},
		},
	}
}

// NewNumSitesModule reads the number of study sites.  "single-centre" counts
// as one site.  Prediction: int.  Default: 0.
func NewNumSitesModule() Module {
	return &countModule{
		name:    ModuleNumSites,
		display: "Number of sites",
		max:     10000,
		patterns: []countPattern{
			{re: regexp.MustCompile(`(?i)\b(\d{1,4})\s+(?:(?:study|clinical|trial|investigational|research|participating)\s+)?(?:sites|centres|centers|hospitals|clinics)\b`)},
			{re: regexp.MustCompile(`(?i)\bsingle[- ](?:centre|center|site)\b`), fixed: 1},
		},
	}
}
