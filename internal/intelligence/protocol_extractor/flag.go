package protocol_extractor

import (
	"regexp"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// keywordFlag predicts 1 when any of its patterns occurs in the document and
// is not preceded by a negation, 0 otherwise.
type keywordFlag struct {
	name      string
	display   string
	patterns  []*regexp.Regexp
	negatable bool
}

func (m *keywordFlag) Name() string { return m.name }

func (m *keywordFlag) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          m.name,
		Name:        m.display,
		FeatureType: protocol.FeatureYesNo,
		Options:     protocol.YesNoOptions(),
	}
}

// Process returns int 1 or 0.  Default: 0.
func (m *keywordFlag) Process(doc *protocol.Document) (PredictionResult, error) {
	var evidence []Evidence
	for _, pt := range pagesOf(doc) {
		for _, re := range m.patterns {
			for _, loc := range re.FindAllStringIndex(pt.text, -1) {
				if m.negatable && negated(pt.text, loc[0]) {
					continue
				}
				evidence = append(evidence, pt.mark(m.name, loc[0], loc[1], 1))
			}
		}
	}
	if len(evidence) == 0 {
		return PredictionResult{Prediction: 0}, nil
	}
	return PredictionResult{Prediction: 1, Evidence: evidence}, nil
}

// NewChildModule flags protocols enrolling children, infants or minors.
// Prediction: int 0/1.
func NewChildModule() Module {
	return &keywordFlag{
		name:    ModuleChild,
		display: "Includes children",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:child|children|paediatric|pediatric|infants?|neonat\w*|newborns?|toddlers?|adolescents?|minors|schoolchildren)\b`),
			regexp.MustCompile(`(?i)\b(?:less than|under|younger than|below|<)\s*(?:1[0-7]|[1-9])\s*(?:years?|yrs?)\s+(?:of\s+)?(?:age|old)\b`),
			regexp.MustCompile(`(?i)\baged?\s+(?:[0-9]|1[0-7])\s*(?:-|to)\s*(?:[1-9]|1[0-7])\s*(?:years?|months?)\b`),
		},
	}
}

// NewInterimModule flags a planned interim analysis.  Prediction: int 0/1.
func NewInterimModule() Module {
	return &keywordFlag{
		name:      ModuleInterim,
		display:   "Interim analysis",
		negatable: true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\binterim\s+(?:efficacy\s+|safety\s+|futility\s+)?analys[ie]s\b`),
			regexp.MustCompile(`(?i)\binterim\s+look\b`),
		},
	}
}

// NewChallengeModule flags human challenge studies.  Prediction: int 0/1.
func NewChallengeModule() Module {
	return &keywordFlag{
		name:    ModuleChallenge,
		display: "Human challenge study",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bhuman\s+(?:infection\s+)?challenge\b`),
			regexp.MustCompile(`(?i)\bcontrolled\s+human\s+(?:\w+\s+)?infection\b`),
			regexp.MustCompile(`\bCHMI\b`),
			regexp.MustCompile(`(?i)\bchallenge\s+(?:study|trial|model|strain|inoculum)\b`),
		},
	}
}

// NewMasterProtocolModule flags master, umbrella and basket protocols.
// Prediction: int 0/1.
func NewMasterProtocolModule() Module {
	return &keywordFlag{
		name:    ModuleMasterProtocol,
		display: "Master protocol",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bmaster\s+protocol\b`),
			regexp.MustCompile(`(?i)\b(?:umbrella|basket)\s+(?:trial|study|protocol)\b`),
		},
	}
}

// NewPlatformModule flags platform and adaptive platform trials.
// Prediction: int 0/1.
func NewPlatformModule() Module {
	return &keywordFlag{
		name:    ModulePlatform,
		display: "Platform trial",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:adaptive\s+)?platform\s+(?:trial|study|design|protocol)\b`),
		},
	}
}
