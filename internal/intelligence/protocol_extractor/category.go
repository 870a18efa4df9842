package protocol_extractor

import (
	"regexp"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

type categoryRule struct {
	value   string
	pattern *regexp.Regexp
}

// categoryVoter predicts one label out of a fixed set.  By default the label
// with the most matches wins and ties go to the earlier rule.  With
// byPriority set, the first rule with any match wins regardless of counts.
type categoryVoter struct {
	name       string
	display    string
	rules      []categoryRule
	fallback   string
	byPriority bool
}

func (m *categoryVoter) Name() string { return m.name }

func (m *categoryVoter) Metadata() protocol.Metadata {
	values := make([]string, 0, len(m.rules)+1)
	seen := make(map[string]bool, len(m.rules)+1)
	for _, r := range m.rules {
		if !seen[r.value] {
			seen[r.value] = true
			values = append(values, r.value)
		}
	}
	if !seen[m.fallback] {
		values = append(values, m.fallback)
	}
	return protocol.Metadata{
		ID:          m.name,
		Name:        m.display,
		FeatureType: protocol.FeatureCategory,
		Options:     protocol.CategoryOptions(values...),
	}
}

type categoryHit struct {
	pt    pageText
	start int
	end   int
}

// Process returns a string label.  Default: the voter's fallback.
func (m *categoryVoter) Process(doc *protocol.Document) (PredictionResult, error) {
	pages := pagesOf(doc)
	hits := make(map[string][]categoryHit, len(m.rules))
	total := 0

	for _, r := range m.rules {
		for _, pt := range pages {
			for _, loc := range r.pattern.FindAllStringIndex(pt.text, -1) {
				hits[r.value] = append(hits[r.value], categoryHit{pt: pt, start: loc[0], end: loc[1]})
				total++
			}
		}
	}

	best, bestCount := m.fallback, 0
	for _, r := range m.rules {
		c := len(hits[r.value])
		if c == 0 {
			continue
		}
		if m.byPriority {
			best, bestCount = r.value, c
			break
		}
		if c > bestCount {
			best, bestCount = r.value, c
		}
	}
	if bestCount == 0 {
		return PredictionResult{Prediction: m.fallback}, nil
	}

	// Only the winning label leaves markers on the pages.
	share := float64(bestCount) / float64(total)
	evidence := make([]Evidence, 0, bestCount)
	for _, h := range hits[best] {
		evidence = append(evidence, h.pt.mark(m.name, h.start, h.end, share))
	}
	return PredictionResult{Prediction: best, Evidence: evidence}, nil
}

// NewDesignModule classifies the trial design.  Prediction: string, one of
// parallel, crossover, factorial, single_arm or other.  Default: "other".
func NewDesignModule() Module {
	return &categoryVoter{
		name:     ModuleDesign,
		display:  "Trial design",
		fallback: "other",
		rules: []categoryRule{
			{"crossover", regexp.MustCompile(`(?i)\bcross-?\s?over\b`)},
			{"factorial", regexp.MustCompile(`(?i)\b(?:factorial|2\s?x\s?2)\s+(?:design|trial|study)\b`)},
			{"single_arm", regexp.MustCompile(`(?i)\b(?:single|one)[- ]arm(?:ed)?\b|\bnon-?randomi[sz]ed,?\s+open[- ]label\b`)},
			{"parallel", regexp.MustCompile(`(?i)\bparallel[- ](?:group|arm|design|assignment)s?\b|\bin\s+parallel\s+(?:groups|arms)\b`)},
		},
	}
}

// NewRandomisationModule identifies the randomisation scheme.  Prediction:
// string, one of cluster, stratified, block, simple or none.  The most
// specific scheme mentioned wins.  Default: "none".
func NewRandomisationModule() Module {
	return &categoryVoter{
		name:       ModuleRandomisation,
		display:    "Randomisation method",
		fallback:   "none",
		byPriority: true,
		rules: []categoryRule{
			{"cluster", regexp.MustCompile(`(?i)\bcluster[- ]randomi[sz](?:ed|ation)\b|\brandomi[sz](?:ed|ation)\s+(?:by|of)\s+(?:cluster|village|household|school)s?\b`)},
			{"stratified", regexp.MustCompile(`(?i)\bstratif(?:ied|ication)\b`)},
			{"block", regexp.MustCompile(`(?i)\b(?:permuted\s+)?blocks?\s+(?:randomi[sz]ation|of\s+(?:size\s+)?\d+)\b|\brandomi[sz]ed\s+in\s+blocks\b|\bblock\s+sizes?\b`)},
			{"simple", regexp.MustCompile(`(?i)\brandomi[sz](?:ed|ation|e)\b|\brandom\s+allocation\b`)},
		},
	}
}

// NewDocumentTypeModule tells protocols apart from statistical analysis plans
// and informed consent forms.  Prediction: string, one of protocol, sap, icf or
// other.  Default: "other".
func NewDocumentTypeModule() Module {
	return &categoryVoter{
		name:     ModuleDocumentType,
		display:  "Document type",
		fallback: "other",
		rules: []categoryRule{
			{"protocol", regexp.MustCompile(`(?i)\b(?:clinical\s+(?:trial|study)\s+|study\s+|trial\s+)protocol\b|\bprotocol\s+(?:version|number|amendment|synopsis)\b`)},
			{"sap", regexp.MustCompile(`(?i)\bstatistical\s+analysis\s+plan\b|\bSAP\s+version\b`)},
			{"icf", regexp.MustCompile(`(?i)\binformed\s+consent\s+form\b|\bparticipant\s+information\s+(?:sheet|leaflet)\b|\byou\s+(?:are|have\s+been)\s+(?:being\s+)?invited\s+to\s+(?:take\s+part|participate)\b`)},
		},
	}
}

// NewInterventionModule classifies the intervention type.  Prediction: string,
// one of drug, vaccine, device, behavioural, procedure or other.
// Default: "other".
func NewInterventionModule() Module {
	return &categoryVoter{
		name:     ModuleIntervention,
		display:  "Intervention type",
		fallback: "other",
		rules: []categoryRule{
			{"drug", regexp.MustCompile(`(?i)\b(?:tablets?|capsules?|oral\s+dose|drug|infusion|\d+\s?mg(?:/kg)?)\b`)},
			{"vaccine", regexp.MustCompile(`(?i)\bvaccin(?:e|es|ation|ated)\b|\bimmuni[sz]ation\b|\bbooster\s+dose\b`)},
			{"device", regexp.MustCompile(`(?i)\b(?:medical\s+)?device\b|\bimplant(?:ed|s)?\b|\bstents?\b`)},
			{"behavioural", regexp.MustCompile(`(?i)\bbehaviou?ral\s+intervention\b|\bcounsell?ing\b|\bcognitive\s+behaviou?ral\b|\bhealth\s+education\b`)},
			{"procedure", regexp.MustCompile(`(?i)\bsurg(?:ery|ical)\b|\bprocedure\s+arm\b|\bradiotherapy\b`)},
		},
	}
}

// NewConditionModule classifies the disease area.  Prediction: string, one of
// hiv, tb, malaria, oncology, cardiovascular, vaccine or other.  "vaccine"
// covers preventive studies in healthy volunteers.  Default: "other".
func NewConditionModule() Module {
	return &categoryVoter{
		name:     ModuleCondition,
		display:  "Condition",
		fallback: "other",
		rules: []categoryRule{
			{"hiv", regexp.MustCompile(`\bHIV(?:-1|-2)?\b|(?i:\bhuman\s+immunodeficiency\s+virus\b|\bantiretroviral\b)`)},
			{"tb", regexp.MustCompile(`\bM?TB\b|(?i:\btubercul(?:osis|ous)\b)`)},
			{"malaria", regexp.MustCompile(`(?i)\bmalaria\b|\bplasmodium\b`)},
			{"oncology", regexp.MustCompile(`(?i)\bcancers?\b|\btumou?rs?\b|\bcarcinomas?\b|\boncolog\w*\b|\blymphomas?\b|\bleuka?emias?\b|\bmetasta\w*\b`)},
			{"cardiovascular", regexp.MustCompile(`(?i)\bcardiovascular\b|\bmyocardial\b|\bheart\s+failure\b|\bhypertension\b|\batrial\s+fibrillation\b`)},
			{"vaccine", regexp.MustCompile(`(?i)\bhealthy\s+volunteers?\b.*\bvaccin\w*\b|\bvaccine\s+(?:trial|study|efficacy)\b`)},
		},
	}
}
