package protocol_extractor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// knownDrugs is the built-in dictionary of international non-proprietary
// names.  Matching is case-insensitive; output uses the spelling below.
var knownDrugs = []string{
	"Abacavir", "Abiraterone", "Acetaminophen", "Adalimumab", "Albendazole",
	"Amodiaquine", "Amoxicillin", "Artemether", "Artesunate", "Atezolizumab",
	"Atorvastatin", "Axitinib", "Azithromycin", "Bedaquiline", "Bevacizumab",
	"Bictegravir", "Cabotegravir", "Capecitabine", "Carboplatin", "Cisplatin",
	"Chloroquine", "Clopidogrel", "Cyclophosphamide", "Dapagliflozin", "Darunavir",
	"Delamanid", "Dexamethasone", "Dihydroartemisinin", "Docetaxel", "Dolutegravir",
	"Doxorubicin", "Efavirenz", "Emtricitabine", "Empagliflozin", "Enzalutamide",
	"Ethambutol", "Fluorouracil", "Gemcitabine", "Hydroxychloroquine", "Ibuprofen",
	"Imatinib", "Insulin", "Isoniazid", "Ivermectin", "Lamivudine",
	"Lenalidomide", "Linezolid", "Lopinavir", "Lumefantrine", "Mefloquine",
	"Metformin", "Methotrexate", "Moxifloxacin", "Nevirapine", "Nivolumab",
	"Olaparib", "Oseltamivir", "Oxaliplatin", "Paclitaxel", "Paracetamol",
	"Pembrolizumab", "Piperaquine", "Praziquantel", "Pretomanid", "Primaquine",
	"Pyrazinamide", "Pyronaridine", "Remdesivir", "Rifampicin", "Rifapentine",
	"Ritonavir", "Rituximab", "Sofosbuvir", "Sulfadoxine", "Pyrimethamine",
	"Sunitinib", "Tafenoquine", "Tamoxifen", "Tenofovir", "Trastuzumab",
	"Warfarin", "Zidovudine",
}

// DrugModule finds known drug names.
type DrugModule struct {
	re        *regexp.Regexp
	canonical map[string]string
}

// NewDrugModule builds the drug module over the built-in dictionary.
// Prediction: []string in order of first appearance, deduplicated.
// Default: nil.
func NewDrugModule() *DrugModule {
	return NewDrugModuleWithDictionary(knownDrugs)
}

// NewDrugModuleWithDictionary builds the drug module over names.
func NewDrugModuleWithDictionary(names []string) *DrugModule {
	canonical := make(map[string]string, len(names))
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if _, dup := canonical[key]; dup || key == "" {
			continue
		}
		canonical[key] = n
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	// Longer names first so a name never loses to its own prefix.
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })

	m := &DrugModule{canonical: canonical}
	if len(quoted) > 0 {
		m.re = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return m
}

func (m *DrugModule) Name() string { return ModuleDrug }

func (m *DrugModule) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          ModuleDrug,
		Name:        "Drug names",
		FeatureType: protocol.FeatureList,
		Options:     []protocol.MetadataOption{},
	}
}

func (m *DrugModule) Process(doc *protocol.Document) (PredictionResult, error) {
	if m.re == nil {
		return PredictionResult{Prediction: []string(nil)}, nil
	}
	var (
		found    []string
		seen     = make(map[string]bool)
		evidence []Evidence
	)
	for _, pt := range pagesOf(doc) {
		for _, loc := range m.re.FindAllStringIndex(pt.text, -1) {
			name := m.canonical[strings.ToLower(pt.text[loc[0]:loc[1]])]
			if name == "" {
				continue
			}
			evidence = append(evidence, pt.mark(ModuleDrug, loc[0], loc[1], 1))
			if !seen[name] {
				seen[name] = true
				found = append(found, name)
			}
		}
	}
	return PredictionResult{Prediction: found, Evidence: evidence}, nil
}
