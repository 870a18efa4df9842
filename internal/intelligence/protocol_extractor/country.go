package protocol_extractor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// countryNames maps lower-case country names and common variants to their
// ISO 3166-1 alpha-2 code.
var countryNames = map[string]string{
	"argentina": "AR", "australia": "AU", "bangladesh": "BD", "belgium": "BE",
	"benin": "BJ", "botswana": "BW", "brazil": "BR", "burkina faso": "BF",
	"cambodia": "KH", "cameroon": "CM", "canada": "CA", "chile": "CL",
	"china": "CN", "colombia": "CO", "cote d'ivoire": "CI", "côte d'ivoire": "CI",
	"denmark": "DK", "democratic republic of the congo": "CD", "egypt": "EG",
	"ethiopia": "ET", "france": "FR", "gabon": "GA", "gambia": "GM",
	"germany": "DE", "ghana": "GH", "greece": "GR", "guinea": "GN",
	"india": "IN", "indonesia": "ID", "ireland": "IE", "israel": "IL",
	"italy": "IT", "japan": "JP", "kenya": "KE", "lesotho": "LS",
	"malawi": "MW", "malaysia": "MY", "mali": "ML", "mexico": "MX",
	"mozambique": "MZ", "myanmar": "MM", "namibia": "NA", "nepal": "NP",
	"netherlands": "NL", "new zealand": "NZ", "niger": "NE", "nigeria": "NG",
	"norway": "NO", "pakistan": "PK", "peru": "PE", "philippines": "PH",
	"poland": "PL", "portugal": "PT", "russia": "RU", "rwanda": "RW",
	"saudi arabia": "SA", "senegal": "SN", "sierra leone": "SL", "singapore": "SG",
	"south africa": "ZA", "south korea": "KR", "spain": "ES", "sweden": "SE",
	"switzerland": "CH", "tanzania": "TZ", "thailand": "TH", "turkey": "TR",
	"uganda": "UG", "ukraine": "UA", "united kingdom": "GB", "uk": "GB",
	"united states": "US", "united states of america": "US", "usa": "US",
	"vietnam": "VN", "viet nam": "VN", "zambia": "ZM", "zimbabwe": "ZW",
}

// CountryModule detects the countries a trial runs in from country names and
// international phone numbers.
type CountryModule struct {
	re *regexp.Regexp
}

// NewCountryModule returns the country module.  Prediction: []string of
// ISO 3166-1 alpha-2 codes in order of first appearance.  Default: nil.
func NewCountryModule() *CountryModule {
	names := make([]string, 0, len(countryNames))
	for n := range countryNames {
		names = append(names, regexp.QuoteMeta(n))
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return &CountryModule{re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(names, "|") + `)\b`)}
}

func (m *CountryModule) Name() string { return ModuleCountry }

func (m *CountryModule) Metadata() protocol.Metadata {
	return protocol.Metadata{
		ID:          ModuleCountry,
		Name:        "Countries",
		FeatureType: protocol.FeatureList,
		Options:     []protocol.MetadataOption{},
	}
}

type countryHit struct {
	code  string
	start int
	end   int
	score float64
}

func (m *CountryModule) Process(doc *protocol.Document) (PredictionResult, error) {
	var (
		codes    []string
		seen     = make(map[string]bool)
		evidence []Evidence
	)
	for _, pt := range pagesOf(doc) {
		var hits []countryHit
		for _, loc := range m.re.FindAllStringIndex(pt.text, -1) {
			name := strings.ToLower(pt.text[loc[0]:loc[1]])
			// "UK" and "USA" are only trusted in upper case.
			if len(name) <= 3 && pt.text[loc[0]:loc[1]] != strings.ToUpper(name) {
				continue
			}
			hits = append(hits, countryHit{code: countryNames[name], start: loc[0], end: loc[1], score: 1})
		}
		for _, ph := range FindPhoneNumbers(Tokenize(pt.text)) {
			if ph.Country == "" {
				continue
			}
			hits = append(hits, countryHit{code: ph.Country, start: ph.Start, end: ph.End, score: 0.5})
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

		for _, h := range hits {
			evidence = append(evidence, pt.mark(ModuleCountry, h.start, h.end, h.score))
			if !seen[h.code] {
				seen[h.code] = true
				codes = append(codes, h.code)
			}
		}
	}
	return PredictionResult{Prediction: codes, Evidence: evidence}, nil
}
