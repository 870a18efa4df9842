package scoring

import (
	"bytes"
	stderrors "errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// Built-in profile names.
const (
	ProfileDefault = "default"
	ProfileVaccine = "vaccine"
)

// DefaultProfile is the general-purpose profile.  Durations are in weeks and
// list-valued features weigh their length.
func DefaultProfile() WeightProfile {
	return WeightProfile{
		Name: ProfileDefault,
		Weights: map[string]float64{
			KeyConstantCost: 27530.38952250608,
			KeyConstantRisk: -5.55555555555555,

			"cost:child":           4200,
			"risk:child":           0.9,
			"cost:challenge":       15000,
			"risk:challenge":       2.5,
			"cost:interim":         3000,
			"risk:interim":         -0.4,
			"cost:master_protocol": 5000,
			"risk:master_protocol": 0.6,
			"cost:platform":        8000,
			"risk:platform":        0.8,

			"cost:duration":    850,
			"risk:duration":    0.02,
			"cost:num_sites":   12000,
			"risk:num_sites":   0.05,
			"cost:sample_size": 310,
			"risk:sample_size": 0.001,
			"cost:country":     9500,
			"risk:country":     0.3,
			"cost:drug":        2200,
			"risk:drug":        0.15,
			"cost:phase":       6000,
			"risk:phase":       -1.1,

			"cost:design=crossover":  -2500,
			"risk:design=crossover":  0.4,
			"cost:design=factorial":  6000,
			"risk:design=factorial":  0.7,
			"cost:design=single_arm": -4000,
			"risk:design=single_arm": 1.2,

			"cost:randomisation=cluster":    18000,
			"risk:randomisation=cluster":    1.5,
			"cost:randomisation=stratified": 2000,
			"risk:randomisation=stratified": -0.3,
			"risk:randomisation=none":       1.0,

			"cost:intervention=device":      7000,
			"risk:intervention=device":      0.5,
			"cost:intervention=behavioural": -3000,
			"risk:intervention=behavioural": 0.9,
			"cost:intervention=procedure":   9000,
			"risk:intervention=procedure":   1.1,

			"cost:condition=oncology":       25000,
			"risk:condition=oncology":       1.4,
			"cost:condition=cardiovascular": 14000,
			"risk:condition=cardiovascular": 0.8,
			"cost:condition=tb":             11000,
			"risk:condition=tb":             1.3,

			"cost:duration_category=long":  20000,
			"risk:duration_category=long":  1.0,
			"cost:duration_category=short": -6000,
			"risk:duration_category=short": -0.5,

			"cost:sample_size_tertile=high": 30000,
			"risk:sample_size_tertile=high": 1.2,
			"cost:sample_size_tertile=low":  -8000,
			"risk:sample_size_tertile=low":  0.6,
		},
	}
}

// VaccineProfile weighs large healthy-volunteer trials, where participant
// count dominates cost and challenge designs dominate risk.
func VaccineProfile() WeightProfile {
	return WeightProfile{
		Name: ProfileVaccine,
		Weights: map[string]float64{
			KeyConstantCost: 31250.5,
			KeyConstantRisk: -4.25,

			"cost:child":       6500,
			"risk:child":       1.4,
			"cost:challenge":   40000,
			"risk:challenge":   4.0,
			"cost:interim":     2500,
			"risk:interim":     -0.6,
			"cost:duration":    600,
			"risk:duration":    0.01,
			"cost:num_sites":   9000,
			"risk:num_sites":   0.03,
			"cost:sample_size": 95,
			"risk:sample_size": 0.0004,
			"cost:country":     12000,
			"risk:country":     0.45,
			"cost:phase":       9000,
			"risk:phase":       -0.8,

			"cost:randomisation=cluster":    22000,
			"risk:randomisation=cluster":    1.8,
			"cost:intervention=vaccine":     5000,
			"cost:condition=malaria":        7000,
			"risk:condition=malaria":        0.9,
			"cost:sample_size_tertile=high": 45000,
			"risk:sample_size_tertile=high": 0.8,
		},
	}
}

// DefaultProfiles returns fresh copies of the built-in profiles keyed by name.
func DefaultProfiles() map[string]WeightProfile {
	return map[string]WeightProfile{
		ProfileDefault: DefaultProfile(),
		ProfileVaccine: VaccineProfile(),
	}
}

// ProfileFile is the on-disk form of profile and tertile overrides:
//
//	profiles:
//	  - name: default
//	    weights:
//	      constant_cost: 25000
//	      constant_risk: -5
//	      cost:child: 4000
//	tertiles:
//	  - {condition: hiv, phase: "3", category: long, lower: 300, upper: 1200}
type ProfileFile struct {
	Profiles []WeightProfile `yaml:"profiles"`
	Tertiles []Tertile       `yaml:"tertiles"`
}

// ParseProfileFile decodes and validates a profile file.  Unknown fields are
// rejected so a misspelled key fails loudly instead of scoring zero.
func ParseProfileFile(data []byte) (*ProfileFile, error) {
	var pf ProfileFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidWeightProfile, "cannot parse weight profile file")
	}

	seen := make(map[string]bool, len(pf.Profiles))
	for _, p := range pf.Profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, errors.New(errors.ErrCodeInvalidWeightProfile, "weight profile defined twice").
				WithDetail("profile=" + p.Name)
		}
		seen[p.Name] = true
	}
	if len(pf.Tertiles) > 0 {
		if err := ValidateTertiles(pf.Tertiles); err != nil {
			return nil, err
		}
	}
	return &pf, nil
}

// LoadProfileFile reads and parses the profile file at path.
func LoadProfileFile(path string) (*ProfileFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "cannot read weight profile file").
			WithDetail("path=" + path)
	}
	return ParseProfileFile(data)
}

// MergeProfiles overlays overrides onto base by name.  A profile in overrides
// replaces the built-in of the same name entirely.  base is not modified.
func MergeProfiles(base map[string]WeightProfile, overrides []WeightProfile) map[string]WeightProfile {
	out := make(map[string]WeightProfile, len(base)+len(overrides))
	for name, p := range base {
		out[name] = p.Clone()
	}
	for _, p := range overrides {
		out[p.Name] = p.Clone()
	}
	return out
}
