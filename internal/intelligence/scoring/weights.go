// Package scoring turns extracted protocol features into feasibility scores.
//
// Each feature is mapped through a WeightProfile into cost and risk Nodes.
// Constant baseline nodes are appended and each list is summed.  A
// (condition, phase) tertile supplies the expected duration category and the
// sample-size bucket.
package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// Reserved weight keys.  Every profile must define both.
const (
	KeyConstantCost = "constant_cost"
	KeyConstantRisk = "constant_risk"
)

const (
	costPrefix = "cost:"
	riskPrefix = "risk:"
)

// CostKey is the weight key applied to a numeric or yes/no feature's cost.
func CostKey(feature string) string { return costPrefix + feature }

// RiskKey is the weight key applied to a numeric or yes/no feature's risk.
func RiskKey(feature string) string { return riskPrefix + feature }

// CostCategoryKey is the cost weight key of one categorical value.
func CostCategoryKey(feature, value string) string { return costPrefix + feature + "=" + value }

// RiskCategoryKey is the risk weight key of one categorical value.
func RiskCategoryKey(feature, value string) string { return riskPrefix + feature + "=" + value }

// WeightProfile is a named coefficient set.  Keys other than the two constants
// are optional; a missing key contributes nothing.
type WeightProfile struct {
	Name    string             `json:"name" yaml:"name"`
	Weights map[string]float64 `json:"weights" yaml:"weights"`
}

// Weight returns the coefficient for key and whether it is defined.
func (p WeightProfile) Weight(key string) (float64, bool) {
	w, ok := p.Weights[key]
	return w, ok
}

// Validate checks that the profile is named, defines both constants and holds
// only finite coefficients.
func (p WeightProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New(errors.ErrCodeInvalidWeightProfile, "weight profile name must not be empty")
	}
	for _, key := range []string{KeyConstantCost, KeyConstantRisk} {
		if _, ok := p.Weights[key]; !ok {
			return errors.InvalidWeightProfile(p.Name, key)
		}
	}
	for key, w := range p.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.InvalidWeightProfile(p.Name, key).WithDetail("profile=" + p.Name + " key=" + key + " value is not finite")
		}
	}
	return nil
}

// Clone returns a deep copy so callers can adjust weights without touching
// the original profile.
func (p WeightProfile) Clone() WeightProfile {
	w := make(map[string]float64, len(p.Weights))
	for k, v := range p.Weights {
		w[k] = v
	}
	return WeightProfile{Name: p.Name, Weights: w}
}

// Keys returns the defined weight keys in sorted order.
func (p WeightProfile) Keys() []string {
	keys := make([]string, 0, len(p.Weights))
	for k := range p.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
