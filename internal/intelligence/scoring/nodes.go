package scoring

import (
	"reflect"
	"sort"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// Node is one additive contribution to a cost or risk score.
type Node struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Sum reduces a node list to its score.
func Sum(nodes []Node) float64 {
	var total float64
	for _, n := range nodes {
		total += n.Score
	}
	return total
}

// AddConstantNodes returns copies of cost and risk with the profile's baseline
// appended: one cost node scored 1*constant_cost and one risk node scored
// 1*constant_risk.  The inputs are never modified.
//
// The call is additive.  Passing its own output back in appends the constants
// again and doubles the baseline, so call it once per scoring run.
func AddConstantNodes(cost, risk []Node, base WeightProfile) ([]Node, []Node, error) {
	cc, ok := base.Weight(KeyConstantCost)
	if !ok {
		return nil, nil, errors.InvalidWeightProfile(base.Name, KeyConstantCost)
	}
	cr, ok := base.Weight(KeyConstantRisk)
	if !ok {
		return nil, nil, errors.InvalidWeightProfile(base.Name, KeyConstantRisk)
	}

	newCost := make([]Node, len(cost), len(cost)+1)
	copy(newCost, cost)
	newCost = append(newCost, Node{Source: KeyConstantCost, Score: 1 * cc})

	newRisk := make([]Node, len(risk), len(risk)+1)
	copy(newRisk, risk)
	newRisk = append(newRisk, Node{Source: KeyConstantRisk, Score: 1 * cr})

	return newCost, newRisk, nil
}

// FeatureNodes maps each prediction through profile:
//
//   - yes/no and numeric values scale cost:<feature> and risk:<feature>;
//   - strings select cost:<feature>=<value> and risk:<feature>=<value>;
//   - lists scale cost:<feature> and risk:<feature> by their length.
//
// A missing weight contributes nothing.  Values of any other shape are skipped.
// Nodes follow sorted feature names, cost before risk within a feature list.
func FeatureNodes(predictions map[string]interface{}, profile WeightProfile) (cost, risk []Node) {
	features := make([]string, 0, len(predictions))
	for f := range predictions {
		features = append(features, f)
	}
	sort.Strings(features)

	for _, f := range features {
		v := predictions[f]
		if s, ok := v.(string); ok {
			cost = appendWeighted(cost, profile, CostCategoryKey(f, s), 1)
			risk = appendWeighted(risk, profile, RiskCategoryKey(f, s), 1)
			continue
		}
		x, ok := scalarOf(v)
		if !ok {
			continue
		}
		cost = appendWeighted(cost, profile, CostKey(f), x)
		risk = appendWeighted(risk, profile, RiskKey(f), x)
	}
	return cost, risk
}

func appendWeighted(nodes []Node, profile WeightProfile, key string, x float64) []Node {
	w, ok := profile.Weight(key)
	if !ok {
		return nodes
	}
	return append(nodes, Node{Source: key, Score: w * x})
}

// scalarOf reduces a prediction to the multiplier applied to its weight.
func scalarOf(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case []string:
		return float64(len(x)), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return float64(rv.Len()), true
	}
	return 0, false
}
