package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// Wildcard matches any condition or phase in a priority pair or tertile row.
const Wildcard = "*"

// Bucket labels.
const (
	BucketLow     = "low"
	BucketMedium  = "medium"
	BucketHigh    = "high"
	BucketUnknown = "unknown"
)

// ConditionPhase is one candidate key of a tertile lookup.
type ConditionPhase struct {
	Condition string
	Phase     string
}

// Tertile is one row of the static lookup table.  Category is the expected
// duration category of trials with this condition and phase.  Lower and Upper
// split sample sizes into low (<= Lower), medium (<= Upper) and high.
type Tertile struct {
	Condition string  `json:"condition" yaml:"condition"`
	Phase     string  `json:"phase" yaml:"phase"`
	Category  string  `json:"category" yaml:"category"`
	Lower     float64 `json:"lower" yaml:"lower"`
	Upper     float64 `json:"upper" yaml:"upper"`
}

// Bucket places a sample size into low, medium or high.
func (t Tertile) Bucket(value float64) string {
	switch {
	case value <= t.Lower:
		return BucketLow
	case value <= t.Upper:
		return BucketMedium
	default:
		return BucketHigh
	}
}

// FindMatchingTertile walks priority in order and returns the first row whose
// condition and phase equal the current pair.  The first pair with any match
// wins even when a later pair matches a row earlier in the table.
func FindMatchingTertile(priority []ConditionPhase, tertiles []Tertile) (Tertile, bool) {
	for _, want := range priority {
		for _, t := range tertiles {
			if t.Condition == want.Condition && t.Phase == want.Phase {
				return t, true
			}
		}
	}
	return Tertile{}, false
}

// PriorityFor is the lookup order the scoring engine uses: exact, then any
// phase of the condition, then the phase across conditions, then the catch-all
// row.  Empty keys are treated as unknown and skip their specific pairs.
func PriorityFor(condition, phase string) []ConditionPhase {
	candidates := []ConditionPhase{
		{condition, phase},
		{condition, Wildcard},
		{Wildcard, phase},
		{Wildcard, Wildcard},
	}
	out := make([]ConditionPhase, 0, len(candidates))
	seen := make(map[ConditionPhase]bool, len(candidates))
	for _, c := range candidates {
		if c.Condition == "" || c.Phase == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// PhaseKey renders a phase prediction as a tertile key.  Zero means the phase
// is unknown and yields "".
func PhaseKey(phase float64) string {
	if phase <= 0 || math.IsNaN(phase) || math.IsInf(phase, 0) {
		return ""
	}
	return strconv.FormatFloat(phase, 'f', -1, 64)
}

// ValidateTertiles checks each row of a tertile table.
func ValidateTertiles(tertiles []Tertile) error {
	if len(tertiles) == 0 {
		return errors.New(errors.ErrCodeTertileTableInvalid, "tertile table is empty")
	}
	for i, t := range tertiles {
		var problem string
		switch {
		case strings.TrimSpace(t.Condition) == "" || strings.TrimSpace(t.Phase) == "":
			problem = "condition and phase are required"
		case strings.TrimSpace(t.Category) == "":
			problem = "category is required"
		case t.Lower < 0 || t.Upper < t.Lower:
			problem = "bounds must satisfy 0 <= lower <= upper"
		}
		if problem != "" {
			return errors.New(errors.ErrCodeTertileTableInvalid, problem).
				WithDetail(fmt.Sprintf("row=%d condition=%s phase=%s", i, t.Condition, t.Phase))
		}
	}
	return nil
}

// DefaultTertiles returns the built-in table.  It ends with a catch-all row,
// so every lookup through PriorityFor resolves.
func DefaultTertiles() []Tertile {
	return []Tertile{
		{Condition: "hiv", Phase: "2", Category: "medium", Lower: 80, Upper: 250},
		{Condition: "hiv", Phase: "3", Category: "long", Lower: 400, Upper: 1500},
		{Condition: "hiv", Phase: Wildcard, Category: "medium", Lower: 100, Upper: 600},
		{Condition: "tb", Phase: "2", Category: "medium", Lower: 60, Upper: 200},
		{Condition: "tb", Phase: "3", Category: "long", Lower: 300, Upper: 1200},
		{Condition: "tb", Phase: Wildcard, Category: "long", Lower: 100, Upper: 500},
		{Condition: "malaria", Phase: "3", Category: "medium", Lower: 500, Upper: 2500},
		{Condition: "malaria", Phase: Wildcard, Category: "short", Lower: 100, Upper: 800},
		{Condition: "oncology", Phase: "1", Category: "medium", Lower: 20, Upper: 60},
		{Condition: "oncology", Phase: "2", Category: "long", Lower: 50, Upper: 200},
		{Condition: "oncology", Phase: "3", Category: "long", Lower: 300, Upper: 900},
		{Condition: "oncology", Phase: Wildcard, Category: "long", Lower: 50, Upper: 400},
		{Condition: "cardiovascular", Phase: "3", Category: "long", Lower: 1000, Upper: 5000},
		{Condition: "cardiovascular", Phase: Wildcard, Category: "medium", Lower: 150, Upper: 1000},
		{Condition: "vaccine", Phase: "1", Category: "short", Lower: 30, Upper: 100},
		{Condition: "vaccine", Phase: "3", Category: "medium", Lower: 2000, Upper: 15000},
		{Condition: "vaccine", Phase: Wildcard, Category: "short", Lower: 200, Upper: 3000},
		{Condition: Wildcard, Phase: "1", Category: "short", Lower: 20, Upper: 60},
		{Condition: Wildcard, Phase: "1.5", Category: "short", Lower: 30, Upper: 120},
		{Condition: Wildcard, Phase: "2", Category: "medium", Lower: 60, Upper: 250},
		{Condition: Wildcard, Phase: "2.5", Category: "medium", Lower: 150, Upper: 500},
		{Condition: Wildcard, Phase: "3", Category: "long", Lower: 300, Upper: 1500},
		{Condition: Wildcard, Phase: "4", Category: "medium", Lower: 200, Upper: 2000},
		{Condition: Wildcard, Phase: Wildcard, Category: "medium", Lower: 100, Upper: 500},
	}
}
