package scoring

import (
	"context"
	"sort"
	"time"

	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/internal/intelligence/common"
	"github.com/turtacn/TrialScope/pkg/errors"
)

// Prediction keys the engine reads beyond the generic feature mapping.
const (
	FeatureCondition         = "condition"
	FeaturePhase             = "phase"
	FeatureSampleSize        = "sample_size"
	FeatureDurationCategory  = "duration_category"
	FeatureSampleSizeTertile = "sample_size_tertile"
)

// Report is the outcome of one scoring run.
type Report struct {
	Profile           string   `json:"profile"`
	CostScore         float64  `json:"cost_score"`
	RiskScore         float64  `json:"risk_score"`
	DurationCategory  string   `json:"duration_category"`
	SampleSizeTertile string   `json:"sample_size_tertile"`
	Tertile           *Tertile `json:"tertile,omitempty"`
	CostNodes         []Node   `json:"cost_nodes"`
	RiskNodes         []Node   `json:"risk_nodes"`
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithProfiles replaces or adds profiles by name.
func WithProfiles(profiles ...WeightProfile) EngineOption {
	return func(e *Engine) {
		e.profiles = MergeProfiles(e.profiles, profiles)
	}
}

// WithTertiles replaces the tertile table.
func WithTertiles(tertiles []Tertile) EngineOption {
	return func(e *Engine) {
		e.tertiles = append([]Tertile(nil), tertiles...)
	}
}

// WithDefaultProfile selects the profile Score uses.
func WithDefaultProfile(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.defaultProfile = name
		}
	}
}

// WithScoringMetrics records each run to m.
func WithScoringMetrics(m common.IntelligenceMetrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Engine scores prediction maps against a set of named profiles and a tertile
// table.  It is immutable after construction and safe for concurrent use.
type Engine struct {
	profiles       map[string]WeightProfile
	tertiles       []Tertile
	defaultProfile string
	logger         logging.Logger
	metrics        common.IntelligenceMetrics
}

// NewEngine builds an engine over the built-in profiles and tertiles, then
// applies opts.  Every profile and the tertile table are validated up front.
func NewEngine(logger logging.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Engine{
		profiles:       DefaultProfiles(),
		tertiles:       DefaultTertiles(),
		defaultProfile: ProfileDefault,
		logger:         logger.Named("scoring"),
		metrics:        common.NewNoopIntelligenceMetrics(),
	}
	for _, o := range opts {
		o(e)
	}

	for _, name := range e.ProfileNames() {
		if err := e.profiles[name].Validate(); err != nil {
			return nil, err
		}
	}
	if err := ValidateTertiles(e.tertiles); err != nil {
		return nil, err
	}
	if _, err := e.Profile(e.defaultProfile); err != nil {
		return nil, err
	}
	return e, nil
}

// Profile returns a copy of the named profile.
func (e *Engine) Profile(name string) (WeightProfile, error) {
	p, ok := e.profiles[name]
	if !ok {
		return WeightProfile{}, errors.New(errors.ErrCodeUnknownWeightProfile, errors.DefaultMessageForCode(errors.ErrCodeUnknownWeightProfile)).
			WithDetail("profile=" + name)
	}
	return p.Clone(), nil
}

// ProfileNames lists the available profiles in sorted order.
func (e *Engine) ProfileNames() []string {
	names := make([]string, 0, len(e.profiles))
	for n := range e.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultProfileName is the profile Score uses.
func (e *Engine) DefaultProfileName() string { return e.defaultProfile }

// Score runs the pipeline with the default profile.
func (e *Engine) Score(predictions map[string]interface{}) (*Report, error) {
	return e.ScoreWithProfile(context.Background(), e.defaultProfile, predictions)
}

// ScoreWithProfile runs the pipeline with the named profile: feature nodes,
// tertile lookup from condition and phase, the sample-size bucket, the
// duration category, then the constant baseline.  predictions is not
// modified.
func (e *Engine) ScoreWithProfile(ctx context.Context, profileName string, predictions map[string]interface{}) (report *Report, err error) {
	start := time.Now()
	defer func() {
		params := &common.ScoringMetricParams{
			Profile:    profileName,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Success:    err == nil,
		}
		if report != nil {
			params.CostScore = report.CostScore
			params.RiskScore = report.RiskScore
		}
		e.metrics.RecordScoring(ctx, params)
	}()

	profile, err := e.Profile(profileName)
	if err != nil {
		return nil, err
	}
	if err = profile.Validate(); err != nil {
		return nil, err
	}

	cost, risk := FeatureNodes(predictions, profile)
	report = &Report{
		Profile:           profile.Name,
		DurationCategory:  BucketUnknown,
		SampleSizeTertile: BucketUnknown,
	}

	condition, _ := predictions[FeatureCondition].(string)
	phase, _ := scalarOf(predictions[FeaturePhase])
	if t, ok := FindMatchingTertile(PriorityFor(condition, PhaseKey(phase)), e.tertiles); ok {
		report.Tertile = &t
		report.DurationCategory = t.Category
		cost = appendWeighted(cost, profile, CostCategoryKey(FeatureDurationCategory, t.Category), 1)
		risk = appendWeighted(risk, profile, RiskCategoryKey(FeatureDurationCategory, t.Category), 1)

		if size, ok := scalarOf(predictions[FeatureSampleSize]); ok && size > 0 {
			bucket := t.Bucket(size)
			report.SampleSizeTertile = bucket
			cost = appendWeighted(cost, profile, CostCategoryKey(FeatureSampleSizeTertile, bucket), 1)
			risk = appendWeighted(risk, profile, RiskCategoryKey(FeatureSampleSizeTertile, bucket), 1)
		}
	} else {
		e.logger.Debug("no tertile matched",
			logging.String("condition", condition),
			logging.Float64("phase", phase),
		)
	}

	cost, risk, err = AddConstantNodes(cost, risk, profile)
	if err != nil {
		return nil, err
	}
	report.CostNodes = cost
	report.RiskNodes = risk
	report.CostScore = Sum(cost)
	report.RiskScore = Sum(risk)

	e.logger.Debug("scored",
		logging.String("profile", profile.Name),
		logging.Float64("cost", report.CostScore),
		logging.Float64("risk", report.RiskScore),
		logging.String("duration_category", report.DurationCategory),
	)
	return report, nil
}
