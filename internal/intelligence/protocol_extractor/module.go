// Package protocol_extractor implements the extraction modules that read a
// clinical-trial protocol Document and predict one feature each (age range,
// phase, drug names, randomisation method and so on).
//
// Every module is a pure function of page contents.  The only side effect
// allowed is appending Highlight markers to the pages it found evidence on.
// Each module documents the default it returns for a Document with zero pages
// or without matching text; noisy input degrades to that default.
package protocol_extractor

import (
	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// ---------------------------------------------------------------------------
// Module names
// ---------------------------------------------------------------------------

const (
	ModuleAge            = "age"
	ModuleChild          = "child"
	ModuleDrug           = "drug"
	ModuleDesign         = "design"
	ModuleRandomisation  = "randomisation"
	ModuleInterim        = "interim"
	ModuleChallenge      = "challenge"
	ModuleMasterProtocol = "master_protocol"
	ModulePlatform       = "platform"
	ModuleDuration       = "duration"
	ModuleDocumentType   = "document_type"
	ModuleIntervention   = "intervention"
	ModuleCountry        = "country"
	ModulePhase          = "phase"
	ModuleCondition      = "condition"
	ModuleSampleSize     = "sample_size"
	ModuleNumSites       = "num_sites"
)

// ---------------------------------------------------------------------------
// Contract
// ---------------------------------------------------------------------------

// Module is one self-contained predictor.  Implementations must be safe to
// call concurrently with any other module on the same Document.
type Module interface {
	Name() string
	Process(doc *protocol.Document) (PredictionResult, error)
}

// MetadataProvider is implemented by modules that describe their feature in
// the metadata catalog.
type MetadataProvider interface {
	Metadata() protocol.Metadata
}

// Evidence is a supporting span for a prediction.
type Evidence struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Score      float64 `json:"score,omitempty"`
}

// PredictionResult is the envelope every module returns.  The concrete type
// of Prediction is fixed per module and documented on its constructor.
type PredictionResult struct {
	Prediction interface{} `json:"prediction"`
	Evidence   []Evidence  `json:"evidence,omitempty"`
}

// DefaultModules returns one instance of every module in catalog order.
func DefaultModules() []Module {
	return []Module{
		NewAgeModule(),
		NewChildModule(),
		NewDrugModule(),
		NewDesignModule(),
		NewRandomisationModule(),
		NewInterimModule(),
		NewChallengeModule(),
		NewMasterProtocolModule(),
		NewPlatformModule(),
		NewDurationModule(),
		NewDocumentTypeModule(),
		NewInterventionModule(),
		NewCountryModule(),
		NewPhaseModule(),
		NewConditionModule(),
		NewSampleSizeModule(),
		NewNumSitesModule(),
	}
}

var (
	_ Module           = (*AgeModule)(nil)
	_ MetadataProvider = (*AgeModule)(nil)
	_ Module           = (*DrugModule)(nil)
	_ Module           = (*CountryModule)(nil)
	_ Module           = (*keywordFlag)(nil)
	_ MetadataProvider = (*keywordFlag)(nil)
	_ Module           = (*categoryVoter)(nil)
	_ Module           = (*DurationModule)(nil)
	_ Module           = (*PhaseModule)(nil)
	_ Module           = (*countModule)(nil)
)
