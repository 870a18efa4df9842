package protocol

// ExternalMetadata returns the curated features that no extraction module
// produces: values entered by a reviewer or derived by scoring.  The slice is
// rebuilt on each call so callers may modify it freely.
func ExternalMetadata() []Metadata {
	return []Metadata{
		{
			ID:          "num_arms",
			Name:        "Number of arms",
			FeatureType: FeatureNumeric,
			Options:     []MetadataOption{},
		},
		{
			ID:          "healthy_volunteers",
			Name:        "Healthy volunteers",
			FeatureType: FeatureYesNo,
			Options:     YesNoOptions(),
		},
		{
			ID:          "num_visits",
			Name:        "Number of visits",
			FeatureType: FeatureNumeric,
			Options:     []MetadataOption{},
		},
		{
			ID:          "sample_size_tertile",
			Name:        "Sample size tertile",
			FeatureType: FeatureCategory,
			Options:     CategoryOptions("low", "medium", "high"),
		},
		{
			ID:          "duration_category",
			Name:        "Expected duration category",
			FeatureType: FeatureCategory,
			Options:     CategoryOptions("short", "medium", "long", "unknown"),
		},
		{
			ID:          "cost_score",
			Name:        "Estimated cost (USD)",
			FeatureType: FeatureNumeric,
			Options:     []MetadataOption{},
		},
		{
			ID:          "risk_score",
			Name:        "Risk score",
			FeatureType: FeatureNumeric,
			Options:     []MetadataOption{},
		},
	}
}
