package protocol

// FeatureType classifies the value a feature takes.
type FeatureType string

const (
	FeatureYesNo    FeatureType = "yesno"
	FeatureCategory FeatureType = "category"
	FeatureNumeric  FeatureType = "numeric"
	FeatureText     FeatureType = "text"
	FeatureRange    FeatureType = "range"
	FeatureList     FeatureType = "list"
)

// IsValid reports whether t is one of the known feature types.
func (t FeatureType) IsValid() bool {
	switch t {
	case FeatureYesNo, FeatureCategory, FeatureNumeric, FeatureText, FeatureRange, FeatureList:
		return true
	}
	return false
}

// MetadataOption is one allowed value of a categorical or yes/no feature.
type MetadataOption struct {
	Label string      `json:"label"`
	Value interface{} `json:"value"`
}

// Metadata describes one derived feature without running any extraction.
type Metadata struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	FeatureType FeatureType      `json:"feature_type"`
	Options     []MetadataOption `json:"options"`
}

// YesNoOptions is the option list shared by every yes/no feature.
func YesNoOptions() []MetadataOption {
	return []MetadataOption{
		{Label: "No", Value: 0},
		{Label: "Yes", Value: 1},
	}
}

// CategoryOptions builds options whose label and value are the same string.
func CategoryOptions(values ...string) []MetadataOption {
	opts := make([]MetadataOption, len(values))
	for i, v := range values {
		opts[i] = MetadataOption{Label: v, Value: v}
	}
	return opts
}
