package diagnosis

import "math"

// Finding is one candidate condition reported by the scorer.
type Finding struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
	Description string  `json:"description"`
}

// OverlayPaths point at the scorer's class-activation heatmaps, when it produced them.
type OverlayPaths struct {
	GradCAM     *string `gorm:"column:gradcam_path;type:text"`
	GradCAMPlus *string `gorm:"column:gradcam_plus_path;type:text"`
	LayerCAM    *string `gorm:"column:layercam_path;type:text"`
}

// AIAnalysis is the canonical result of one inference call.
// Confidence and every finding probability are on the unit interval; slices are never nil.
// Findings keep the scorer's ranking, so the first one is the primary class unless
// PredictedClass says otherwise.
type AIAnalysis struct {
	Confidence      float64   `gorm:"column:confidence;not null;default:0"`
	Findings        []Finding `gorm:"column:findings;serializer:json"`
	Recommendations []string  `gorm:"column:recommendations;serializer:json"`
	Notes           string    `gorm:"column:notes;type:text"`
	PredictedClass  *string   `gorm:"column:predicted_class;type:varchar(100)"`

	Overlays OverlayPaths `gorm:"embedded"`
}

// PrimaryCondition is the predicted class, falling back to the top-ranked finding.
func (a *AIAnalysis) PrimaryCondition() string {
	if a.PredictedClass != nil && *a.PredictedClass != "" {
		return *a.PredictedClass
	}
	if len(a.Findings) > 0 {
		return a.Findings[0].Condition
	}
	return ""
}

// Canonical returns a copy that upholds the AIAnalysis invariants: values clamped to
// [0,1] and empty slices instead of nil. Scale conversion is the normalizer's job.
func (a AIAnalysis) Canonical() AIAnalysis {
	a.Confidence = clampUnit(a.Confidence)

	findings := make([]Finding, len(a.Findings))
	for i, f := range a.Findings {
		f.Probability = clampUnit(f.Probability)
		findings[i] = f
	}
	a.Findings = findings

	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	return a
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
