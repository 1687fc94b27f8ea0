package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain/diagnosis"
)

// DefaultNotes is used when the scorer sends no notes.
const DefaultNotes = "UNet lung segmentation + ResNet50 COVID-19 classification inference result."

const unknownCondition = "unknown"

// Payload is the scorer's reply as decoded JSON. Its shape is not trusted and it must
// only be read through Normalize.
type Payload map[string]any

// Source field spellings, in priority order. The first one present wins and later
// spellings are ignored, never merged.
var (
	confidenceKeys     = []string{"confidence", "confidence_score", "confidenceScore"}
	probabilityKeys    = []string{"probability", "prob", "score"}
	notesKeys          = []string{"ai_notes", "aiNotes"}
	predictedClassKeys = []string{"predicted_class", "predictedClass"}
	gradcamKeys        = []string{"gradcam_path", "gradcamPath"}
	gradcamPlusKeys    = []string{"gradcam_plus_path", "gradcamPlusPath"}
	layercamKeys       = []string{"layercam_path", "layercamPath", "layerCamPath"}
)

// ParsePayload decodes a JSON object, keeping numbers exact until normalization.
func ParsePayload(data []byte) (Payload, error) {
	return decodePayload(bytes.NewReader(data))
}

func decodePayload(r io.Reader) (Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("response is not a JSON object")
	}
	return p, nil
}

// Normalize maps any payload onto the canonical analysis. It never fails: every absent
// or unusable field falls back to its default.
//
// Scores are reported by some scorer builds on 0..1 and by others on 0..100. A value in
// (1, 100] is read as a percentage; anything above 100 saturates at 1 and anything
// negative or non-numeric becomes 0.
func Normalize(p Payload) diagnosis.AIAnalysis {
	a := diagnosis.AIAnalysis{
		Confidence:      unitScore(first(p, confidenceKeys)),
		Findings:        findings(p["findings"]),
		Recommendations: stringList(p["recommendations"]),
		Notes:           firstText(p, notesKeys),
		PredictedClass:  optionalText(first(p, predictedClassKeys)),
		Overlays: diagnosis.OverlayPaths{
			GradCAM:     optionalText(first(p, gradcamKeys)),
			GradCAMPlus: optionalText(first(p, gradcamPlusKeys)),
			LayerCAM:    optionalText(first(p, layercamKeys)),
		},
	}
	if a.Notes == "" {
		a.Notes = DefaultNotes
	}
	return a.Canonical()
}

func first(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstText(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func findings(v any) []diagnosis.Finding {
	items, ok := v.([]any)
	if !ok {
		return []diagnosis.Finding{}
	}

	out := make([]diagnosis.Finding, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := diagnosis.Finding{
			Condition:   unknownCondition,
			Probability: unitScore(first(obj, probabilityKeys)),
		}
		if s, ok := obj["condition"].(string); ok && s != "" {
			f.Condition = s
		}
		if s, ok := obj["description"].(string); ok {
			f.Description = s
		}
		out = append(out, f)
	}
	return out
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func optionalText(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func unitScore(v any) float64 {
	var (
		f  float64
		ok = true
	)
	switch t := v.(type) {
	case json.Number:
		f, ok = parseScore(t.String())
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		f, ok = parseScore(strings.TrimSuffix(strings.TrimSpace(t), "%"))
	default:
		return 0
	}
	if !ok {
		return 0
	}

	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f <= 1:
		return f
	case f <= 100:
		return f / 100
	}
	return 1
}

// parseScore keeps the ±Inf or zero that strconv yields for out-of-range input, so huge
// values saturate instead of reading as missing.
func parseScore(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}
