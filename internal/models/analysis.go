package models

// NoScamType is the scam type reported for benign text
const NoScamType = "none"

// ScamAnalysis is the verdict returned by a fraud classifier.
type ScamAnalysis struct {
	IsScam     bool     `json:"isScam"`
	Confidence int      `json:"confidence"` // 0-100
	ScamType   string   `json:"scamType"`
	Patterns   []string `json:"patterns"`
	Analysis   string   `json:"analysis"`
}

// SafeAnalysis is the negative verdict substituted when classification fails.
func SafeAnalysis(reason string) *ScamAnalysis {
	return &ScamAnalysis{
		IsScam:     false,
		Confidence: 0,
		ScamType:   NoScamType,
		Patterns:   []string{},
		Analysis:   reason,
	}
}

// ClampConfidence limits a confidence score to [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Normalize clamps the confidence and replaces nil slices so the verdict
// is safe to persist and serialize.
func (a *ScamAnalysis) Normalize() {
	a.Confidence = ClampConfidence(a.Confidence)
	if a.Patterns == nil {
		a.Patterns = []string{}
	}
	if a.ScamType == "" {
		if a.IsScam {
			a.ScamType = "unknown"
		} else {
			a.ScamType = NoScamType
		}
	}
}
