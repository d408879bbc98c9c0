package model

// AnalysisResult is the schema-valid JSON object produced for a job.
// Only a few top-level fields are known; the rest is passed through.
type AnalysisResult map[string]any

const (
	FieldDetectedLanguage = "detectedLanguage"
	FieldOverallSummary   = "overallSummary"
	FieldInsights         = "insights"
)

// RequiredAnalysisFields are checked after parsing. Missing ones only warn.
var RequiredAnalysisFields = []string{FieldDetectedLanguage, FieldOverallSummary}

// Insights returns the insights array, or nil when it is not an array.
func (r AnalysisResult) Insights() []any {
	v, _ := r[FieldInsights].([]any)
	return v
}
