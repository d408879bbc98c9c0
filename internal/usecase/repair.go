// File: internal/usecase/repair.go
package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
)

// RepairJSON turns a model reply into text that should parse as a JSON object.
// A valid embedded object is returned unchanged. It only fails when the reply
// contains no object at all.
func RepairJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON object in reply", domain.ErrMalformedResponse)
	}
	s := raw[start : end+1]
	if json.Valid([]byte(s)) {
		return s, nil
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return repairSpan(stripControl(s)), nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// repairSpan walks the text once. Inside string literals it escapes raw
// newlines and tabs, which models emit for multi-line summaries. Outside them
// it drops code fence markers and trailing commas before } or ].
func repairSpan(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			}
			b.WriteRune(r)
			continue
		}

		switch {
		case r == '"':
			inString = true
		case r == '`' && i+2 < len(rs) && rs[i+1] == '`' && rs[i+2] == '`':
			i += 2
			for i+1 < len(rs) && isFenceLang(rs[i+1]) {
				i++
			}
			continue
		case r == ',' && closesNext(rs, i+1):
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isFenceLang(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// closesNext reports whether the next non-space rune from i closes a container.
func closesNext(rs []rune, i int) bool {
	for ; i < len(rs); i++ {
		switch rs[i] {
		case ' ', '\n', '\t':
			continue
		case '}', ']':
			return true
		}
		return false
	}
	return false
}

// ParseAnalysis repairs and decodes a reply. Missing required fields are
// reported as warnings, not errors; insights is always an array.
func ParseAnalysis(raw string) (model.AnalysisResult, []string, error) {
	fixed, err := RepairJSON(raw)
	if err != nil {
		return nil, nil, err
	}
	var res model.AnalysisResult
	if err := json.Unmarshal([]byte(fixed), &res); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if res == nil {
		return nil, nil, fmt.Errorf("%w: null object", domain.ErrMalformedResponse)
	}

	var warnings []string
	for _, f := range model.RequiredAnalysisFields {
		if _, ok := res[f]; !ok {
			warnings = append(warnings, "missing field "+f)
		}
	}
	if _, ok := res[model.FieldInsights].([]any); !ok {
		res[model.FieldInsights] = []any{}
	}
	return res, warnings, nil
}

// FallbackResult is stored when a reply cannot be repaired, so the job still
// completes with something the user can read.
func FallbackResult(reason string) model.AnalysisResult {
	return model.AnalysisResult{
		model.FieldDetectedLanguage: "Unknown",
		model.FieldOverallSummary:   "The analysis finished but the AI response could not be parsed.",
		model.FieldInsights: []any{
			map[string]any{
				"type":        "warning",
				"title":       "Response parsing issue",
				"description": reason,
			},
		},
		"parsingIssue": true,
	}
}
