//go:build !integration

package usecase

import (
	"errors"
	"testing"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
)

func TestParseAnalysis_Repairs(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantSummary string
		wantWarn    int
	}{
		{
			name:        "fenced with trailing comma",
			raw:         "```json\n{\"detectedLanguage\":\"en\",\"overallSummary\":\"ok\",\"insights\":[],}\n```",
			wantSummary: "ok",
		},
		{
			name:        "prose around object",
			raw:         "Sure! Here is the analysis:\n{\"detectedLanguage\":\"de\",\"overallSummary\":\"gut\"}\nHope this helps.",
			wantSummary: "gut",
		},
		{
			name:        "raw newline inside string",
			raw:         "{\"detectedLanguage\":\"en\",\"overallSummary\":\"line one\r\nline two\"}",
			wantSummary: "line one\nline two",
		},
		{
			name:        "control characters",
			raw:         "{\"detectedLanguage\":\"en\",\x00\"overallSummary\":\"x\x07y\"}",
			wantSummary: "xy",
		},
		{
			name:     "missing required fields",
			raw:      `{"insights":[{"title":"a"}]}`,
			wantWarn: 2,
		},
		{
			name:        "valid object keeps punctuation inside strings",
			raw:         "Sure!\n```json\n{\"detectedLanguage\":\"en\",\"overallSummary\":\"lists like [a, ] and {b, } stay\",\"insights\":[]}\n```",
			wantSummary: "lists like [a, ] and {b, } stay",
		},
		{
			name:        "repair leaves string contents alone",
			raw:         "{\"detectedLanguage\":\"en\",\"overallSummary\":\"keep ```json and [x, ] here\",\"insights\":[],}",
			wantSummary: "keep ```json and [x, ] here",
		},
		{
			name:        "trailing comma in nested array",
			raw:         `{"detectedLanguage":"en","overallSummary":"s","insights":[{"a":1,},]}`,
			wantSummary: "s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, warns, err := ParseAnalysis(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantSummary != "" && res[model.FieldOverallSummary] != tt.wantSummary {
				t.Fatalf("summary = %q, want %q", res[model.FieldOverallSummary], tt.wantSummary)
			}
			if len(warns) != tt.wantWarn {
				t.Fatalf("warnings = %v, want %d", warns, tt.wantWarn)
			}
			if res.Insights() == nil {
				t.Fatalf("insights must always be an array, got %#v", res[model.FieldInsights])
			}
		})
	}
}

func TestParseAnalysis_InsightsCoerced(t *testing.T) {
	res, _, err := ParseAnalysis(`{"detectedLanguage":"en","overallSummary":"s","insights":"none"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Insights(); got == nil || len(got) != 0 {
		t.Fatalf("insights = %#v, want empty array", res[model.FieldInsights])
	}
}

func TestParseAnalysis_Malformed(t *testing.T) {
	for _, raw := range []string{
		"I could not analyze this file.",
		"} backwards {",
		`{"detectedLanguage": "en", "overallSummary": }`,
		"",
	} {
		_, _, err := ParseAnalysis(raw)
		if !errors.Is(err, domain.ErrMalformedResponse) {
			t.Fatalf("ParseAnalysis(%q) err = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func TestFallbackResult(t *testing.T) {
	res := FallbackResult("boom")
	if res["parsingIssue"] != true {
		t.Fatalf("parsingIssue not set")
	}
	if res[model.FieldDetectedLanguage] != "Unknown" {
		t.Fatalf("detectedLanguage = %v", res[model.FieldDetectedLanguage])
	}
	ins := res.Insights()
	if len(ins) != 1 {
		t.Fatalf("want one insight, got %d", len(ins))
	}
	first := ins[0].(map[string]any)
	if first["title"] != "Response parsing issue" || first["description"] != "boom" {
		t.Fatalf("unexpected insight %#v", first)
	}
}
