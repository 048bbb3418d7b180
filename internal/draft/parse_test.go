package draft

import (
	"errors"
	"strings"
	"testing"

	"ticketbridge/internal/domain"
)

const validResponse = `{
  "summary": "Fix login timeout",
  "description": "Users are logged out after 30s.\n- Session must persist 24h",
  "priority": "High",
  "issueType": "Bug"
}`

func TestParseDraft(t *testing.T) {
	fields, err := ParseDraft(validResponse)
	if err != nil {
		t.Fatalf("ParseDraft: %v", err)
	}
	if fields.Summary != "Fix login timeout" || fields.Priority != "High" || fields.IssueType != "Bug" {
		t.Errorf("unexpected fields: %+v", fields)
	}
}

func TestParseDraftStripsFences(t *testing.T) {
	for _, wrapped := range []string{
		"```json\n" + validResponse + "\n```",
		"```\n" + validResponse + "\n```",
		"  \n" + validResponse + "\n  ",
	} {
		if _, err := ParseDraft(wrapped); err != nil {
			t.Errorf("ParseDraft(%q...) failed: %v", wrapped[:12], err)
		}
	}
}

func TestParseDraftMissingField(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"absent", `{"summary":"s","description":"d","priority":"High"}`, "issueType"},
		{"empty string", `{"summary":"","description":"d","priority":"High","issueType":"Bug"}`, "summary"},
		{"null", `{"summary":"s","description":null,"priority":"High","issueType":"Bug"}`, "description"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDraft(tc.raw)
			var gerr *domain.GenerationError
			if !errors.As(err, &gerr) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if gerr.Reason != "missing_field" || gerr.Field != tc.field {
				t.Errorf("got reason=%q field=%q", gerr.Reason, gerr.Field)
			}
		})
	}
}

func TestParseDraftInvalidJSON(t *testing.T) {
	_, err := ParseDraft("sorry, I cannot help with that")
	var gerr *domain.GenerationError
	if !errors.As(err, &gerr) || gerr.Reason != "invalid_format" {
		t.Errorf("expected invalid_format error, got %v", err)
	}
}

func TestParseDraftKeepsOddValuesAsIs(t *testing.T) {
	// A present but wrong-shaped field is accepted, stringified.
	fields, err := ParseDraft(`{"summary":"s","description":"d","priority":42,"issueType":["Bug"]}`)
	if err != nil {
		t.Fatalf("ParseDraft: %v", err)
	}
	if fields.Priority != "42" {
		t.Errorf("priority = %q", fields.Priority)
	}
	if fields.IssueType != `["Bug"]` {
		t.Errorf("issueType = %q", fields.IssueType)
	}
}

func TestBuildPromptDeterministic(t *testing.T) {
	req := domain.DraftRequirement{
		Message:       "The export button crashes the app",
		From:          "15551234",
		Kind:          domain.KindText,
		HasAttachment: false,
	}
	a := buildPrompt(req)
	b := buildPrompt(req)
	if a != b {
		t.Error("prompt is not deterministic")
	}
	if !strings.Contains(a, "The export button crashes the app") {
		t.Error("prompt does not embed the message")
	}
	if !strings.Contains(a, `"priority": "High|Medium|Low"`) {
		t.Error("prompt lost the output contract")
	}
}
