package draft

import (
	"encoding/json"
	"fmt"
	"strings"

	"ticketbridge/internal/domain"
)

// stripFences removes a leading ```json or ``` fence and a trailing ```
// fence. Models occasionally wrap the payload despite being told not to.
func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(cleaned, "```json"); ok {
		cleaned = strings.TrimLeft(rest, " \t\r\n")
	} else if rest, ok := strings.CutPrefix(cleaned, "```"); ok {
		cleaned = strings.TrimLeft(rest, " \t\r\n")
	}
	if rest, ok := strings.CutSuffix(cleaned, "```"); ok {
		cleaned = strings.TrimRight(rest, " \t\r\n")
	}
	return cleaned
}

// ParseDraft validates a raw model response into draft fields. All four
// fields must be present and non-empty; values are passed through as-is
// without vocabulary checks.
func ParseDraft(raw string) (domain.DraftFields, error) {
	cleaned := stripFences(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return domain.DraftFields{}, &domain.GenerationError{Reason: "invalid_format", Err: err}
	}

	for _, field := range []string{"summary", "description", "priority", "issueType"} {
		if !present(obj[field]) {
			return domain.DraftFields{}, &domain.GenerationError{
				Reason: "missing_field",
				Field:  field,
				Err:    fmt.Errorf("missing required field: %s", field),
			}
		}
	}

	return domain.DraftFields{
		Summary:     stringify(obj["summary"]),
		Description: stringify(obj["description"]),
		Priority:    stringify(obj["priority"]),
		IssueType:   stringify(obj["issueType"]),
	}, nil
}

// present mirrors JavaScript truthiness for the fields the model returns:
// absent, null, "", 0 and false all count as missing.
func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	default:
		return true
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
