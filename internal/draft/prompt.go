package draft

import (
	"encoding/json"

	"ticketbridge/internal/domain"
)

// buildPrompt renders the drafting instructions with the requirement
// embedded as indented JSON. Deterministic for a given requirement.
func buildPrompt(req domain.DraftRequirement) string {
	in, _ := json.MarshalIndent(req, "", "  ")

	return `You are a Jira ticket creation assistant. Convert the following requirement into a structured Jira ticket.

Input: ` + string(in) + `

Instructions: Analyze the requirement and generate a structured Jira ticket with:

1. Summary: Short, specific title that captures the core requirement
2. Description: Comprehensive explanation including:
   - Purpose and context
   - Functional expectations
   - Acceptance criteria (bullet points)
3. Priority: Based on urgency and impact (High/Medium/Low)
4. Issue Type: Feature, Bug, Enhancement, Task, or Technical Debt

Output Format:
{
  "summary": "<brief, specific title>",
  "description": "<detailed description with acceptance criteria>",
  "priority": "High|Medium|Low",
  "issueType": "<issue_type>"
}

Rules:
- No markdown formatting
- No code blocks or backticks
- No explanations outside the JSON
- No trailing commas
- Clean, actionable content suitable for sprint planning`
}
