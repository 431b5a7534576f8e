package analysis

import (
	"encoding/json"
	"fmt"

	"pageaudit/internal/domain"
)

const systemPrompt = `You are an SEO and web accessibility analyst. You receive:
1. Deterministic check results (JSON) from automated scanners
2. Plain text of the page content

Your tasks:
- Assess content quality, readability, and keyword usage
- Synthesise deterministic results into a prioritised issue list
- Generate an executive summary (3-5 sentences)
- Provide one actionable recommendation per issue

HARD CONSTRAINTS:
- You are READ-ONLY. Never suggest automatic content changes.
- Frame accessibility findings as "automated check results", never as compliance/non-compliance.
- Do not include PII from content in your output.
- Keep total output under 2000 tokens.
- Return valid JSON matching the provided schema.`

const userMessageTemplate = `## Page Metadata
- Title: %s
- Meta Description: %s

## SEO Check Results
%s

## Accessibility Check Results
%s

## Page Content (plain text)
%s

Please analyze the above and return a JSON response with: content_quality_score (0-100), readability_score (0-100), keyword_analysis (string), executive_summary (3-5 sentences), and issues (array of {severity, title, description, recommendation}).`

// outputSchema is the JSON schema the provider's structured output must follow.
var outputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "content_quality_score": {"type": "integer", "description": "Content quality score from 0 to 100"},
    "readability_score": {"type": "integer", "description": "Readability score from 0 to 100"},
    "keyword_analysis": {"type": "string", "description": "Analysis of keyword usage and density"},
    "executive_summary": {"type": "string", "description": "Executive summary in 3-5 sentences"},
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "severity": {"type": "string", "enum": ["critical", "major", "minor", "info"]},
          "title": {"type": "string"},
          "description": {"type": "string"},
          "recommendation": {"type": "string"}
        }
      }
    }
  },
  "required": ["content_quality_score", "executive_summary", "issues"]
}`)

var requiredFields = []string{"content_quality_score", "executive_summary", "issues"}

func buildUserMessage(in Input, text string) (string, error) {
	seo, err := indentJSON(in.SEO)
	if err != nil {
		return "", fmt.Errorf("encode seo results: %w", err)
	}
	a11y, err := indentJSON(in.Accessibility)
	if err != nil {
		return "", fmt.Errorf("encode accessibility results: %w", err)
	}
	return fmt.Sprintf(userMessageTemplate, in.MetaTitle, in.MetaDescription, seo, a11y, text), nil
}

func indentJSON(results []domain.CheckResult) (string, error) {
	if results == nil {
		results = []domain.CheckResult{}
	}
	b, err := json.MarshalIndent(results, "", "    ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
