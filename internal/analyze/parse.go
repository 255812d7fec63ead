package analyze

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/meridian-tax/refund-cli/internal/model"
	"github.com/meridian-tax/refund-cli/pkg/anthropic"
)

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// parseDecision decodes a reasoning-service response into a candidate
// decision. Non-JSON output is a hard failure of the call.
func parseDecision(raw string) (*model.DecisionRecord, string, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return nil, cleaned, eris.New("analyze: empty response")
	}

	var rec model.DecisionRecord
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&rec); err != nil {
		return nil, cleaned, eris.Wrap(err, "analyze: decode decision")
	}

	rec.FinalDecision = model.FinalDecision(strings.ToUpper(strings.TrimSpace(string(rec.FinalDecision))))
	rec.Citation = strings.TrimSpace(rec.Citation)

	return &rec, cleaned, nil
}
