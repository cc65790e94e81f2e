package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"bizfin-insight/internal/ai"
	"bizfin-insight/internal/role"
)

const (
	relevantContextKey = "relevantContext"

	reportSystemPrompt = "You are a professional financial analyst creating detailed reports."
	defaultInsight     = "Analysis completed successfully"
	maxInsights        = 5
	minInsightRunes    = 11
)

var insightMarkers = []string{"insight:", "key point:", "important:"}

// renderData turns caller data plus retrieved chunks into prompt text. Chunks
// found under relevantContext in data are moved out of the base content.
func renderData(data any, retrieved []RetrievedChunk) string {
	base := data
	var blocks []RetrievedChunk

	if m, ok := data.(map[string]any); ok {
		if raw, has := m[relevantContextKey]; has {
			blocks = append(blocks, contextFromData(raw)...)
			trimmed := make(map[string]any, len(m))
			for k, v := range m {
				if k != relevantContextKey {
					trimmed[k] = v
				}
			}
			base = trimmed
		}
	}
	blocks = append(blocks, retrieved...)

	var b strings.Builder
	b.WriteString(renderBase(base))
	if len(blocks) > 0 {
		b.WriteString("\n\nRelevant Document Context:")
		for i, c := range blocks {
			fmt.Fprintf(&b, "\n\n[Context %d] (relevance: %.3f)\n%s", i+1, c.Score, c.Text)
		}
	}
	return b.String()
}

func renderBase(data any) string {
	if m, ok := data.(map[string]any); ok {
		if t, _ := m["type"].(string); t == "pdf" {
			text, _ := m["text"].(string)
			return fmt.Sprintf("Document Type: PDF (%v pages)\n%s", pageCount(m["pages"]), text)
		}
	}
	if data == nil {
		return "{}"
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}

func pageCount(v any) any {
	switch n := v.(type) {
	case float64:
		return int(n)
	case nil:
		return 0
	default:
		return n
	}
}

// contextFromData accepts the JSON shape clients send back:
// [{"text": "...", "score": 0.91, "metadata": {...}}].
func contextFromData(raw any) []RetrievedChunk {
	switch items := raw.(type) {
	case []RetrievedChunk:
		return items
	case []any:
		out := make([]RetrievedChunk, 0, len(items))
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			c := RetrievedChunk{}
			c.Text, _ = m["text"].(string)
			c.Score, _ = m["score"].(float64)
			if c.Text != "" {
				out = append(out, c)
			}
		}
		return out
	}
	return nil
}

func analysisMessages(r role.Role, renderedData, query string) []ai.ChatMessage {
	return []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: role.Template(string(r))},
		{Role: ai.RoleUser, Content: "Financial Data: " + renderedData + "\n\nQuery: " + query},
	}
}

func reportMessages(r role.Role, renderedData string) []ai.ChatMessage {
	user := "Generate a comprehensive financial analysis report for a " + string(r) +
		" level user based on this data:\n\n" + renderedData + "\n\n" +
		"Include:\n" +
		"1. Executive Summary\n" +
		"2. Key Performance Indicators\n" +
		"3. Department-wise Analysis (Sales, Finance, Production, Materials)\n" +
		"4. Strategic Recommendations\n" +
		"5. Risk Assessment\n\n" +
		"Format as a professional financial report."
	return []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: reportSystemPrompt},
		{Role: ai.RoleUser, Content: user},
	}
}

// extractInsights is best effort: it keeps lines that carry a marker or start
// with a bullet and never fails. Nothing found yields a single default.
func extractInsights(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		text, ok := insightText(line)
		if !ok || len([]rune(text)) < minInsightRunes {
			continue
		}
		out = append(out, text)
		if len(out) == maxInsights {
			break
		}
	}
	if len(out) == 0 {
		return []string{defaultInsight}
	}
	return out
}

func insightText(line string) (string, bool) {
	for _, m := range insightMarkers {
		if i := indexFold(line, m); i >= 0 {
			return strings.TrimSpace(line[i+len(m):]), true
		}
	}
	trimmed := strings.TrimSpace(line)
	for _, bullet := range []string{"•", "-", "*"} {
		if strings.HasPrefix(trimmed, bullet) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, bullet)), true
		}
	}
	return "", false
}

// indexFold finds an ASCII marker case-insensitively without changing byte
// offsets in s.
func indexFold(s, marker string) int {
	for i := 0; i+len(marker) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(marker)], marker) {
			return i
		}
	}
	return -1
}
