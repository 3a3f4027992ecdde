package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"NewsAgency/internal/domain"
)

func credibilityPrompt(item domain.NewsItem) string {
	return fmt.Sprintf(`You are a fact-checking assistant. Assess the credibility of this news item.

Title: %s
Source: %s
Content: %s

Respond with exactly these lines:
Credibility Score: <number>/10
Legitimate: <Yes or No>
Analysis: <one or two sentences explaining the assessment>`,
		item.Title, item.Source, item.Content)
}

func debiasPrompt(item domain.NewsItem) string {
	return fmt.Sprintf(`Rewrite the following news content in a neutral, factual tone.
Remove loaded language, speculation presented as fact, and one-sided framing.
Keep every verifiable fact. Return only the rewritten text.

Title: %s
Content: %s`,
		item.Title, item.Content)
}

func generatePrompt(item domain.NewsItem) string {
	analysis := ""
	if item.Credibility != nil {
		analysis = item.Credibility.Analysis
	}
	return fmt.Sprintf(`Write a concise news article based on this material.

Original title: %s
Source: %s
Content: %s
Fact-check notes: %s

Format your response exactly as:
HEADLINE: <headline>
LEAD: <one-sentence lead>
BODY: <article body, two to four paragraphs>
TAGS: <comma-separated tags>`,
		item.Title, item.Source, item.Debiased, analysis)
}

var (
	scorePattern      = regexp.MustCompile(`(?i)credibility\s+score:\s*(\d+(?:\.\d+)?)\s*/\s*10`)
	legitimatePattern = regexp.MustCompile(`(?i)legitimate:\s*(yes|no)`)
	analysisPattern   = regexp.MustCompile(`(?i)analysis:\s*(.+)`)
)

// parseCredibility extracts the structured verdict from a model response.
// Missing fields fall back to a zero score and an unvetted verdict.
func parseCredibility(raw string) domain.CredibilityCheck {
	check := domain.CredibilityCheck{Analysis: strings.TrimSpace(raw)}

	if m := scorePattern.FindStringSubmatch(raw); m != nil {
		if score, err := strconv.ParseFloat(m[1], 64); err == nil {
			if score > 10 {
				score = 10
			}
			check.Score = score
		}
	}
	if m := legitimatePattern.FindStringSubmatch(raw); m != nil {
		check.Legitimate = strings.EqualFold(m[1], "yes")
	}
	if m := analysisPattern.FindStringSubmatch(raw); m != nil {
		check.Analysis = strings.TrimSpace(m[1])
	}
	return check
}
