package usecase

import (
	"context"
	"strings"

	"NewsAgency/internal/domain"
	"NewsAgency/internal/ports"
)

// KeywordSearcher finds corroborating coverage inside the current batch by
// overlapping significant title words. Two items corroborate each other
// when their titles share at least two significant words.
type KeywordSearcher struct{}

var _ ports.CorroborationSearcher = (*KeywordSearcher)(nil)

// stopwords excluded from title overlap matching.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {},
	"were": {}, "will": {}, "with": {},
}

// FindSimilar returns titles from the pool sharing at least two
// significant words with the given title. The title itself is excluded.
func (KeywordSearcher) FindSimilar(_ context.Context, title string, pool []domain.NewsItem) []string {
	words := significantWords(title)
	if len(words) == 0 {
		return nil
	}

	var similar []string
	for _, item := range pool {
		if strings.EqualFold(item.Title, title) {
			continue
		}
		shared := 0
		for word := range significantWords(item.Title) {
			if _, ok := words[word]; ok {
				shared++
			}
		}
		if shared >= 2 {
			similar = append(similar, item.Title)
		}
	}
	return similar
}

func significantWords(title string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(title)) {
		word := strings.Trim(field, ".,:;!?\"'()[]")
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		words[word] = struct{}{}
	}
	return words
}
