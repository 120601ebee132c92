package service

import (
	"sort"
	"strings"

	ingestdomain "github.com/abiah-ai/usagegate/internal/ingest/domain"
)

// keywordClassifier is the default transcript classifier: a flat keyword
// scan over the flattened transcript text. Deliberately simple; anything
// smarter plugs in behind the OpportunityClassifier interface.
type keywordClassifier struct {
	keywords map[string]string
}

func NewKeywordClassifier() ingestdomain.OpportunityClassifier {
	return &keywordClassifier{
		keywords: map[string]string{
			"pitch deck":      "pitch_deck_outline",
			"pitch":           "pitch_deck_outline",
			"investor update": "investor_update",
			"investors":       "investor_update",
			"business plan":   "business_plan",
			"financial":       "financial_projections",
			"projections":     "financial_projections",
			"runway":          "financial_projections",
			"fundraising":     "fundraising_strategy",
			"term sheet":      "fundraising_strategy",
			"valuation":       "fundraising_strategy",
		},
	}
}

func (c *keywordClassifier) Suggest(transcript string) []string {
	text := strings.ToLower(transcript)
	if text == "" {
		return nil
	}

	seen := make(map[string]bool)
	for keyword, docType := range c.keywords {
		if strings.Contains(text, keyword) {
			seen[docType] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}

	suggestions := make([]string, 0, len(seen))
	for docType := range seen {
		suggestions = append(suggestions, docType)
	}
	sort.Strings(suggestions)
	return suggestions
}
