package search

import (
	"fmt"
	"strings"

	"github.com/eztalk/eztalk-proxy/internal/domain"
)

// ContextMessage renders search results as an instruction block for the
// model. It returns "" when there are no results.
func ContextMessage(query string, results []domain.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(results)+2)
	blocks = append(blocks, fmt.Sprintf(
		"You have been provided with the following web search results for the user's query: '%s'. "+
			"Your task is to synthesize this information, along with your general knowledge, to construct a comprehensive and natural-sounding answer. "+
			"It is crucial that you DO NOT include any inline citation marks like [1], [2], [Source 1], etc., directly in your response text. "+
			"The user will have a separate way to view the sources if they wish.",
		query))

	for i, r := range results {
		idx := r.Index
		if idx == 0 {
			idx = i + 1
		}
		blocks = append(blocks, fmt.Sprintf(
			"\nSource %d:\n  Title: %s\n  Snippet: %s\n  URL: %s (This URL is for your reference only and should not be included in the response)",
			idx, r.Title, r.Snippet, r.Href))
	}

	blocks = append(blocks,
		"\n\nBased on the information from these sources and your existing knowledge, please formulate your answer. "+
			"Focus on delivering a clear, accurate, and well-integrated response to the user's query. "+
			"Remember, do not insert any citation markers (e.g., [1], [Source 2]) into the body of your answer.")

	return strings.Join(blocks, "\n\n")
}
