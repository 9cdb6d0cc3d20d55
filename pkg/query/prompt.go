package query

import (
	"fmt"
	"strings"
)

// buildContextBlock formats hits into the labelled sections a grounded
// prompt embeds, per spec section 4.3: "Context i (Pages p, Relevance
// s): text", in the order hits are given (already descending by score).
func buildContextBlock(hits []ContextHit, maxLength int) string {
	var b strings.Builder
	for i, h := range hits {
		section := fmt.Sprintf("Context %d (Pages %s, Relevance %.2f): %s", i+1, formatPageSpan(h.PageSpan), h.Score, h.Text)
		if maxLength > 0 && b.Len()+len(section) > maxLength {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(section)
	}
	return b.String()
}

func formatPageSpan(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ",")
}

// buildGroundedPrompt assembles the grounded template: an instruction,
// the context block, the question, and an explicit instruction to
// admit insufficiency rather than fabricate (spec section 4.3).
func buildGroundedPrompt(query, contextBlock string) string {
	return fmt.Sprintf(
		"You are a helpful assistant answering questions using only the context below. "+
			"If the context is insufficient to answer, say so rather than guessing.\n\n"+
			"%s\n\nQuestion: %s\nAnswer:",
		contextBlock, query,
	)
}

// buildUngroundedPrompt assembles the plain template used when no
// retrieved context passes the similarity threshold.
func buildUngroundedPrompt(query string) string {
	return fmt.Sprintf("User: %s\nAssistant:", query)
}
