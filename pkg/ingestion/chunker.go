package ingestion

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chris-alexander-pop/docubroker/pkg/clients"
	"github.com/google/uuid"
)

// pageSentence is one sentence carried alongside the page it came from,
// the unit the packing loop below walks.
type pageSentence struct {
	page int
	text string
}

// splitSentences splits page's text on ". " — spec section 4.2 allows
// this literal split as the sentence boundary. The period stripped by
// the split is re-appended to every part but the last, which already
// ends the page's text as written.
func splitSentences(page int, text string) []pageSentence {
	parts := strings.Split(text, ". ")
	out := make([]pageSentence, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i < len(parts)-1 {
			p += "."
		}
		out = append(out, pageSentence{page: page, text: p})
	}
	return out
}

// BuildChunks walks pages sentence-by-sentence and packs them into
// Chunks bounded by chunkSize characters, per spec section 4.2's
// algorithm: a Chunk is emitted whenever adding the next sentence would
// push it over chunkSize and it is already non-empty; each new Chunk
// after the first is seeded with the last overlap characters of the
// Chunk before it. A final non-empty Chunk is always emitted. Pages
// whose stripped Text is empty contribute nothing.
func BuildChunks(jobID string, pages []clients.PageText, chunkSize, overlap int) []Chunk {
	var sentences []pageSentence
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		sentences = append(sentences, splitSentences(p.Page, p.Text)...)
	}
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	// current holds the in-progress chunk's sentences, each still
	// carrying its own page, so overlap seeding (below) can attribute
	// the seed text to the page it actually came from rather than to
	// whichever sentence happens to trigger the overflow.
	var current []pageSentence

	emit := func() {
		if len(current) == 0 {
			return
		}
		text := joinSentences(current)
		chunks = append(chunks, Chunk{
			ID:       uuid.New().String(),
			JobID:    jobID,
			Text:     text,
			PageSpan: pageSpanOf(current),
			Length:   utf8.RuneCountInString(text),
		})
	}

	for _, s := range sentences {
		sentLen := utf8.RuneCountInString(s.text)
		curLen := utf8.RuneCountInString(joinSentences(current))
		if curLen > 0 && curLen+sentLen > chunkSize {
			prev := current
			emit()
			current = overlapSeed(prev, overlap)
		}
		current = append(current, s)
	}
	emit()

	return chunks
}

// joinSentences renders sents as the single space-joined string a Chunk
// carries as its Text.
func joinSentences(sents []pageSentence) string {
	if len(sents) == 0 {
		return ""
	}
	parts := make([]string, len(sents))
	for i, s := range sents {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

// pageSpanOf collects the ordered, de-duplicated set of pages sents
// draws from (spec section 3's page_span).
func pageSpanOf(sents []pageSentence) []int {
	set := map[int]struct{}{}
	for _, s := range sents {
		set[s.page] = struct{}{}
	}
	return sortedPages(set)
}

// overlapSeed returns the trailing sentences of prev whose combined text
// covers the last n characters of prev's rendered chunk, walking prev
// from its end and, where n falls inside a sentence, truncating that
// sentence to its own trailing characters. Each returned sentence keeps
// the page it actually came from, so a seed that straddles a page
// boundary inside prev attributes correctly instead of borrowing the
// page of whatever sentence triggers the next overflow.
func overlapSeed(prev []pageSentence, n int) []pageSentence {
	if n <= 0 || len(prev) == 0 {
		return nil
	}
	var seed []pageSentence
	remaining := n
	for i := len(prev) - 1; i >= 0 && remaining > 0; i-- {
		s := prev[i]
		sentLen := utf8.RuneCountInString(s.text)
		if sentLen <= remaining {
			seed = append([]pageSentence{s}, seed...)
			remaining -= sentLen
			if i > 0 {
				remaining-- // the separating space this sentence cost when joined
			}
			continue
		}
		seed = append([]pageSentence{{page: s.page, text: lastNChars(s.text, remaining)}}, seed...)
		remaining = 0
	}
	return seed
}

func lastNChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func sortedPages(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
