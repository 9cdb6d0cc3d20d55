// Package query implements the Query Orchestrator (spec section 4.3):
// embed → search → context-build → prompt-assemble → generate, with
// session state carried through the Session Store.
package query

import "time"

// ContextHit is one retrieved Chunk considered for a query's context
// block, already filtered to those scoring above the similarity
// threshold and ordered by descending score.
type ContextHit struct {
	Text     string
	PageSpan []int
	Score    float64
}

// Response is what the Query Orchestrator returns for one query (spec
// section 4.3). ContextUsed is zero for an ungrounded answer — the
// caller can always tell grounded from ungrounded by that field alone.
type Response struct {
	Response       string        `json:"response"`
	ContextUsed    int           `json:"context_used"`
	ContextSources [][]int       `json:"context_sources"`
	Model          string        `json:"model"`
	ProcessingTime time.Duration `json:"processing_time"`
}
