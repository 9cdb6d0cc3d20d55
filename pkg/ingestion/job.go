// Package ingestion implements the Ingestion Orchestrator (spec section
// 4.2): a broker-driven pipeline that carries one uploaded PDF through
// extract, chunk, embed, store, and archive stages, updating its Job
// record to terminal state.
package ingestion

import "time"

// Status is a Job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is the lifecycle record for one end-to-end PDF processing flow
// (spec section 3). It is mutated only by the Ingestion Orchestrator.
type Job struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	ContentHash   string    `json:"content_hash"`
	Bytes         int64     `json:"bytes"`
	Status        Status    `json:"status"`
	Progress      int       `json:"progress"`
	Pages         int       `json:"pages"`
	Chunks        int       `json:"chunks"`
	VectorsStored int       `json:"vectors_stored"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	// Metadata is the source document's metadata as reported by the PDF
	// extractor (title, author, page count, ...). Set once, after the
	// extract stage, and carried into every upserted vector's payload
	// alongside the Chunk (spec section 3: "payload equal to the Chunk
	// plus job metadata").
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// terminal reports whether status ends the Job's lifecycle.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Chunk is a contiguous, character-budgeted slice of a Job's extracted
// text, the atomic unit of embedding and retrieval (spec section 3).
type Chunk struct {
	ID       string `json:"id"`
	JobID    string `json:"job_id"`
	Text     string `json:"text"`
	PageSpan []int  `json:"page_span"`
	Length   int    `json:"length"`
}

// Well-known Job error strings, set on terminal failure (spec section
// 4.2 and 8).
const (
	ErrNoText = "no_text"
)
