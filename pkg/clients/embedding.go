package clients

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
)

const (
	maxEmbeddingTexts    = 1000
	maxEmbeddingTextSize = 10000
)

// EmbeddingClient binds the embedding service contract from spec section 6.
type EmbeddingClient struct {
	http *httpClient
}

// NewEmbeddingClient constructs a client for the embedding service.
func NewEmbeddingClient(cfg HTTPConfig, reg *health.Registry) *EmbeddingClient {
	return &EmbeddingClient{http: newHTTPClient("embedding-service", cfg, reg)}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

// EmbedResult is the embedding service's response to a batch request.
type EmbedResult struct {
	Embeddings      [][]float32   `json:"embeddings"`
	VectorSize      int           `json:"vector_size"`
	TextsProcessed  int           `json:"texts_processed"`
	ProcessingTime  time.Duration `json:"processing_time"`
}

// Embed requests vectors for texts. Empty strings are dropped before the
// call; if nothing survives, or texts was empty to begin with, Embed
// fails with InvalidInput rather than calling out (spec section 8). A
// batch larger than 1000 texts, or any text longer than 10000
// characters, is likewise rejected before the call is made.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) (EmbedResult, error) {
	if len(texts) == 0 {
		return EmbedResult{}, apperrors.New(apperrors.CodeInvalidInput, "embedding input list is empty", nil)
	}

	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxEmbeddingTextSize {
			return EmbedResult{}, apperrors.New(apperrors.CodeInvalidInput, "embedding text exceeds maximum length", nil)
		}
		cleaned = append(cleaned, t)
	}
	if len(cleaned) == 0 {
		return EmbedResult{}, apperrors.New(apperrors.CodeInvalidInput, "embedding input has no non-empty texts", nil)
	}
	if len(cleaned) > maxEmbeddingTexts {
		return EmbedResult{}, apperrors.New(apperrors.CodeInvalidInput, "embedding batch exceeds maximum size", nil)
	}

	var out EmbedResult
	if err := c.http.doJSON(ctx, "POST", "/embed", embedRequest{Texts: cleaned}, &out); err != nil {
		return EmbedResult{}, err
	}
	return out, nil
}
