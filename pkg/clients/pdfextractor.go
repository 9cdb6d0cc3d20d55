package clients

import (
	"context"
	"os"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
)

// PDFExtractorClient binds the PDF text extractor contract from spec
// section 6. Extraction itself runs out of process; this client only
// ships the file's bytes and decodes the per-page result.
type PDFExtractorClient struct {
	http *httpClient
}

// NewPDFExtractorClient constructs a client for the PDF extractor service.
func NewPDFExtractorClient(cfg HTTPConfig, reg *health.Registry) *PDFExtractorClient {
	return &PDFExtractorClient{http: newHTTPClient("pdf-extractor", cfg, reg)}
}

// PageText is one page's extracted text and bounding box, per spec
// section 6. Extract returns pages as the extractor reports them,
// including any whose stripped text is empty; BuildChunks in
// pkg/ingestion skips those.
type PageText struct {
	Page int     `json:"page"`
	Text string  `json:"text"`
	BBox [4]float64 `json:"bbox"`
}

// DocumentMetadata is the extractor's document-level metadata.
type DocumentMetadata struct {
	Pages  int    `json:"pages"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

// ExtractResult is the extractor's response to one document.
type ExtractResult struct {
	TextContent []PageText       `json:"text_content"`
	Metadata    DocumentMetadata `json:"metadata"`
	TotalPages  int              `json:"total_pages"`
}

type extractRequest struct {
	Filename   string `json:"filename"`
	Content    []byte `json:"content"`
	MaxWorkers int    `json:"max_workers,omitempty"`
}

// Extract decodes the PDF at path into an ordered list of per-page text
// and metadata. maxWorkers bounds how many pages the extractor may
// decode in parallel (spec section 5's scheduling model); 0 leaves it
// to the extractor's own default of 4.
func (c *PDFExtractorClient) Extract(ctx context.Context, path string, maxWorkers int) (ExtractResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExtractResult{}, apperrors.New(apperrors.CodeInvalidInput, "failed to read PDF file", err)
	}

	var out ExtractResult
	req := extractRequest{Filename: path, Content: data, MaxWorkers: maxWorkers}
	if err := c.http.doJSON(ctx, "POST", "/extract", req, &out); err != nil {
		return ExtractResult{}, err
	}
	return out, nil
}
