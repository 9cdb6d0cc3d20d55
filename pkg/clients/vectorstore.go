package clients

import (
	"context"
	"fmt"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
)

// VectorStoreClient binds the vector store contract from spec section 6.
type VectorStoreClient struct {
	http *httpClient
}

// NewVectorStoreClient constructs a client for the vector store service.
func NewVectorStoreClient(cfg HTTPConfig, reg *health.Registry) *VectorStoreClient {
	return &VectorStoreClient{http: newHTTPClient("vector-store", cfg, reg)}
}

// CollectionInfo describes one collection in the vector store.
type CollectionInfo struct {
	Name       string `json:"name"`
	VectorSize int    `json:"vector_size"`
	Metric     string `json:"distance_metric"`
	PointCount int64  `json:"point_count"`
}

// Point is one vector plus its payload, as upserted into a collection.
type Point struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ScoredPoint is one search result: a point and its similarity score.
type ScoredPoint struct {
	Point
	Score float64 `json:"score"`
}

// ListCollections returns every collection currently in the store.
func (c *VectorStoreClient) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var out struct {
		Collections []CollectionInfo `json:"collections"`
	}
	if err := c.http.doJSON(ctx, "GET", "/collections", nil, &out); err != nil {
		return nil, err
	}
	return out.Collections, nil
}

type createCollectionRequest struct {
	Name       string `json:"name"`
	VectorSize int    `json:"vector_size"`
	Metric     string `json:"distance_metric"`
}

// CreateCollection creates a new collection with the given vector size
// and distance metric (spec section 6: "Cosine", "Euclidean", or "Dot").
func (c *VectorStoreClient) CreateCollection(ctx context.Context, name string, vectorSize int, metric string) error {
	return c.http.doJSON(ctx, "POST", "/collections", createCollectionRequest{
		Name: name, VectorSize: vectorSize, Metric: metric,
	}, nil)
}

// DeleteCollection removes a collection and all of its points.
func (c *VectorStoreClient) DeleteCollection(ctx context.Context, name string) error {
	return c.http.doJSON(ctx, "DELETE", "/collections/"+name, nil, nil)
}

// CollectionInfoByName returns a single collection's metadata. A
// missing collection is reported like any other non-2xx response, as
// UpstreamFailure; no NotFound code is produced.
func (c *VectorStoreClient) CollectionInfoByName(ctx context.Context, name string) (CollectionInfo, error) {
	var out CollectionInfo
	if err := c.http.doJSON(ctx, "GET", "/collections/"+name+"/info", nil, &out); err != nil {
		return CollectionInfo{}, err
	}
	return out, nil
}

// EnsureCollection creates name with vectorSize and metric unless its
// info lookup succeeds; it is a no-op if the collection is already
// present (spec section 4.2's ingestion-startup bootstrap step). A lookup
// that fails because the circuit is open is returned as is; any other
// lookup failure, not only a missing collection, leads to a create call.
func (c *VectorStoreClient) EnsureCollection(ctx context.Context, name string, vectorSize int, metric string) error {
	if _, err := c.CollectionInfoByName(ctx, name); err == nil {
		return nil
	} else if apperrors.Code(err) == apperrors.CodeBackendUnavailable {
		return err
	}
	return c.CreateCollection(ctx, name, vectorSize, metric)
}

type upsertRequest struct {
	Points []Point `json:"points"`
}

// Upsert writes or replaces points in collection.
func (c *VectorStoreClient) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return apperrors.New(apperrors.CodeInvalidInput, "upsert requires at least one point", nil)
	}
	return c.http.doJSON(ctx, "POST", fmt.Sprintf("/collections/%s/points", collection), upsertRequest{Points: points}, nil)
}

type searchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold float64   `json:"score_threshold"`
}

// Search returns collection's nearest limit points to vector whose score
// clears scoreThreshold, per spec section 4.3's
// "search(collection, q, limit=K, score_threshold=T)" and section 6's
// {vector, limit, score_threshold} request shape. The caller (query
// Orchestrator) still re-applies the strict score > threshold cut itself,
// since the server-side threshold is advisory, not a contract guarantee.
func (c *VectorStoreClient) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64) ([]ScoredPoint, error) {
	var out struct {
		Results []ScoredPoint `json:"results"`
	}
	req := searchRequest{Vector: vector, Limit: limit, ScoreThreshold: scoreThreshold}
	if err := c.http.doJSON(ctx, "POST", fmt.Sprintf("/collections/%s/search", collection), req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}
