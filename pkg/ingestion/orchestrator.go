package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/broker"
	"github.com/chris-alexander-pop/docubroker/pkg/clients"
	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/logger"
)

// Message types dispatched between this Orchestrator's own stages, all
// targeted at its own service name (spec section 4.2's pipeline).
const (
	stageExtract = "ingestion.extract"
	stageChunk   = "ingestion.chunk"
	stageEmbed   = "ingestion.embed"
	stageStore   = "ingestion.store"
	stageArchive = "ingestion.archive"
)

// Config configures the pipeline's tunable knobs, per spec section 6.
type Config struct {
	ChunkSize       int    `env:"CHUNK_SIZE" env-default:"1000"`
	ChunkOverlap    int    `env:"CHUNK_OVERLAP" env-default:"200"`
	BatchSize       int    `env:"BATCH_SIZE" env-default:"32"`
	MaxTextsPerCall int    `env:"MAX_TEXTS_PER_CALL" env-default:"1000"`
	VectorSize      int    `env:"VECTOR_SIZE" env-default:"384"`
	DistanceMetric  string `env:"DISTANCE_METRIC" env-default:"Cosine"`
	Collection      string `env:"VECTOR_COLLECTION" env-default:"documents"`
	MaxWorkers      int    `env:"MAX_WORKERS" env-default:"4"`
	ArchiveDir      string `env:"ARCHIVE_DIR" env-default:"./archive"`
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.MaxTextsPerCall <= 0 {
		c.MaxTextsPerCall = 1000
	}
	if c.VectorSize <= 0 {
		c.VectorSize = 384
	}
	if c.DistanceMetric == "" {
		c.DistanceMetric = "Cosine"
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = "./archive"
	}
}

// Extractor decodes a PDF on disk into per-page text, satisfied by
// *clients.PDFExtractorClient.
type Extractor interface {
	Extract(ctx context.Context, path string, maxWorkers int) (clients.ExtractResult, error)
}

// Embedder turns text into vectors, satisfied by *clients.EmbeddingClient.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (clients.EmbedResult, error)
}

// VectorStore persists and serves vectors, satisfied by
// *clients.VectorStoreClient.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, vectorSize int, metric string) error
	Upsert(ctx context.Context, collection string, points []clients.Point) error
}

// Orchestrator drives one PDF through extract, chunk, embed, store, and
// archive, riding on the Broker as its execution substrate (spec
// section 4.2). One instance per ingestion service process.
type Orchestrator struct {
	br      *broker.Broker
	jobs    *Store
	pdf     Extractor
	embed   Embedder
	vectors VectorStore
	cfg     Config
}

// New constructs an Orchestrator. Call RegisterHandlers before starting
// br so its stage messages have a handler bound.
func New(br *broker.Broker, jobs *Store, pdf Extractor, embed Embedder, vectors VectorStore, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{br: br, jobs: jobs, pdf: pdf, embed: embed, vectors: vectors, cfg: cfg}
}

// RegisterHandlers binds each pipeline stage to its message type on the
// underlying Broker.
func (o *Orchestrator) RegisterHandlers() {
	o.br.RegisterHandler(stageExtract, o.handleExtract)
	o.br.RegisterHandler(stageChunk, o.handleChunk)
	o.br.RegisterHandler(stageEmbed, o.handleEmbed)
	o.br.RegisterHandler(stageStore, o.handleStore)
	o.br.RegisterHandler(stageArchive, o.handleArchive)
}

// EnsureCollection bootstraps the configured vector collection if it
// does not already exist. Call once at service start.
func (o *Orchestrator) EnsureCollection(ctx context.Context) error {
	return o.vectors.EnsureCollection(ctx, o.cfg.Collection, o.cfg.VectorSize, o.cfg.DistanceMetric)
}

// Submit accepts a PDF at path, creating its Job (or returning the
// existing one for a matching non-terminal content hash) and kicking
// off the extract stage.
func (o *Orchestrator) Submit(ctx context.Context, path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, apperrors.New(apperrors.CodeInvalidInput, "failed to read uploaded file", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existingID, found, err := o.jobs.FindByContentHash(ctx, hash)
	if err != nil {
		return Job{}, err
	}
	job, err := o.jobs.Create(ctx, filepath.Base(path), hash, int64(len(data)))
	if err != nil {
		return Job{}, err
	}
	if found && job.ID == existingID {
		// Create returned the existing non-terminal Job for this hash;
		// its pipeline was kicked off when it was first submitted.
		return job, nil
	}

	if _, err := o.br.Publish(ctx, o.serviceName(), stageExtract, map[string]interface{}{
		"job_id": job.ID,
		"path":   path,
	}, broker.WithMaxAttempts(3)); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (o *Orchestrator) serviceName() string {
	return o.br.Name()
}

// ListJobs returns every Job ever submitted.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]Job, error) {
	return o.jobs.List(ctx)
}

// failJob marks id failed with reason and logs it. The extract and chunk
// stages call it for failures a retry cannot fix (an extractor error, a
// document with no text). The embed and store stages return their errors
// to the Broker for retry instead; when such a message runs out of
// attempts it is dead-lettered and the Job is not marked failed.
func (o *Orchestrator) failJob(ctx context.Context, id, reason string) {
	if _, err := o.jobs.Update(ctx, id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = reason
	}); err != nil {
		logger.L().Error("failed to record job failure", "job_id", id, "error", err)
	}
}

func jobIDFromPayload(msg *broker.Message) (string, bool) {
	v, ok := msg.Payload["job_id"].(string)
	return v, ok
}

// documentMetadataMap round-trips the extractor's typed DocumentMetadata
// through JSON into the free-form map the Job carries and every upserted
// vector's payload embeds (spec section 3's "metadata: free-form
// auxiliary mapping").
func documentMetadataMap(meta clients.DocumentMetadata) (map[string]interface{}, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) handleExtract(ctx context.Context, msg *broker.Message) error {
	jobID, ok := jobIDFromPayload(msg)
	if !ok {
		return apperrors.New(apperrors.CodeInvalidInput, "extract message missing job_id", nil)
	}
	path, _ := msg.Payload["path"].(string)

	if _, err := o.jobs.Update(ctx, jobID, func(j *Job) {
		j.Status = StatusProcessing
		j.Progress = 10
	}); err != nil {
		return err
	}

	result, err := o.pdf.Extract(ctx, path, o.cfg.MaxWorkers)
	if err != nil {
		o.failJob(ctx, jobID, err.Error())
		return nil
	}

	pages := make([]clients.PageText, 0, len(result.TextContent))
	for _, p := range result.TextContent {
		if p.Text == "" {
			logger.L().Warn("skipping empty-text page", "job_id", jobID, "page", p.Page)
			continue
		}
		pages = append(pages, p)
	}
	if len(pages) == 0 {
		o.failJob(ctx, jobID, ErrNoText)
		return nil
	}

	metadata, err := documentMetadataMap(result.Metadata)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode document metadata")
	}

	if _, err := o.jobs.Update(ctx, jobID, func(j *Job) {
		j.Progress = 30
		j.Pages = result.TotalPages
		j.Metadata = metadata
	}); err != nil {
		return err
	}

	pagesJSON, err := json.Marshal(pages)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal extracted pages")
	}

	_, err = o.br.Publish(ctx, o.serviceName(), stageChunk, map[string]interface{}{
		"job_id":     jobID,
		"path":       path,
		"pages_json": string(pagesJSON),
	}, broker.WithMaxAttempts(3))
	return err
}

func (o *Orchestrator) handleChunk(ctx context.Context, msg *broker.Message) error {
	jobID, ok := jobIDFromPayload(msg)
	if !ok {
		return apperrors.New(apperrors.CodeInvalidInput, "chunk message missing job_id", nil)
	}
	path, _ := msg.Payload["path"].(string)
	pagesJSON, _ := msg.Payload["pages_json"].(string)

	var pages []clients.PageText
	if err := json.Unmarshal([]byte(pagesJSON), &pages); err != nil {
		return apperrors.Wrap(err, "failed to unmarshal extracted pages")
	}

	chunks := BuildChunks(jobID, pages, o.cfg.ChunkSize, o.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		o.failJob(ctx, jobID, ErrNoText)
		return nil
	}

	if _, err := o.jobs.Update(ctx, jobID, func(j *Job) {
		j.Progress = 50
		j.Chunks = len(chunks)
	}); err != nil {
		return err
	}

	chunksJSON, err := json.Marshal(chunks)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal chunks")
	}

	_, err = o.br.Publish(ctx, o.serviceName(), stageEmbed, map[string]interface{}{
		"job_id":      jobID,
		"path":        path,
		"chunks_json": string(chunksJSON),
	}, broker.WithMaxAttempts(3))
	return err
}

// embeddedChunk pairs a Chunk with its vector, carried through to the
// store stage.
type embeddedChunk struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector"`
}

func (o *Orchestrator) handleEmbed(ctx context.Context, msg *broker.Message) error {
	jobID, ok := jobIDFromPayload(msg)
	if !ok {
		return apperrors.New(apperrors.CodeInvalidInput, "embed message missing job_id", nil)
	}
	path, _ := msg.Payload["path"].(string)
	chunksJSON, _ := msg.Payload["chunks_json"].(string)

	var chunks []Chunk
	if err := json.Unmarshal([]byte(chunksJSON), &chunks); err != nil {
		return apperrors.Wrap(err, "failed to unmarshal chunks")
	}

	embedded := make([]embeddedChunk, 0, len(chunks))
	batchSize := o.cfg.BatchSize
	if batchSize > o.cfg.MaxTextsPerCall {
		batchSize = o.cfg.MaxTextsPerCall
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		result, err := o.embed.Embed(ctx, texts)
		if err != nil {
			// Propagate: the Broker's retry policy re-publishes this
			// stage message from scratch (spec section 4.2).
			return err
		}
		if len(result.Embeddings) != len(batch) {
			return apperrors.New(apperrors.CodeUpstreamFailure, "embedding service returned a mismatched vector count", nil)
		}
		for i, c := range batch {
			embedded = append(embedded, embeddedChunk{Chunk: c, Vector: result.Embeddings[i]})
		}

		progress := 50 + int(float64(end)/float64(len(chunks))*30)
		if _, err := o.jobs.Update(ctx, jobID, func(j *Job) { j.Progress = progress }); err != nil {
			return err
		}
	}

	embeddedJSON, err := json.Marshal(embedded)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal embedded chunks")
	}

	_, err = o.br.Publish(ctx, o.serviceName(), stageStore, map[string]interface{}{
		"job_id":        jobID,
		"path":          path,
		"embedded_json": string(embeddedJSON),
	}, broker.WithMaxAttempts(3))
	return err
}

func (o *Orchestrator) handleStore(ctx context.Context, msg *broker.Message) error {
	jobID, ok := jobIDFromPayload(msg)
	if !ok {
		return apperrors.New(apperrors.CodeInvalidInput, "store message missing job_id", nil)
	}
	path, _ := msg.Payload["path"].(string)
	embeddedJSON, _ := msg.Payload["embedded_json"].(string)

	var embedded []embeddedChunk
	if err := json.Unmarshal([]byte(embeddedJSON), &embedded); err != nil {
		return apperrors.Wrap(err, "failed to unmarshal embedded chunks")
	}

	job, ok, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "job not found for store stage", nil)
	}

	points := make([]clients.Point, 0, len(embedded))
	for _, e := range embedded {
		points = append(points, clients.Point{
			ID:     e.Chunk.ID,
			Vector: e.Vector,
			Payload: map[string]interface{}{
				"text":      e.Chunk.Text,
				"page_span": e.Chunk.PageSpan,
				"length":    e.Chunk.Length,
				"job_id":    e.Chunk.JobID,
				"metadata":  job.Metadata,
			},
		})
	}

	if err := o.vectors.Upsert(ctx, o.cfg.Collection, points); err != nil {
		return err
	}

	if _, err := o.jobs.Update(ctx, jobID, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 100
		j.VectorsStored = len(points)
	}); err != nil {
		return err
	}

	_, err = o.br.Publish(ctx, o.serviceName(), stageArchive, map[string]interface{}{
		"job_id": jobID,
		"path":   path,
	}, broker.WithMaxAttempts(1))
	return err
}

// handleArchive moves the job's source file to the archive directory.
// Best-effort: a failure here is logged, not fatal to the Job, which
// is already completed (spec section 4.2 stage 6).
func (o *Orchestrator) handleArchive(ctx context.Context, msg *broker.Message) error {
	jobID, _ := jobIDFromPayload(msg)
	path, _ := msg.Payload["path"].(string)

	job, ok, err := o.jobs.Get(ctx, jobID)
	if err != nil || !ok {
		return nil
	}
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(o.cfg.ArchiveDir, 0o755); err != nil {
		logger.L().Warn("failed to create archive directory", "job_id", jobID, "error", err)
		return nil
	}
	dest := filepath.Join(o.cfg.ArchiveDir, time.Now().Format("20060102")+"-"+job.Filename)
	if err := os.Rename(path, dest); err != nil {
		logger.L().Warn("failed to archive source file", "job_id", jobID, "error", err)
	}
	return nil
}
