package ingestion

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/queue"
	"github.com/google/uuid"
)

// jobIndexKey lists every Job id ever created, backing ListJobs the
// same way session.sessionIndexKey backs session.List.
const jobIndexKey = "pdf_job_index"

// contentHashKey maps a content hash to the id of the most recently
// created Job for it, whatever that Job's status. Create consults it to
// implement the idempotence rule from spec section 4.2: re-submitting a
// hash while its Job is non-terminal returns the existing job_id.
func contentHashKey(hash string) string { return "pdf_content_hash:" + hash }

func jobKey(id string) string { return "pdf_job:" + id }

const (
	fieldJobRecord = "record"
)

// Store persists Ingestion Jobs on the shared KV backend, per spec
// section 6's pdf_job:{id} hash key.
type Store struct {
	backend queue.Backend
}

// NewStore constructs a Store backed by b.
func NewStore(b queue.Backend) *Store {
	return &Store{backend: b}
}

func (s *Store) put(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal job")
	}
	return s.backend.HashSet(ctx, jobKey(job.ID), fieldJobRecord, data)
}

// Get returns id's Job record, or false if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (Job, bool, error) {
	data, ok, err := s.backend.HashGet(ctx, jobKey(id), fieldJobRecord)
	if err != nil {
		return Job{}, false, err
	}
	if !ok {
		return Job{}, false, nil
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, false, apperrors.Wrap(err, "failed to unmarshal job")
	}
	return job, true, nil
}

// FindByContentHash returns the id of the most recently submitted Job
// for hash, if one has ever been created.
func (s *Store) FindByContentHash(ctx context.Context, hash string) (string, bool, error) {
	data, ok, err := s.backend.HashGet(ctx, contentHashKey(hash), "job_id")
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return string(data), true, nil
}

// Create persists a new Job in the queued state, indexing it by id and
// content hash. If a non-terminal Job already exists for contentHash,
// Create returns that Job instead of creating a duplicate (spec section
// 4.2's upload idempotence law).
func (s *Store) Create(ctx context.Context, filename, contentHash string, byteCount int64) (Job, error) {
	if existingID, ok, err := s.FindByContentHash(ctx, contentHash); err != nil {
		return Job{}, err
	} else if ok {
		if existing, ok, err := s.Get(ctx, existingID); err != nil {
			return Job{}, err
		} else if ok && !existing.Status.terminal() {
			return existing, nil
		}
	}

	job := Job{
		ID:          "job-" + uuid.New().String(),
		Filename:    filename,
		ContentHash: contentHash,
		Bytes:       byteCount,
		Status:      StatusQueued,
		Progress:    0,
		CreatedAt:   time.Now(),
	}
	if err := s.put(ctx, job); err != nil {
		return Job{}, err
	}
	if err := s.backend.HashSet(ctx, contentHashKey(contentHash), "job_id", []byte(job.ID)); err != nil {
		return Job{}, err
	}
	if err := s.backend.PushList(ctx, jobIndexKey, []byte(job.ID)); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Update applies mutate to id's current Job and persists the result.
// The owning Orchestrator is this Store's only writer per Job, so no
// compare-and-set is needed (spec section 5: single-writer per row).
func (s *Store) Update(ctx context.Context, id string, mutate func(*Job)) (Job, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, apperrors.New(apperrors.CodeNotFound, "job does not exist: "+id, nil)
	}
	mutate(&job)
	if err := s.put(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// List returns every Job ever created, in submission order.
func (s *Store) List(ctx context.Context) ([]Job, error) {
	ids, err := s.backend.ListRange(ctx, jobIndexKey, 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(ids))
	for _, idb := range ids {
		job, ok, err := s.Get(ctx, string(idb))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, job)
		}
	}
	return out, nil
}
