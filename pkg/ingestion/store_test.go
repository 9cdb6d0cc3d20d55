package ingestion_test

import (
	"context"
	"testing"

	"github.com/chris-alexander-pop/docubroker/pkg/ingestion"
	"github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestCreateIsIdempotentForNonTerminalHash(t *testing.T) {
	b := memory.New()
	defer b.Close()
	store := ingestion.NewStore(b)
	ctx := context.Background()

	first, err := store.Create(ctx, "doc.pdf", "hash-1", 1024)
	require.NoError(t, err)
	require.Equal(t, ingestion.StatusQueued, first.Status)

	second, err := store.Create(ctx, "doc.pdf", "hash-1", 1024)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestCreateStartsNewJobAfterPriorOneCompleted(t *testing.T) {
	b := memory.New()
	defer b.Close()
	store := ingestion.NewStore(b)
	ctx := context.Background()

	first, err := store.Create(ctx, "doc.pdf", "hash-1", 1024)
	require.NoError(t, err)

	_, err = store.Update(ctx, first.ID, func(j *ingestion.Job) {
		j.Status = ingestion.StatusCompleted
	})
	require.NoError(t, err)

	second, err := store.Create(ctx, "doc.pdf", "hash-1", 1024)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
}

func TestListReturnsAllJobs(t *testing.T) {
	b := memory.New()
	defer b.Close()
	store := ingestion.NewStore(b)
	ctx := context.Background()

	_, err := store.Create(ctx, "a.pdf", "hash-a", 1)
	require.NoError(t, err)
	_, err = store.Create(ctx, "b.pdf", "hash-b", 1)
	require.NoError(t, err)

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestUpdateMissingJobFails(t *testing.T) {
	b := memory.New()
	defer b.Close()
	store := ingestion.NewStore(b)

	_, err := store.Update(context.Background(), "missing", func(j *ingestion.Job) {})
	require.Error(t, err)
}
