package ingestion_test

import (
	"testing"

	"github.com/chris-alexander-pop/docubroker/pkg/clients"
	"github.com/chris-alexander-pop/docubroker/pkg/ingestion"
	"github.com/stretchr/testify/require"
)

func TestBuildChunksHappyPathScenario(t *testing.T) {
	pages := []clients.PageText{
		{Page: 1, Text: "AAA. BBB. CCC."},
		{Page: 2, Text: "DDD. EEE."},
		{Page: 3, Text: "FFF."},
	}

	chunks := ingestion.BuildChunks("job-1", pages, 10, 0)

	require.Len(t, chunks, 3)
	require.Contains(t, chunks[0].Text, "AAA.")
	require.Contains(t, chunks[0].Text, "BBB.")
	require.Equal(t, []int{1}, chunks[0].PageSpan)

	require.Contains(t, chunks[1].Text, "CCC.")
	require.Contains(t, chunks[1].Text, "DDD.")
	require.Equal(t, []int{1, 2}, chunks[1].PageSpan)

	require.Contains(t, chunks[2].Text, "EEE.")
	require.Contains(t, chunks[2].Text, "FFF.")
	require.Equal(t, []int{2, 3}, chunks[2].PageSpan)

	for _, c := range chunks {
		require.Equal(t, "job-1", c.JobID)
		require.NotEmpty(t, c.ID)
	}
}

func TestBuildChunksNoOverlapNeverEmitsZeroLengthChunks(t *testing.T) {
	pages := []clients.PageText{{Page: 1, Text: "AAA. BBB. CCC."}}
	chunks := ingestion.BuildChunks("job-1", pages, 10, 0)
	for _, c := range chunks {
		require.NotEmpty(t, c.Text)
		require.Greater(t, c.Length, 0)
	}
}

func TestBuildChunksWithOverlapSeedsNextChunk(t *testing.T) {
	pages := []clients.PageText{{Page: 1, Text: "AAAAA. BBBBB. CCCCC. DDDDD."}}
	chunks := ingestion.BuildChunks("job-1", pages, 14, 4)
	require.GreaterOrEqual(t, len(chunks), 2)
}

func TestBuildChunksOverlapSeedAttributesToItsOwnPage(t *testing.T) {
	pages := []clients.PageText{
		{Page: 1, Text: "AAAAA. BBBBB."},
		{Page: 2, Text: "CCCCC. DDDDD."},
	}
	chunks := ingestion.BuildChunks("job-1", pages, 14, 4)
	require.Len(t, chunks, 3)

	require.Equal(t, []int{1}, chunks[0].PageSpan)

	// chunks[1] is seeded with the tail of chunks[0] ("BBB.", from page
	// 1) and then picks up "CCCCC." from page 2 before overflowing
	// again. Its page_span must include page 1, the page the seed text
	// actually came from, not just page 2 (the page of the sentence
	// that triggered the overflow).
	require.Contains(t, chunks[1].Text, "CCCCC.")
	require.Equal(t, []int{1, 2}, chunks[1].PageSpan)
}

func TestBuildChunksSkipsEmptyTextPages(t *testing.T) {
	pages := []clients.PageText{
		{Page: 1, Text: ""},
		{Page: 2, Text: "AAA."},
	}
	chunks := ingestion.BuildChunks("job-1", pages, 10, 0)
	require.Len(t, chunks, 1)
	require.Equal(t, []int{2}, chunks[0].PageSpan)
}

func TestBuildChunksEmptyDocumentProducesNoChunks(t *testing.T) {
	chunks := ingestion.BuildChunks("job-1", nil, 10, 0)
	require.Empty(t, chunks)
}

func TestBuildChunksIsDeterministic(t *testing.T) {
	pages := []clients.PageText{
		{Page: 1, Text: "One. Two. Three. Four. Five."},
		{Page: 2, Text: "Six. Seven."},
	}
	first := ingestion.BuildChunks("job-1", pages, 12, 3)
	second := ingestion.BuildChunks("job-1", pages, 12, 3)
	require.Len(t, second, len(first))
	for i := range first {
		require.Equal(t, first[i].Text, second[i].Text)
		require.Equal(t, first[i].PageSpan, second[i].PageSpan)
	}
}
