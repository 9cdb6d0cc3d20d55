package delay_test

import (
	"testing"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/datastructures/queue/delay"
	"github.com/stretchr/testify/require"
)

func TestNextReadyAtEmptyQueue(t *testing.T) {
	q := delay.New[string]()
	defer q.Close()

	_, ok := q.NextReadyAt()
	require.False(t, ok)
}

func TestNextReadyAtReportsEarliestItem(t *testing.T) {
	q := delay.New[string]()
	defer q.Close()

	q.Enqueue("far", time.Hour)
	q.Enqueue("near", 10*time.Millisecond)

	ready, ok := q.NextReadyAt()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), ready, 50*time.Millisecond)
}

func TestLenReflectsPendingItems(t *testing.T) {
	q := delay.New[string]()
	defer q.Close()

	require.Equal(t, 0, q.Len())
	q.Enqueue("a", time.Hour)
	q.Enqueue("b", time.Hour)
	require.Equal(t, 2, q.Len())
}
