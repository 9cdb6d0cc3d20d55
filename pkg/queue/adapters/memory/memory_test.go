package memory_test

import (
	"testing"

	"github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/memory"
	"github.com/chris-alexander-pop/docubroker/pkg/queue/tests"
)

func TestMemoryBackend(t *testing.T) {
	b := memory.New()
	defer b.Close()

	tests.RunBackendTests(t, b)
}
