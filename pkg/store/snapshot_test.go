package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestorePreservesMemoryAccounting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.Create(ctx, "pods", "default", "web-1", []byte("hello"), nil, nil)
	require.NoError(t, err)

	blob, err := s.Snapshot()
	require.NoError(t, err)

	restored := newTestStore()
	restored.cfg.MemoryLimitBytes = 1 << 20
	require.NoError(t, restored.Restore(blob))

	tbl := restored.table("pods")
	assert.Equal(t, int64(5), tbl.totalBytes)
}
