package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gristlabs/docstore/pkg/directory"
	"github.com/gristlabs/docstore/pkg/directory/memory"
)

func TestSharedHashAdapter_UnknownKeyIsNotOK(t *testing.T) {
	adapter := directory.SharedHashAdapter{Dir: memory.New()}
	_, ok, err := adapter.GetSharedHash(context.Background(), "doc1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharedHashAdapter_RoundTrip(t *testing.T) {
	dir := memory.New()
	adapter := directory.SharedHashAdapter{Dir: dir, SelfWorkerID: "worker-a"}
	ctx := context.Background()

	require.NoError(t, adapter.SetSharedHash(ctx, "doc1", "abc123"))

	digest, ok, err := adapter.GetSharedHash(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc123", digest)
}
