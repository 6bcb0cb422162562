package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTree_OddLeafPairsWithItself(t *testing.T) {
	tree := buildTree([]string{"a", "b", "c"})
	require.Len(t, tree, 3)
	assert.Equal(t, hashPair("c", "c"), tree[1][1])
	assert.Equal(t, hashPair(hashPair("a", "b"), hashPair("c", "c")), tree.root())

	assert.Equal(t, "", buildTree(nil).root())
	assert.Equal(t, "only", buildTree([]string{"only"}).root())
}

func TestAuditProofs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.activity.Log(ctx, uuid.New(), f.admin.ID, models.ActionForceEnd, map[string]int{"n": i}))
	}

	_, err := f.audit.Root(ctx, f.guardian)
	assert.ErrorIs(t, err, ErrForbidden)

	root, err := f.audit.Root(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 5, root.LeafCount)
	assert.Len(t, root.Root, 64)

	for i := 0; i < 5; i++ {
		proof, err := f.audit.Proof(ctx, f.admin, i)
		require.NoError(t, err)
		assert.True(t, proof.Verified, "index %d", i)
		assert.Equal(t, root.Root, proof.Root)
		assert.Len(t, proof.Proof, 3)
	}

	_, err = f.audit.Proof(ctx, f.admin, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditRoot_ChangesWhenTrailGrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.audit.Root(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.LeafCount)

	require.NoError(t, f.activity.Log(ctx, uuid.New(), f.admin.ID, models.ActionComplete, nil))
	one, err := f.audit.Root(ctx, f.admin)
	require.NoError(t, err)
	assert.NotEqual(t, empty.Root, one.Root)
}

func TestVerifyProof_DetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.activity.Log(ctx, uuid.New(), f.admin.ID, models.ActionDelete, nil))
	}

	proof, err := f.audit.Proof(ctx, f.admin, 1)
	require.NoError(t, err)

	entries, err := f.store.ListActivityChronological(ctx)
	require.NoError(t, err)
	entries[1].Meta = json.RawMessage(`{"reason":"edited"}`)
	proof.LeafHash = activityLeaf(&entries[1])
	assert.False(t, VerifyProof(proof))
}
