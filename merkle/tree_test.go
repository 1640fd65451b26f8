package merkle_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/merkle"
)

func leaf(n int64) hash.Hash {
	return hash.FromBig(big.NewInt(n))
}

func TestEmptyTreeRootIsDeterministic(t *testing.T) {
	t1 := merkle.New(8, 3)
	t2 := merkle.New(8, 3)

	assert.Equal(t, t1.Root(), t2.Root())
}

func TestUpdateProducesNewTreeAndSharesUnchangedSubtrees(t *testing.T) {
	tree := merkle.New(8, 3)

	t1, err := tree.Update([]merkle.LeafUpdate{{Index: 0, Value: leaf(1)}})
	require.NoError(t, err)

	t2, err := t1.Update([]merkle.LeafUpdate{{Index: 200, Value: leaf(2)}})
	require.NoError(t, err)

	assert.NotEqual(t, tree.Root(), t1.Root())
	assert.NotEqual(t, t1.Root(), t2.Root())

	// The original tree and its descendants must be untouched (persistence).
	got, err := tree.Get(0)
	require.NoError(t, err)
	assert.Equal(t, hash.Zero, got)

	got, err = t1.Get(0)
	require.NoError(t, err)
	assert.Equal(t, leaf(1), got)

	got, err = t2.Get(0)
	require.NoError(t, err)
	assert.Equal(t, leaf(1), got)

	got, err = t2.Get(200)
	require.NoError(t, err)
	assert.Equal(t, leaf(2), got)
}

func TestBatchLastWriteWinsOnDuplicateIndex(t *testing.T) {
	tree := merkle.New(8, 3)

	next, err := tree.Update([]merkle.LeafUpdate{
		{Index: 5, Value: leaf(1)},
		{Index: 5, Value: leaf(2)},
	})
	require.NoError(t, err)

	got, err := next.Get(5)
	require.NoError(t, err)
	assert.Equal(t, leaf(2), got)
}

func TestUpdateOutOfRangeIndexErrors(t *testing.T) {
	tree := merkle.New(4, 2)

	_, err := tree.Update([]merkle.LeafUpdate{{Index: 16, Value: leaf(1)}})
	assert.Error(t, err)
}

func TestProofVerifiesAgainstRoot(t *testing.T) {
	tree := merkle.New(6, 2)

	next, err := tree.Update([]merkle.LeafUpdate{
		{Index: 1, Value: leaf(11)},
		{Index: 2, Value: leaf(22)},
		{Index: 40, Value: leaf(44)},
	})
	require.NoError(t, err)

	for _, idx := range []uint32{1, 2, 40} {
		proof, err := next.Proof(idx)
		require.NoError(t, err)
		assert.Len(t, proof.Siblings, 6)

		got, err := next.Get(idx)
		require.NoError(t, err)

		assert.True(t, proof.Verify(got, next.Root()), "proof for index %d should verify", idx)
	}
}

func TestProofFailsForWrongLeaf(t *testing.T) {
	tree := merkle.New(6, 2)

	next, err := tree.Update([]merkle.LeafUpdate{{Index: 1, Value: leaf(11)}})
	require.NoError(t, err)

	proof, err := next.Proof(1)
	require.NoError(t, err)

	assert.False(t, proof.Verify(leaf(999), next.Root()))
}

func TestFindHighestIndexReturnsMostRecentMatch(t *testing.T) {
	tree := merkle.New(6, 2)

	next, err := tree.Update([]merkle.LeafUpdate{
		{Index: 3, Value: leaf(7)},
		{Index: 9, Value: leaf(7)},
		{Index: 50, Value: leaf(7)},
	})
	require.NoError(t, err)

	idx, ok := next.FindHighestIndex(leaf(7))
	require.True(t, ok)
	assert.Equal(t, uint32(50), idx)

	_, ok = next.FindHighestIndex(leaf(404))
	assert.False(t, ok)
}

func TestDeletionZeroesLeafAndDropsFromSearch(t *testing.T) {
	tree := merkle.New(6, 2)

	t1, err := tree.Update([]merkle.LeafUpdate{{Index: 5, Value: leaf(1)}})
	require.NoError(t, err)

	t2, err := t1.Update([]merkle.LeafUpdate{{Index: 5, Value: hash.Zero}})
	require.NoError(t, err)

	got, err := t2.Get(5)
	require.NoError(t, err)
	assert.Equal(t, hash.Zero, got)

	_, ok := t2.FindHighestIndex(leaf(1))
	assert.False(t, ok)

	// The earlier snapshot is unaffected by the deletion.
	got, err = t1.Get(5)
	require.NoError(t, err)
	assert.Equal(t, leaf(1), got)
}

func TestDenseDepthEqualToDepth(t *testing.T) {
	tree := merkle.New(4, 4)

	next, err := tree.Update([]merkle.LeafUpdate{{Index: 3, Value: leaf(9)}})
	require.NoError(t, err)

	proof, err := next.Proof(3)
	require.NoError(t, err)
	assert.True(t, proof.Verify(leaf(9), next.Root()))
}

func TestDenseDepthZero(t *testing.T) {
	tree := merkle.New(4, 0)

	next, err := tree.Update([]merkle.LeafUpdate{{Index: 3, Value: leaf(9)}})
	require.NoError(t, err)

	proof, err := next.Proof(3)
	require.NoError(t, err)
	assert.True(t, proof.Verify(leaf(9), next.Root()))
}
