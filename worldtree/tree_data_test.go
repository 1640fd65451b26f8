// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package worldtree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldtree-labs/world-tree/merkle"
	"github.com/worldtree-labs/world-tree/worldtree"
	"github.com/worldtree-labs/world-tree/worldtreeerr"
)

func TestTreeDataInsertThenProve(t *testing.T) {
	td := worldtree.NewTreeData(16, 8, 64)

	root, err := td.Append([]merkle.LeafUpdate{{Index: 5, Value: commitment(42)}})
	require.NoError(t, err)
	assert.True(t, root.Equal(td.CurrentRoot()))

	proof, index, err := td.InclusionProof(commitment(42), nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), index)
	assert.True(t, proof.Verify(commitment(42), root))
}

func TestTreeDataDeleteThenMiss(t *testing.T) {
	td := worldtree.NewTreeData(16, 8, 64)

	_, err := td.Append([]merkle.LeafUpdate{{Index: 1, Value: commitment(7)}})
	require.NoError(t, err)

	_, err = td.Append(worldtree.DeletionUpdates([]uint32{1}))
	require.NoError(t, err)

	_, _, err = td.InclusionProof(commitment(7), nil)
	assert.ErrorIs(t, err, worldtreeerr.ErrLeafNotFound)
}

func TestTreeDataProofAgainstHistoricalRoot(t *testing.T) {
	td := worldtree.NewTreeData(16, 8, 64)

	root1, err := td.Append([]merkle.LeafUpdate{{Index: 0, Value: commitment(1)}})
	require.NoError(t, err)

	_, err = td.Append([]merkle.LeafUpdate{{Index: 1, Value: commitment(2)}})
	require.NoError(t, err)

	proof, index, err := td.InclusionProof(commitment(1), &root1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), index)
	assert.True(t, proof.Verify(commitment(1), root1))
}

func TestTreeDataLeafCountTracksHighestIndex(t *testing.T) {
	td := worldtree.NewTreeData(16, 8, 64)
	assert.Equal(t, uint32(0), td.LeafCount())

	_, err := td.Append([]merkle.LeafUpdate{{Index: 5, Value: commitment(1)}})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), td.LeafCount())

	_, err = td.Append([]merkle.LeafUpdate{{Index: 2, Value: commitment(2)}})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), td.LeafCount(), "a lower index must not shrink the high-water mark")
}

func TestTreeDataProofAgainstEvictedRootFails(t *testing.T) {
	td := worldtree.NewTreeData(16, 8, 1)

	root1, err := td.Append([]merkle.LeafUpdate{{Index: 0, Value: commitment(1)}})
	require.NoError(t, err)

	_, err = td.Append([]merkle.LeafUpdate{{Index: 1, Value: commitment(2)}})
	require.NoError(t, err)

	_, _, err = td.InclusionProof(commitment(1), &root1)
	assert.ErrorIs(t, err, worldtreeerr.ErrRootNotRetained)
}
