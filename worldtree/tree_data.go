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

package worldtree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/merkle"
	"github.com/worldtree-labs/world-tree/worldtreeerr"
)

// TreeData holds the live identity tree plus a bounded window of prior
// roots, and answers inclusion-proof queries against any retained root.
// The one writer (the tree updater's sync loop) is serialized by writerMu;
// readers load the current History through an atomic pointer, so a proof
// query never blocks on, or is blocked by, an in-flight mutation.
type TreeData struct {
	writerMu sync.Mutex
	history  atomic.Pointer[History]
	// leaves is the number of leaf slots touched so far (the highest
	// updated index, plus one), tracked independently of merkle.Tree
	// since the tree itself keeps no running count.
	leaves atomic.Uint32
}

// NewTreeData builds an empty tree of the given depth, with the lowest
// denseDepth levels stored densely, retaining up to historySize prior
// roots.
func NewTreeData(depth, denseDepth uint8, historySize int) *TreeData {
	td := &TreeData{}
	td.history.Store(NewHistory(merkle.New(depth, denseDepth), historySize))
	return td
}

// CurrentRoot returns the root of the live tree.
func (td *TreeData) CurrentRoot() hash.Hash {
	return td.history.Load().CurrentRoot()
}

// HistoryDepth returns how many deltas are retained on top of the base
// tree, for metrics.
func (td *TreeData) HistoryDepth() int {
	return td.history.Load().Depth()
}

// LeafCount returns the highest leaf index touched so far, plus one, for
// metrics.
func (td *TreeData) LeafCount() uint32 {
	return td.leaves.Load()
}

// Append applies a batch of leaf updates as a single atomic step and
// returns the resulting root. Deletions are represented as updates whose
// value is the zero leaf; see DeletionUpdates.
func (td *TreeData) Append(updates []merkle.LeafUpdate) (hash.Hash, error) {
	td.writerMu.Lock()
	defer td.writerMu.Unlock()

	current := td.history.Load()
	next, root, err := current.Append(updates)
	if err != nil {
		return hash.Hash{}, err
	}

	td.history.Store(next)

	if high := highestIndex(updates); len(updates) > 0 && high+1 > td.leaves.Load() {
		td.leaves.Store(high + 1)
	}

	return root, nil
}

func highestIndex(updates []merkle.LeafUpdate) uint32 {
	var high uint32
	for _, u := range updates {
		if u.Index > high {
			high = u.Index
		}
	}
	return high
}

// DeletionUpdates turns a set of leaf indices into the leaf updates that
// zero them out, the representation a deletion batch takes once decoded.
func DeletionUpdates(indices []uint32) []merkle.LeafUpdate {
	updates := make([]merkle.LeafUpdate, len(indices))
	for i, idx := range indices {
		updates[i] = merkle.LeafUpdate{Index: idx, Value: hash.Zero}
	}
	return updates
}

// InclusionProof proves that identity is present at the highest index
// holding it, against the given root. A nil root queries
// the live tree. ErrRootNotRetained is returned if root has aged out of
// history; ErrLeafNotFound is returned if identity never appeared, or was
// deleted, in the snapshot at root.
func (td *TreeData) InclusionProof(identity hash.Hash, root *hash.Hash) (merkle.Proof, uint32, error) {
	history := td.history.Load()

	target := history.CurrentRoot()
	if root != nil {
		target = *root
	}

	snapshot, ok := history.Snapshot(target)
	if !ok {
		return merkle.Proof{}, 0, fmt.Errorf("root %s: %w", target.Hex(), worldtreeerr.ErrRootNotRetained)
	}

	index, found := snapshot.FindHighestIndex(identity)
	if !found {
		return merkle.Proof{}, 0, fmt.Errorf("identity %s: %w", identity.Hex(), worldtreeerr.ErrLeafNotFound)
	}

	proof, err := snapshot.Proof(index)
	if err != nil {
		return merkle.Proof{}, 0, fmt.Errorf("could not build inclusion proof: %w", err)
	}

	return proof, index, nil
}
