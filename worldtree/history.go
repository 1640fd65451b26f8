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

// Package worldtree maintains a live, queryable mirror of the identity
// manager's Merkle tree by replaying insertion and deletion batches decoded
// from on-chain calldata, and republishes the canonical root as it changes.
package worldtree

import (
	"fmt"

	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/merkle"
)

// Delta records one applied batch: the root before and after, and the leaf
// updates that produced it. A deletion is represented the same way as an
// insertion, as a leaf update whose value is the zero leaf.
type Delta struct {
	PreRoot  hash.Hash
	PostRoot hash.Hash
	Updates  []merkle.LeafUpdate
	tree     *merkle.Tree
}

// History is a bounded, append-only ledger of deltas layered over a base
// tree snapshot. Appending never mutates the receiver: it returns a new
// History value with the update applied, so a reader holding an older
// History continues to see a perfectly consistent, frozen view. Once at
// capacity, appending squashes the oldest retained delta into the base
// tree rather than growing further, which keeps memory bounded no matter
// how long the service has been running.
type History struct {
	capacity int
	base     *merkle.Tree
	// baseRetained is true only as long as base is still the original,
	// never-squashed tree handed to NewHistory. Tree.Update is pure, so
	// once a squash folds the oldest delta into base, base.Root() is
	// exactly that delta's PostRoot: a root that was just evicted, not a
	// newly retained one. From that point on base is bookkeeping only and
	// must never satisfy a Snapshot lookup.
	baseRetained bool
	deltas       []Delta
}

// NewHistory builds a History with no retained deltas yet, rooted at base.
func NewHistory(base *merkle.Tree, capacity int) *History {
	return &History{capacity: capacity, base: base, baseRetained: true}
}

// Current returns the tree snapshot at the head of history.
func (h *History) Current() *merkle.Tree {
	if len(h.deltas) == 0 {
		return h.base
	}
	return h.deltas[len(h.deltas)-1].tree
}

// CurrentRoot returns the root of Current().
func (h *History) CurrentRoot() hash.Hash {
	return h.Current().Root()
}

// Append applies updates to Current() and returns the resulting History
// (with the oldest delta squashed into the base tree if history was at
// capacity), along with the new root.
func (h *History) Append(updates []merkle.LeafUpdate) (*History, hash.Hash, error) {
	pre := h.CurrentRoot()
	next, err := h.Current().Update(updates)
	if err != nil {
		return nil, hash.Hash{}, fmt.Errorf("could not apply batch to tree: %w", err)
	}

	delta := Delta{PreRoot: pre, PostRoot: next.Root(), Updates: updates, tree: next}

	base := h.base
	baseRetained := h.baseRetained
	deltas := h.deltas
	if h.capacity > 0 && len(deltas) >= h.capacity {
		oldest := deltas[0]
		squashed, err := base.Update(oldest.Updates)
		if err != nil {
			return nil, hash.Hash{}, fmt.Errorf("could not squash oldest retained delta: %w", err)
		}
		base = squashed
		baseRetained = false
		deltas = deltas[1:]
	}

	newDeltas := make([]Delta, len(deltas)+1)
	copy(newDeltas, deltas)
	newDeltas[len(deltas)] = delta

	return &History{capacity: h.capacity, base: base, baseRetained: baseRetained, deltas: newDeltas}, delta.PostRoot, nil
}

// Snapshot returns the tree whose root equals root, and whether it is
// still retained (the original base tree, or the post-root of any
// retained delta).
func (h *History) Snapshot(root hash.Hash) (*merkle.Tree, bool) {
	if h.baseRetained && h.base.Root().Equal(root) {
		return h.base, true
	}
	for _, d := range h.deltas {
		if d.PostRoot.Equal(root) {
			return d.tree, true
		}
	}
	return nil, false
}

// Depth returns the number of retained deltas on top of the base tree.
func (h *History) Depth() int {
	return len(h.deltas)
}
