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

// Package merkle implements the hybrid dense/sparse Poseidon-hash binary
// tree that backs the identity tree: a fixed-depth tree where the levels
// closest to the leaves are stored as a flat array per touched subtree, and
// the levels above are an immutable node graph, structurally shared between
// versions produced by successive batch updates.
package merkle

import (
	"fmt"
	"sort"

	"github.com/worldtree-labs/world-tree/hash"
)

// LeafUpdate sets the leaf at Index to Value. A Value of hash.Zero
// represents a deletion.
type LeafUpdate struct {
	Index uint32
	Value hash.Hash
}

// Tree is an immutable snapshot of a Poseidon Merkle tree of fixed depth.
// Update never mutates the receiver; it returns a new Tree that shares every
// subtree the batch did not touch with the receiver.
type Tree struct {
	depth      uint8
	denseDepth uint8
	empty      []hash.Hash
	root       node
}

// New creates an empty tree of the given depth, with the lowest denseDepth
// levels represented as flat arrays once touched. denseDepth is clamped to
// depth.
func New(depth, denseDepth uint8) *Tree {
	if denseDepth > depth {
		denseDepth = depth
	}

	empty := make([]hash.Hash, depth+1)
	empty[0] = hash.Zero
	for h := uint8(1); h <= depth; h++ {
		paired, err := hash.Pair(empty[h-1], empty[h-1])
		if err != nil {
			// Poseidon hashing of the fixed zero element cannot fail; a
			// failure here indicates a broken hash implementation.
			panic(fmt.Sprintf("could not compute empty hash for height %d: %v", h, err))
		}
		empty[h] = paired
	}

	return &Tree{
		depth:      depth,
		denseDepth: denseDepth,
		empty:      empty,
	}
}

// Depth returns the full tree depth D.
func (t *Tree) Depth() uint8 {
	return t.depth
}

// DenseDepth returns the configured dense-prefix depth Dp.
func (t *Tree) DenseDepth() uint8 {
	return t.denseDepth
}

// Root returns the current Poseidon root of the tree.
func (t *Tree) Root() hash.Hash {
	return t.childHash(t.root, t.depth)
}

// Update applies a batch of leaf updates atomically and returns the
// resulting tree. Updates to the same index within one batch are resolved
// last-write-wins. The receiver is never modified.
func (t *Tree) Update(updates []LeafUpdate) (*Tree, error) {
	if len(updates) == 0 {
		return t, nil
	}

	sorted := make([]LeafUpdate, len(updates))
	copy(sorted, updates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	size := uint32(1) << t.depth
	for _, u := range sorted {
		if u.Index >= size {
			return nil, fmt.Errorf("leaf index %d out of range for depth %d", u.Index, t.depth)
		}
	}

	deduped := dedupeByIndex(sorted)

	root := t.apply(t.root, t.depth, 0, deduped)

	next := &Tree{
		depth:      t.depth,
		denseDepth: t.denseDepth,
		empty:      t.empty,
		root:       root,
	}

	return next, nil
}

// Get returns the current value of the leaf at index.
func (t *Tree) Get(index uint32) (hash.Hash, error) {
	if index >= uint32(1)<<t.depth {
		return hash.Hash{}, fmt.Errorf("leaf index %d out of range for depth %d", index, t.depth)
	}
	return t.get(t.root, t.depth, 0, index), nil
}

// FindHighestIndex returns the highest leaf index holding identity, scanning
// the tree and pruning any subtree whose hash matches the precomputed empty
// hash for its height. Cost is proportional to the number of non-empty
// leaves times the tree depth, not to 2^depth.
func (t *Tree) FindHighestIndex(identity hash.Hash) (uint32, bool) {
	return t.search(t.root, t.depth, 0, identity)
}

// Proof returns the sibling hashes and direction bits from the leaf at index
// up to the root, ordered from the leaf upward (Siblings[0] is the leaf's
// direct sibling).
func (t *Tree) Proof(index uint32) (Proof, error) {
	if index >= uint32(1)<<t.depth {
		return Proof{}, fmt.Errorf("leaf index %d out of range for depth %d", index, t.depth)
	}

	siblings := make([]hash.Hash, t.depth)
	bits := make([]bool, t.depth)
	t.collect(t.root, t.depth, 0, index, siblings, bits)

	return Proof{Siblings: siblings, PathBits: bits}, nil
}

func (t *Tree) childHash(n node, height uint8) hash.Hash {
	if n == nil {
		return t.empty[height]
	}
	return n.Hash()
}

func (t *Tree) apply(n node, height uint8, lo uint32, updates []LeafUpdate) node {
	if height == t.denseDepth {
		return t.applyDense(n, lo, updates)
	}

	mid := lo + (1 << (height - 1))
	split := sort.Search(len(updates), func(i int) bool { return updates[i].Index >= mid })
	left, right := updates[:split], updates[split:]

	var oldLeft, oldRight node
	if b, ok := n.(*branch); ok {
		oldLeft, oldRight = b.left, b.right
	}

	newLeft, newRight := oldLeft, oldRight
	if len(left) > 0 {
		newLeft = t.apply(oldLeft, height-1, lo, left)
	}
	if len(right) > 0 {
		newRight = t.apply(oldRight, height-1, mid, right)
	}

	ph, err := hash.Pair(t.childHash(newLeft, height-1), t.childHash(newRight, height-1))
	if err != nil {
		panic(fmt.Sprintf("could not hash branch at height %d: %v", height, err))
	}

	return &branch{height: height, left: newLeft, right: newRight, h: ph}
}

func (t *Tree) applyDense(n node, lo uint32, updates []LeafUpdate) node {
	size := uint32(1) << t.denseDepth

	leaves := make([]hash.Hash, size)
	if d, ok := n.(*dense); ok {
		copy(leaves, d.leaves)
	}

	for _, u := range updates {
		leaves[u.Index-lo] = u.Value
	}

	return &dense{leaves: leaves, h: t.hashDense(leaves)}
}

func (t *Tree) hashDense(leaves []hash.Hash) hash.Hash {
	level := leaves
	for len(level) > 1 {
		next := make([]hash.Hash, len(level)/2)
		for i := range next {
			paired, err := hash.Pair(level[2*i], level[2*i+1])
			if err != nil {
				panic(fmt.Sprintf("could not hash dense level: %v", err))
			}
			next[i] = paired
		}
		level = next
	}
	if len(level) == 0 {
		return t.empty[0]
	}
	return level[0]
}

func (t *Tree) get(n node, height uint8, lo uint32, index uint32) hash.Hash {
	if n == nil {
		return t.empty[0]
	}
	if height == t.denseDepth {
		d := n.(*dense)
		return d.leaves[index-lo]
	}
	b := n.(*branch)
	mid := lo + (1 << (height - 1))
	if index >= mid {
		return t.get(b.right, height-1, mid, index)
	}
	return t.get(b.left, height-1, lo, index)
}

func (t *Tree) search(n node, height uint8, lo uint32, identity hash.Hash) (uint32, bool) {
	if n == nil {
		return 0, false
	}
	if n.Hash() == t.empty[height] {
		return 0, false
	}
	if height == t.denseDepth {
		d := n.(*dense)
		best, found := uint32(0), false
		for i, v := range d.leaves {
			if v.Equal(identity) {
				idx := lo + uint32(i)
				if !found || idx > best {
					best, found = idx, true
				}
			}
		}
		return best, found
	}

	b := n.(*branch)
	mid := lo + (1 << (height - 1))

	// Check the right subtree first since it covers the higher half of the
	// index range and the caller wants the highest matching index.
	if idx, ok := t.search(b.right, height-1, mid, identity); ok {
		return idx, true
	}
	return t.search(b.left, height-1, lo, identity)
}

func (t *Tree) collect(n node, height uint8, lo uint32, index uint32, siblings []hash.Hash, bits []bool) {
	if height == 0 {
		return
	}
	if height == t.denseDepth {
		var d *dense
		if n != nil {
			d = n.(*dense)
		}
		t.collectDense(d, lo, index, siblings, bits)
		return
	}

	var b *branch
	if n != nil {
		b = n.(*branch)
	}

	mid := lo + (1 << (height - 1))
	goRight := index >= mid
	bits[height-1] = goRight

	var child, sibling node
	if b != nil {
		if goRight {
			child, sibling = b.right, b.left
		} else {
			child, sibling = b.left, b.right
		}
	}
	siblings[height-1] = t.childHash(sibling, height-1)

	nextLo := lo
	if goRight {
		nextLo = mid
	}
	t.collect(child, height-1, nextLo, index, siblings, bits)
}

func (t *Tree) collectDense(d *dense, lo uint32, index uint32, siblings []hash.Hash, bits []bool) {
	size := uint32(1) << t.denseDepth

	level := make([]hash.Hash, size)
	if d != nil {
		copy(level, d.leaves)
	}

	rel := index - lo
	for h := uint8(0); h < t.denseDepth; h++ {
		siblingIdx := rel ^ 1
		siblings[h] = level[siblingIdx]
		bits[h] = rel%2 == 1

		next := make([]hash.Hash, len(level)/2)
		for i := range next {
			paired, err := hash.Pair(level[2*i], level[2*i+1])
			if err != nil {
				panic(fmt.Sprintf("could not hash dense level: %v", err))
			}
			next[i] = paired
		}
		level = next
		rel /= 2
	}
}

func dedupeByIndex(sorted []LeafUpdate) []LeafUpdate {
	out := make([]LeafUpdate, 0, len(sorted))
	for i, u := range sorted {
		if i+1 < len(sorted) && sorted[i+1].Index == u.Index {
			// A later entry in the batch overrides this one; skip it.
			continue
		}
		out = append(out, u)
	}
	return out
}
