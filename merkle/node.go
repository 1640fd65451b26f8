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

package merkle

import (
	"github.com/worldtree-labs/world-tree/hash"
)

// node is an immutable piece of tree state. A nil node stands for the
// canonical, all-zero subtree of whatever height the caller has in context;
// its hash is looked up in the tree's precomputed empty-subtree table rather
// than being materialized, which is what keeps an untouched tree at O(1)
// memory regardless of depth.
type node interface {
	Hash() hash.Hash
}

// branch is an internal node above the dense-prefix boundary. It is never
// mutated after construction: applying a batch of updates builds new
// branches only along the paths that changed, and reuses the old left or
// right pointer for the side the batch did not touch.
type branch struct {
	height uint8
	left   node
	right  node
	h      hash.Hash
}

func (b *branch) Hash() hash.Hash {
	return b.h
}

// dense is a fully materialized subtree of height denseDepth, stored as a
// flat array of its 2^denseDepth leaves instead of a chain of branch nodes.
// This is the "dense prefix" from the spec: near the leaves, a flat array
// is cheaper than one allocation per internal node, at the cost of copying
// the whole array on the rare batch that touches it.
type dense struct {
	leaves []hash.Hash
	h      hash.Hash
}

func (d *dense) Hash() hash.Hash {
	return d.h
}
