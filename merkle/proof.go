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

// Proof is an inclusion proof: the sibling hash and direction at every level
// from a leaf up to the root. PathBits[i] is true when the node on the path
// at that level is the right child, meaning Siblings[i] is its left sibling.
type Proof struct {
	Siblings []hash.Hash
	PathBits []bool
}

// Verify recomputes the root from leaf using the proof's siblings and
// direction bits, and reports whether it matches root.
func (p Proof) Verify(leaf hash.Hash, root hash.Hash) bool {
	current := leaf
	for i, sibling := range p.Siblings {
		var (
			combined hash.Hash
			err      error
		)
		if p.PathBits[i] {
			combined, err = hash.Pair(sibling, current)
		} else {
			combined, err = hash.Pair(current, sibling)
		}
		if err != nil {
			return false
		}
		current = combined
	}
	return current.Equal(root)
}
