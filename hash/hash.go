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

// Package hash provides the fixed-width field element type used throughout
// the identity tree, and the Poseidon hash function that combines two such
// elements into their parent.
package hash

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Size is the width, in bytes, of a Hash.
const Size = 32

// Zero is the canonical empty leaf value.
var Zero = Hash{}

// Hash is a 256-bit field element of the Poseidon-friendly prime field used
// by the identity tree. It is stored big-endian, matching the on-chain
// uint256 encoding.
type Hash [Size]byte

// FromBig reduces b modulo the field order and returns its big-endian
// encoding as a Hash.
func FromBig(b *big.Int) Hash {
	var h Hash
	if b == nil {
		return h
	}
	reduced := new(big.Int).Mod(b, constants.Q)
	reduced.FillBytes(h[:])
	return h
}

// Big returns the Hash as a big-endian unsigned integer.
func (h Hash) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// IsZero reports whether h is the canonical empty leaf.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Equal reports bitwise equality.
func (h Hash) Equal(other Hash) bool {
	return h == other
}

// Less reports whether h is bitwise smaller than other, treating both as
// big-endian unsigned integers.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// Hex returns the 0x-prefixed hexadecimal encoding of h.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("could not decode hash hex: %w", err)
	}
	if len(b) > Size {
		return fmt.Errorf("hash hex too long: %d bytes", len(b))
	}
	var out Hash
	copy(out[Size-len(b):], b)
	*h = out
	return nil
}

// Pair combines a left and right child into their parent using Poseidon.
// This is the only hash primitive the Merkle tree needs; it is kept
// separate from the tree package so it can be unit tested and swapped in
// isolation.
func Pair(left, right Hash) (Hash, error) {
	digest, err := poseidon.Hash([]*big.Int{left.Big(), right.Big()})
	if err != nil {
		return Hash{}, fmt.Errorf("could not compute poseidon hash: %w", err)
	}
	return FromBig(digest), nil
}
