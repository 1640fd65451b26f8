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

// Package contracts holds hand-written bindings for the three contracts
// this service talks to: the canonical WorldIDIdentityManager, the
// canonical-side StateBridge, and the downstream BridgedWorldID. No code
// generator is invoked; the argument layouts and method selectors are
// derived directly from the ABI fragments in the specification, the same
// way accounts/abi/bind-generated code would encode them.
package contracts

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// selector is a 4-byte Solidity function selector.
type selector [4]byte

// mustSelector computes the 4-byte selector for a canonical function
// signature, e.g. "latestRoot()" or "registerIdentities(uint256[8],uint256,uint32,uint256[],uint256)".
func mustSelector(signature string) selector {
	var s selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

// mustType parses a Solidity type string, panicking on failure. It is only
// ever called with constant strings at package init, so a failure here
// would mean a typo in this file, not a runtime condition.
func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic("contracts: invalid abi type " + t + ": " + err.Error())
	}
	return typ
}

func arg(name, typ string) abi.Argument {
	return abi.Argument{Name: name, Type: mustType(typ)}
}
