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

package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// BridgedWorldID is a binding for the downstream-side contract that
// receives relayed roots. It is read-only from this service's perspective:
// the relay reads latestRoot() once before sending, to skip a root that is
// already reflected downstream.
type BridgedWorldID struct {
	address common.Address
	caller  bind.ContractCaller
}

// NewBridgedWorldID builds a binding against address on the downstream
// chain reached through backend.
func NewBridgedWorldID(address common.Address, backend bind.ContractCaller) *BridgedWorldID {
	return &BridgedWorldID{address: address, caller: backend}
}

// LatestRoot calls the downstream contract's latestRoot() view function.
func (b *BridgedWorldID) LatestRoot(ctx context.Context) (*big.Int, error) {
	out, err := b.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &b.address,
		Data: latestRootSelector[:],
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not call latestRoot on bridged contract: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}
