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
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const stateBridgeABIJSON = `[{"type":"function","name":"propagateRoot","stateMutability":"nonpayable","inputs":[],"outputs":[]}]`

var stateBridgeABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(stateBridgeABIJSON))
	if err != nil {
		panic("contracts: invalid StateBridge abi: " + err.Error())
	}
	return parsed
}()

// StateBridge is a binding for the canonical-side StateBridge contract: it
// relays the identity manager's latest root to a single downstream chain by
// sending a propagateRoot() transaction.
type StateBridge struct {
	address    common.Address
	transactor *bind.BoundContract
}

// NewStateBridge builds a binding against address, transacting through
// backend.
func NewStateBridge(address common.Address, backend bind.ContractBackend) *StateBridge {
	return &StateBridge{
		address:    address,
		transactor: bind.NewBoundContract(address, stateBridgeABI, backend, backend, backend),
	}
}

// Address returns the bridge contract's address, used by the caller to
// label its per-bridge log output.
func (b *StateBridge) Address() common.Address {
	return b.address
}

// PropagateRoot sends a propagateRoot() transaction relaying the canonical
// identity manager's current root to this bridge's downstream chain.
func (b *StateBridge) PropagateRoot(opts *bind.TransactOpts) (*types.Transaction, error) {
	tx, err := b.transactor.Transact(opts, "propagateRoot")
	if err != nil {
		return nil, fmt.Errorf("could not send propagateRoot transaction: %w", err)
	}
	return tx, nil
}
