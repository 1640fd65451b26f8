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

package bridge

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainBackend is the subset of ethclient.Client bind.WaitMined needs to
// poll for a transaction's receipt.
type ChainBackend interface {
	bind.DeployBackend
}

// KeySigner signs propagateRoot transactions with a single private key,
// deriving nonce and gas parameters from the chain itself.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	backend ChainBackend
}

// NewKeySigner builds a signer for chainID using key, polling receipts
// from backend.
func NewKeySigner(key *ecdsa.PrivateKey, chainID *big.Int, backend ChainBackend) *KeySigner {
	return &KeySigner{key: key, chainID: chainID, backend: backend}
}

// TransactOpts builds fresh transact options bound to ctx.
func (s *KeySigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("could not build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// WaitMined blocks until tx is mined and returns its receipt.
func (s *KeySigner) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, s.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("could not wait for transaction to be mined: %w", err)
	}
	return receipt, nil
}
