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

package bridge_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldtree-labs/world-tree/bridge"
	"github.com/worldtree-labs/world-tree/broadcast"
	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/retry"
)

type fakeCanonical struct {
	address   common.Address
	sendCalls int
	failNext  bool
}

func (f *fakeCanonical) Address() common.Address { return f.address }

func (f *fakeCanonical) PropagateRoot(_ *bind.TransactOpts) (*types.Transaction, error) {
	f.sendCalls++
	return types.NewTx(&types.LegacyTx{}), nil
}

type fakeDownstream struct {
	root *big.Int
}

func (f *fakeDownstream) LatestRoot(_ context.Context) (*big.Int, error) {
	return f.root, nil
}

type fakeSigner struct{}

func (fakeSigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{Context: ctx}, nil
}

func (fakeSigner) WaitMined(_ context.Context, _ *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func commitment(n byte) hash.Hash {
	var h hash.Hash
	h[31] = n
	return h
}

func TestStateBridgeRelaysNewRoot(t *testing.T) {
	canonical := &fakeCanonical{}
	downstream := &fakeDownstream{root: big.NewInt(0)}

	b := bridge.NewStateBridge(zerolog.Nop(), canonical, downstream, fakeSigner{}, retry.Policy{}, 0)

	broadcaster := broadcast.New[hash.Hash](4)
	sub := broadcaster.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, sub) }()

	broadcaster.Publish(commitment(1))

	require.Eventually(t, func() bool { return canonical.sendCalls == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestStateBridgeSkipsAlreadyRelayedRoot(t *testing.T) {
	canonical := &fakeCanonical{}
	downstream := &fakeDownstream{root: big.NewInt(5)}

	b := bridge.NewStateBridge(zerolog.Nop(), canonical, downstream, fakeSigner{}, retry.Policy{}, 0)

	broadcaster := broadcast.New[hash.Hash](4)
	sub := broadcaster.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, sub) }()

	root := hash.FromBig(big.NewInt(5))
	broadcaster.Publish(root)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, canonical.sendCalls, "root already reflected downstream should not be relayed")

	cancel()
	<-done
}
