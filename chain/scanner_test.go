// Copyright 2021 Alvalor S.A.
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

package chain_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldtree-labs/world-tree/chain"
	"github.com/worldtree-labs/world-tree/retry"
)

type fakeHeadReader struct {
	head uint64
	logs []types.Log
}

func (f *fakeHeadReader) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head)}, nil
}

func (f *fakeHeadReader) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestScannerPagesUntilCaughtUp(t *testing.T) {
	client := &fakeHeadReader{
		head: 25,
		logs: []types.Log{
			{BlockNumber: 3, Index: 0},
			{BlockNumber: 12, Index: 1},
			{BlockNumber: 12, Index: 0},
			{BlockNumber: 22, Index: 0},
		},
	}

	s := chain.NewScanner(client, common.Address{}, nil, 0, 10, retry.Policy{}, nil)

	batch, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(3), batch[0].BlockNumber)
	assert.Equal(t, uint64(11), s.Cursor())

	batch, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint64(0), batch[0].Index)
	assert.Equal(t, uint64(1), batch[1].Index)
	assert.Equal(t, uint64(22), s.Cursor())

	batch, err = s.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(22), batch[0].BlockNumber)
	assert.Equal(t, uint64(26), s.Cursor())

	batch, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Equal(t, uint64(26), s.Cursor())
}

func TestScannerReturnsEmptyWithoutAdvancingPastHead(t *testing.T) {
	client := &fakeHeadReader{head: 5}
	s := chain.NewScanner(client, common.Address{}, nil, 6, 10, retry.Policy{}, nil)

	batch, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Equal(t, uint64(6), s.Cursor())
}
