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

package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/worldtree-labs/world-tree/retry"
)

// HeadReader exposes whatever part of an Ethereum client the scanner needs
// to find the current chain head and page through logs. ethclient.Client
// satisfies it directly.
type HeadReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Scanner pages through a contract's logs in fixed-size block windows,
// starting at a configured creation block and advancing a monotone cursor
// as each window is consumed. It never re-delivers a block once the cursor
// has moved past it, and the cursor cannot be rewound.
type Scanner struct {
	client   HeadReader
	address  common.Address
	topics   [][]common.Hash
	window   uint64
	cursor   uint64
	policy   retry.Policy
	throttle *retry.Throttle
}

// NewScanner builds a Scanner that starts at creationBlock and requests up
// to window blocks per call to Next.
func NewScanner(client HeadReader, address common.Address, topics [][]common.Hash, creationBlock, window uint64, policy retry.Policy, throttle *retry.Throttle) *Scanner {
	return &Scanner{
		client:   client,
		address:  address,
		topics:   topics,
		window:   window,
		cursor:   creationBlock,
		policy:   policy,
		throttle: throttle,
	}
}

// Cursor returns the first block number not yet covered by a batch
// returned from Next.
func (s *Scanner) Cursor() uint64 {
	return s.cursor
}

// Next returns the next batch of logs in [cursor, min(cursor+window, head)],
// sorted by on-chain order, and advances the cursor past the returned
// range. If the cursor has already caught up to the chain head, it returns
// an empty, non-nil slice without advancing, so callers can distinguish
// "caught up for now" from a scan error.
func (s *Scanner) Next(ctx context.Context) ([]types.Log, error) {
	head, err := s.head(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not determine chain head: %w", err)
	}

	if s.cursor > head {
		return []types.Log{}, nil
	}

	end := s.cursor + s.window
	if end > head {
		end = head
	}

	logs, err := s.filter(ctx, s.cursor, end)
	if err != nil {
		return nil, fmt.Errorf("could not filter logs [%d, %d]: %w", s.cursor, end, err)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	s.cursor = end + 1

	return logs, nil
}

func (s *Scanner) head(ctx context.Context) (uint64, error) {
	var header *types.Header
	err := s.policy.Do(ctx, func() error {
		if s.throttle != nil {
			if err := s.throttle.Wait(ctx); err != nil {
				return err
			}
		}
		h, err := s.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		header = h
		return nil
	})
	if err != nil {
		return 0, err
	}
	return header.Number.Uint64(), nil
}

func (s *Scanner) filter(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	err := s.policy.Do(ctx, func() error {
		if s.throttle != nil {
			if err := s.throttle.Wait(ctx); err != nil {
				return err
			}
		}
		found, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{s.address},
			Topics:    s.topics,
		})
		if err != nil {
			return err
		}
		logs = found
		return nil
	})
	return logs, err
}
