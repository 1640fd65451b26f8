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

package worldtree

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/worldtree-labs/world-tree/contracts"
	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/merkle"
	"github.com/worldtree-labs/world-tree/worldtreeerr"
)

// deletionPadding marks an unused slot in a packed deletion-index array;
// the contract pads the final batch with it when the actual deletion count
// is not a multiple of the batch's fixed width.
const deletionPadding = 0xFFFFFFFF

// LogBatchSource yields successive batches of on-chain logs in order, per
// chain.Scanner's contract.
type LogBatchSource interface {
	Next(ctx context.Context) ([]types.Log, error)
}

// TransactionFetcher retrieves the full transaction behind a log, needed
// to recover the calldata a log's event alone does not carry.
type TransactionFetcher interface {
	TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Updater drives TreeData from a stream of on-chain log batches: it
// fetches the transaction behind each log, decodes its calldata into a
// batch of leaf updates, and applies it, verifying the pre- and post-root
// the contract itself recorded against the tree's own computation at every
// step. A mismatch is treated as fatal, since it means the mirror has
// diverged from the canonical contract and can no longer be trusted.
type Updater struct {
	log     zerolog.Logger
	scanner LogBatchSource
	txs     TransactionFetcher
	data    *TreeData
	synced  atomic.Bool
}

// NewUpdater builds an Updater driving data from scanner, fetching
// transactions through txs.
func NewUpdater(log zerolog.Logger, scanner LogBatchSource, txs TransactionFetcher, data *TreeData) *Updater {
	return &Updater{
		log:     log.With().Str("component", "tree_updater").Logger(),
		scanner: scanner,
		txs:     txs,
		data:    data,
	}
}

// Synced reports whether the initial catch-up to the chain head has
// completed at least once.
func (u *Updater) Synced() bool {
	return u.synced.Load()
}

// Run drives the updater for the lifetime of ctx: it catches up to the
// chain head, then repeatedly sleeps sleep and catches up again, so that
// new batches appended to the chain after the initial sync keep getting
// picked up. It returns only once ctx is cancelled or SyncToHead fails.
func (u *Updater) Run(ctx context.Context, sleep time.Duration) error {
	for {
		if err := u.SyncToHead(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// SyncToHead drains batches from the scanner and applies them until the
// scanner reports it has caught up to the current chain head.
func (u *Updater) SyncToHead(ctx context.Context) error {
	start := time.Now()
	for {
		logs, err := u.scanner.Next(ctx)
		if err != nil {
			return fmt.Errorf("could not scan next log batch: %w", err)
		}
		if len(logs) == 0 {
			break
		}
		if err := u.applyLogs(ctx, logs); err != nil {
			return err
		}
	}

	if !u.synced.Load() {
		u.log.Info().Dur("duration", time.Since(start)).Msg("completed initial sync to chain head")
		u.synced.Store(true)
	}

	return nil
}

func (u *Updater) applyLogs(ctx context.Context, logs []types.Log) error {
	order, byTx := groupByTransaction(logs)
	for _, txHash := range order {
		if err := u.applyTransaction(ctx, txHash, byTx[txHash]); err != nil {
			return err
		}
	}
	return nil
}

func groupByTransaction(logs []types.Log) ([]common.Hash, map[common.Hash][]types.Log) {
	order := make([]common.Hash, 0, len(logs))
	byTx := make(map[common.Hash][]types.Log, len(logs))
	for _, l := range logs {
		if _, seen := byTx[l.TxHash]; !seen {
			order = append(order, l.TxHash)
		}
		byTx[l.TxHash] = append(byTx[l.TxHash], l)
	}
	return order, byTx
}

func (u *Updater) applyTransaction(ctx context.Context, txHash common.Hash, logs []types.Log) error {
	tx, _, err := u.txs.TransactionByHash(ctx, txHash)
	if err != nil {
		return fmt.Errorf("could not fetch transaction %s: %w", txHash, err)
	}

	batch, err := decodeBatch(tx.Data())
	if err != nil {
		return err
	}

	current := u.data.CurrentRoot()
	if !current.Equal(batch.PreRoot) {
		return fmt.Errorf("local root %s does not match on-chain pre-root %s for tx %s: %w",
			current.Hex(), batch.PreRoot.Hex(), txHash, worldtreeerr.ErrRootMismatch)
	}

	newRoot, err := u.data.Append(batch.Updates)
	if err != nil {
		return fmt.Errorf("could not apply batch from tx %s: %w", txHash, err)
	}

	if !newRoot.Equal(batch.PostRoot) {
		return fmt.Errorf("computed root %s does not match on-chain post-root %s for tx %s: %w",
			newRoot.Hex(), batch.PostRoot.Hex(), txHash, worldtreeerr.ErrRootMismatch)
	}

	u.log.Debug().
		Str("tx", txHash.Hex()).
		Int("updates", len(batch.Updates)).
		Str("root", newRoot.Hex()).
		Msg("applied batch")

	return nil
}

// batch is the normalized form of either write function's decoded
// calldata: a set of leaf updates plus the contract's own claimed pre- and
// post-root, used to validate the mirror stays in lockstep.
type batch struct {
	PreRoot  hash.Hash
	PostRoot hash.Hash
	Updates  []merkle.LeafUpdate
}

func decodeBatch(data []byte) (*batch, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata shorter than a function selector: %w", worldtreeerr.ErrDecoding)
	}

	var sel [4]byte
	copy(sel[:], data[:4])

	switch sel {
	case contracts.RegisterIdentitiesSelector:
		return decodeRegisterBatch(data)
	case contracts.DeleteIdentitiesSelector, contracts.DeleteIdentitiesWithBatchSizeSelector:
		return decodeDeleteBatch(data)
	default:
		return nil, fmt.Errorf("unrecognized write-function selector %x: %w", sel, worldtreeerr.ErrDecoding)
	}
}

func decodeRegisterBatch(data []byte) (*batch, error) {
	call, err := contracts.DecodeRegisterIdentities(data)
	if err != nil {
		return nil, fmt.Errorf("could not decode registerIdentities calldata: %w: %v", worldtreeerr.ErrDecoding, err)
	}

	updates := make([]merkle.LeafUpdate, 0, len(call.IdentityCommitments))
	for i, c := range call.IdentityCommitments {
		value := hash.FromBig(c)
		if value.IsZero() {
			// A zero commitment in an insertion batch pads the batch out to
			// its fixed width; it does not correspond to a real identity.
			continue
		}
		updates = append(updates, merkle.LeafUpdate{Index: call.StartIndex + uint32(i), Value: value})
	}

	return &batch{
		PreRoot:  hash.FromBig(call.PreRoot),
		PostRoot: hash.FromBig(call.PostRoot),
		Updates:  updates,
	}, nil
}

func decodeDeleteBatch(data []byte) (*batch, error) {
	call, err := contracts.DecodeDeleteIdentities(data)
	if err != nil {
		return nil, fmt.Errorf("could not decode deleteIdentities calldata: %w: %v", worldtreeerr.ErrDecoding, err)
	}

	indices, err := unpackDeletionIndices(call.PackedDeletionIndices)
	if err != nil {
		return nil, fmt.Errorf("could not unpack deletion indices: %w: %v", worldtreeerr.ErrDecoding, err)
	}

	return &batch{
		PreRoot:  hash.FromBig(call.PreRoot),
		PostRoot: hash.FromBig(call.PostRoot),
		Updates:  DeletionUpdates(indices),
	}, nil
}

// unpackDeletionIndices decodes a packed array of big-endian uint32 leaf
// indices, skipping the 0xFFFFFFFF padding sentinel used to fill out a
// batch smaller than the contract's fixed deletion width.
func unpackDeletionIndices(packed []byte) ([]uint32, error) {
	if len(packed)%4 != 0 {
		return nil, fmt.Errorf("packed deletion indices length %d is not a multiple of 4", len(packed))
	}

	indices := make([]uint32, 0, len(packed)/4)
	for i := 0; i < len(packed); i += 4 {
		idx := binary.BigEndian.Uint32(packed[i : i+4])
		if idx == deletionPadding {
			continue
		}
		indices = append(indices, idx)
	}
	return indices, nil
}
