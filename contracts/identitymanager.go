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
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TreeChangedTopic is the keccak256 event signature hash for
// TreeChanged(uint256,uint8,uint256). All three parameters are indexed, so
// they arrive as log topics rather than packed data.
var TreeChangedTopic = crypto.Keccak256Hash([]byte("TreeChanged(uint256,uint8,uint256)"))

var (
	latestRootSelector                    = mustSelector("latestRoot()")
	registerIdentitiesSelector            = mustSelector("registerIdentities(uint256[8],uint256,uint32,uint256[],uint256)")
	deleteIdentitiesSelector              = mustSelector("deleteIdentities(uint256[8],bytes,uint256,uint256)")
	deleteIdentitiesWithBatchSizeSelector = mustSelector("deleteIdentities(uint256[8],uint32,bytes,uint256,uint256)")
)

// RegisterIdentitiesSelector is the 4-byte selector of the insertion
// calldata function. Exported so callers (the tree updater) can dispatch on
// it without importing unexported package state.
var RegisterIdentitiesSelector = registerIdentitiesSelector

// DeleteIdentitiesSelector and DeleteIdentitiesWithBatchSizeSelector are the
// two overloads of the deletion calldata function; the contract exposes
// both, differing only in whether an explicit batch size precedes the
// packed deletion indices.
var (
	DeleteIdentitiesSelector              = deleteIdentitiesSelector
	DeleteIdentitiesWithBatchSizeSelector = deleteIdentitiesWithBatchSizeSelector
)

var registerIdentitiesArgs = abi.Arguments{
	arg("insertionProof", "uint256[8]"),
	arg("preRoot", "uint256"),
	arg("startIndex", "uint32"),
	arg("identityCommitments", "uint256[]"),
	arg("postRoot", "uint256"),
}

var deleteIdentitiesArgs = abi.Arguments{
	arg("deletionProof", "uint256[8]"),
	arg("packedDeletionIndices", "bytes"),
	arg("preRoot", "uint256"),
	arg("postRoot", "uint256"),
}

var deleteIdentitiesWithBatchSizeArgs = abi.Arguments{
	arg("deletionProof", "uint256[8]"),
	arg("batchSize", "uint32"),
	arg("packedDeletionIndices", "bytes"),
	arg("preRoot", "uint256"),
	arg("postRoot", "uint256"),
}

// TreeChangedEvent is the decoded form of a TreeChanged log. Kind mirrors
// the contract's internal enum (insertion vs deletion); callers that only
// care about the resulting root can ignore it.
type TreeChangedEvent struct {
	PreRoot  *big.Int
	Kind     uint8
	PostRoot *big.Int
}

// DecodeTreeChanged unpacks a TreeChanged log's indexed arguments. Indexed
// value-type parameters are stored as the raw 32-byte value in the topic,
// not hashed, so no calldata lookup is needed.
func DecodeTreeChanged(l types.Log) (*TreeChangedEvent, error) {
	if len(l.Topics) != 4 {
		return nil, fmt.Errorf("expected 4 topics for TreeChanged, got %d", len(l.Topics))
	}
	if l.Topics[0] != TreeChangedTopic {
		return nil, fmt.Errorf("log signature %s does not match TreeChanged", l.Topics[0])
	}

	kindBytes := l.Topics[2].Bytes()
	event := &TreeChangedEvent{
		PreRoot:  new(big.Int).SetBytes(l.Topics[1].Bytes()),
		Kind:     kindBytes[len(kindBytes)-1],
		PostRoot: new(big.Int).SetBytes(l.Topics[3].Bytes()),
	}
	return event, nil
}

// RegisterIdentitiesCall is the decoded form of a registerIdentities(...)
// transaction's calldata.
type RegisterIdentitiesCall struct {
	PreRoot             *big.Int
	StartIndex          uint32
	IdentityCommitments []*big.Int
	PostRoot            *big.Int
}

// DecodeRegisterIdentities unpacks calldata for the insertion function. It
// expects the leading 4-byte selector to already match
// RegisterIdentitiesSelector; callers dispatch on the selector themselves.
func DecodeRegisterIdentities(data []byte) (*RegisterIdentitiesCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short for registerIdentities")
	}

	values, err := registerIdentitiesArgs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("could not unpack registerIdentities calldata: %w", err)
	}

	call := &RegisterIdentitiesCall{
		PreRoot:    values[1].(*big.Int),
		StartIndex: values[2].(uint32),
		PostRoot:   values[4].(*big.Int),
	}
	commitments, ok := values[3].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type for identityCommitments: %T", values[3])
	}
	call.IdentityCommitments = commitments

	return call, nil
}

// DeleteIdentitiesCall is the decoded form of either overload of
// deleteIdentities(...). BatchSize is only meaningful when the long-form
// overload was used; it is left 0 for the short form.
type DeleteIdentitiesCall struct {
	BatchSize             uint32
	PackedDeletionIndices []byte
	PreRoot               *big.Int
	PostRoot              *big.Int
}

// DecodeDeleteIdentities unpacks calldata for either deletion overload,
// dispatching on the leading 4-byte selector.
func DecodeDeleteIdentities(data []byte) (*DeleteIdentitiesCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short for deleteIdentities")
	}

	var sel selector
	copy(sel[:], data[:4])

	switch sel {
	case deleteIdentitiesSelector:
		values, err := deleteIdentitiesArgs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("could not unpack deleteIdentities calldata: %w", err)
		}
		return &DeleteIdentitiesCall{
			PackedDeletionIndices: values[1].([]byte),
			PreRoot:               values[2].(*big.Int),
			PostRoot:              values[3].(*big.Int),
		}, nil

	case deleteIdentitiesWithBatchSizeSelector:
		values, err := deleteIdentitiesWithBatchSizeArgs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("could not unpack deleteIdentities (with batch size) calldata: %w", err)
		}
		return &DeleteIdentitiesCall{
			BatchSize:             values[1].(uint32),
			PackedDeletionIndices: values[2].([]byte),
			PreRoot:               values[3].(*big.Int),
			PostRoot:              values[4].(*big.Int),
		}, nil

	default:
		return nil, fmt.Errorf("selector %x is neither deleteIdentities overload", sel)
	}
}

// IdentityManager is a thin, read-mostly binding for the canonical
// WorldIDIdentityManager contract: it only ever needs to read the latest
// root and scan for TreeChanged logs, so it does not carry transacting
// capability the way StateBridge does.
type IdentityManager struct {
	address  common.Address
	caller   bind.ContractCaller
	filterer bind.ContractFilterer
}

// NewIdentityManager builds a binding against address using backend for
// both calls and log filtering.
func NewIdentityManager(address common.Address, backend interface {
	bind.ContractCaller
	bind.ContractFilterer
}) *IdentityManager {
	return &IdentityManager{address: address, caller: backend, filterer: backend}
}

// LatestRoot calls the contract's latestRoot() view function.
func (m *IdentityManager) LatestRoot(ctx context.Context) (*big.Int, error) {
	out, err := m.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &m.address,
		Data: latestRootSelector[:],
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not call latestRoot: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// FilterTreeChanged scans [fromBlock, toBlock] for TreeChanged logs emitted
// by this contract, in on-chain order.
func (m *IdentityManager) FilterTreeChanged(ctx context.Context, fromBlock, toBlock *big.Int) ([]types.Log, error) {
	logs, err := m.filterer.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{m.address},
		Topics:    [][]common.Hash{{TreeChangedTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("could not filter TreeChanged logs: %w", err)
	}
	return logs, nil
}
