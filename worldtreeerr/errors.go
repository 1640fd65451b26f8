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

// Package worldtreeerr collects the sentinel errors and the error taxonomy
// shared between the tree synchronizer and the state bridge: what can go
// wrong, and whether the service layer should retry, recover, or fail.
package worldtreeerr

import "errors"

// Sentinel errors returned by the tree synchronizer and the query surface.
var (
	// ErrRootMismatch means the local root disagrees with the preRoot or
	// postRoot observed on chain for a batch. Fatal: it means either a bug
	// in the decoder or a missed event. The scanner's cursor has already
	// moved past the batch when this is returned; it is not rewound.
	ErrRootMismatch = errors.New("computed root does not match observed on-chain root")

	// ErrNotSynced means a proof query arrived before the first
	// sync-to-head completed.
	ErrNotSynced = errors.New("tree has not completed its initial sync")

	// ErrLeafNotFound means the identity is not present in the requested
	// snapshot.
	ErrLeafNotFound = errors.New("leaf not found in tree snapshot")

	// ErrRootNotRetained means no retained snapshot has the requested
	// root; it has either never existed or has been evicted from history.
	ErrRootNotRetained = errors.New("root is not retained in tree history")

	// ErrBridgeRelayFailed means a propagateRoot transaction failed
	// irrecoverably after retries.
	ErrBridgeRelayFailed = errors.New("state bridge relay failed")

	// ErrDecoding means calldata or event log decoding failed in a way
	// that indicates schema drift between this service and the contract.
	ErrDecoding = errors.New("could not decode calldata or event")
)

// Kind classifies an error for the service layer's restart-or-fail policy.
type Kind uint8

const (
	// KindUnknown is the zero value; Classify never returns it for a
	// non-nil error.
	KindUnknown Kind = iota
	// KindMiddleware covers transport, RPC, and provider errors, which
	// are handled by the retry policy before ever reaching this taxonomy.
	KindMiddleware
	// KindDecoding is fatal for the log that triggered it.
	KindDecoding
	// KindRootMismatch is fatal for the sync task.
	KindRootMismatch
	// KindNotSynced is recoverable at the query layer.
	KindNotSynced
	// KindLeafNotFound is a soft query-layer failure.
	KindLeafNotFound
	// KindRootNotRetained is a soft query-layer failure.
	KindRootNotRetained
	// KindBridgeRelayFailed surfaces to the state bridge service after
	// retries are exhausted.
	KindBridgeRelayFailed
)

// String renders the Kind for logging.
func (k Kind) String() string {
	switch k {
	case KindMiddleware:
		return "middleware"
	case KindDecoding:
		return "decoding"
	case KindRootMismatch:
		return "root_mismatch"
	case KindNotSynced:
		return "not_synced"
	case KindLeafNotFound:
		return "leaf_not_found"
	case KindRootNotRetained:
		return "root_not_retained"
	case KindBridgeRelayFailed:
		return "bridge_relay_failed"
	default:
		return "unknown"
	}
}

// Classify maps err to its Kind by matching against the sentinel errors
// with errors.Is, so wrapped errors are classified correctly.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDecoding):
		return KindDecoding
	case errors.Is(err, ErrRootMismatch):
		return KindRootMismatch
	case errors.Is(err, ErrNotSynced):
		return KindNotSynced
	case errors.Is(err, ErrLeafNotFound):
		return KindLeafNotFound
	case errors.Is(err, ErrRootNotRetained):
		return KindRootNotRetained
	case errors.Is(err, ErrBridgeRelayFailed):
		return KindBridgeRelayFailed
	default:
		return KindMiddleware
	}
}

// Restartable reports whether the service should restart the task that
// produced an error of this kind, rather than fail the whole process.
func (k Kind) Restartable() bool {
	switch k {
	case KindMiddleware, KindNotSynced, KindLeafNotFound, KindRootNotRetained:
		return true
	default:
		return false
	}
}
