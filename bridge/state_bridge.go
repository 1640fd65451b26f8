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

// Package bridge relays canonical root changes to a downstream chain's
// BridgedWorldID contract, one StateBridge per destination, supervised by
// a StateBridgeService.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/worldtree-labs/world-tree/broadcast"
	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/retry"
	"github.com/worldtree-labs/world-tree/worldtreeerr"
)

// State is the per-bridge relay state: Idle while waiting for a root,
// Cooling while waiting out the minimum relaying period, Relaying while a
// transaction is in flight. Cancellation at any state is immediate and
// safe since state only mutates on the success path.
type State uint8

const (
	Idle State = iota
	Cooling
	Relaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cooling:
		return "cooling"
	case Relaying:
		return "relaying"
	default:
		return "unknown"
	}
}

// TransactSigner supplies the transaction options (signer, nonce, gas
// parameters) used to send propagateRoot, and waits for a sent
// transaction's inclusion.
type TransactSigner interface {
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Canonical is the subset of contracts.StateBridge a StateBridge needs;
// narrowing to an interface here makes the relay state machine testable
// without a live chain.
type Canonical interface {
	Address() common.Address
	PropagateRoot(opts *bind.TransactOpts) (*types.Transaction, error)
}

// Downstream is the subset of contracts.BridgedWorldID a StateBridge needs.
type Downstream interface {
	LatestRoot(ctx context.Context) (*big.Int, error)
}

// StateBridge relays canonical root changes to a single downstream chain.
type StateBridge struct {
	log            zerolog.Logger
	canonical      Canonical
	downstream     Downstream
	signer         TransactSigner
	policy         retry.Policy
	relayingPeriod time.Duration

	state            State
	lastRelayedRoot  hash.Hash
	lastRelayInstant time.Time

	// OnRelay, if set, is called once per confirmed propagateRoot
	// transaction with the time elapsed since the root was observed,
	// letting callers record relay latency and count (e.g. as Prometheus
	// metrics) without this package knowing anything about metrics.
	OnRelay func(time.Duration)
}

// NewStateBridge builds a bridge relaying roots from canonical to
// downstream, no more often than relayingPeriod.
func NewStateBridge(log zerolog.Logger, canonical Canonical, downstream Downstream, signer TransactSigner, policy retry.Policy, relayingPeriod time.Duration) *StateBridge {
	return &StateBridge{
		log:            log.With().Str("component", "state_bridge").Str("bridge", canonical.Address().Hex()).Logger(),
		canonical:      canonical,
		downstream:     downstream,
		signer:         signer,
		policy:         policy,
		relayingPeriod: relayingPeriod,
		state:          Idle,
	}
}

// State returns the bridge's current relay state, for metrics and tests.
func (b *StateBridge) State() State {
	return b.state
}

// Run consumes roots from sub until ctx is cancelled, relaying each one
// that is new and not already reflected downstream.
func (b *StateBridge) Run(ctx context.Context, sub *broadcast.Subscription[hash.Hash]) error {
	defer sub.Unsubscribe()

	for {
		b.state = Idle
		select {
		case <-ctx.Done():
			return ctx.Err()
		case root := <-sub.C():
			if err := b.relay(ctx, root); err != nil {
				return err
			}
		}
	}
}

func (b *StateBridge) relay(ctx context.Context, root hash.Hash) error {
	if root.Equal(b.lastRelayedRoot) {
		return nil
	}
	observed := time.Now()

	b.state = Cooling
	if wait := b.relayingPeriod - time.Since(b.lastRelayInstant); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	current, err := b.downstream.LatestRoot(ctx)
	if err != nil {
		return fmt.Errorf("could not read downstream latest root: %w", err)
	}
	if hash.FromBig(current).Equal(root) {
		b.lastRelayedRoot = root
		return nil
	}

	b.state = Relaying
	err = b.policy.Do(ctx, func() error {
		return b.propagate(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", worldtreeerr.ErrBridgeRelayFailed, err)
	}

	b.lastRelayedRoot = root
	b.lastRelayInstant = time.Now()
	b.log.Info().Str("root", root.Hex()).Msg("relayed root to downstream chain")

	if b.OnRelay != nil {
		b.OnRelay(time.Since(observed))
	}

	return nil
}

func (b *StateBridge) propagate(ctx context.Context) error {
	opts, err := b.signer.TransactOpts(ctx)
	if err != nil {
		return fmt.Errorf("could not build transact options: %w", err)
	}

	tx, err := b.canonical.PropagateRoot(opts)
	if err != nil {
		return fmt.Errorf("could not send propagateRoot transaction: %w", err)
	}

	_, err = b.signer.WaitMined(ctx, tx)
	if err != nil {
		return fmt.Errorf("propagateRoot transaction was not mined: %w", err)
	}

	return nil
}
