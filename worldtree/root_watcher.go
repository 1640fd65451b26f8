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
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/worldtree-labs/world-tree/broadcast"
	"github.com/worldtree-labs/world-tree/contracts"
	"github.com/worldtree-labs/world-tree/hash"
)

// rootBroadcastCapacity is the buffer depth of each subscriber's channel.
// A root supersedes any earlier one, so even a very slow bridge relay
// subscriber never needs more than the latest value once it catches up.
const rootBroadcastCapacity = 1024

// LogSubscriber opens a push subscription for logs matching a filter.
// ethclient.Client's SubscribeFilterLogs satisfies it directly.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// RootWatcher subscribes to the identity manager's TreeChanged events and
// republishes each new canonical root to every subscriber. A dropped
// subscription is treated as transient: it is rebuilt with capped
// exponential backoff rather than surfaced as an error, since the root it
// would have reported is always superseded by the next one once
// reconnected.
type RootWatcher struct {
	log            zerolog.Logger
	client         LogSubscriber
	address        common.Address
	broadcaster    *broadcast.Broadcaster[hash.Hash]
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRootWatcher builds a watcher for address's TreeChanged events.
func NewRootWatcher(log zerolog.Logger, client LogSubscriber, address common.Address) *RootWatcher {
	return &RootWatcher{
		log:            log.With().Str("component", "root_watcher").Logger(),
		client:         client,
		address:        address,
		broadcaster:    broadcast.New[hash.Hash](rootBroadcastCapacity),
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
	}
}

// Subscribe registers a new subscriber to canonical root changes. Roots
// published before a subscriber joins are never replayed; a fresh
// subscriber only sees roots published from here on.
func (w *RootWatcher) Subscribe() *broadcast.Subscription[hash.Hash] {
	return w.broadcaster.Subscribe()
}

// Run subscribes to TreeChanged events and republishes each post-root
// until ctx is cancelled.
func (w *RootWatcher) Run(ctx context.Context) error {
	backoffDur := w.initialBackoff
	for {
		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.log.Warn().Err(err).Dur("backoff", backoffDur).Msg("root subscription ended, reconnecting")

		timer := time.NewTimer(backoffDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoffDur *= 2
		if backoffDur > w.maxBackoff {
			backoffDur = w.maxBackoff
		}
	}
}

func (w *RootWatcher) runOnce(ctx context.Context) error {
	logs := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.address},
		Topics:    [][]common.Hash{{contracts.TreeChangedTopic}},
	}

	sub, err := w.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return fmt.Errorf("could not subscribe to TreeChanged logs: %w", err)
	}
	defer sub.Unsubscribe()

	w.log.Info().Msg("subscribed to canonical root changes")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case l := <-logs:
			event, err := contracts.DecodeTreeChanged(l)
			if err != nil {
				w.log.Error().Err(err).Msg("could not decode TreeChanged log, skipping")
				continue
			}
			w.broadcaster.Publish(hash.FromBig(event.PostRoot))
		}
	}
}
