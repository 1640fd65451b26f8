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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/worldtree-labs/world-tree/worldtree"
	"github.com/worldtree-labs/world-tree/worldtreeerr"
)

// restartBackoff bounds how fast a supervised task can be respawned, so a
// task that fails immediately on every attempt does not spin the CPU.
const restartBackoff = time.Second

// Service owns the root watcher and every configured StateBridge, running
// each as its own task. A terminal error from any one task cancels every
// peer task cooperatively before Run returns; errors from every task that
// was still running at that point are aggregated so none of them is
// silently lost.
type Service struct {
	log     zerolog.Logger
	watcher *worldtree.RootWatcher
	bridges []*StateBridge
}

// NewService builds a service owning watcher and bridges.
func NewService(log zerolog.Logger, watcher *worldtree.RootWatcher, bridges []*StateBridge) *Service {
	return &Service{
		log:     log.With().Str("component", "state_bridge_service").Logger(),
		watcher: watcher,
		bridges: bridges,
	}
}

// Run spawns the root watcher and every bridge, and blocks until ctx is
// cancelled or a task fails with a non-restartable error. A task whose
// error classifies as restartable (worldtreeerr.Kind.Restartable) is
// logged and respawned in place rather than torn the whole service down
// for; only a structural failure cancels every peer task.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(s.bridges)+1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- s.supervise(ctx, "root_watcher", s.watcher.Run)
	}()

	for i, b := range s.bridges {
		b := b
		name := fmt.Sprintf("state_bridge[%d]", i)
		sub := s.watcher.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.supervise(ctx, name, func(ctx context.Context) error {
				return b.Run(ctx, sub)
			})
		}()
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	var result *multierror.Error
	for err := range errs {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		s.log.Error().Err(err).Msg("task terminated, cancelling peer tasks")
		cancel()
		result = multierror.Append(result, err)
	}

	if result != nil {
		return fmt.Errorf("state bridge service failed: %w", result)
	}

	return nil
}

// supervise runs task repeatedly under name: a restartable error is logged
// and the task is respawned after restartBackoff; a non-restartable error,
// ctx cancellation, or a clean return ends supervision.
func (s *Service) supervise(ctx context.Context, name string, task func(context.Context) error) error {
	for {
		err := task(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}

		kind := worldtreeerr.Classify(err)
		if !kind.Restartable() {
			return fmt.Errorf("%s failed: %w", name, err)
		}

		s.log.Warn().Err(err).Str("task", name).Str("kind", kind.String()).Msg("task failed, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartBackoff):
		}
	}
}
