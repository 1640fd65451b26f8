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

package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a token-bucket rate limiter for outbound RPC calls, with a
// jittered sleep applied whenever the bucket is depleted.
type Throttle struct {
	limiter   *rate.Limiter
	jitterMin time.Duration
	jitterMax time.Duration
}

// NewThrottle builds a Throttle refilling at refillPerSecond tokens per
// second, holding up to burst tokens, and sleeping a random duration in
// [jitterMin, jitterMax] whenever a call has to wait for a token.
func NewThrottle(refillPerSecond float64, burst int, jitterMin, jitterMax time.Duration) *Throttle {
	return &Throttle{
		limiter:   rate.NewLimiter(rate.Limit(refillPerSecond), burst),
		jitterMin: jitterMin,
		jitterMax: jitterMax,
	}
}

// Wait blocks until a token is available, applying the jittered sleep on
// top of whatever delay the limiter itself imposed.
func (t *Throttle) Wait(ctx context.Context) error {
	reservation := t.limiter.Reserve()
	if !reservation.OK() {
		return fmt.Errorf("throttle: rate limiter cannot satisfy request")
	}

	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
	}

	if jitter := t.jitter(); jitter > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}

	return nil
}

func (t *Throttle) jitter() time.Duration {
	if t.jitterMax <= t.jitterMin {
		return t.jitterMin
	}
	span := t.jitterMax - t.jitterMin
	return t.jitterMin + time.Duration(rand.Int63n(int64(span)))
}
