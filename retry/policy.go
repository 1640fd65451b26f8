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

// Package retry classifies transport and JSON-RPC errors returned by an
// Ethereum node and drives a capped, exponential-backoff retry loop around
// them, with separate retry budgets for rate-limit and timeout failures.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classification is the outcome of inspecting an error returned by an RPC
// call.
type Classification uint8

const (
	// NoRetry means the error is not retriable.
	NoRetry Classification = iota
	// RetryRateLimit means the provider is throttling the caller.
	RetryRateLimit
	// RetryTimeout means the provider returned a transient, non-rate-limit
	// failure (e.g. a node that has not caught up yet).
	RetryTimeout
)

// String renders the Classification for use as a metric label.
func (c Classification) String() string {
	switch c {
	case RetryRateLimit:
		return "rate_limit"
	case RetryTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// HTTPError wraps a non-2xx HTTP status code returned by the transport.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// JSONRPCError mirrors the shape of a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// MalformedJSONError is returned by a transport that received a response
// which failed to parse as a well-formed JSON-RPC envelope, but which may
// still carry a usable embedded error object.
type MalformedJSONError struct {
	Raw []byte
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("malformed json-rpc response: %s", string(e.Raw))
}

// Policy classifies errors and drives the capped-exponential retry loop
// around calls protected by it.
type Policy struct {
	MaxRateLimitRetries uint
	MaxTimeoutRetries   uint
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration

	// OnRetry, if set, is called once per retried attempt with the
	// classification that triggered it, letting callers observe retry
	// volume (e.g. as a Prometheus counter) without this package knowing
	// anything about metrics.
	OnRetry func(Classification)
}

// Classify decides whether err should be retried, and under which budget.
func (p Policy) Classify(err error) Classification {
	if err == nil {
		return NoRetry
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return RetryRateLimit
		}
		return NoRetry
	}

	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return classifyRPC(rpcErr)
	}

	var malformed *MalformedJSONError
	if errors.As(err, &malformed) {
		var envelope struct {
			Error *JSONRPCError `json:"error"`
		}
		if jsonErr := json.Unmarshal(malformed.Raw, &envelope); jsonErr == nil && envelope.Error != nil {
			return classifyRPC(envelope.Error)
		}
		return NoRetry
	}

	return NoRetry
}

func classifyRPC(e *JSONRPCError) Classification {
	switch e.Code {
	case 429, -32603, -32005:
		return RetryRateLimit
	case -32016:
		if strings.Contains(strings.ToLower(e.Message), "rate limit") {
			return RetryRateLimit
		}
	}

	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "header not found"):
		return RetryTimeout
	case strings.Contains(msg, "daily request count exceeded, request rate limited"):
		return RetryRateLimit
	default:
		return NoRetry
	}
}

// BackoffHint extracts a provider-supplied backoff duration from
// data.rate.backoff_seconds, if present, ceiling a fractional value up to
// the next whole second.
func (p Policy) BackoffHint(err error) (time.Duration, bool) {
	var rpcErr *JSONRPCError
	if !errors.As(err, &rpcErr) || len(rpcErr.Data) == 0 {
		return 0, false
	}

	var payload struct {
		Rate struct {
			BackoffSeconds json.Number `json:"backoff_seconds"`
		} `json:"rate"`
	}
	if err := json.Unmarshal(rpcErr.Data, &payload); err != nil {
		return 0, false
	}
	if payload.Rate.BackoffSeconds == "" {
		return 0, false
	}

	seconds, err := payload.Rate.BackoffSeconds.Float64()
	if err != nil {
		return 0, false
	}

	return time.Duration(math.Ceil(seconds)) * time.Second, true
}

// Do runs fn, retrying per the policy's classification and backoff rules,
// until fn succeeds, a non-retriable error occurs, or the budget for the
// observed error category is exhausted.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var rateLimitAttempts, timeoutAttempts uint

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff

	for {
		err := fn()
		if err == nil {
			return nil
		}

		class := p.Classify(err)
		switch class {
		case RetryRateLimit:
			rateLimitAttempts++
			if rateLimitAttempts > p.MaxRateLimitRetries {
				return fmt.Errorf("rate limit retries exhausted after %d attempts: %w", rateLimitAttempts, err)
			}
		case RetryTimeout:
			timeoutAttempts++
			if timeoutAttempts > p.MaxTimeoutRetries {
				return fmt.Errorf("timeout retries exhausted after %d attempts: %w", timeoutAttempts, err)
			}
		default:
			return err
		}

		if p.OnRetry != nil {
			p.OnRetry(class)
		}

		wait := exp.NextBackOff()
		if hint, ok := p.BackoffHint(err); ok {
			wait = hint
		}
		if wait == backoff.Stop {
			return fmt.Errorf("backoff policy exhausted: %w", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
