package retry_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldtree-labs/world-tree/retry"
)

func TestClassifyHTTP429(t *testing.T) {
	p := retry.Policy{}
	assert.Equal(t, retry.RetryRateLimit, p.Classify(&retry.HTTPError{StatusCode: 429}))
	assert.Equal(t, retry.NoRetry, p.Classify(&retry.HTTPError{StatusCode: 500}))
}

func TestClassifyJSONRPCCodes(t *testing.T) {
	p := retry.Policy{}

	for _, code := range []int{429, -32603, -32005} {
		assert.Equal(t, retry.RetryRateLimit, p.Classify(&retry.JSONRPCError{Code: code}))
	}

	assert.Equal(t, retry.RetryRateLimit, p.Classify(&retry.JSONRPCError{Code: -32016, Message: "you are being rate limited"}))
	assert.Equal(t, retry.NoRetry, p.Classify(&retry.JSONRPCError{Code: -32016, Message: "something else"}))
}

func TestClassifyJSONRPCMessages(t *testing.T) {
	p := retry.Policy{}

	assert.Equal(t, retry.RetryTimeout, p.Classify(&retry.JSONRPCError{Code: -32000, Message: "header not found"}))
	assert.Equal(t, retry.RetryRateLimit, p.Classify(&retry.JSONRPCError{Code: -32000, Message: "daily request count exceeded, request rate limited"}))
	assert.Equal(t, retry.NoRetry, p.Classify(&retry.JSONRPCError{Code: -32000, Message: "execution reverted"}))
}

func TestClassifyMalformedJSONReclassifiesEmbeddedError(t *testing.T) {
	p := retry.Policy{}

	raw, err := json.Marshal(map[string]any{
		"error": map[string]any{"code": 429, "message": "too many requests"},
	})
	require.NoError(t, err)

	assert.Equal(t, retry.RetryRateLimit, p.Classify(&retry.MalformedJSONError{Raw: raw}))
	assert.Equal(t, retry.NoRetry, p.Classify(&retry.MalformedJSONError{Raw: []byte("not json")}))
}

func TestBackoffHintParsesIntAndFloat(t *testing.T) {
	p := retry.Policy{}

	data, err := json.Marshal(map[string]any{"rate": map[string]any{"backoff_seconds": 2}})
	require.NoError(t, err)
	hint, ok := p.BackoffHint(&retry.JSONRPCError{Code: 429, Data: data})
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, hint)

	data, err = json.Marshal(map[string]any{"rate": map[string]any{"backoff_seconds": 2.2}})
	require.NoError(t, err)
	hint, ok = p.BackoffHint(&retry.JSONRPCError{Code: 429, Data: data})
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, hint)

	_, ok = p.BackoffHint(&retry.JSONRPCError{Code: 429})
	assert.False(t, ok)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p := retry.Policy{
		MaxRateLimitRetries: 5,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          10 * time.Millisecond,
	}

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts <= 3 {
			return &retry.HTTPError{StatusCode: 429}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
}

func TestDoStopsOnNonRetriableError(t *testing.T) {
	p := retry.Policy{MaxRateLimitRetries: 5}

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return &retry.HTTPError{StatusCode: 400}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	p := retry.Policy{
		MaxRateLimitRetries: 2,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          2 * time.Millisecond,
	}

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return &retry.HTTPError{StatusCode: 429}
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoCallsOnRetryForEachRetriedAttempt(t *testing.T) {
	var classes []retry.Classification
	p := retry.Policy{
		MaxRateLimitRetries: 5,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          10 * time.Millisecond,
		OnRetry:             func(c retry.Classification) { classes = append(classes, c) },
	}

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts <= 2 {
			return &retry.HTTPError{StatusCode: 429}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []retry.Classification{retry.RetryRateLimit, retry.RetryRateLimit}, classes)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	p := retry.Policy{
		MaxRateLimitRetries: 100,
		InitialBackoff:      time.Second,
		MaxBackoff:          time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func() error {
		return &retry.HTTPError{StatusCode: 429}
	})

	assert.ErrorIs(t, err, context.Canceled)
}
