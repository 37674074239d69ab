package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmkit/swarmkit/model"
)

func TestPriceTableCostKnownModel(t *testing.T) {
	pt := DefaultPriceTable()
	cost, ok := pt.Cost("claude-sonnet-4-5", model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	require.True(t, ok)
	require.InDelta(t, 18.0, cost, 0.001)
}

func TestPriceTableCostUnknownModel(t *testing.T) {
	pt := DefaultPriceTable()
	cost, ok := pt.Cost("some-unreleased-model", model.TokenUsage{InputTokens: 100})
	require.False(t, ok)
	require.Zero(t, cost)
}

type stubProvider struct {
	calls int
	err   error
	resp  *Response
}

func (s *stubProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func TestTimeoutRetryingRetriesOnceOnDeadline(t *testing.T) {
	stub := &stubProvider{resp: &Response{Message: &model.Message{Role: model.RoleAssistant, Text: "hi"}}}
	slow := &blockingThenFastProvider{inner: stub, blockFirst: true}
	wrapped := NewTimeoutRetrying(slow, 10*time.Millisecond)

	resp, err := wrapped.Complete(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Message.Text)
	require.Equal(t, 2, slow.calls)
}

// blockingThenFastProvider blocks past the wrapper's deadline on its first
// call (forcing TimeoutRetrying's one retry) and returns immediately after.
type blockingThenFastProvider struct {
	inner      Provider
	blockFirst bool
	calls      int
}

func (b *blockingThenFastProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	b.calls++
	if b.blockFirst && b.calls == 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.inner.Complete(ctx, req)
}

func TestTimeoutRetryingPropagatesNonTimeoutError(t *testing.T) {
	wantErr := errors.New("transport down")
	stub := &stubProvider{err: wantErr}
	wrapped := NewTimeoutRetrying(stub, time.Second)

	_, err := wrapped.Complete(context.Background(), Request{})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, stub.calls)
}
