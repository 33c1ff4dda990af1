package h1dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyRequestBodyIsImmediatelyEOF(t *testing.T) {
	handle, body := newRequestBodyHandle(TransferCoding{Kind: CodingEOF})
	assert.Nil(t, handle)

	select {
	case _, open := <-body.Chunks():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("empty body channel never closed")
	}
}

func TestRequestBodyFeedAndConsume(t *testing.T) {
	body := newRequestBody()

	ctx := context.Background()
	require.NoError(t, body.ready(ctx))
	body.feedData([]byte("chunk1"))

	chunk := <-body.Chunks()
	require.NoError(t, chunk.Err)
	assert.Equal(t, "chunk1", string(chunk.Data))

	body.feedEOF()
	_, open := <-body.Chunks()
	assert.False(t, open)
}

func TestRequestBodyWaitForPollUnblocksOnFirstChunksCall(t *testing.T) {
	body := newRequestBody()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- body.waitForPoll(ctx) }()

	select {
	case <-done:
		t.Fatal("waitForPoll resolved before Chunks was ever called")
	case <-time.After(20 * time.Millisecond):
	}

	body.Chunks()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waitForPoll never unblocked after Chunks call")
	}

	body.feedEOF()
}

func TestRequestBodyWaitForPollFailsWhenContextDoneFirst(t *testing.T) {
	body := newRequestBody()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := body.waitForPoll(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	body.feedEOF()
}

func TestRequestBodyReadyBlocksUntilPreviousChunkDrained(t *testing.T) {
	body := newRequestBody()
	ctx := context.Background()

	require.NoError(t, body.ready(ctx))
	body.feedData([]byte("a"))

	readyDone := make(chan error, 1)
	go func() { readyDone <- body.ready(ctx) }()

	select {
	case <-readyDone:
		t.Fatal("ready() returned before the previous chunk was consumed")
	case <-time.After(20 * time.Millisecond):
	}

	<-body.Chunks() // drains "a", which replenishes the permit

	select {
	case err := <-readyDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ready() never unblocked after the chunk was drained")
	}

	body.feedEOF()
	<-body.Chunks()
}

func TestRequestBodyAbandonAfterUndrainedFeedDoesNotPanic(t *testing.T) {
	body := newRequestBody()
	ctx := context.Background()
	require.NoError(t, body.ready(ctx))
	body.feedData([]byte("x"))

	body.abandon()

	// abandon must not panic even though feedData already sent one
	// chunk and nobody ever drains it via Chunks().
}

func TestRequestBodyHandleDecodeLengthFeedsAndReportsEOF(t *testing.T) {
	rb := newReadBuffer(4096)
	feed(rb, "hello")

	handle, body := newRequestBodyHandle(TransferCoding{Kind: CodingLength, remaining: 5})
	require.NotNil(t, handle)

	doneCh := make(chan struct{})
	var got []byte
	go func() {
		for chunk := range body.Chunks() {
			got = append(got, chunk.Data...)
		}
		close(doneCh)
	}()

	ctx := context.Background()
	state, err := handle.decode(ctx, rb)
	require.NoError(t, err)
	assert.Equal(t, DecodeEOF, state)

	<-doneCh
	assert.Equal(t, "hello", string(got))
	assert.True(t, handle.eof)
}

func TestRequestBodyHandleDecodeNeedsMoreData(t *testing.T) {
	rb := newReadBuffer(4096)
	feed(rb, "he")

	handle, body := newRequestBodyHandle(TransferCoding{Kind: CodingLength, remaining: 5})
	require.NotNil(t, handle)

	go func() {
		for range body.Chunks() {
		}
	}()

	ctx := context.Background()
	state, err := handle.decode(ctx, rb)
	require.NoError(t, err)
	assert.Equal(t, DecodeContinue, state)
	assert.False(t, handle.eof)

	body.abandon()
}

func TestRequestBodyHandleDecodeAbortsWhenContextCancelledAndNobodyConsumes(t *testing.T) {
	rb := newReadBuffer(4096)
	feed(rb, "hello")

	handle, _ := newRequestBodyHandle(TransferCoding{Kind: CodingLength, remaining: 5})
	require.NotNil(t, handle)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := handle.decode(ctx, rb)
	assert.Error(t, err, "decode must not block forever waiting on a consumer that never arrives")
	assert.True(t, errors.Is(err, context.Canceled))
}
