package h1dispatch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBufferReserveCommitAdvance(t *testing.T) {
	rb := newReadBuffer(16)

	tail, ok := rb.Reserve()
	require.True(t, ok)
	n := copy(tail, "hello")
	rb.Commit(n)
	assert.Equal(t, "hello", string(rb.Bytes()))

	rb.Advance(2)
	assert.Equal(t, "llo", string(rb.Bytes()))
}

func TestReadBufferBackpressureAndLimit(t *testing.T) {
	rb := newReadBuffer(4)

	tail, ok := rb.Reserve()
	require.True(t, ok)
	rb.Commit(copy(tail, "abcd"))

	assert.True(t, rb.Backpressure())
	assert.True(t, rb.AtLimit())

	_, ok = rb.Reserve()
	assert.False(t, ok, "buffer at hard limit must refuse to grow further")
}

func TestFlatWriteBufferRoundTrip(t *testing.T) {
	wb := NewFlatWriteBuffer(1024)
	defer wb.Release()

	wb.EnqueueBytes([]byte("foo"))
	wb.EnqueueBytes([]byte("bar"))
	assert.True(t, wb.WantWrite())

	pending := wb.Pending()
	var got bytes.Buffer
	for _, b := range pending {
		got.Write(b)
	}
	assert.Equal(t, "foobar", got.String())

	wb.Consumed(3)
	assert.True(t, wb.WantWrite())
	pending = wb.Pending()
	got.Reset()
	for _, b := range pending {
		got.Write(b)
	}
	assert.Equal(t, "bar", got.String())

	wb.Consumed(3)
	assert.False(t, wb.WantWrite())
}

func TestListWriteBufferChunkBoundaries(t *testing.T) {
	wb := NewListWriteBuffer(1024)
	defer wb.Release()

	wb.EnqueueBytes([]byte("one"))
	wb.EnqueueBytes([]byte("two"))
	wb.EnqueueBytes([]byte("three"))

	pending := wb.Pending()
	require.Len(t, pending, 3)

	wb.Consumed(4) // "one" + "t" of "two"
	pending = wb.Pending()
	var got bytes.Buffer
	for _, b := range pending {
		got.Write(b)
	}
	assert.Equal(t, "wothree", got.String())
}

func TestWriteBufferBackpressure(t *testing.T) {
	wb := NewListWriteBuffer(4)
	defer wb.Release()

	wb.EnqueueBytes([]byte("abc"))
	assert.False(t, wb.Backpressure())
	wb.EnqueueBytes([]byte("d"))
	assert.True(t, wb.Backpressure())
}
