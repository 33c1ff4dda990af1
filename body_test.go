package h1dispatch

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesBodyYieldsOneChunkThenCloses(t *testing.T) {
	body := BytesBody([]byte("hello"))

	chunk, ok := <-body.Chunks()
	require.True(t, ok)
	assert.Equal(t, "hello", string(chunk.Data))

	_, ok = <-body.Chunks()
	assert.False(t, ok)
}

func TestBytesBodyEmptyClosesImmediately(t *testing.T) {
	body := BytesBody(nil)
	_, ok := <-body.Chunks()
	assert.False(t, ok)
}

func TestReaderBodyStreamsInChunks(t *testing.T) {
	r := strings.NewReader("abcdefghij")
	body := ReaderBody(r, 4)

	var got []byte
	for chunk := range body.Chunks() {
		require.NoError(t, chunk.Err)
		got = append(got, chunk.Data...)
	}
	assert.Equal(t, "abcdefghij", string(got))
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestReaderBodyPropagatesReadError(t *testing.T) {
	wantErr := errors.New("boom")
	body := ReaderBody(errReader{wantErr}, 8)

	chunk := <-body.Chunks()
	assert.ErrorIs(t, chunk.Err, wantErr)

	_, ok := <-body.Chunks()
	assert.False(t, ok)
}

type closeTrackingReader struct {
	io.Reader
	closed bool
}

func (c *closeTrackingReader) Close() error {
	c.closed = true
	return nil
}

func TestReaderBodyClosesUnderlyingReaderOnEOF(t *testing.T) {
	ctr := &closeTrackingReader{Reader: strings.NewReader("x")}
	body := ReaderBody(ctr, 8)

	for range body.Chunks() {
	}
	assert.True(t, ctr.closed)
}

func TestReaderBodyAbandonUnblocksPump(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	body := ReaderBody(pr, 4)

	writeDone := make(chan error, 1)
	go func() { _, err := pw.Write([]byte("abcd")); writeDone <- err }()

	chunk := <-body.Chunks()
	require.NoError(t, chunk.Err)
	assert.Equal(t, "abcd", string(chunk.Data))
	require.NoError(t, <-writeDone)

	ab, ok := body.(Abandoner)
	require.True(t, ok, "ReaderBody must implement Abandoner so writeResponse can stop it early")
	ab.Abandon()

	// Nobody is draining body.Chunks() past this point. Without Abandon,
	// pump would block forever trying to send this next chunk on its
	// unbuffered channel; with it, pump observes done closed instead and
	// returns, so this write (which only needs pump's Read to consume it)
	// still completes.
	go func() { _, err := pw.Write([]byte("efgh")); writeDone <- err }()
	select {
	case err := <-writeDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not unblock after Abandon")
	}
}
