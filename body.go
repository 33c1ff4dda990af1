package h1dispatch

import (
	"io"
	"sync"
)

// bytesBody is a BodyStream backed by a single in-memory slice, for
// handlers that already have the whole response body in hand.
type bytesBody struct {
	ch chan BodyChunk
}

// BytesBody wraps p as a one-shot BodyStream. p is not copied; the
// caller must not mutate it after handing the Response off.
func BytesBody(p []byte) BodyStream {
	ch := make(chan BodyChunk, 1)
	if len(p) > 0 {
		ch <- BodyChunk{Data: p}
	}
	close(ch)
	return &bytesBody{ch: ch}
}

func (b *bytesBody) Chunks() <-chan BodyChunk { return b.ch }

// readerBody adapts an io.Reader to BodyStream, reading fixed-size
// chunks on a background goroutine and handing them to the dispatcher
// through an unbuffered channel, the same producer/consumer shape
// bodychan.go uses for the inbound direction. It implements Abandoner
// so writeResponse can stop pump if it gives up draining Chunks()
// before EOF, the same abandonment idiom RequestBody uses for inbound
// bodies the Service never finishes reading.
type readerBody struct {
	ch       chan BodyChunk
	done     chan struct{}
	doneOnce sync.Once
}

// ReaderBody streams r's contents as the response body, chunkSize
// bytes at a time (or 32KiB if chunkSize <= 0). r is closed, if it
// implements io.Closer, once the stream reaches EOF, a read error, or
// Abandon is called.
func ReaderBody(r io.Reader, chunkSize int) BodyStream {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	b := &readerBody{ch: make(chan BodyChunk), done: make(chan struct{})}
	go b.pump(r, chunkSize)
	return b
}

func (b *readerBody) pump(r io.Reader, chunkSize int) {
	defer close(b.ch)
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case b.ch <- BodyChunk{Data: chunk}:
			case <-b.done:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case b.ch <- BodyChunk{Err: err}:
				case <-b.done:
				}
			}
			return
		}
	}
}

func (b *readerBody) Chunks() <-chan BodyChunk { return b.ch }

// Abandon unblocks pump from its next (or current) send on ch, for
// callers that stop draining Chunks() before it closes. Safe to call
// more than once.
func (b *readerBody) Abandon() {
	b.doneOnce.Do(func() { close(b.done) })
}
