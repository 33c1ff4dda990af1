package h1dispatch

import (
	"net"

	"github.com/valyala/bytebufferpool"
)

// ByteBuffer is the pooled chunk type write buffers are built from; an
// alias of bytebufferpool.ByteBuffer for readability at call sites in
// this package.
type ByteBuffer = bytebufferpool.ByteBuffer

// readBufferHighWaterNum/Den set the backpressure threshold as a
// fraction of the hard limit, so a read buffer signals backpressure
// slightly before it is physically full — matching spec §3's "high
// water mark... typically >= limit" by choosing exactly the limit
// itself (numerator == denominator), while leaving the knob in place
// for tuning.
const (
	readBufferHighWaterNum = 1
	readBufferHighWaterDen = 1
)

// ReadBuffer is the bounded inbound byte buffer described in spec §3.
// It owns no pool: it is sized once per connection and reused across
// requests for the connection's lifetime.
type ReadBuffer struct {
	buf   []byte
	limit int
}

func newReadBuffer(limit int) *ReadBuffer {
	initial := limit
	if initial > 4096 {
		initial = 4096
	}
	return &ReadBuffer{buf: make([]byte, 0, initial), limit: limit}
}

// Len reports the number of unconsumed bytes currently buffered.
func (b *ReadBuffer) Len() int { return len(b.buf) }

// Bytes exposes the unconsumed prefix for the codec to parse against.
func (b *ReadBuffer) Bytes() []byte { return b.buf }

// Backpressure is true once the buffer has reached its configured
// limit; the dispatcher must stop reading until the codec has
// consumed enough of it to fall back under the limit.
func (b *ReadBuffer) Backpressure() bool {
	return len(b.buf)*readBufferHighWaterDen >= b.limit*readBufferHighWaterNum
}

// Advance drops the first n consumed bytes (the codec calls this after
// a successful decodeHead / TransferCoding.Decode).
func (b *ReadBuffer) Advance(n int) {
	if n <= 0 {
		return
	}
	remaining := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:remaining]
}

// Reserve grows buf (up to limit) and returns the writable tail for a
// Read call to fill, along with whether any space is available at
// all (false means the buffer is at its hard limit and the caller
// must not read further: the "buffer cannot grow" half of
// ParseHeaderTooLarge).
func (b *ReadBuffer) Reserve() (tail []byte, ok bool) {
	if len(b.buf) >= b.limit {
		return nil, false
	}
	if cap(b.buf) == len(b.buf) {
		newCap := roundUpForSliceCap(cap(b.buf) + 1)
		if newCap < 4096 {
			newCap = 4096
		}
		if newCap > b.limit {
			newCap = b.limit
		}
		grown := make([]byte, len(b.buf), newCap)
		copy(grown, b.buf)
		b.buf = grown
	}
	return b.buf[len(b.buf):cap(b.buf)], true
}

// Commit records that n bytes of a previous Reserve tail were filled.
func (b *ReadBuffer) Commit(n int) {
	b.buf = b.buf[:len(b.buf)+n]
}

// AtLimit reports whether the buffer has reached ReadBufLimit with no
// room left to grow, i.e. decodeHead cannot ask for more bytes.
func (b *ReadBuffer) AtLimit() bool { return len(b.buf) >= b.limit }

// WriteBuffer is the outbound byte buffer abstraction from spec §3:
// either a flat contiguous buffer or a list of owned chunks for
// vectored writes. Both variants are driven by the dispatcher's
// flushAll (dispatcher.go), which hands Pending() to the transport's
// write pump and reports back how many bytes were actually written via
// Consumed.
type WriteBuffer interface {
	// WantWrite reports whether any unwritten bytes remain.
	WantWrite() bool
	// Backpressure reports whether the buffer has grown past
	// WriteBufLimit; response-body polling must pause until it drops
	// back down.
	Backpressure() bool
	// Pending exposes the unwritten bytes, batched for a single
	// (possibly vectored) write syscall.
	Pending() net.Buffers
	// Consumed removes n written bytes from the front of Pending().
	Consumed(n int64)
	// EnqueueBytes appends p to the buffer, copying it (the caller's
	// slice may be reused or come from a pool).
	EnqueueBytes(p []byte)
	// Release returns pooled storage; call when the buffer is no
	// longer needed (connection teardown).
	Release()
}

// FlatWriteBuffer is the contiguous variant: one growable byte slice,
// advanced by a read cursor as bytes are confirmed written. Mandatory
// when the transport does not support vectored writes, to avoid tiny
// per-chunk syscalls (spec §9 design note).
type FlatWriteBuffer struct {
	bb     *ByteBuffer
	cursor int
	limit  int
}

// NewFlatWriteBuffer constructs a FlatWriteBuffer bounded by limit.
func NewFlatWriteBuffer(limit int) *FlatWriteBuffer {
	return &FlatWriteBuffer{bb: AcquireByteBuffer(), limit: limit}
}

func (f *FlatWriteBuffer) WantWrite() bool { return f.cursor < len(f.bb.B) }

func (f *FlatWriteBuffer) Backpressure() bool { return len(f.bb.B)-f.cursor >= f.limit }

func (f *FlatWriteBuffer) Pending() net.Buffers {
	if f.cursor >= len(f.bb.B) {
		return nil
	}
	return net.Buffers{f.bb.B[f.cursor:]}
}

func (f *FlatWriteBuffer) Consumed(n int64) {
	f.cursor += int(n)
	if f.cursor >= len(f.bb.B) {
		f.bb.Reset()
		f.cursor = 0
	}
}

func (f *FlatWriteBuffer) EnqueueBytes(p []byte) {
	f.bb.B = append(f.bb.B, p...)
}

func (f *FlatWriteBuffer) Release() {
	ReleaseByteBuffer(f.bb)
	f.bb = nil
}

// ListWriteBuffer is the vectored variant: a queue of independently
// pooled chunks, flushed via net.Buffers (writev) in one syscall when
// the transport reports vectored-write support.
type ListWriteBuffer struct {
	chunks []*ByteBuffer
	off    int // bytes already confirmed written from chunks[0]
	size   int // total unwritten bytes across all chunks
	limit  int
}

// NewListWriteBuffer constructs a ListWriteBuffer bounded by limit.
func NewListWriteBuffer(limit int) *ListWriteBuffer {
	return &ListWriteBuffer{limit: limit}
}

func (l *ListWriteBuffer) WantWrite() bool { return l.size > 0 }

func (l *ListWriteBuffer) Backpressure() bool { return l.size >= l.limit }

func (l *ListWriteBuffer) Pending() net.Buffers {
	if len(l.chunks) == 0 {
		return nil
	}
	bufs := make(net.Buffers, len(l.chunks))
	bufs[0] = l.chunks[0].B[l.off:]
	for i := 1; i < len(l.chunks); i++ {
		bufs[i] = l.chunks[i].B
	}
	return bufs
}

func (l *ListWriteBuffer) Consumed(n int64) {
	l.size -= int(n)
	for n > 0 && len(l.chunks) > 0 {
		head := l.chunks[0]
		avail := int64(len(head.B) - l.off)
		if n < avail {
			l.off += int(n)
			n = 0
			break
		}
		n -= avail
		ReleaseByteBuffer(head)
		l.chunks = l.chunks[1:]
		l.off = 0
	}
}

func (l *ListWriteBuffer) EnqueueBytes(p []byte) {
	bb := AcquireByteBuffer()
	bb.B = append(bb.B, p...)
	l.chunks = append(l.chunks, bb)
	l.size += len(p)
}

func (l *ListWriteBuffer) Release() {
	for _, c := range l.chunks {
		ReleaseByteBuffer(c)
	}
	l.chunks = nil
}
