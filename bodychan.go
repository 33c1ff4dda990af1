package h1dispatch

import (
	"context"
	"sync"
)

// RequestBody is the single-producer/single-consumer request-body
// stream from spec §3/§4.4. The dispatcher is the sole producer
// (internal feed/ready/waitForPoll/abandon methods below); the
// Service is the sole consumer via the exported Chunks method.
//
// Go has no borrow-checker-enforced Drop to notice when a consumer
// walks away mid-body the way the Rust source does; this port
// substitutes a context.Context, cancelled by the dispatcher's
// serveOne the instant the Service call returns, as the "receiver
// dropped" signal every producer-side suspension point selects on.
type RequestBody struct {
	data    chan BodyChunk // capacity 1: the one in-flight chunk bound.
	permit  chan struct{}  // capacity 1: held by whoever may next send on data.
	out     chan BodyChunk // unbuffered: the consumer-facing rendezvous point.
	touched chan struct{}

	touchOnce sync.Once
	closeOnce sync.Once
}

func newRequestBody() *RequestBody {
	b := &RequestBody{
		data:    make(chan BodyChunk, 1),
		permit:  make(chan struct{}, 1),
		out:     make(chan BodyChunk),
		touched: make(chan struct{}),
	}
	b.permit <- struct{}{}
	go b.forward()
	return b
}

// emptyRequestBody returns a RequestBody that is already at EOF, for
// requests whose inbound TransferCoding.IsEOF() is true (no body).
// Mirrors RequestBodyHandle::new_pair's allocation-avoiding fast path
// in the source (see SPEC_FULL.md §9).
func emptyRequestBody() *RequestBody {
	b := &RequestBody{out: make(chan BodyChunk), touched: make(chan struct{})}
	close(b.out)
	close(b.touched)
	return b
}

// forward relays chunks from data (the bounded producer-side buffer)
// to out (the consumer rendezvous), replenishing the send permit only
// once a chunk has actually been handed to the consumer — this is
// what makes Ready() wait for the consumer to have taken the
// *previous* chunk, not merely for buffer space.
func (b *RequestBody) forward() {
	for chunk := range b.data {
		b.out <- chunk
		select {
		case b.permit <- struct{}{}:
		default:
		}
	}
	close(b.out)
}

// Chunks returns the channel the Service ranges over to read the
// request body. The first call marks the stream as "touched", which
// unblocks any in-flight waitForPoll (used exclusively to gate
// 100-continue emission).
func (b *RequestBody) Chunks() <-chan BodyChunk {
	b.touchOnce.Do(func() { close(b.touched) })
	return b.out
}

// ready suspends until the consumer has drained the previous chunk
// (or the body was never fed a chunk yet), or ctx is done, which the
// dispatcher treats as the consumer having abandoned the body.
func (b *RequestBody) ready(ctx context.Context) error {
	select {
	case <-b.permit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForPoll resolves the first time the consumer calls Chunks(), or
// fails if ctx is done first (the consumer was never going to read).
func (b *RequestBody) waitForPoll(ctx context.Context) error {
	select {
	case <-b.touched:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// feedData enqueues a chunk. Must only be called immediately after a
// successful ready(); the send never blocks because ready() already
// reserved the single slot.
func (b *RequestBody) feedData(p []byte) {
	b.data <- BodyChunk{Data: p}
}

// feedEOF signals body completion; no further feeds are legal.
func (b *RequestBody) feedEOF() {
	b.closeOnce.Do(func() { close(b.data) })
}

// feedError delivers a terminal error to the consumer.
func (b *RequestBody) feedError(err error) {
	b.closeOnce.Do(func() {
		b.data <- BodyChunk{Err: err}
		close(b.data)
	})
}

// abandon tears down the producer side without a proper EOF, used
// when the dispatcher gives up on feeding because the Service's call
// already returned. Safe to call alongside feedEOF/feedError; only the
// first of any of the three takes effect.
func (b *RequestBody) abandon() {
	b.closeOnce.Do(func() { close(b.data) })
}

// DecodeState is the outcome of one RequestBodyHandle.decode call.
type DecodeState int

const (
	// DecodeContinue means the decoder needs more bytes.
	DecodeContinue DecodeState = iota
	// DecodeEOF means the body has been fully decoded and fed.
	DecodeEOF
)

// RequestBodyHandle pairs a TransferCoding decoder with the producer
// half of a RequestBody, owned exclusively by the dispatcher.
type RequestBodyHandle struct {
	decoder TransferCoding
	body    *RequestBody
	eof     bool
}

// newRequestBodyHandle builds the (handle, body) pair for a decoded
// request. If coding.IsEOF(), the returned handle is nil and the body
// is a pre-closed emptyRequestBody: no data or permit channel and no
// forward goroutine are allocated.
func newRequestBodyHandle(coding TransferCoding) (*RequestBodyHandle, *RequestBody) {
	if coding.IsEOF() {
		return nil, emptyRequestBody()
	}
	body := newRequestBody()
	return &RequestBodyHandle{decoder: coding, body: body}, body
}

// decode drains as many body chunks as the read buffer currently
// holds, feeding each into the channel. Returns DecodeContinue if the
// decoder needs more bytes from the transport, DecodeEOF once the
// terminal empty-chunk sentinel is produced. Each feed waits on
// ready(ctx) first, so a consumer that never calls Chunks() (or that
// stops draining once the Service returns) caps how far decode can
// run ahead rather than just relying on the channel's own capacity.
func (h *RequestBodyHandle) decode(ctx context.Context, rb *ReadBuffer) (DecodeState, error) {
	for {
		chunk, ok, err := h.decoder.Decode(rb)
		if err != nil {
			return DecodeContinue, err
		}
		if !ok {
			return DecodeContinue, nil
		}
		if len(chunk) == 0 {
			if err := h.ready(ctx); err != nil {
				return DecodeContinue, err
			}
			h.body.feedEOF()
			h.eof = true
			return DecodeEOF, nil
		}
		if err := h.ready(ctx); err != nil {
			return DecodeContinue, err
		}
		h.body.feedData(chunk)
	}
}

func (h *RequestBodyHandle) ready(ctx context.Context) error {
	if err := h.body.ready(ctx); err != nil {
		return err
	}
	return nil
}

func (h *RequestBodyHandle) waitForPoll(ctx context.Context) error {
	return h.body.waitForPoll(ctx)
}
