package h1dispatch

import (
	"context"
	"errors"
	"io"
	"net"
)

// Dispatcher drives one connection's full state machine (spec §4.5):
// Idle -> Reading -> Decoding -> Serving -> Responding -> Idle|Closing.
// One Dispatcher is created per accepted connection and its Run method
// occupies exactly one goroutine for the connection's lifetime; all
// concurrency below it (transport pumps, the Service call, the
// request-body feed) is fanned back into that single goroutine's
// select loop via per-wait result channels, the same "race everything
// through one loop" shape the source's select! macro expresses.
type Dispatcher struct {
	transport *Transport
	rb        *ReadBuffer
	ctx       *Context
	keepAlive *KeepAliveTimer
	svc       Service
	cfg       Config
	trace     *ServerTrace
	connID    string
}

// NewDispatcher builds a Dispatcher for an accepted connection.
func NewDispatcher(conn net.Conn, svc Service, cfg Config, trace *ServerTrace, date DateSource, connID string) *Dispatcher {
	return &Dispatcher{
		transport: NewTransport(conn, cfg.WriteTimeout),
		rb:        newReadBuffer(cfg.ReadBufLimit),
		ctx:       NewContext(cfg.HeaderLimit, date),
		keepAlive: NewKeepAliveTimer(conn, cfg.KeepAliveTimeout),
		svc:       svc,
		cfg:       cfg,
		trace:     trace,
		connID:    connID,
	}
}

// Run executes the dispatch loop until the connection closes, the
// keep-alive timer expires, or a fatal error occurs. A clean close or
// keep-alive expiry is reported as a nil error; anything else is a
// genuine failure worth logging.
func (d *Dispatcher) Run() error {
	defer d.transport.Shutdown()
	d.trace.gotConn(d.transport.Conn(), d.connID)

	var retErr error
	for {
		if err := d.keepAlive.Arm(); err != nil {
			retErr = wrapIO("set-read-deadline", err)
			break
		}

		req, handle, body, err := d.readAndDecodeHead()
		if err != nil {
			retErr = d.classifyHeadError(err)
			break
		}

		if err := d.keepAlive.Disarm(); err != nil {
			retErr = wrapIO("clear-read-deadline", err)
			break
		}

		req.RemoteAddr = d.transport.Conn().RemoteAddr()
		req.Body = body
		d.trace.gotRequestHead(d.connID, req)

		forceClose, err := d.serveOne(req, handle)
		if err != nil {
			retErr = err
			break
		}
		if forceClose || d.ctx.IsConnectionClosed() {
			retErr = nil
			break
		}
	}

	d.transport.Shutdown()
	d.trace.closedConn(d.transport.Conn(), d.connID, retErr)
	return retErr
}

// classifyHeadError turns a readAndDecodeHead failure into the Run
// outcome: keep-alive expiry and a clean peer close both resolve to a
// nil (successful) return; a local parse violation gets a canned
// response and still resolves to nil (the response itself reports the
// failure to the peer); anything else propagates as a real error.
func (d *Dispatcher) classifyHeadError(err error) error {
	if d.keepAlive.Fired(err) {
		return nil
	}
	if errors.Is(err, ErrClosed) {
		return nil
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		d.respondCanned(perr)
		return nil
	}
	return err
}

// readAndDecodeHead pulls bytes from the transport until decodeHead
// can parse a full request line + headers, or a fatal/parse error
// occurs.
func (d *Dispatcher) readAndDecodeHead() (*Request, *RequestBodyHandle, *RequestBody, error) {
	for {
		req, coding, ok, err := decodeHead(d.rb, d.ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		if ok {
			handle, body := newRequestBodyHandle(coding)
			return req, handle, body, nil
		}
		if err := d.fillReadBuffer(); err != nil {
			return nil, nil, nil, err
		}
	}
}

// fillReadBuffer reserves space in rb, asks the transport for at most
// that much more data, and commits what arrives. Timeout errors are
// returned unwrapped so KeepAliveTimer.Fired can recognize them.
func (d *Dispatcher) fillReadBuffer() error {
	tail, ok := d.rb.Reserve()
	if !ok {
		return newParseError(ParseHeaderTooLarge, "read buffer at limit")
	}
	d.transport.RequestRead(len(tail))
	res := <-d.transport.ReadResultChan()
	if len(res.Data) > 0 {
		d.rb.Commit(copy(tail, res.Data))
	}
	if res.Err != nil {
		if res.Err == io.EOF {
			return ErrClosed
		}
		if ne, ok := res.Err.(net.Error); ok && ne.Timeout() {
			return res.Err
		}
		return wrapIO("read", res.Err)
	}
	return nil
}

// fillReadBufferCtx is fillReadBuffer's body-phase counterpart: it
// also aborts on ctx cancellation, which the dispatcher fires the
// instant the Service call returns without having drained the body
// (the substitute for the source's Drop-based abandonment detection;
// see RequestBody's doc comment in bodychan.go).
func (d *Dispatcher) fillReadBufferCtx(ctx context.Context) error {
	tail, ok := d.rb.Reserve()
	if !ok {
		return &ProtoError{Err: errors.New("body read buffer at limit with no decodable chunk boundary")}
	}
	d.transport.RequestRead(len(tail))
	select {
	case res := <-d.transport.ReadResultChan():
		if len(res.Data) > 0 {
			d.rb.Commit(copy(tail, res.Data))
		}
		if res.Err != nil {
			if res.Err == io.EOF {
				return ErrClosed
			}
			return wrapIO("read", res.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBodyToEOF decodes and feeds the request body until EOF, a parse
// error, or ctx cancellation. Runs on its own goroutine for the
// duration of serveOne, reporting its outcome on done; ctx
// cancellation (the Service having returned without reading to EOF)
// stops it from blocking on the transport forever.
func (d *Dispatcher) runBodyToEOF(ctx context.Context, handle *RequestBodyHandle, done chan<- error) {
	for {
		state, err := handle.decode(ctx, d.rb)
		if err != nil {
			handle.body.feedError(err)
			done <- err
			return
		}
		if state == DecodeEOF {
			done <- nil
			return
		}
		if err := d.fillReadBufferCtx(ctx); err != nil {
			handle.body.abandon()
			done <- err
			return
		}
	}
}

type svcResult struct {
	resp *Response
	err  error
}

// serveOne runs the Serving and Responding states for one request: it
// invokes the Service, concurrently drains the request body (and
// gates an optional 100-continue on the body actually being polled),
// then streams the Response back once the Service returns. The
// returned bool reports whether the dispatcher must force the
// connection closed after this response (spec §7/§9: an unread body
// remainder, a Service error, an already-Close-coded connection, or an
// HTTP/1.0 request answered without Content-Length).
func (d *Dispatcher) serveOne(req *Request, handle *RequestBodyHandle) (bool, error) {
	svcCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan svcResult, 1)
	go func() {
		resp, err := d.svc.Call(svcCtx, req)
		resultCh <- svcResult{resp, err}
	}()

	var pollCh chan error
	if handle != nil && d.ctx.IsExpectHeader() {
		pollCh = make(chan error, 1)
		go func() { pollCh <- handle.waitForPoll(svcCtx) }()
	}

	var bodyDoneCh chan error
	if handle != nil {
		bodyDoneCh = make(chan error, 1)
		go d.runBodyToEOF(svcCtx, handle, bodyDoneCh)
	}

	var res svcResult
	bodyReachedEOF := false
serving:
	for {
		select {
		case res = <-resultCh:
			break serving
		case err := <-pollCh:
			pollCh = nil
			if err == nil {
				d.sendContinue()
			}
		case berr := <-bodyDoneCh:
			bodyDoneCh = nil
			bodyReachedEOF = berr == nil
		}
	}

	cancel() // any still-running body feed now sees the body as abandoned.

	// The Service can return before runBodyToEOF has reported even when
	// the body was fully fed (feedEOF is what lets a reading Service
	// finish). Every exit path of runBodyToEOF sends on bodyDoneCh and
	// the cancel above unblocks it, so wait for its outcome here.
	if bodyDoneCh != nil {
		bodyReachedEOF = <-bodyDoneCh == nil
	}

	// bodyReachedEOF is only ever set from a bodyDoneCh receive, which
	// happens-before this read (same goroutine, after the channel
	// rendezvous) -- reading handle.eof here instead would race with
	// runBodyToEOF's goroutine writing it.
	forceClose := d.ctx.IsConnectionClosed()
	if handle != nil && !bodyReachedEOF {
		forceClose = true
	}

	if res.err != nil {
		d.writeCanned(500)
		return true, nil
	}

	// An HTTP/1.0 peer has no framing to find the end of a response
	// without Content-Length other than the connection closing.
	if req.ProtoMajor == 1 && req.ProtoMinor == 0 && res.resp.Size.Kind != BodySizeSized {
		forceClose = true
	}

	n, err := d.writeResponse(res.resp)
	d.trace.wroteResponse(d.connID, n, err)
	if err != nil {
		return true, err
	}
	return forceClose, nil
}

// writeResponse serializes and flushes resp, returning the number of
// bytes written.
func (d *Dispatcher) writeResponse(resp *Response) (int64, error) {
	wb := d.newWriteBuffer()
	defer wb.Release()

	coding := encodeHead(resp, resp.Size, wb, d.ctx)
	var total int64

	if resp.Body != nil {
		for chunk := range resp.Body.Chunks() {
			if chunk.Err != nil {
				abandonBody(resp.Body)
				return total, &BodyError{Err: chunk.Err}
			}
			coding.Encode(chunk.Data, wb)
			if wb.Backpressure() {
				n, err := d.flushAll(wb)
				total += n
				if err != nil {
					abandonBody(resp.Body)
					return total, err
				}
			}
		}
	}
	coding.EncodeEOF(wb)
	n, err := d.flushAll(wb)
	total += n
	return total, err
}

// abandonBody tells body's producer goroutine, if it implements
// Abandoner, to stop: writeResponse is giving up on this response
// before draining Chunks() to completion.
func abandonBody(body BodyStream) {
	if a, ok := body.(Abandoner); ok {
		a.Abandon()
	}
}

// flushAll writes every pending byte in wb to the transport, looping
// over WriteOrPending-style partial writes until the buffer drains.
func (d *Dispatcher) flushAll(wb WriteBuffer) (int64, error) {
	var total int64
	for wb.WantWrite() {
		pending := wb.Pending()
		d.transport.RequestWrite(pending)
		res := <-d.transport.WriteResultChan()
		wb.Consumed(res.N)
		total += res.N
		if res.Err != nil {
			return total, wrapIO("write", res.Err)
		}
	}
	return total, nil
}

func (d *Dispatcher) sendContinue() {
	wb := NewFlatWriteBuffer(d.cfg.WriteBufLimit)
	encodeContinue(wb)
	d.flushAll(wb)
	wb.Release()
}

// respondCanned answers a head-decode-time parse failure with the
// matching local error response (431 for an oversized header block,
// 400 for anything else malformed). The connection is always torn
// down afterward: its framing state is no longer trustworthy.
func (d *Dispatcher) respondCanned(perr *ParseError) {
	status := 400
	if perr.Kind == ParseHeaderTooLarge {
		status = 431
	}
	d.writeCanned(status)
}

func (d *Dispatcher) writeCanned(status int) {
	wb := d.newWriteBuffer()
	coding := encodeHead(cannedResponse(status), NoBody, wb, d.ctx)
	coding.EncodeEOF(wb)
	d.flushAll(wb)
	wb.Release()
}

func (d *Dispatcher) newWriteBuffer() WriteBuffer {
	if d.cfg.VectoredWrite {
		// net.Buffers.WriteTo only issues a real writev for these
		// connection types; anything else gets the flat buffer.
		switch d.transport.Conn().(type) {
		case *net.TCPConn, *net.UnixConn:
			return NewListWriteBuffer(d.cfg.WriteBufLimit)
		}
	}
	return NewFlatWriteBuffer(d.cfg.WriteBufLimit)
}
