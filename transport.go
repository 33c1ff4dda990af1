package h1dispatch

import (
	"net"
	"sync"
	"time"
)

// readResult is one readPump outcome: either len(Data) > 0 bytes, or a
// terminal Err (io.EOF on a clean peer close, or a wrapped net error).
type readResult struct {
	Data []byte
	Err  error
}

// writeResult reports how much of a requested net.Buffers batch the
// writePump got onto the wire before Err (nil on full success).
type writeResult struct {
	N   int64
	Err error
}

// Transport bridges a blocking net.Conn to the dispatcher's single
// select loop via two pump goroutines, one per direction. Real Go
// sockets have no non-blocking "try read"/"try write" the way the
// source's async reactor does; running each direction's blocking call
// on its own goroutine and reporting completion over a channel is
// this port's substitute (spec §4.1/§9), letting the dispatcher still
// express "race the next inbound byte against the current response
// write" as one native select.
//
// Both pumps are demand-driven: readPump blocks on conn.Read only
// after the dispatcher signals room via RequestRead, so read-buffer
// backpressure is enforced simply by the dispatcher withholding that
// signal. writePump performs one net.Buffers.WriteTo per
// RequestWrite, which itself loops internally until every buffer is
// flushed or the write fails, mirroring a single vectored write
// syscall sequence.
type Transport struct {
	conn         net.Conn
	writeTimeout time.Duration

	readResume chan int
	readCh     chan readResult

	writeReq  chan net.Buffers
	writeDone chan writeResult

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTransport wraps conn and starts its pump goroutines. writeTimeout,
// if positive, is applied as a fresh write deadline before every
// RequestWrite's underlying syscall sequence (not via a wrapping
// net.Conn, which would hide *net.TCPConn from net.Buffers.WriteTo's
// internal writev fast path).
func NewTransport(conn net.Conn, writeTimeout time.Duration) *Transport {
	t := &Transport{
		conn:         conn,
		writeTimeout: writeTimeout,
		readResume:   make(chan int, 1),
		readCh:       make(chan readResult),
		writeReq:     make(chan net.Buffers),
		writeDone:    make(chan writeResult),
		closed:       make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t
}

// Conn exposes the underlying connection, for deadline manipulation
// (KeepAliveTimer) and RemoteAddr.
func (t *Transport) Conn() net.Conn { return t.conn }

// ReadResultChan is the channel the dispatcher selects on for inbound
// bytes; exactly one result arrives per RequestRead call.
func (t *Transport) ReadResultChan() <-chan readResult { return t.readCh }

// RequestRead permits the read pump to perform its next blocking
// Read, bounded to at most maxLen bytes (the length of the
// dispatcher's currently reserved ReadBuffer tail). Must not be called
// again until the previous request's result has been received on
// ReadResultChan, and must not be called at all while the
// dispatcher's ReadBuffer reports Backpressure().
func (t *Transport) RequestRead(maxLen int) {
	select {
	case t.readResume <- maxLen:
	case <-t.closed:
	}
}

// readPump's scratch buffer is grown to fit the largest maxLen seen so
// far and every Read is bounded by buf[:maxLen]; a single Read call
// therefore never returns more bytes than the dispatcher asked for,
// so nothing pulled off the socket is ever discarded by the
// Commit(copy(tail, res.Data)) on the other end.
func (t *Transport) readPump() {
	var buf []byte
	for {
		var maxLen int
		select {
		case maxLen = <-t.readResume:
		case <-t.closed:
			return
		}
		if cap(buf) < maxLen {
			buf = make([]byte, maxLen)
		}
		n, err := t.conn.Read(buf[:maxLen])
		var data []byte
		if n > 0 {
			data = append([]byte(nil), buf[:n]...)
		}
		select {
		case t.readCh <- readResult{Data: data, Err: err}:
		case <-t.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// WriteResultChan is the channel the dispatcher selects on for write
// completion; exactly one result arrives per RequestWrite call.
func (t *Transport) WriteResultChan() <-chan writeResult { return t.writeDone }

// RequestWrite hands bufs to the write pump. Must not be called again
// until the previous request's result has been received on
// WriteResultChan.
func (t *Transport) RequestWrite(bufs net.Buffers) {
	select {
	case t.writeReq <- bufs:
	case <-t.closed:
	}
}

func (t *Transport) writePump() {
	for {
		var bufs net.Buffers
		select {
		case bufs = <-t.writeReq:
		case <-t.closed:
			return
		}
		if t.writeTimeout > 0 {
			if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
				select {
				case t.writeDone <- writeResult{Err: err}:
				case <-t.closed:
				}
				return
			}
		}
		n, err := bufs.WriteTo(t.conn)
		select {
		case t.writeDone <- writeResult{N: n, Err: err}:
		case <-t.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// Shutdown stops both pumps and closes the connection. Safe to call
// more than once and from any goroutine.
func (t *Transport) Shutdown() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}
