package h1dispatch

import "net"

// ServerTrace is a set of best-effort hooks run at various stages of a
// connection's lifetime. Any hook may be nil. Hooks may be called
// concurrently from different connections' dispatcher goroutines and
// must not block or mutate shared state without their own
// synchronization. This is the dispatcher's only sanctioned
// observability surface; full metrics/tracing integration is out of
// scope (see Non-goals).
//
// Adapted from fasthttp's ServerTrace, narrowed to the connection/
// request boundary the dispatcher actually owns (no hijack hook: this
// package has no hijacking concept).
type ServerTrace struct {
	// GotConn fires once per connection, before the dispatcher's first
	// read.
	GotConn func(conn net.Conn, connID string)

	// ClosedConn fires after the dispatcher has returned and the
	// transport has been shut down.
	ClosedConn func(conn net.Conn, connID string, err error)

	// GotRequestHead fires after decodeHead succeeds, before the
	// service is called.
	GotRequestHead func(connID string, req *Request)

	// WroteResponse fires once a Service response has been written (or
	// writing it failed), with the number of bytes flushed, head
	// included, and the error that ended the write, if any. It does not
	// fire for the dispatcher's canned error responses.
	WroteResponse func(connID string, n int64, err error)
}

func (t *ServerTrace) gotConn(conn net.Conn, id string) {
	if t != nil && t.GotConn != nil {
		t.GotConn(conn, id)
	}
}

func (t *ServerTrace) closedConn(conn net.Conn, id string, err error) {
	if t != nil && t.ClosedConn != nil {
		t.ClosedConn(conn, id, err)
	}
}

func (t *ServerTrace) gotRequestHead(id string, req *Request) {
	if t != nil && t.GotRequestHead != nil {
		t.GotRequestHead(id, req)
	}
}

func (t *ServerTrace) wroteResponse(id string, n int64, err error) {
	if t != nil && t.WroteResponse != nil {
		t.WroteResponse(id, n, err)
	}
}
