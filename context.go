package h1dispatch

// ConnType is the per-connection framing disposition, set by the codec
// from HTTP version / Connection header and mutated by the dispatcher
// on error paths.
type ConnType int

const (
	// ConnInit is the state before any request has completed on this
	// connection.
	ConnInit ConnType = iota
	// ConnKeepAlive means another request is expected after the
	// current one completes.
	ConnKeepAlive
	// ConnClose means the dispatcher must not decode another request
	// after the current response finishes.
	ConnClose
)

// headerSlot is one scratch header-parsing slot; Context holds
// HeaderLimit of them. decodeHead uses only the length of that array,
// as its header-count bound, and does not fill the slots; HeaderSlot
// (below) is the owned copy handed to Request/Response consumers.
type headerSlot struct {
	key   []byte
	value []byte
}

// HeaderSlot is an owned header field surviving read-buffer reuse.
type HeaderSlot struct {
	Key   []byte
	Value []byte
}

// Context holds the per-connection invariants the codec and
// dispatcher share: connection type, expect-continue flag, the fixed
// header-slot scratch array, and a borrowed DateSource. Created once
// per connection, destroyed when the dispatcher returns.
type Context struct {
	ctype          ConnType
	expectContinue bool
	scratch        []headerSlot
	date           DateSource
}

// NewContext constructs a Context with headerLimit scratch slots,
// borrowing date for Date-header injection.
func NewContext(headerLimit int, date DateSource) *Context {
	return &Context{scratch: make([]headerSlot, headerLimit), date: date}
}

// CType returns the current connection type.
func (c *Context) CType() ConnType { return c.ctype }

// SetCType sets the connection type. Once set to ConnClose, the
// dispatcher must not decode further requests on this connection.
func (c *Context) SetCType(t ConnType) { c.ctype = t }

// IsConnectionClosed reports ctype == ConnClose.
func (c *Context) IsConnectionClosed() bool { return c.ctype == ConnClose }

// IsExpectHeader reports whether the most recently decoded request
// bore Expect: 100-continue.
func (c *Context) IsExpectHeader() bool { return c.expectContinue }

// resetForHead clears per-request scratch state before a fresh
// decodeHead attempt; the connection-type default is applied by the
// caller per spec §4.2 (HTTP/1.1 defaults KeepAlive, HTTP/1.0 Close).
func (c *Context) resetForHead() {
	c.expectContinue = false
}
