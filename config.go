package h1dispatch

import (
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config carries the per-server tuning knobs the dispatcher consumes.
// It plays the role fasthttp's Server struct fields play for its
// connection loop, but scoped to only what the dispatcher needs.
type Config struct {
	// KeepAliveTimeout bounds the time from the start of each wait for
	// a request (the idle time between requests on a keep-alive
	// connection) until that request's head has been fully read. It
	// does not bound reading the request body or writing the response.
	// Zero disables the deadline entirely.
	KeepAliveTimeout time.Duration

	// WriteTimeout, if non-zero, bounds a single write-pump flush.
	WriteTimeout time.Duration

	// VectoredWrite requests the list/vectored write-buffer strategy
	// when the transport reports vectored-write support. Ignored
	// otherwise (the flat buffer is used instead).
	VectoredWrite bool

	// HeaderLimit bounds the number of header slots decodeHead may use
	// per request.
	HeaderLimit int

	// ReadBufLimit bounds the read buffer in bytes.
	ReadBufLimit int

	// WriteBufLimit bounds the write buffer in bytes (soft: one extra
	// chunk may be enqueued past this before backpressure engages).
	WriteBufLimit int
}

// DefaultConfig mirrors fasthttp's DefaultConcurrency-style defaults:
// generous enough for general use, tight enough to bound memory per
// connection.
func DefaultConfig() Config {
	return Config{
		KeepAliveTimeout: 120 * time.Second,
		WriteTimeout:     30 * time.Second,
		VectoredWrite:    true,
		HeaderLimit:      64,
		ReadBufLimit:     64 * 1024,
		WriteBufLimit:    64 * 1024,
	}
}

// Validate rejects non-positive limits, aggregating every violation it
// finds via go-multierror so a caller fixing its config sees every
// mistake in one pass instead of one-at-a-time.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.HeaderLimit <= 0 {
		result = multierror.Append(result, errInvalidLimit("HeaderLimit", c.HeaderLimit))
	}
	if c.ReadBufLimit <= 0 {
		result = multierror.Append(result, errInvalidLimit("ReadBufLimit", c.ReadBufLimit))
	}
	if c.WriteBufLimit <= 0 {
		result = multierror.Append(result, errInvalidLimit("WriteBufLimit", c.WriteBufLimit))
	}
	if c.KeepAliveTimeout < 0 {
		result = multierror.Append(result, errInvalidDuration("KeepAliveTimeout", c.KeepAliveTimeout))
	}
	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}

func errInvalidLimit(name string, v int) error {
	return &configError{field: name, detail: "must be > 0", value: v}
}

func errInvalidDuration(name string, v time.Duration) error {
	return &configError{field: name, detail: "must be >= 0", value: v}
}

type configError struct {
	field  string
	detail string
	value  any
}

func (e *configError) Error() string {
	return "h1dispatch: config: " + e.field + " " + e.detail + " (got " + fmtAny(e.value) + ")"
}

func fmtAny(v any) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case time.Duration:
		return t.String()
	default:
		return "?"
	}
}
