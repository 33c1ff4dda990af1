package h1dispatch

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// TransferCodingKind tags the wire framing of a body, per spec §3.
type TransferCodingKind int

const (
	CodingLength TransferCodingKind = iota
	CodingChunked
	CodingUpgrade
	CodingEOF
)

// chunkPhase is the chunked-decoder substate machine.
type chunkPhase int

const (
	phaseSize chunkPhase = iota
	phaseData
	phaseDataCRLF
	phaseTrailer
	phaseDone
)

// TransferCoding carries the per-direction decode/encode state for one
// body, as described in spec §3/§4.2.
type TransferCoding struct {
	Kind TransferCodingKind

	// Length decode/encode state.
	remaining int64
	written   int64

	// Chunked decode state.
	phase          chunkPhase
	chunkRemaining int64

	done bool // EncodeEOF/decode-eof already emitted; further calls are no-ops.
}

var (
	crlf       = []byte("\r\n")
	crlfcrlf   = []byte("\r\n\r\n")
	chunkFinal = []byte("0\r\n\r\n")
)

// IsEOF reports whether this coding frames an empty (or closed) body.
func (c TransferCoding) IsEOF() bool { return c.Kind == CodingEOF }

// IsUpgrade reports whether this coding passes bytes through verbatim.
func (c TransferCoding) IsUpgrade() bool { return c.Kind == CodingUpgrade }

// Decode consumes framed bytes from rb, returning the next body chunk.
// ok=false means no chunk is available yet (more bytes needed);
// ok=true with an empty chunk is the EOF sentinel.
func (c *TransferCoding) Decode(rb *ReadBuffer) (chunk []byte, ok bool, err error) {
	switch c.Kind {
	case CodingLength:
		return c.decodeLength(rb)
	case CodingChunked:
		return c.decodeChunked(rb)
	case CodingUpgrade:
		return c.decodeUpgrade(rb)
	default: // CodingEOF
		if c.done {
			return nil, false, nil
		}
		c.done = true
		return nil, true, nil
	}
}

func (c *TransferCoding) decodeLength(rb *ReadBuffer) ([]byte, bool, error) {
	if c.done {
		return nil, false, nil
	}
	if c.remaining == 0 {
		c.done = true
		return nil, true, nil
	}
	avail := rb.Bytes()
	if len(avail) == 0 {
		return nil, false, nil
	}
	take := c.remaining
	if int64(len(avail)) < take {
		take = int64(len(avail))
	}
	data := append([]byte(nil), avail[:take]...)
	rb.Advance(int(take))
	c.remaining -= take
	return data, true, nil
}

func (c *TransferCoding) decodeUpgrade(rb *ReadBuffer) ([]byte, bool, error) {
	avail := rb.Bytes()
	if len(avail) == 0 {
		return nil, false, nil
	}
	data := append([]byte(nil), avail...)
	rb.Advance(len(avail))
	return data, true, nil
}

func (c *TransferCoding) decodeChunked(rb *ReadBuffer) ([]byte, bool, error) {
	for {
		switch c.phase {
		case phaseSize:
			line, ok := readCRLFLine(rb)
			if !ok {
				if rb.AtLimit() {
					return nil, false, newParseError(ParseInvalidChunkFraming, "chunk size line exceeds buffer")
				}
				return nil, false, nil
			}
			if i := bytes.IndexByte(line, ';'); i >= 0 {
				line = line[:i]
			}
			n, err := strconv.ParseInt(strings.TrimSpace(b2s(line)), 16, 64)
			if err != nil || n < 0 {
				return nil, false, newParseError(ParseInvalidChunkFraming, "bad chunk size")
			}
			if n == 0 {
				c.phase = phaseTrailer
				continue
			}
			c.chunkRemaining = n
			c.phase = phaseData
		case phaseData:
			avail := rb.Bytes()
			if len(avail) == 0 {
				return nil, false, nil
			}
			take := c.chunkRemaining
			if int64(len(avail)) < take {
				take = int64(len(avail))
			}
			data := append([]byte(nil), avail[:take]...)
			rb.Advance(int(take))
			c.chunkRemaining -= take
			if c.chunkRemaining == 0 {
				c.phase = phaseDataCRLF
			}
			return data, true, nil
		case phaseDataCRLF:
			switch consumeCRLF(rb) {
			case crlfMissing:
				return nil, false, nil
			case crlfBad:
				return nil, false, newParseError(ParseInvalidChunkFraming, "missing chunk CRLF")
			}
			c.phase = phaseSize
		case phaseTrailer:
			line, ok := readCRLFLine(rb)
			if !ok {
				if rb.AtLimit() {
					return nil, false, newParseError(ParseInvalidChunkFraming, "trailer line exceeds buffer")
				}
				return nil, false, nil
			}
			if len(line) == 0 {
				c.phase = phaseDone
				c.done = true
				return nil, true, nil
			}
			// trailers are ignored per spec §6 ("optional trailers ignored").
		case phaseDone:
			return nil, false, nil
		}
	}
}

type crlfResult int

const (
	crlfOK crlfResult = iota
	crlfMissing
	crlfBad
)

func consumeCRLF(rb *ReadBuffer) crlfResult {
	b := rb.Bytes()
	if len(b) < 2 {
		return crlfMissing
	}
	if b[0] != '\r' || b[1] != '\n' {
		return crlfBad
	}
	rb.Advance(2)
	return crlfOK
}

// readCRLFLine scans rb for the next CRLF-terminated line, returning
// it (without the CRLF) and advancing rb past it. ok=false means the
// terminator has not arrived yet.
func readCRLFLine(rb *ReadBuffer) ([]byte, bool) {
	b := rb.Bytes()
	i := bytes.Index(b, crlf)
	if i < 0 {
		return nil, false
	}
	line := append([]byte(nil), b[:i]...)
	rb.Advance(i + 2)
	return line, true
}

// Encode appends p to wb framed according to c.Kind.
func (c *TransferCoding) Encode(p []byte, wb WriteBuffer) {
	switch c.Kind {
	case CodingLength:
		n := int64(len(p))
		if c.remaining >= 0 && n > c.remaining {
			n = c.remaining
		}
		wb.EnqueueBytes(p[:n])
		c.remaining -= n
		c.written += n
	case CodingChunked:
		wb.EnqueueBytes(appendChunkHeader(nil, len(p)))
		wb.EnqueueBytes(p)
		wb.EnqueueBytes(crlf)
	case CodingUpgrade:
		wb.EnqueueBytes(p)
	default: // CodingEOF: silently dropped, as the response has no body.
	}
}

// EncodeEOF finalizes a response body's framing. A no-op once already
// called, per the idempotence property in spec §8.
func (c *TransferCoding) EncodeEOF(wb WriteBuffer) {
	if c.done {
		return
	}
	c.done = true
	if c.Kind == CodingChunked {
		wb.EnqueueBytes(chunkFinal)
	}
	// CodingLength's invariant (written == original Sized(n)) is a
	// caller contract the Service is expected to uphold; the source
	// debug-asserts it, but panicking in a library on a Service's
	// streaming mistake would take down an otherwise-healthy
	// connection pool, so this port leaves it unchecked.
}

// encodeContinue writes the literal 100-continue interim response.
func encodeContinue(wb WriteBuffer) {
	wb.EnqueueBytes([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
}

func appendChunkHeader(dst []byte, n int) []byte {
	dst = strconv.AppendInt(dst, int64(n), 16)
	return append(dst, '\r', '\n')
}

// decodeHead attempts to parse a request line + headers from the
// unconsumed prefix of rb, per spec §4.2. ok=false means insufficient
// bytes; err is a *ParseError for malformed input or header overflow.
func decodeHead(rb *ReadBuffer, ctx *Context) (req *Request, coding TransferCoding, ok bool, err error) {
	buf := rb.Bytes()
	end := bytes.Index(buf, crlfcrlf)
	if end < 0 {
		if rb.AtLimit() {
			return nil, TransferCoding{}, false, newParseError(ParseHeaderTooLarge, "no CRLFCRLF within ReadBufLimit")
		}
		return nil, TransferCoding{}, false, nil
	}
	head := buf[:end]
	lines := bytes.Split(head, crlf)

	reqLine := bytes.Fields(lines[0])
	if len(reqLine) != 3 {
		return nil, TransferCoding{}, false, newParseError(ParseMalformedRequestLine, string(lines[0]))
	}
	method := string(reqLine[0])
	target := append([]byte(nil), reqLine[1]...)
	major, minor, ok2 := parseHTTPVersion(reqLine[2])
	if !ok2 {
		return nil, TransferCoding{}, false, newParseError(ParseMalformedRequestLine, "bad version")
	}

	headerLines := lines[1:]
	if len(headerLines) > len(ctx.scratch) {
		return nil, TransferCoding{}, false, newParseError(ParseHeaderTooLarge, "too many headers")
	}

	ctx.resetForHead()

	var (
		headers                []HeaderSlot
		contentLength          int64 = -1
		sawContentLength       bool
		sawConflictingLength   bool
		teChunked              bool
		sawConnectionClose     bool
		sawConnectionKeepAlive bool
		sawUpgradeToken        bool
		sawUpgradeHeader       bool
		sawExpectContinue      bool
	)

	for _, line := range headerLines {
		if len(line) == 0 {
			continue
		}
		k, v, found := bytes.Cut(line, []byte(":"))
		if !found {
			return nil, TransferCoding{}, false, newParseError(ParseMalformedHeader, string(line))
		}
		key := bytes.TrimSpace(k)
		val := bytes.TrimSpace(v)
		if !httpguts.ValidHeaderFieldName(b2s(key)) || !httpguts.ValidHeaderFieldValue(b2s(val)) {
			return nil, TransferCoding{}, false, newParseError(ParseMalformedHeader, string(line))
		}
		headers = append(headers, HeaderSlot{Key: append([]byte(nil), key...), Value: append([]byte(nil), val...)})

		switch {
		case headerKeyEqual(key, "Content-Length"):
			n, perr := strconv.ParseInt(string(val), 10, 64)
			if perr != nil || n < 0 {
				return nil, TransferCoding{}, false, newParseError(ParseMalformedHeader, "bad Content-Length")
			}
			if sawContentLength && contentLength != n {
				sawConflictingLength = true
			}
			contentLength = n
			sawContentLength = true
		case headerKeyEqual(key, "Transfer-Encoding"):
			for _, tok := range splitTokens(val) {
				if strings.EqualFold(tok, "chunked") {
					teChunked = true
				}
			}
		case headerKeyEqual(key, "Connection"):
			for _, tok := range splitTokens(val) {
				switch {
				case strings.EqualFold(tok, "close"):
					sawConnectionClose = true
				case strings.EqualFold(tok, "keep-alive"):
					sawConnectionKeepAlive = true
				case strings.EqualFold(tok, "upgrade"):
					sawUpgradeToken = true
				}
			}
		case headerKeyEqual(key, "Upgrade"):
			sawUpgradeHeader = true
		case headerKeyEqual(key, "Expect"):
			if strings.EqualFold(b2s(bytes.TrimSpace(val)), "100-continue") {
				sawExpectContinue = true
			}
		}
	}

	if sawConflictingLength || (sawContentLength && teChunked) {
		return nil, TransferCoding{}, false, newParseError(ParseConflictingFraming, "Content-Length/Transfer-Encoding conflict")
	}

	// Connection-type defaults per spec §4.2: HTTP/1.1 -> KeepAlive,
	// HTTP/1.0 -> Close, explicit tokens always override.
	switch {
	case sawConnectionClose:
		ctx.SetCType(ConnClose)
	case sawConnectionKeepAlive:
		ctx.SetCType(ConnKeepAlive)
	case major == 1 && minor == 1:
		ctx.SetCType(ConnKeepAlive)
	default:
		ctx.SetCType(ConnClose)
	}
	ctx.expectContinue = sawExpectContinue

	switch {
	case sawUpgradeToken && sawUpgradeHeader:
		coding = TransferCoding{Kind: CodingUpgrade}
	case teChunked:
		coding = TransferCoding{Kind: CodingChunked}
	case sawContentLength && contentLength > 0:
		coding = TransferCoding{Kind: CodingLength, remaining: contentLength}
	case sawContentLength: // Content-Length: 0
		coding = TransferCoding{Kind: CodingEOF}
	default:
		coding = TransferCoding{Kind: CodingEOF}
	}

	rb.Advance(end + 4)

	req = &Request{
		Method:     method,
		RequestURI: target,
		ProtoMajor: major,
		ProtoMinor: minor,
		Headers:    headers,
	}
	return req, coding, true, nil
}

func parseHTTPVersion(v []byte) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !bytes.HasPrefix(v, []byte(prefix)) {
		return 0, 0, false
	}
	v = v[len(prefix):]
	dot := bytes.IndexByte(v, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(b2s(v[:dot]))
	min, err2 := strconv.Atoi(b2s(v[dot+1:]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

func splitTokens(v []byte) []string {
	parts := bytes.Split(v, []byte(","))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(b2s(p))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// encodeHead serializes resp's status line and headers into wb,
// injecting Date if the Service didn't set one, and emitting framing
// headers consistent with size. Returns the outbound TransferCoding.
func encodeHead(resp *Response, size BodySize, wb WriteBuffer, ctx *Context) TransferCoding {
	wb.EnqueueBytes([]byte("HTTP/1.1 "))
	wb.EnqueueBytes(strconv.AppendInt(nil, int64(resp.StatusCode), 10))
	wb.EnqueueBytes([]byte{' '})
	wb.EnqueueBytes(s2b(http.StatusText(resp.StatusCode)))
	wb.EnqueueBytes(crlf)

	sawDate := false
	for _, h := range resp.Headers {
		if headerKeyEqual(h.Key, "Date") {
			sawDate = true
		}
		if headerKeyEqual(h.Key, "Content-Length") || headerKeyEqual(h.Key, "Transfer-Encoding") {
			continue // framing headers are owned by encodeHead below.
		}
		writeHeaderLine(wb, h.Key, h.Value)
	}
	if !sawDate {
		writeHeaderLine(wb, []byte("Date"), ctx.date.HTTPDate())
	}

	var coding TransferCoding
	switch size.Kind {
	case BodySizeNone:
		coding = TransferCoding{Kind: CodingEOF}
	case BodySizeSized:
		writeHeaderLine(wb, []byte("Content-Length"), strconv.AppendInt(nil, size.N, 10))
		if size.N == 0 {
			coding = TransferCoding{Kind: CodingEOF}
		} else {
			coding = TransferCoding{Kind: CodingLength, remaining: size.N}
		}
	case BodySizeStream:
		writeHeaderLine(wb, []byte("Transfer-Encoding"), []byte("chunked"))
		coding = TransferCoding{Kind: CodingChunked}
	}

	wb.EnqueueBytes(crlf)
	return coding
}

func writeHeaderLine(wb WriteBuffer, key, value []byte) {
	wb.EnqueueBytes(key)
	wb.EnqueueBytes([]byte(": "))
	wb.EnqueueBytes(value)
	wb.EnqueueBytes(crlf)
}

// cannedResponse builds one of the dispatcher's local error responses
// (header-too-large / bad-request), always Close-coded and bodyless.
func cannedResponse(status int) *Response {
	return &Response{StatusCode: status}
}
