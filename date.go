package h1dispatch

import (
	"sync/atomic"
	"time"
)

// DateSource is the shared, externally-refreshed clock the codec reads
// from when injecting a Date header. The dispatcher only reads it,
// never writes it — refreshing happens out-of-band (typically once per
// second), matching spec §9's "Date header" design note.
type DateSource interface {
	// Now returns the wall-clock time of the source's last refresh.
	Now() time.Time
	// HTTPDate returns the current time pre-formatted as an RFC 7231
	// IMF-fixdate byte slice, ready to append after "Date: ".
	HTTPDate() []byte
}

// cachedDate refreshes its formatted value once per second on a
// background goroutine, exactly as fasthttp's server_date.go /
// coarseTime.go do, so that encodeHead never pays a time.Now +
// time.Format per response.
type cachedDate struct {
	now  atomic.Value // time.Time
	date atomic.Value // []byte
	stop chan struct{}
}

// NewCachedDateSource starts the background refresher and returns a
// DateSource. Call Stop when the server shuts down.
func NewCachedDateSource() *cachedDate {
	d := &cachedDate{stop: make(chan struct{})}
	d.refresh()
	go d.loop()
	return d
}

func (d *cachedDate) loop() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			d.refresh()
		}
	}
}

func (d *cachedDate) refresh() {
	now := time.Now()
	d.now.Store(now)
	d.date.Store(appendHTTPDate(nil, now))
}

func (d *cachedDate) Now() time.Time {
	v := d.now.Load()
	if v == nil {
		return time.Now()
	}
	return v.(time.Time)
}

func (d *cachedDate) HTTPDate() []byte {
	v := d.date.Load()
	if v == nil {
		return appendHTTPDate(nil, time.Now())
	}
	return v.([]byte)
}

// Stop halts the background refresh goroutine.
func (d *cachedDate) Stop() { close(d.stop) }

// httpDateLayout is the RFC 7231 IMF-fixdate layout, identical to what
// fasthttp's bytesconv.go AppendHTTPDate produces (and what net/http
// calls TimeFormat). Spelled out locally to avoid an import solely for
// one layout string.
const httpDateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// appendHTTPDate appends t formatted as an RFC 7231 IMF-fixdate via the
// stdlib time layout rather than a hand-rolled scanner, since no
// generated lookup table shipped with the retrieved source (see
// DESIGN.md).
func appendHTTPDate(dst []byte, t time.Time) []byte {
	return t.UTC().AppendFormat(dst, httpDateLayout)
}
