/*
Package h1dispatch implements a connection-oriented HTTP/1.x dispatcher:
a state machine that decodes one request at a time off a net.Conn,
hands it to a Service, and streams the Response back, cycling through
keep-alive until the peer or the Service asks to close.

The dispatcher is built around:

    * A bounded ReadBuffer and a pluggable flat-or-vectored WriteBuffer,
      both with explicit backpressure (spec'd limits, not unbounded
      growth).
    * A TransferCoding abstraction covering Content-Length, chunked,
      upgrade, and bodyless framing on both the decode and encode side.
    * A single-producer/single-consumer RequestBody channel so a
      Service can stream a request body without the dispatcher
      buffering it all in memory first.
    * 100-continue gated on the Service actually having started
      reading the body, not merely on the header being present.
    * A worker pool that reuses goroutines across connections rather
      than spawning one per accept.

Package h1dispatch has no server framework above the dispatcher loop
itself: routing, TLS termination, compression, and request-body
convenience parsing are all left to the Service implementation.
*/
package h1dispatch
