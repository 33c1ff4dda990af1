package h1dispatch

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/valyala/tcplisten"
)

// Server accepts connections and dispatches each one to svc through a
// pooled worker goroutine. It is the h1dispatch counterpart of
// fasthttp's Server type, stripped to the dispatcher's own scope:
// there is no routing, TLS, or compression here, only connection
// lifecycle and the worker pool.
type Server struct {
	Service Service
	Config  Config
	Trace   *ServerTrace
	Logger  Logger

	// MaxWorkersCount bounds concurrently served connections; 0 means
	// unbounded (a new goroutine per connection beyond pool reuse).
	MaxWorkersCount int

	date DateSource
	pool *workerPool
}

// ListenAndServe opens a listener on addr and serves it. When
// reusePort is true the listener is built with SO_REUSEPORT via
// tcplisten, letting multiple processes (or goroutine groups) share
// the port for kernel-level load balancing.
func (s *Server) ListenAndServe(addr string, reusePort bool) error {
	var ln net.Listener
	var err error
	if reusePort {
		cfg := tcplisten.Config{ReusePort: true}
		ln, err = cfg.NewListener("tcp4", addr)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("h1dispatch: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until it returns a permanent
// error (typically because ln was closed).
func (s *Server) Serve(ln net.Listener) error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	if s.Logger == nil {
		s.Logger = defaultLogger
	}
	if s.Trace == nil {
		s.Trace = &ServerTrace{}
	}
	if s.date == nil {
		s.date = NewCachedDateSource()
	}

	s.pool = &workerPool{
		Handler:         s.serveConn,
		Logger:          s.Logger,
		MaxWorkersCount: s.MaxWorkersCount,
	}
	s.pool.Start()
	defer s.pool.Stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		if !s.pool.Serve(conn) {
			s.Logger.Printf("h1dispatch: worker pool exhausted, rejecting %s", conn.RemoteAddr())
			_ = conn.Close()
		}
	}
}

// serveConn runs one connection's full request/response lifecycle
// until it closes or the keep-alive timer expires.
func (s *Server) serveConn(conn net.Conn) error {
	connID := uuid.NewString()
	d := NewDispatcher(conn, s.Service, s.Config, s.Trace, s.date, connID)
	return d.Run()
}
