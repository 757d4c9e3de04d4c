// Package server accepts receiver connections and drives one session per
// connection through the registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ftx/internal/registry"
	"ftx/internal/transport"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Default server tuning.
const (
	DefaultReadTimeout  = 2 * time.Minute
	DefaultWriteTimeout = 30 * time.Second
	DefaultReadSize     = 64 * 1024
	DefaultQueueDepth   = 32
)

// Options configures a Server.
type Options struct {
	// ListenAddr is used by ListenAndServe.
	ListenAddr string
	// MaxClients caps concurrent connections; zero means unlimited.
	MaxClients int
	// ReadTimeout closes a connection that sends nothing for this long.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single reply write.
	WriteTimeout time.Duration
	// ReadSize is the largest slice handed to a session per read.
	ReadSize int
	// QueueDepth bounds the slices buffered between reader and session.
	QueueDepth int
	// TCP socket options for accepted connections.
	TCP transport.TCPOptions
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadSize <= 0 {
		o.ReadSize = DefaultReadSize
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	return o
}

// Server is the receiver's TCP front end.
type Server struct {
	opts     Options
	registry *registry.Registry

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc

	wg       sync.WaitGroup
	active   atomic.Int64
	shutdown atomic.Bool
}

// New returns a server dispatching connection bytes through reg.
func New(reg *registry.Registry, opts Options) *Server {
	return &Server{
		opts:     opts.withDefaults(),
		registry: reg,
	}
}

// ListenAndServe listens on Options.ListenAddr and serves until ctx is
// cancelled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It always returns a non-nil error;
// ErrServerClosed after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxClients > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxClients)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function":    "Serve",
		"addr":        ln.Addr().String(),
		"max_clients": s.opts.MaxClients,
	}).Info("Receiver listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				logrus.WithFields(logrus.Fields{
					"function": "Serve",
					"error":    err.Error(),
					"retry_in": backoff.String(),
				}).Warn("Accept failed")
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		transport.TuneTCP(conn, s.opts.TCP)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.ServeConn(ctx, conn, conn.RemoteAddr().String())
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, time.Second)
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Shutdown stops accepting, cancels open connections, and waits for their
// handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.registry.CloseAll()
	logrus.WithFields(logrus.Fields{
		"function": "Shutdown",
	}).Info("Receiver stopped")
	return nil
}
