package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Default stream tuning.
const (
	DefaultSendTimeout    = 30 * time.Second
	DefaultReceiveTimeout = 30 * time.Second
	DefaultSegmentSize    = 256 * 1024
)

// Options tunes a Stream. Zero fields take the defaults.
type Options struct {
	// SendTimeout is the longest a send may go without writing a byte.
	SendTimeout time.Duration
	// ReceiveTimeout is the longest a receive may go without reading a byte.
	ReceiveTimeout time.Duration
	// SegmentSize bounds a single Write call on the underlying stream.
	SegmentSize int
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	return o
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Stream is a Transport over any io.ReadWriteCloser. Streams that accept
// deadlines (net.Conn) get per-call socket deadlines; others are guarded by a
// watchdog that closes the stream when the idle timeout elapses.
type Stream struct {
	rw   io.ReadWriteCloser
	dl   deadliner
	opts Options

	sendMu sync.Mutex
	recvMu sync.Mutex

	closed    atomic.Bool
	timedOut  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*Stream)(nil)

// NewStream wraps rw.
func NewStream(rw io.ReadWriteCloser, opts Options) *Stream {
	s := &Stream{rw: rw, opts: opts.withDefaults()}
	if dl, ok := rw.(deadliner); ok {
		s.dl = dl
	}
	return s
}

// Send writes p in segments of at most SegmentSize bytes.
func (s *Stream) Send(ctx context.Context, p []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.precheck(ctx, "send"); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, s.abort)
	defer stop()

	idle := s.arm(s.opts.SendTimeout, true)
	defer idle.stop()

	for off := 0; off < len(p); {
		end := min(off+s.opts.SegmentSize, len(p))
		n, err := s.rw.Write(p[off:end])
		off += n
		if n > 0 {
			idle.reset()
		}
		if err != nil {
			if n > 0 && s.isTimeout(err) {
				continue
			}
			return s.wrap(ctx, "send", err)
		}
	}
	return nil
}

// ReceiveExact reads exactly n bytes, accepting them in whatever fragments
// the stream delivers.
func (s *Stream) ReceiveExact(ctx context.Context, n int) ([]byte, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if err := s.precheck(ctx, "receive"); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, s.abort)
	defer stop()

	idle := s.arm(s.opts.ReceiveTimeout, false)
	defer idle.stop()

	buf := make([]byte, n)
	for got := 0; got < n; {
		m, err := s.rw.Read(buf[got:])
		got += m
		if m > 0 {
			idle.reset()
		}
		if got == n {
			break
		}
		if err != nil {
			if m > 0 && s.isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, s.wrap(ctx, "receive", err)
		}
	}
	return buf, nil
}

// Alive reports whether the stream has not been closed.
func (s *Stream) Alive() bool { return !s.closed.Load() }

// Close closes the underlying stream once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.rw.Close()
	})
	return s.closeErr
}

func (s *Stream) abort() {
	logrus.WithFields(logrus.Fields{
		"function": "abort",
	}).Debug("Context cancelled, closing stream")
	_ = s.Close()
}

func (s *Stream) precheck(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Err: err}
	}
	if s.closed.Load() {
		return &Error{Op: op, Err: ErrClosed}
	}
	return nil
}

func (s *Stream) wrap(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case s.timedOut.Load() || s.isTimeout(err):
		err = ErrTimeout
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		err = ErrClosed
	case s.closed.Load() && !errors.Is(err, io.ErrUnexpectedEOF):
		err = ErrClosed
	}
	return &Error{Op: op, Err: err}
}

func (s *Stream) isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// idleGuard re-arms the idle timeout after each unit of progress.
type idleGuard struct {
	reset func()
	stop  func()
}

func (s *Stream) arm(timeout time.Duration, write bool) idleGuard {
	if s.dl != nil {
		set := s.dl.SetReadDeadline
		if write {
			set = s.dl.SetWriteDeadline
		}
		_ = set(time.Now().Add(timeout))
		return idleGuard{
			reset: func() { _ = set(time.Now().Add(timeout)) },
			stop:  func() { _ = set(time.Time{}) },
		}
	}

	timer := time.AfterFunc(timeout, func() {
		s.timedOut.Store(true)
		_ = s.Close()
	})
	return idleGuard{
		reset: func() { timer.Reset(timeout) },
		stop:  func() { timer.Stop() },
	}
}
