package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"ftx/internal/registry"

	"github.com/sirupsen/logrus"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// ServeConn runs one receiver session over rw until the peer disconnects,
// the connection goes idle, or ctx is cancelled. A reader goroutine hands
// inbound slices to this goroutine over a bounded channel, so the session
// sees them strictly in arrival order. rw is closed on return.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriteCloser, remote string) error {
	s.active.Add(1)
	defer s.active.Add(-1)

	id := registry.NewID()
	s.registry.Open(id)
	defer s.registry.Close(id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { rw.Close() })
	defer stop()
	defer rw.Close()

	log := logrus.WithFields(logrus.Fields{
		"function": "ServeConn",
		"conn_id":  id,
		"remote":   remote,
	})
	log.Info("Connection opened")

	chunks := make(chan []byte, s.opts.QueueDepth)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, rw, chunks, readErr)

	err := s.consume(ctx, id, rw, chunks)
	if err == nil {
		err = <-readErr
	}
	cancelled := ctx.Err() != nil
	cancel()

	switch {
	case err == nil, errors.Is(err, io.EOF):
		log.Info("Connection closed by peer")
		return nil
	case cancelled && (errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)):
		log.Debug("Connection closed on shutdown")
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		log.Warn("Connection idle, closing")
	default:
		log.WithError(err).Error("Connection failed")
	}
	return err
}

// readLoop copies every successful read into its own slice and queues it.
func (s *Server) readLoop(ctx context.Context, r io.Reader, chunks chan<- []byte, readErr chan<- error) {
	defer close(chunks)
	scratch := make([]byte, s.opts.ReadSize)
	rd, _ := r.(readDeadliner)

	for {
		if rd != nil {
			_ = rd.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		n, err := r.Read(scratch)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, scratch[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

// consume dispatches queued slices and writes replies back in order.
func (s *Server) consume(ctx context.Context, id string, w io.Writer, chunks <-chan []byte) error {
	wd, _ := w.(writeDeadliner)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			replies, err := s.registry.Dispatch(id, chunk)
			if err != nil {
				return err
			}
			for _, reply := range replies {
				if wd != nil {
					_ = wd.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
				}
				if _, err := w.Write(reply); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
