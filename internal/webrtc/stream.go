package webrtc

import (
	"errors"
	"io"
	"sync"
	"time"
)

// maxMessageSize bounds a single data channel message.
const maxMessageSize = 64 * 1024

// Defaults for StreamOptions.
const (
	DefaultPacketSize                 = 16 * 1024
	DefaultMaxBufferedAmount          = 1024 * 1024
	DefaultBufferedAmountLowThreshold = 512 * 1024
	DefaultFlowControlTimeout         = 30 * time.Second
)

// ErrFlowControlTimeout means the send buffer did not drain in time.
var ErrFlowControlTimeout = errors.New("flow control timeout - WebRTC channel may be dead")

// flowControlled is the part of *webrtc.DataChannel used for back-pressure.
type flowControlled interface {
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(th uint64)
	OnBufferedAmountLow(f func())
}

// StreamOptions tunes a DataStream.
type StreamOptions struct {
	PacketSize                 int
	MaxBufferedAmount          uint64
	BufferedAmountLowThreshold uint64
	FlowControlTimeout         time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.PacketSize <= 0 {
		o.PacketSize = DefaultPacketSize
	}
	o.PacketSize = min(o.PacketSize, maxMessageSize)
	if o.MaxBufferedAmount == 0 {
		o.MaxBufferedAmount = DefaultMaxBufferedAmount
	}
	if o.BufferedAmountLowThreshold == 0 || o.BufferedAmountLowThreshold >= o.MaxBufferedAmount {
		o.BufferedAmountLowThreshold = o.MaxBufferedAmount / 2
	}
	if o.FlowControlTimeout <= 0 {
		o.FlowControlTimeout = DefaultFlowControlTimeout
	}
	return o
}

// DataStream turns a detached, message-oriented data channel into a
// continuous byte stream. Writes are split into PacketSize messages and held
// back while the channel's send buffer is above MaxBufferedAmount; reads hand
// out message payloads across as many Read calls as the caller needs.
type DataStream struct {
	raw  io.ReadWriteCloser
	dc   flowControlled
	opts StreamOptions

	sendMore  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	readMu  sync.Mutex
	scratch []byte
	pending []byte

	writeMu sync.Mutex
}

var _ io.ReadWriteCloser = (*DataStream)(nil)

// NewDataStream wraps raw, the detached form of dc.
func NewDataStream(raw io.ReadWriteCloser, dc flowControlled, opts StreamOptions) *DataStream {
	s := &DataStream{
		raw:      raw,
		dc:       dc,
		opts:     opts.withDefaults(),
		sendMore: make(chan struct{}, 1),
		closed:   make(chan struct{}),
		scratch:  make([]byte, maxMessageSize),
	}

	dc.SetBufferedAmountLowThreshold(s.opts.BufferedAmountLowThreshold)
	// This callback is executed by pion/sctp and must not block.
	dc.OnBufferedAmountLow(func() {
		select {
		case s.sendMore <- struct{}{}:
		default:
		}
	})
	return s
}

// Read copies buffered message bytes into p, reading a new message only when
// none are left over.
func (s *DataStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if len(s.pending) == 0 {
		n, err := s.raw.Read(s.scratch)
		if n == 0 {
			if err == nil {
				return 0, nil
			}
			return 0, s.readErr(err)
		}
		s.pending = s.scratch[:n]
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *DataStream) readErr(err error) error {
	select {
	case <-s.closed:
		return io.ErrClosedPipe
	default:
	}
	return err
}

// Write sends p as one or more messages, blocking for flow control.
func (s *DataStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for written < len(p) {
		if err := s.waitForBuffer(); err != nil {
			return written, err
		}
		end := min(written+s.opts.PacketSize, len(p))
		n, err := s.raw.Write(p[written:end])
		written += n
		if err != nil {
			return written, s.readErr(err)
		}
	}
	return written, nil
}

func (s *DataStream) waitForBuffer() error {
	for s.dc.BufferedAmount() > s.opts.MaxBufferedAmount {
		timer := time.NewTimer(s.opts.FlowControlTimeout)
		select {
		case <-s.sendMore:
			timer.Stop()
		case <-s.closed:
			timer.Stop()
			return io.ErrClosedPipe
		case <-timer.C:
			return ErrFlowControlTimeout
		}
	}
	select {
	case <-s.closed:
		return io.ErrClosedPipe
	default:
	}
	return nil
}

// Close closes the detached channel once.
func (s *DataStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.raw.Close()
	})
	return s.closeErr
}
