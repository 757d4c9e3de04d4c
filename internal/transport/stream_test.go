package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// partialReadConn returns at most chunkSize bytes per Read and records writes.
type partialReadConn struct {
	mu        sync.Mutex
	data      []byte
	readPos   int
	chunkSize int
	writes    [][]byte
	closed    bool
}

func newPartialReadConn(data []byte, chunkSize int) *partialReadConn {
	return &partialReadConn{data: data, chunkSize: chunkSize}
}

func (p *partialReadConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	remaining := len(p.data) - p.readPos
	if remaining == 0 {
		return 0, io.EOF
	}
	n := copy(b[:min(len(b), p.chunkSize, remaining)], p.data[p.readPos:])
	p.readPos += n
	return n, nil
}

func (p *partialReadConn) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *partialReadConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// blockingConn blocks every Read until closed.
type blockingConn struct {
	done chan struct{}
	once sync.Once
}

func newBlockingConn() *blockingConn { return &blockingConn{done: make(chan struct{})} }

func (b *blockingConn) Read([]byte) (int, error) {
	<-b.done
	return 0, io.ErrClosedPipe
}

func (b *blockingConn) Write(p []byte) (int, error) { return len(p), nil }

func (b *blockingConn) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func TestReceiveExactAcrossPartialReads(t *testing.T) {
	payload := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	for _, chunk := range []int{1, 3, 7, 64} {
		s := NewStream(newPartialReadConn(payload, chunk), Options{})

		first, err := s.ReceiveExact(context.Background(), 10)
		require.NoError(t, err, "chunk %d", chunk)
		assert.Equal(t, payload[:10], first)

		rest, err := s.ReceiveExact(context.Background(), len(payload)-10)
		require.NoError(t, err, "chunk %d", chunk)
		assert.Equal(t, payload[10:], rest)
	}
}

func TestReceiveExactUnexpectedEOF(t *testing.T) {
	s := NewStream(newPartialReadConn([]byte("abc"), 2), Options{})

	_, err := s.ReceiveExact(context.Background(), 5)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "receive", te.Op)
}

func TestSendSegments(t *testing.T) {
	conn := newPartialReadConn(nil, 1)
	s := NewStream(conn, Options{SegmentSize: 4})

	require.NoError(t, s.Send(context.Background(), []byte("abcdefghij")))
	require.Len(t, conn.writes, 3)
	assert.Equal(t, []byte("abcd"), conn.writes[0])
	assert.Equal(t, []byte("efgh"), conn.writes[1])
	assert.Equal(t, []byte("ij"), conn.writes[2])
}

func TestWatchdogTimeout(t *testing.T) {
	s := NewStream(newBlockingConn(), Options{ReceiveTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := s.ReceiveExact(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, s.Alive())
}

func TestDeadlineTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	s := NewStream(client, Options{ReceiveTimeout: 50 * time.Millisecond})
	defer s.Close()

	_, err := s.ReceiveExact(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, s.Alive())
}

func TestProgressRearmsTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	s := NewStream(client, Options{ReceiveTimeout: 200 * time.Millisecond})
	defer s.Close()

	go func() {
		// Total duration exceeds the timeout, but no single gap does.
		for i := 0; i < 6; i++ {
			time.Sleep(60 * time.Millisecond)
			if _, err := server.Write([]byte{byte(i)}); err != nil {
				return
			}
		}
	}()

	got, err := s.ReceiveExact(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5}, got)
}

func TestContextCancelAbortsReceive(t *testing.T) {
	s := NewStream(newBlockingConn(), Options{ReceiveTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.ReceiveExact(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Alive())
}

func TestClosedStream(t *testing.T) {
	s := NewStream(newPartialReadConn(nil, 1), Options{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Alive())

	err := s.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = s.ReceiveExact(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCancelledContextBeforeCall(t *testing.T) {
	s := NewStream(newPartialReadConn(nil, 1), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsTransportError(err))
}

func TestDialTCPRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	s, err := DialTCP(context.Background(), ln.Addr().String(), DialOptions{
		ConnectTimeout: time.Second,
		TCP:            TCPOptions{NoDelay: true, ReadBuffer: 1 << 16, WriteBuffer: 1 << 16},
	})
	require.NoError(t, err)
	defer s.Close()

	msg := bytes.Repeat([]byte("ping"), 1000)
	require.NoError(t, s.Send(context.Background(), msg))
	got, err := s.ReceiveExact(context.Background(), len(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDialTCPFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = DialTCP(context.Background(), addr, DialOptions{ConnectTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.False(t, errors.Is(err, ErrTimeout))
}
