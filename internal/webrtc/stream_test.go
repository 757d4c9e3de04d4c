package webrtc

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ftx/internal/checksum"
	"ftx/internal/receiver"
	"ftx/internal/registry"
	"ftx/internal/sender"
	"ftx/internal/server"
	"ftx/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// msgPipe is one end of an in-memory, message-preserving channel, standing in
// for a detached data channel. Closing either end closes both.
type msgPipe struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

func newMsgPipePair() (*msgPipe, *msgPipe) {
	ab := make(chan []byte, 4096)
	ba := make(chan []byte, 4096)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &msgPipe{in: ba, out: ab, closed: closed, once: once},
		&msgPipe{in: ab, out: ba, closed: closed, once: once}
}

func (m *msgPipe) Read(p []byte) (int, error) {
	// Messages queued before the close are still delivered.
	select {
	case msg := <-m.in:
		return m.deliver(p, msg)
	default:
	}
	select {
	case msg := <-m.in:
		return m.deliver(p, msg)
	case <-m.closed:
		select {
		case msg := <-m.in:
			return m.deliver(p, msg)
		default:
			return 0, io.EOF
		}
	}
}

func (m *msgPipe) deliver(p, msg []byte) (int, error) {
	if len(msg) > len(p) {
		return 0, io.ErrShortBuffer
	}
	return copy(p, msg), nil
}

func (m *msgPipe) Write(p []byte) (int, error) {
	select {
	case <-m.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	select {
	case m.out <- bytes.Clone(p):
		return len(p), nil
	case <-m.closed:
		return 0, io.ErrClosedPipe
	}
}

func (m *msgPipe) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func TestMsgPipeCloseReachesPeer(t *testing.T) {
	a, b := newMsgPipePair()
	_, err := a.Write([]byte("last"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	buf := make([]byte, 16)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "last", string(buf[:n]))

	_, err = b.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	_, err = b.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	require.NoError(t, b.Close())
}

type fakeChannel struct {
	amount    atomic.Uint64
	threshold atomic.Uint64
	mu        sync.Mutex
	low       func()
}

func (f *fakeChannel) BufferedAmount() uint64 { return f.amount.Load() }

func (f *fakeChannel) SetBufferedAmountLowThreshold(th uint64) { f.threshold.Store(th) }

func (f *fakeChannel) OnBufferedAmountLow(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.low = fn
}

func (f *fakeChannel) drain() {
	f.amount.Store(0)
	f.mu.Lock()
	fn := f.low
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func TestStreamOptionsDefaults(t *testing.T) {
	o := StreamOptions{PacketSize: 1 << 20, MaxBufferedAmount: 100, BufferedAmountLowThreshold: 200}.withDefaults()
	assert.Equal(t, maxMessageSize, o.PacketSize)
	assert.Equal(t, uint64(50), o.BufferedAmountLowThreshold)
	assert.Equal(t, DefaultFlowControlTimeout, o.FlowControlTimeout)
}

func TestDataStreamSetsThreshold(t *testing.T) {
	a, _ := newMsgPipePair()
	dc := &fakeChannel{}
	NewDataStream(a, dc, StreamOptions{MaxBufferedAmount: 1000, BufferedAmountLowThreshold: 300})
	assert.Equal(t, uint64(300), dc.threshold.Load())
}

func TestDataStreamReadSpansMessages(t *testing.T) {
	a, b := newMsgPipePair()
	s := NewDataStream(a, &fakeChannel{}, StreamOptions{})

	_, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = b.Write([]byte("abc"))
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 3)
	for len(got) < 13 {
		n, err := s.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "0123456789abc", string(got))
}

func TestDataStreamWriteSegments(t *testing.T) {
	a, b := newMsgPipePair()
	s := NewDataStream(a, &fakeChannel{}, StreamOptions{PacketSize: 4})

	n, err := s.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	buf := make([]byte, 16)
	var sizes []int
	for i := 0; i < 3; i++ {
		n, err := b.Read(buf)
		require.NoError(t, err)
		sizes = append(sizes, n)
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
}

func TestDataStreamFlowControl(t *testing.T) {
	a, _ := newMsgPipePair()
	dc := &fakeChannel{}
	s := NewDataStream(a, dc, StreamOptions{MaxBufferedAmount: 1000})
	dc.amount.Store(2000)

	done := make(chan error, 1)
	go func() {
		_, err := s.Write([]byte("blocked"))
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("write ignored the buffered amount")
	case <-time.After(50 * time.Millisecond):
	}

	dc.drain()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write did not resume after the buffer drained")
	}
}

func TestDataStreamFlowControlTimeout(t *testing.T) {
	a, _ := newMsgPipePair()
	dc := &fakeChannel{}
	s := NewDataStream(a, dc, StreamOptions{MaxBufferedAmount: 10, FlowControlTimeout: 30 * time.Millisecond})
	dc.amount.Store(11)

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrFlowControlTimeout)
}

func TestDataStreamCloseUnblocks(t *testing.T) {
	a, _ := newMsgPipePair()
	dc := &fakeChannel{}
	s := NewDataStream(a, dc, StreamOptions{MaxBufferedAmount: 10})
	dc.amount.Store(11)

	writeDone := make(chan error, 1)
	go func() {
		_, err := s.Write([]byte("x"))
		writeDone <- err
	}()
	readDone := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 8))
		readDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, <-writeDone, io.ErrClosedPipe)
	assert.ErrorIs(t, <-readDone, io.ErrClosedPipe)
}

func TestUploadOverDataStream(t *testing.T) {
	a, b := newMsgPipePair()
	opts := StreamOptions{PacketSize: 1200}
	senderSide := NewDataStream(a, &fakeChannel{}, opts)
	receiverSide := NewDataStream(b, &fakeChannel{}, opts)

	root := t.TempDir()
	reg := registry.New(registry.WithOptions(receiver.Options{Root: root}))
	srv := server.New(reg, server.Options{})

	served := make(chan error, 1)
	go func() { served <- srv.ServeConn(context.Background(), receiverSide, "datachannel") }()

	content := make([]byte, 3<<20)
	rand.New(rand.NewSource(1)).Read(content)
	local := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(local, content, 0o644))

	tr := transport.NewStream(senderSide, transport.Options{ReceiveTimeout: 10 * time.Second})
	res, err := sender.New(sender.Options{ChunkSize: 256 << 10}).Upload(context.Background(), local, "webrtc/dst.bin", tr)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, checksum.Checksum(content), res.ServerCRC)

	require.NoError(t, tr.Close())
	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not notice the closed channel")
	}

	got, err := os.ReadFile(filepath.Join(root, "webrtc", "dst.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}
