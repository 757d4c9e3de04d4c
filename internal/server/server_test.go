package server

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ftx/internal/checksum"
	"ftx/internal/protocol"
	"ftx/internal/receiver"
	"ftx/internal/registry"
	"ftx/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) (*Server, *registry.Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg := registry.New(registry.WithOptions(receiver.Options{Root: root}))
	return New(reg, opts), reg, root
}

func uploadStream(t *testing.T, path string, content []byte, chunk int) []byte {
	t.Helper()
	stream, err := protocol.EncodeHello(path, 0, uint64(len(content)))
	require.NoError(t, err)
	for off := 0; off < len(content); off += chunk {
		end := min(off+chunk, len(content))
		stream = protocol.AppendData(stream, protocol.Data{Payload: content[off:end]})
	}
	return protocol.AppendFinal(stream, protocol.Final{CRC32: checksum.Checksum(content)})
}

func readResume(t *testing.T, tr transport.Transport) uint64 {
	t.Helper()
	b, err := tr.ReceiveExact(context.Background(), protocol.ResumeFrameSize)
	require.NoError(t, err)
	msg, _, err := protocol.DecodeFrame(b, 0)
	require.NoError(t, err)
	r, ok := msg.(protocol.Resume)
	require.True(t, ok, "expected Resume, got %T", msg)
	return r.Offset
}

func readResult(t *testing.T, tr transport.Transport) protocol.Result {
	t.Helper()
	b, err := tr.ReceiveExact(context.Background(), protocol.ResultFrameSize)
	require.NoError(t, err)
	msg, _, err := protocol.DecodeFrame(b, 0)
	require.NoError(t, err)
	r, ok := msg.(protocol.Result)
	require.True(t, ok, "expected Result, got %T", msg)
	return r
}

func randomContent(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

// sendFragmented writes stream in pieces of at most frag bytes.
func sendFragmented(tr transport.Transport, stream []byte, frag int) <-chan error {
	done := make(chan error, 1)
	go func() {
		for off := 0; off < len(stream); off += frag {
			end := min(off+frag, len(stream))
			if err := tr.Send(context.Background(), stream[off:end]); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

func TestServeConnOverPipe(t *testing.T) {
	srv, reg, root := newTestServer(t, Options{})
	client, server := net.Pipe()

	served := make(chan error, 1)
	go func() { served <- srv.ServeConn(context.Background(), server, "pipe") }()

	content := randomContent(300_000, 1)
	tr := transport.NewStream(client, transport.Options{})
	sent := sendFragmented(tr, uploadStream(t, "pipe/file.bin", content, 64<<10), 4096)

	assert.Equal(t, uint64(0), readResume(t, tr))
	res := readResult(t, tr)
	require.NoError(t, <-sent)
	assert.Equal(t, protocol.StatusOk, res.Status)
	assert.Equal(t, uint64(len(content)), res.BytesWritten)
	assert.Equal(t, checksum.Checksum(content), res.CRC32)

	require.NoError(t, tr.Close())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeConn did not return after disconnect")
	}
	assert.Equal(t, 0, reg.Len())

	got, err := os.ReadFile(filepath.Join(root, "pipe", "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestServeConnIdleTimeout(t *testing.T) {
	srv, reg, _ := newTestServer(t, Options{ReadTimeout: 50 * time.Millisecond})
	client, server := net.Pipe()
	defer client.Close()

	err := srv.ServeConn(context.Background(), server, "idle")
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Equal(t, 0, reg.Len())
}

func TestServeConnContextCancel(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.ServeConn(ctx, server, "cancel") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeConn ignored cancellation")
	}
}

func startServer(t *testing.T, srv *Server) <-chan error {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(context.Background(), ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	return served
}

func dial(t *testing.T, srv *Server, receiveTimeout time.Duration) *transport.Stream {
	t.Helper()
	tr, err := transport.DialTCP(context.Background(), srv.Addr().String(), transport.DialOptions{
		TCP:    transport.TCPOptions{NoDelay: true},
		Stream: transport.Options{ReceiveTimeout: receiveTimeout},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestServerTCPUploadAndShutdown(t *testing.T) {
	srv, _, root := newTestServer(t, Options{TCP: transport.TCPOptions{NoDelay: true}})
	served := startServer(t, srv)

	content := randomContent(1<<20, 2)
	tr := dial(t, srv, 5*time.Second)
	sent := sendFragmented(tr, uploadStream(t, "tcp.bin", content, 256<<10), 32<<10)

	assert.Equal(t, uint64(0), readResume(t, tr))
	assert.Equal(t, protocol.StatusOk, readResult(t, tr).Status)
	require.NoError(t, <-sent)

	got, err := os.ReadFile(filepath.Join(root, "tcp.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-served, ErrServerClosed)
}

func TestServerConcurrentUploads(t *testing.T) {
	srv, _, root := newTestServer(t, Options{})
	served := startServer(t, srv)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			tr, err := transport.DialTCP(context.Background(), srv.Addr().String(), transport.DialOptions{})
			if err != nil {
				errs <- err
				return
			}
			defer tr.Close()

			content := randomContent(50_000+i, int64(i))
			stream := uploadStream(t, filepath.Join("many", string(rune('a'+i))+".bin"), content, 8192)
			sent := sendFragmented(tr, stream, 1000)
			if _, err := tr.ReceiveExact(context.Background(), protocol.ResumeFrameSize); err != nil {
				errs <- err
				return
			}
			b, err := tr.ReceiveExact(context.Background(), protocol.ResultFrameSize)
			if err != nil {
				errs <- err
				return
			}
			if err := <-sent; err != nil {
				errs <- err
				return
			}
			if protocol.Status(b[1]) != protocol.StatusOk {
				errs <- errors.New(protocol.Status(b[1]).String())
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}

	entries, err := os.ReadDir(filepath.Join(root, "many"))
	require.NoError(t, err)
	assert.Len(t, entries, n)

	require.NoError(t, srv.Shutdown(context.Background()))
	<-served
}

func TestServerMaxClients(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{MaxClients: 1})
	served := startServer(t, srv)

	first := dial(t, srv, 5*time.Second)
	hello, err := protocol.EncodeHello("one.bin", 0, 10)
	require.NoError(t, err)
	require.NoError(t, first.Send(context.Background(), hello))
	assert.Equal(t, uint64(0), readResume(t, first))

	second := dial(t, srv, 200*time.Millisecond)
	hello, err = protocol.EncodeHello("two.bin", 0, 10)
	require.NoError(t, err)
	require.NoError(t, second.Send(context.Background(), hello))

	// The second connection waits in the backlog while the first holds the slot.
	_, err = second.ReceiveExact(context.Background(), protocol.ResumeFrameSize)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool {
		b, err := second.ReceiveExact(context.Background(), protocol.ResumeFrameSize)
		return err == nil && b[0] == byte(protocol.OpResume)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	<-served
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	srv, reg, _ := newTestServer(t, Options{ReadTimeout: time.Minute})
	served := startServer(t, srv)

	tr := dial(t, srv, 5*time.Second)
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-served, ErrServerClosed)
	assert.Equal(t, 0, srv.ActiveConnections())
	assert.Equal(t, 0, reg.Len())

	_, err := tr.ReceiveExact(context.Background(), 1)
	assert.Error(t, err)
}
