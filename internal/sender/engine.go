// Package sender drives one upload from a local file to a receiver over a
// byte transport: handshake, resume negotiation, pipelined chunk send, and
// checksum verification.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"ftx/internal/checksum"
	"ftx/internal/protocol"
	"ftx/internal/transport"
	"ftx/pkg/types"

	"github.com/sirupsen/logrus"
)

// Chunk size bounds. Requested sizes are clamped into this range.
const (
	MinChunkSize     = 4 << 10
	MaxChunkSize     = 8 << 20
	DefaultChunkSize = 1 << 20
)

var (
	// ErrFileNotFound means the local path does not exist.
	ErrFileNotFound = errors.New("local file not found")
	// ErrNotRegularFile means the local path is a directory or special file.
	ErrNotRegularFile = errors.New("local path is not a regular file")
	// ErrBadResume means the receiver asked to resume past the end of the file.
	ErrBadResume = errors.New("resume offset beyond file size")
	// ErrUnexpectedReply means the receiver sent an opcode that does not fit the exchange.
	ErrUnexpectedReply = errors.New("unexpected reply from receiver")
	// ErrFileChanged means the local file shrank while it was being sent.
	ErrFileChanged = errors.New("local file changed during upload")
	// ErrCancelled wraps the context error when an upload is abandoned.
	ErrCancelled = errors.New("upload cancelled")
)

// RejectedError reports a Result other than a clean Ok.
type RejectedError struct {
	Code         protocol.Status
	BytesWritten uint64
	ServerCRC    uint32
	// Early is set when the receiver answered Hello with a Result.
	Early bool
}

func (e *RejectedError) Error() string {
	if e.Early {
		return fmt.Sprintf("receiver rejected upload: %s", e.Code)
	}
	return fmt.Sprintf("receiver rejected upload: %s (%d bytes written, crc 0x%08x)", e.Code, e.BytesWritten, e.ServerCRC)
}

// Result describes a finished exchange.
type Result struct {
	OK               bool
	BytesTransferred uint64
	ServerCRC        uint32
	LocalCRC         uint32
	Code             protocol.Status
	ResumeOffset     uint64
	FileSize         uint64
	Elapsed          time.Duration
}

// ProgressFunc receives a cumulative snapshot after the handshake and after
// every chunk.
type ProgressFunc func(types.ProgressUpdate)

// Options configures an Engine.
type Options struct {
	// ChunkSize is the Data payload size, clamped to [MinChunkSize, MaxChunkSize].
	ChunkSize int
	// Progress is optional.
	Progress ProgressFunc
}

// Engine performs uploads. It holds no per-upload state, so one Engine may
// run several uploads on different transports concurrently.
type Engine struct {
	chunkSize int
	progress  ProgressFunc
}

// New returns an engine configured by opts.
func New(opts Options) *Engine {
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Engine{
		chunkSize: ClampChunkSize(size),
		progress:  opts.Progress,
	}
}

// ChunkSize returns the effective chunk size.
func (e *Engine) ChunkSize() int { return e.chunkSize }

// ClampChunkSize bounds n to [MinChunkSize, MaxChunkSize].
func ClampChunkSize(n int) int {
	return max(MinChunkSize, min(n, MaxChunkSize))
}

// Upload sends localPath to the receiver on tr, to be stored as targetPath.
// The returned Result is populated as far as the exchange got, even when an
// error is returned.
func (e *Engine) Upload(ctx context.Context, localPath, targetPath string, tr transport.Transport) (Result, error) {
	var res Result

	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("%w: %s", ErrFileNotFound, localPath)
		}
		return res, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if !info.Mode().IsRegular() {
		return res, fmt.Errorf("%w: %s", ErrNotRegularFile, localPath)
	}
	res.FileSize = uint64(info.Size())

	hello, err := protocol.EncodeHello(targetPath, e.chunkSize, res.FileSize)
	if err != nil {
		return res, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return res, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	log := logrus.WithFields(logrus.Fields{
		"function":  "Upload",
		"file":      localPath,
		"target":    targetPath,
		"file_size": res.FileSize,
	})

	if err := checkCancelled(ctx); err != nil {
		return res, err
	}
	if err := tr.Send(ctx, hello); err != nil {
		return res, wrapTransport(ctx, err)
	}

	offset, err := e.awaitResume(ctx, tr, &res)
	if err != nil {
		return res, err
	}
	if offset > res.FileSize {
		return res, fmt.Errorf("%w: offset %d, size %d", ErrBadResume, offset, res.FileSize)
	}
	res.ResumeOffset = offset
	log.WithField("resume_offset", offset).Info("Upload negotiated")

	start := time.Now()
	e.report(offset, res.FileSize, offset, start)

	var crc checksum.Accumulator
	if offset > 0 {
		// The receiver checks the whole file, so the resumed prefix is hashed locally.
		if err := crc.Seed(f, int64(offset), make([]byte, min(uint64(e.chunkSize), offset))); err != nil {
			return res, fmt.Errorf("hash resumed prefix: %w", err)
		}
	}

	p := pipeline{
		engine: e,
		src:    f,
		tr:     tr,
		crc:    &crc,
		sent:   offset,
		total:  res.FileSize,
		resume: offset,
		start:  start,
	}
	if err := p.run(ctx); err != nil {
		return res, err
	}

	res.LocalCRC = crc.Sum32()
	if err := checkCancelled(ctx); err != nil {
		return res, err
	}
	if err := tr.Send(ctx, protocol.EncodeFinal(res.LocalCRC)); err != nil {
		return res, wrapTransport(ctx, err)
	}

	result, err := awaitResult(ctx, tr)
	if err != nil {
		return res, err
	}
	res.Code = result.Status
	res.BytesTransferred = result.BytesWritten
	res.ServerCRC = result.CRC32
	res.Elapsed = time.Since(start)
	res.OK = result.Status == protocol.StatusOk && result.BytesWritten == res.FileSize

	if !res.OK {
		log.WithFields(logrus.Fields{
			"status":        result.Status.String(),
			"bytes_written": result.BytesWritten,
		}).Warn("Upload rejected")
		return res, &RejectedError{Code: result.Status, BytesWritten: result.BytesWritten, ServerCRC: result.CRC32}
	}

	log.WithFields(logrus.Fields{
		"bytes_written": res.BytesTransferred,
		"crc32":         fmt.Sprintf("0x%08x", res.ServerCRC),
		"elapsed":       res.Elapsed.String(),
	}).Info("Upload complete")
	return res, nil
}

// awaitResume reads the handshake reply: a Resume, or a Result when the
// receiver refused the Hello.
func (e *Engine) awaitResume(ctx context.Context, tr transport.Transport, res *Result) (uint64, error) {
	op, err := readOpcode(ctx, tr)
	if err != nil {
		return 0, err
	}
	switch op {
	case protocol.OpResume:
		body, err := tr.ReceiveExact(ctx, protocol.ResumeBodySize)
		if err != nil {
			return 0, wrapTransport(ctx, err)
		}
		r, err := protocol.DecodeResumeBody(body)
		if err != nil {
			return 0, err
		}
		return r.Offset, nil
	case protocol.OpResult:
		r, err := readResultBody(ctx, tr)
		if err != nil {
			return 0, err
		}
		res.Code = r.Status
		res.BytesTransferred = r.BytesWritten
		res.ServerCRC = r.CRC32
		return 0, &RejectedError{Code: r.Status, BytesWritten: r.BytesWritten, ServerCRC: r.CRC32, Early: true}
	}
	return 0, fmt.Errorf("%w: %s during handshake", ErrUnexpectedReply, op)
}

func awaitResult(ctx context.Context, tr transport.Transport) (protocol.Result, error) {
	op, err := readOpcode(ctx, tr)
	if err != nil {
		return protocol.Result{}, err
	}
	if op != protocol.OpResult {
		return protocol.Result{}, fmt.Errorf("%w: %s after final", ErrUnexpectedReply, op)
	}
	return readResultBody(ctx, tr)
}

func readOpcode(ctx context.Context, tr transport.Transport) (protocol.Opcode, error) {
	b, err := tr.ReceiveExact(ctx, protocol.OpcodeSize)
	if err != nil {
		return 0, wrapTransport(ctx, err)
	}
	return protocol.Opcode(b[0]), nil
}

func readResultBody(ctx context.Context, tr transport.Transport) (protocol.Result, error) {
	body, err := tr.ReceiveExact(ctx, protocol.ResultBodySize)
	if err != nil {
		return protocol.Result{}, wrapTransport(ctx, err)
	}
	return protocol.DecodeResultBody(body)
}

func (e *Engine) report(sent, total, resume uint64, start time.Time) {
	if e.progress == nil {
		return
	}
	e.progress(types.NewProgressUpdate(sent, total, resume, time.Since(start)))
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// wrapTransport reports cancellation in preference to the transport failure
// it caused.
func wrapTransport(ctx context.Context, err error) error {
	if cerr := checkCancelled(ctx); cerr != nil {
		return cerr
	}
	if transport.IsTransportError(err) {
		return err
	}
	return &transport.Error{Op: "upload", Err: err}
}

// readChunk fills buf from r, treating a short file as an error.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read %d of %d bytes", ErrFileChanged, n, len(buf))
	}
	return n, err
}
