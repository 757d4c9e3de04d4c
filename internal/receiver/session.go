// Package receiver implements the per-connection upload state machine.
//
// A Session consumes inbound bytes in whatever slices the transport delivers,
// reassembles frames, writes Data payloads to a temp file next to the target,
// keeps a running CRC-32, and answers Hello and Final with exactly one reply.
// A verified upload is promoted by renaming the temp file over the target.
package receiver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"ftx/internal/checksum"
	"ftx/internal/protocol"

	"github.com/sirupsen/logrus"
)

// ErrSessionClosed is returned by OnBytes after Close.
var ErrSessionClosed = errors.New("receiver session closed")

// State is the lifecycle position of a Session.
type State uint8

const (
	// StateInit waits for Hello.
	StateInit State = iota
	// StateReceiving accepts Data until Final.
	StateReceiving
	// StateCompleted means the upload was verified and promoted.
	StateCompleted
	// StateFaulted means the session rejected its input; further bytes are ignored.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReceiving:
		return "Receiving"
	case StateCompleted:
		return "Completed"
	case StateFaulted:
		return "Faulted"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFaulted
}

// Session is the receiver side of one upload. OnBytes calls are serialized
// by an internal mutex, so chunks for one connection are applied in the order
// the calls are made.
type Session struct {
	id   string
	opts Options

	mu           sync.Mutex
	state        State
	closed       bool
	inbound      protocol.FrameBuffer
	file         *os.File
	targetPath   string
	tempPath     string
	expectedSize uint64
	written      uint64
	resumeOffset uint64
	crc          checksum.Accumulator
	serverCRC    uint32
}

// NewSession creates a session in StateInit.
func NewSession(id string, opts Options) *Session {
	return &Session{
		id:   id,
		opts: opts.withDefaults(),
	}
}

// ID returns the connection identifier the session was created for.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminal reports whether the session has completed or faulted.
func (s *Session) Terminal() bool {
	return s.State().Terminal()
}

// WrittenBytes returns the number of bytes held in the temp file, including
// any resumed prefix.
func (s *Session) WrittenBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// ExpectedSize returns the size declared by Hello.
func (s *Session) ExpectedSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectedSize
}

// ResumeOffset returns the offset announced in the Resume reply.
func (s *Session) ResumeOffset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeOffset
}

// TargetPath returns the resolved destination, or "" before Hello.
func (s *Session) TargetPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetPath
}

// TempPath returns the in-flight file path, or "" before Hello.
func (s *Session) TempPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempPath
}

// OnBytes feeds inbound bytes to the session and returns the reply frames
// that must be written back to the same connection, in order.
func (s *Session) OnBytes(data []byte) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.state.Terminal() {
		return nil, nil
	}

	s.inbound.Append(data)

	var replies [][]byte
	for !s.state.Terminal() {
		reply, ok := s.step()
		if reply != nil {
			replies = append(replies, reply)
		}
		if !ok {
			break
		}
	}

	if s.state.Terminal() {
		s.inbound.Release()
	} else {
		s.inbound.Compact()
	}
	return replies, nil
}

// step processes at most one frame. ok is false when more input is needed or
// the session has become terminal.
func (s *Session) step() (reply []byte, ok bool) {
	buf, cursor := s.inbound.Bytes(), s.inbound.Cursor()

	op, frameLen, err := protocol.PeekFrame(buf, cursor)
	switch {
	case errors.Is(err, protocol.ErrNeedMoreData):
		return nil, false
	case err != nil:
		return s.fault(protocol.StatusBadRequest, err), false
	}

	if !s.accepts(op) {
		return s.fault(protocol.StatusStateError, fmt.Errorf("unexpected %s in state %s", op, s.state)), false
	}

	if op == protocol.OpData {
		chunkLen := frameLen - protocol.DataHeaderSize
		if chunkLen > s.opts.MaxChunkSize {
			return s.fault(protocol.StatusBadRequest,
				fmt.Errorf("chunk of %d bytes exceeds limit %d", chunkLen, s.opts.MaxChunkSize)), false
		}
		if s.written+uint64(chunkLen) > s.expectedSize {
			return s.fault(protocol.StatusBadRequest,
				fmt.Errorf("chunk of %d bytes at offset %d overruns declared size %d", chunkLen, s.written, s.expectedSize)), false
		}
	}

	msg, n, err := protocol.DecodeFrame(buf, cursor)
	if errors.Is(err, protocol.ErrNeedMoreData) {
		return nil, false
	}
	if err != nil {
		return s.fault(protocol.StatusBadRequest, err), false
	}

	switch m := msg.(type) {
	case protocol.Hello:
		reply = s.handleHello(m)
	case protocol.Data:
		reply = s.handleData(m.Payload)
	case protocol.Final:
		reply = s.handleFinal(m.CRC32)
	}
	// Data payloads alias the arena, so the cursor only moves once they are written.
	s.inbound.Advance(n)
	return reply, !s.state.Terminal()
}

func (s *Session) accepts(op protocol.Opcode) bool {
	switch s.state {
	case StateInit:
		return op == protocol.OpHello
	case StateReceiving:
		return op == protocol.OpData || op == protocol.OpFinal
	}
	return false
}

func (s *Session) handleHello(h protocol.Hello) []byte {
	if h.Version != protocol.Version {
		return s.fault(protocol.StatusBadRequest, fmt.Errorf("unsupported protocol version %d", h.Version))
	}
	if h.FileSize > s.opts.MaxFileSizeBytes {
		return s.fault(protocol.StatusBadRequest,
			fmt.Errorf("declared size %d exceeds limit %d", h.FileSize, s.opts.MaxFileSizeBytes))
	}

	target, temp, err := ResolveTarget(s.opts.Root, h.Path, s.opts.TempSuffix)
	if err != nil {
		return s.fault(protocol.StatusBadRequest, fmt.Errorf("path %q: %w", h.Path, err))
	}

	s.targetPath = target
	s.tempPath = temp
	s.expectedSize = h.FileSize

	resume, err := s.openTemp()
	if err != nil {
		return s.fault(protocol.StatusIoError, err)
	}

	s.resumeOffset = resume
	s.written = resume
	s.state = StateReceiving

	logrus.WithFields(logrus.Fields{
		"function":      "handleHello",
		"conn_id":       s.id,
		"target":        target,
		"file_size":     h.FileSize,
		"resume_offset": resume,
	}).Info("Upload accepted")

	return protocol.EncodeResume(resume)
}

// openTemp opens or creates the temp file, trims it to the declared size, and
// folds the bytes already present into the CRC. It returns the resume offset.
func (s *Session) openTemp() (uint64, error) {
	if err := os.MkdirAll(filepath.Dir(s.tempPath), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.OpenFile(s.tempPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open temp file: %w", err)
	}

	resume, err := s.prepareTemp(f)
	if err != nil {
		f.Close()
		return 0, err
	}
	s.file = f
	return resume, nil
}

func (s *Session) prepareTemp(f *os.File) (uint64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat temp file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("temp path %s is not a regular file", s.tempPath)
	}

	existing := uint64(info.Size())
	resume := existing
	if existing > s.expectedSize {
		if err := f.Truncate(int64(s.expectedSize)); err != nil {
			return 0, fmt.Errorf("truncate temp file: %w", err)
		}
		resume = s.expectedSize
	}

	s.crc.Reset()
	if resume > 0 {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("seek temp file: %w", err)
		}
		seedBuf := make([]byte, min(uint64(s.opts.SeedBufferSize), resume))
		if err := s.crc.Seed(f, int64(resume), seedBuf); err != nil {
			return 0, err
		}
	}
	if _, err := f.Seek(int64(resume), io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek temp file: %w", err)
	}
	return resume, nil
}

func (s *Session) handleData(payload []byte) []byte {
	if _, err := s.file.Write(payload); err != nil {
		return s.fault(protocol.StatusIoError, fmt.Errorf("write temp file: %w", err))
	}
	s.written += uint64(len(payload))
	_, _ = s.crc.Write(payload)

	logrus.WithFields(logrus.Fields{
		"function": "handleData",
		"conn_id":  s.id,
		"chunk":    len(payload),
		"written":  s.written,
	}).Debug("Chunk written")
	return nil
}

func (s *Session) handleFinal(clientCRC uint32) []byte {
	f := s.file
	s.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return s.fault(protocol.StatusIoError, fmt.Errorf("sync temp file: %w", err))
	}
	if err := f.Close(); err != nil {
		return s.fault(protocol.StatusIoError, fmt.Errorf("close temp file: %w", err))
	}

	s.serverCRC = s.crc.Sum32()

	if s.written != s.expectedSize {
		return s.faultWithCRC(protocol.StatusBadRequest,
			fmt.Errorf("final after %d of %d bytes", s.written, s.expectedSize))
	}
	if s.serverCRC != clientCRC {
		return s.faultWithCRC(protocol.StatusCrcMismatch,
			fmt.Errorf("crc mismatch: sender 0x%08x, receiver 0x%08x", clientCRC, s.serverCRC))
	}

	if err := os.Rename(s.tempPath, s.targetPath); err != nil {
		return s.fault(protocol.StatusIoError, fmt.Errorf("promote temp file: %w", err))
	}

	s.state = StateCompleted
	logrus.WithFields(logrus.Fields{
		"function":      "handleFinal",
		"conn_id":       s.id,
		"target":        s.targetPath,
		"bytes_written": s.written,
		"crc32":         fmt.Sprintf("0x%08x", s.serverCRC),
	}).Info("Upload completed")

	return protocol.EncodeResult(protocol.StatusOk, s.written, s.serverCRC)
}

// fault moves the session to StateFaulted, closes the temp file, and returns
// the Result frame describing the failure.
func (s *Session) fault(status protocol.Status, cause error) []byte {
	s.serverCRC = 0
	return s.faultWithCRC(status, cause)
}

func (s *Session) faultWithCRC(status protocol.Status, cause error) []byte {
	from := s.state
	s.state = StateFaulted
	s.closeFile()

	logrus.WithFields(logrus.Fields{
		"function": "fault",
		"conn_id":  s.id,
		"from":     from.String(),
		"status":   status.String(),
		"written":  s.written,
		"error":    cause.Error(),
	}).Warn("Upload session faulted")

	return protocol.EncodeResult(status, s.written, s.serverCRC)
}

func (s *Session) closeFile() {
	if s.file == nil {
		return
	}
	if err := s.file.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "closeFile",
			"conn_id":  s.id,
			"error":    err.Error(),
		}).Warn("Failed to close temp file")
	}
	s.file = nil
}

// Close releases the file handle and parse buffer. It is safe to call more
// than once. A partially written temp file is kept so a later upload of the
// same target can resume from it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file = nil
	}
	s.inbound.Release()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"conn_id":  s.id,
		"state":    s.state.String(),
		"written":  s.written,
	}).Debug("Session closed")
	return err
}
