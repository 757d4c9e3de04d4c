package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

var (
	// ErrNeedMoreData means the buffer ends before the next frame does.
	// Nothing was consumed; retry from the same cursor once more bytes arrive.
	ErrNeedMoreData = errors.New("protocol: need more data")

	// ErrUnknownOpcode means the next byte is not a defined opcode.
	ErrUnknownOpcode = errors.New("protocol: unknown opcode")

	// ErrPathTooLong means a Hello path does not fit in the u16 length field.
	ErrPathTooLong = errors.New("protocol: path too long")

	// ErrInvalidPath means a Hello path is not valid UTF-8.
	ErrInvalidPath = errors.New("protocol: path is not valid UTF-8")

	// ErrChunkTooLarge means a Data payload does not fit in the u32 length field.
	ErrChunkTooLarge = errors.New("protocol: chunk too large")

	// ErrUnknownMessage is returned by Encode for foreign Message implementations.
	ErrUnknownMessage = errors.New("protocol: unknown message type")
)

var le = binary.LittleEndian

// EncodeHello builds a Hello frame for path and fileSize. chunkSizeHint is
// not transmitted; when positive it reserves capacity for the first Data
// frame so the buffer can be reused by the caller.
func EncodeHello(path string, chunkSizeHint int, fileSize uint64) ([]byte, error) {
	if len(path) > MaxPathLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPathTooLong, len(path), MaxPathLen)
	}
	if !utf8.ValidString(path) {
		return nil, ErrInvalidPath
	}
	n := HelloHeaderSize + len(path)
	capacity := n
	if chunkSizeHint > 0 && DataHeaderSize+chunkSizeHint > capacity {
		capacity = DataHeaderSize + chunkSizeHint
	}
	return AppendHello(make([]byte, 0, capacity), Hello{Version: Version, FileSize: fileSize, Path: path}), nil
}

// AppendHello appends h to b. The path length must already be validated.
func AppendHello(b []byte, h Hello) []byte {
	b = append(b, byte(OpHello))
	b = le.AppendUint16(b, h.Version)
	b = le.AppendUint64(b, h.FileSize)
	b = le.AppendUint16(b, uint16(len(h.Path)))
	return append(b, h.Path...)
}

// EncodeResume builds a Resume frame.
func EncodeResume(offset uint64) []byte {
	return AppendResume(make([]byte, 0, ResumeFrameSize), Resume{Offset: offset})
}

// AppendResume appends r to b.
func AppendResume(b []byte, r Resume) []byte {
	b = append(b, byte(OpResume))
	return le.AppendUint64(b, r.Offset)
}

// EncodeData builds a Data frame, copying payload.
func EncodeData(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrChunkTooLarge
	}
	return AppendData(make([]byte, 0, DataHeaderSize+len(payload)), Data{Payload: payload}), nil
}

// AppendData appends d to b. The payload length must fit in a uint32.
func AppendData(b []byte, d Data) []byte {
	b = append(b, byte(OpData))
	b = le.AppendUint32(b, uint32(len(d.Payload)))
	return append(b, d.Payload...)
}

// PutDataHeader writes a Data header for an n-byte payload into the first
// DataHeaderSize bytes of buf, so a chunk read into buf[DataHeaderSize:] can
// be sent as buf[:DataHeaderSize+n] without copying.
func PutDataHeader(buf []byte, n int) {
	_ = buf[DataHeaderSize-1]
	buf[0] = byte(OpData)
	le.PutUint32(buf[1:DataHeaderSize], uint32(n))
}

// EncodeFinal builds a Final frame.
func EncodeFinal(crc uint32) []byte {
	return AppendFinal(make([]byte, 0, FinalFrameSize), Final{CRC32: crc})
}

// AppendFinal appends f to b.
func AppendFinal(b []byte, f Final) []byte {
	b = append(b, byte(OpFinal))
	return le.AppendUint32(b, f.CRC32)
}

// EncodeResult builds a Result frame.
func EncodeResult(status Status, bytesWritten uint64, crc uint32) []byte {
	return AppendResult(make([]byte, 0, ResultFrameSize), Result{Status: status, BytesWritten: bytesWritten, CRC32: crc})
}

// AppendResult appends r to b.
func AppendResult(b []byte, r Result) []byte {
	b = append(b, byte(OpResult), byte(r.Status))
	b = le.AppendUint64(b, r.BytesWritten)
	return le.AppendUint32(b, r.CRC32)
}

// Encode serializes any of the five message types.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Hello:
		if len(v.Path) > MaxPathLen {
			return nil, ErrPathTooLong
		}
		return AppendHello(make([]byte, 0, v.EncodedLen()), v), nil
	case *Hello:
		return Encode(*v)
	case Resume:
		return AppendResume(make([]byte, 0, ResumeFrameSize), v), nil
	case *Resume:
		return Encode(*v)
	case Data:
		return EncodeData(v.Payload)
	case *Data:
		return Encode(*v)
	case Final:
		return AppendFinal(make([]byte, 0, FinalFrameSize), v), nil
	case *Final:
		return Encode(*v)
	case Result:
		return AppendResult(make([]byte, 0, ResultFrameSize), v), nil
	case *Result:
		return Encode(*v)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
}

// PeekFrame inspects the frame starting at buf[cursor] and returns its opcode
// and total encoded length once enough of the fixed header is present. It
// returns ErrNeedMoreData when the header is incomplete and ErrUnknownOpcode
// for an undefined opcode byte.
func PeekFrame(buf []byte, cursor int) (Opcode, int, error) {
	if cursor < 0 || cursor > len(buf) {
		return 0, 0, fmt.Errorf("protocol: cursor %d out of range [0,%d]", cursor, len(buf))
	}
	avail := buf[cursor:]
	if len(avail) < OpcodeSize {
		return 0, 0, ErrNeedMoreData
	}
	op := Opcode(avail[0])
	switch op {
	case OpHello:
		if len(avail) < HelloHeaderSize {
			return op, 0, ErrNeedMoreData
		}
		pathLen := int(le.Uint16(avail[11:13]))
		return op, HelloHeaderSize + pathLen, nil
	case OpResume:
		return op, ResumeFrameSize, nil
	case OpData:
		if len(avail) < DataHeaderSize {
			return op, 0, ErrNeedMoreData
		}
		n, err := frameLength(DataHeaderSize, uint64(le.Uint32(avail[1:5])))
		if err != nil {
			return op, 0, err
		}
		return op, n, nil
	case OpFinal:
		return op, FinalFrameSize, nil
	case OpResult:
		return op, ResultFrameSize, nil
	}
	return op, 0, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, uint8(op))
}

// frameLength adds a payload length read off the wire to the header size,
// failing when the sum does not fit in an int.
func frameLength(header int, payload uint64) (int, error) {
	if payload > uint64(math.MaxInt-header) {
		return 0, fmt.Errorf("%w: %d byte payload", ErrChunkTooLarge, payload)
	}
	return header + int(payload), nil
}

// DecodeFrame decodes one frame starting at buf[cursor] and returns it with
// the number of bytes it occupies. When the frame is incomplete it returns
// ErrNeedMoreData and consumes nothing.
func DecodeFrame(buf []byte, cursor int) (Message, int, error) {
	op, n, err := PeekFrame(buf, cursor)
	if err != nil {
		return nil, 0, err
	}
	if len(buf)-cursor < n {
		return nil, 0, ErrNeedMoreData
	}
	f := buf[cursor : cursor+n]
	switch op {
	case OpHello:
		return Hello{
			Version:  le.Uint16(f[1:3]),
			FileSize: le.Uint64(f[3:11]),
			Path:     string(f[HelloHeaderSize:]),
		}, n, nil
	case OpResume:
		return Resume{Offset: le.Uint64(f[1:9])}, n, nil
	case OpData:
		return Data{Payload: f[DataHeaderSize:n:n]}, n, nil
	case OpFinal:
		return Final{CRC32: le.Uint32(f[1:5])}, n, nil
	default: // OpResult
		return Result{
			Status:       Status(f[1]),
			BytesWritten: le.Uint64(f[2:10]),
			CRC32:        le.Uint32(f[10:14]),
		}, n, nil
	}
}

// DecodeResumeBody decodes the eight bytes that follow a Resume opcode.
func DecodeResumeBody(body []byte) (Resume, error) {
	if len(body) < ResumeBodySize {
		return Resume{}, ErrNeedMoreData
	}
	return Resume{Offset: le.Uint64(body[:8])}, nil
}

// DecodeResultBody decodes the thirteen bytes that follow a Result opcode.
func DecodeResultBody(body []byte) (Result, error) {
	if len(body) < ResultBodySize {
		return Result{}, ErrNeedMoreData
	}
	return Result{
		Status:       Status(body[0]),
		BytesWritten: le.Uint64(body[1:9]),
		CRC32:        le.Uint32(body[9:13]),
	}, nil
}
