// Package protocol implements the binary framing of the resumable upload
// protocol.
//
// Every frame starts with a one-byte opcode followed by a fixed little-endian
// header and, for Hello and Data, a variable-length body:
//
//	0x10 Hello   u16 version, u64 fileSize, u16 pathLen, path
//	0x11 Resume  u64 offset
//	0x20 Data    u32 chunkLen, payload
//	0x30 Final   u32 crc32
//	0x31 Result  u8 status, u64 bytesWritten, u32 crc32
//
// The codec does no I/O. DecodeFrame is restartable so callers can feed it
// bytes in whatever slices the transport delivers.
package protocol

import "fmt"

// Version is the only protocol version understood by this package.
const Version uint16 = 1

// MaxPathLen is the largest encodable path in bytes.
const MaxPathLen = 0xFFFF

// Opcode identifies a frame type.
type Opcode uint8

const (
	OpHello  Opcode = 0x10
	OpResume Opcode = 0x11
	OpData   Opcode = 0x20
	OpFinal  Opcode = 0x30
	OpResult Opcode = 0x31
)

// Fixed frame sizes, opcode byte included.
const (
	OpcodeSize      = 1
	HelloHeaderSize = OpcodeSize + 2 + 8 + 2
	ResumeFrameSize = OpcodeSize + 8
	DataHeaderSize  = OpcodeSize + 4
	FinalFrameSize  = OpcodeSize + 4
	ResultFrameSize = OpcodeSize + 1 + 8 + 4
	ResumeBodySize  = ResumeFrameSize - OpcodeSize
	ResultBodySize  = ResultFrameSize - OpcodeSize
)

// Known reports whether op is one of the defined opcodes.
func (op Opcode) Known() bool {
	switch op {
	case OpHello, OpResume, OpData, OpFinal, OpResult:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpHello:
		return "Hello"
	case OpResume:
		return "Resume"
	case OpData:
		return "Data"
	case OpFinal:
		return "Final"
	case OpResult:
		return "Result"
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(op))
}

// Status is the outcome carried by a Result frame.
type Status uint8

const (
	StatusOk Status = iota
	StatusCrcMismatch
	StatusIoError
	StatusBadRequest
	StatusStateError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusCrcMismatch:
		return "CrcMismatch"
	case StatusIoError:
		return "IoError"
	case StatusBadRequest:
		return "BadRequest"
	case StatusStateError:
		return "StateError"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is a defined status code.
func (s Status) Valid() bool {
	return s <= StatusStateError
}
