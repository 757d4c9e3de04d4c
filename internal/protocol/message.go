package protocol

// Message is one decoded frame. The concrete types are Hello, Resume, Data,
// Final and Result.
type Message interface {
	Opcode() Opcode
	// EncodedLen is the size of the frame including the opcode byte.
	EncodedLen() int
}

// Hello opens an upload. Path is the receiver-relative target path.
type Hello struct {
	Version  uint16
	FileSize uint64
	Path     string
}

// Resume tells the sender where to continue from.
type Resume struct {
	Offset uint64
}

// Data carries one chunk of file content. Payload returned by DecodeFrame
// aliases the decode buffer.
type Data struct {
	Payload []byte
}

// Final carries the sender's CRC-32 of the whole file.
type Final struct {
	CRC32 uint32
}

// Result reports the receiver's outcome.
type Result struct {
	Status       Status
	BytesWritten uint64
	CRC32        uint32
}

func (Hello) Opcode() Opcode  { return OpHello }
func (Resume) Opcode() Opcode { return OpResume }
func (Data) Opcode() Opcode   { return OpData }
func (Final) Opcode() Opcode  { return OpFinal }
func (Result) Opcode() Opcode { return OpResult }

func (h Hello) EncodedLen() int { return HelloHeaderSize + len(h.Path) }
func (Resume) EncodedLen() int  { return ResumeFrameSize }
func (d Data) EncodedLen() int  { return DataHeaderSize + len(d.Payload) }
func (Final) EncodedLen() int   { return FinalFrameSize }
func (Result) EncodedLen() int  { return ResultFrameSize }
