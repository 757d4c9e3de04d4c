// Package checksum provides the CRC-32 (IEEE 802.3) used to verify transfers.
//
// Two implementations are provided. Update and Checksum are a table-driven
// reference built from the reflected polynomial. Accumulator is the streaming
// form used on the data path; it delegates to hash/crc32, which selects a
// hardware kernel when one is available. Both produce identical values.
package checksum

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// Polynomial is the reflected IEEE 802.3 polynomial.
const Polynomial uint32 = 0xEDB88320

// Size is the length of a CRC-32 in bytes.
const Size = 4

// Table is the byte-indexed lookup table for Polynomial.
var Table = makeTable(Polynomial)

func makeTable(poly uint32) *[256]uint32 {
	t := new([256]uint32)
	for i := range t {
		c := uint32(i)
		for k := 0; k < 8; k++ {
			if c&1 != 0 {
				c = poly ^ (c >> 1)
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return t
}

// Update returns the result of adding the bytes in p to the finalized crc.
// Passing 0 starts a new checksum.
func Update(crc uint32, p []byte) uint32 {
	c := ^crc
	for _, b := range p {
		c = Table[byte(c)^b] ^ (c >> 8)
	}
	return ^c
}

// Checksum returns the CRC-32 of p.
func Checksum(p []byte) uint32 {
	return Update(0, p)
}

// Accumulator is a running CRC-32 that can be fed incrementally.
// The zero value is ready to use. It is not safe for concurrent use.
type Accumulator struct {
	crc uint32
	n   uint64
}

var _ hash.Hash32 = (*Accumulator)(nil)

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Write folds p into the running checksum. It never fails.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.crc = crc32.Update(a.crc, crc32.IEEETable, p)
	a.n += uint64(len(p))
	return len(p), nil
}

// Sum32 returns the finalized checksum of everything written so far.
func (a *Accumulator) Sum32() uint32 { return a.crc }

// Sum appends the big-endian checksum to b.
func (a *Accumulator) Sum(b []byte) []byte {
	s := a.crc
	return append(b, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

// Reset clears the accumulator.
func (a *Accumulator) Reset() {
	a.crc = 0
	a.n = 0
}

// Size returns the checksum length in bytes.
func (a *Accumulator) Size() int { return Size }

// BlockSize returns the preferred write granularity.
func (a *Accumulator) BlockSize() int { return 1 }

// Len returns the number of bytes folded in so far.
func (a *Accumulator) Len() uint64 { return a.n }

// Seed folds exactly n bytes read from r into the accumulator using buf as
// scratch space. It is used to account for data already held on disk when a
// transfer resumes.
func (a *Accumulator) Seed(r io.Reader, n int64, buf []byte) error {
	if n <= 0 {
		return nil
	}
	if len(buf) == 0 {
		buf = make([]byte, 64*1024)
	}
	copied, err := io.CopyBuffer(onlyWriter{a}, io.LimitReader(r, n), buf)
	if err != nil {
		return fmt.Errorf("seed checksum: %w", err)
	}
	if copied != n {
		return fmt.Errorf("seed checksum: short read (%d of %d bytes): %w", copied, n, io.ErrUnexpectedEOF)
	}
	return nil
}

// onlyWriter hides any ReaderFrom so CopyBuffer uses the supplied buffer.
type onlyWriter struct {
	w io.Writer
}

func (o onlyWriter) Write(p []byte) (int, error) { return o.w.Write(p) }
