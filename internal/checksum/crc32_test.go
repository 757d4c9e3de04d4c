package checksum

import (
	"bytes"
	"hash/crc32"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownVectors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  uint32
	}{
		{"empty", "", 0x00000000},
		{"check value", "123456789", 0xCBF43926},
		{"single a", "a", 0xE8B7BE43},
		{"quick fox", "The quick brown fox jumps over the lazy dog", 0x414FA339},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum([]byte(tt.input)))

			acc := NewAccumulator()
			_, _ = acc.Write([]byte(tt.input))
			assert.Equal(t, tt.want, acc.Sum32())
		})
	}
}

func TestTableMatchesStdlib(t *testing.T) {
	assert.Equal(t, *crc32.IEEETable, crc32.Table(*Table))
}

func TestImplementationsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		buf := make([]byte, rng.Intn(5000))
		rng.Read(buf)

		acc := NewAccumulator()
		running := uint32(0)
		for rest := buf; len(rest) > 0; {
			n := 1 + rng.Intn(len(rest))
			_, _ = acc.Write(rest[:n])
			running = Update(running, rest[:n])
			rest = rest[n:]
		}

		want := Checksum(buf)
		require.Equal(t, want, acc.Sum32(), "accumulator, len=%d", len(buf))
		require.Equal(t, want, running, "incremental table, len=%d", len(buf))
		require.Equal(t, uint64(len(buf)), acc.Len())
	}
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator()
	_, _ = acc.Write([]byte("garbage"))
	acc.Reset()
	_, _ = acc.Write([]byte("123456789"))
	assert.Equal(t, uint32(0xCBF43926), acc.Sum32())
	assert.Equal(t, []byte{0xCB, 0xF4, 0x39, 0x26}, acc.Sum(nil))
	assert.Equal(t, Size, acc.Size())
}

func TestSeed(t *testing.T) {
	data := bytes.Repeat([]byte("resumable"), 1000)

	acc := NewAccumulator()
	require.NoError(t, acc.Seed(bytes.NewReader(data), 4000, make([]byte, 333)))
	_, _ = acc.Write(data[4000:])
	assert.Equal(t, Checksum(data), acc.Sum32())

	short := NewAccumulator()
	err := short.Seed(bytes.NewReader(data[:10]), 20, nil)
	require.Error(t, err)

	zero := NewAccumulator()
	require.NoError(t, zero.Seed(bytes.NewReader(nil), 0, nil))
	assert.Equal(t, uint32(0), zero.Sum32())
}
