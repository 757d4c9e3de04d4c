package utils

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(CodeLength)
		require.NoError(t, err)
		assert.True(t, IsValidCode(code), code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestIsValidCode(t *testing.T) {
	assert.True(t, IsValidCode("Ab3dE6gH"))
	assert.False(t, IsValidCode("short"))
	assert.False(t, IsValidCode("toolong99"))
	assert.False(t, IsValidCode("abc-defg"))
	assert.False(t, IsValidCode(""))
}

func TestAskForCode(t *testing.T) {
	var out strings.Builder
	code, err := AskForCode(context.Background(), strings.NewReader("bad\nAb3dE6gH\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "Ab3dE6gH", code)
	assert.Contains(t, out.String(), "Invalid code")

	_, err = AskForCode(context.Background(), strings.NewReader("nope\n"), io.Discard)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeDecode(t *testing.T) {
	type sdp struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	in := sdp{Type: "offer", SDP: "v=0\r\n"}

	enc, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode[sdp](enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Decode[sdp]("")
	assert.Error(t, err)
	_, err = Decode[sdp]("!!not base64!!")
	assert.Error(t, err)
}

func TestEnsureDirectory(t *testing.T) {
	base := t.TempDir()

	got, err := EnsureDirectory(base)
	require.NoError(t, err)
	assert.Equal(t, base, got)

	created, err := EnsureDirectory(filepath.Join(base, "new"))
	require.NoError(t, err)
	assert.DirExists(t, created)

	_, err = EnsureDirectory(filepath.Join(base, "missing", "deeper"))
	assert.Error(t, err)

	file := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = EnsureDirectory(file)
	assert.Error(t, err)
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.0 KB", FormatFileSize(1024))
	assert.Equal(t, "10.0 MB", FormatFileSize(10<<20))
	assert.Equal(t, "1.5 GB", FormatFileSize(3<<29))
}
