package receiver

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidPath indicates a Hello path that is empty, not UTF-8, or
	// contains a NUL byte.
	ErrInvalidPath = errors.New("invalid target path")

	// ErrPathEscapesRoot indicates a Hello path that resolves outside the
	// storage root or to the root itself.
	ErrPathEscapesRoot = errors.New("target path escapes storage root")
)

// SanitizeRelativePath normalizes a sender-supplied path: backslashes become
// '/', duplicate separators collapse, leading separators and drive letters are
// dropped, and "." and ".." segments are removed. The result uses '/'.
func SanitizeRelativePath(p string) (string, error) {
	if p == "" || !utf8.ValidString(p) || strings.ContainsRune(p, 0) {
		return "", ErrInvalidPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0]) {
		p = p[2:]
	}

	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		switch strings.TrimSpace(part) {
		case "", ".", "..":
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return "", ErrInvalidPath
	}
	return strings.Join(kept, "/"), nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// ResolveTarget sanitizes rel and joins it under root. It returns the
// absolute target path and the temp path next to it.
func ResolveTarget(root, rel, tempSuffix string) (target, temp string, err error) {
	clean, err := SanitizeRelativePath(rel)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", "", err
	}
	absTarget, err := filepath.Abs(filepath.Join(absRoot, filepath.FromSlash(clean)))
	if err != nil {
		return "", "", err
	}
	relToRoot, err := filepath.Rel(absRoot, absTarget)
	if err != nil {
		return "", "", err
	}
	if relToRoot == "." || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(os.PathSeparator)) {
		return "", "", ErrPathEscapesRoot
	}
	return absTarget, absTarget + tempSuffix, nil
}
