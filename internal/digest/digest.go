// Package digest computes the content checksums the catalog uses to
// deduplicate downloaded episodes. The encoded form is a 32 character
// lowercase hex MD5 digest; catalogs written by earlier versions store
// other values in the same column, which IsChecksum filters out.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Len is the length of an encoded digest.
const Len = 32

// Writer accumulates a digest of everything written to it. It is meant to
// sit behind an io.MultiWriter next to the destination file so content is
// hashed while it streams to disk.
type Writer struct {
	h hash.Hash
}

func New() *Writer {
	return &Writer{h: md5.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Sum returns the encoded digest of the bytes written so far.
func (w *Writer) Sum() string {
	return hex.EncodeToString(w.h.Sum(nil))
}

// File computes the digest of an existing file.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}

	defer f.Close()

	w := New()
	if _, err := io.Copy(w, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return w.Sum(), nil
}

// IsChecksum reports whether s looks like an encoded digest. Episode rows
// whose checksum column fails this check are candidates for repair.
func IsChecksum(s string) bool {
	if len(s) != Len {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
