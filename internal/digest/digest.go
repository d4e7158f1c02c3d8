package digest

import (
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

const bufferSize = 64 * 1024 // 64KB buffer

// FromFile computes the SHA-256 digest of a file's contents.
func FromFile(path string) (digest.Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return FromReader(file)
}

// FromReader streams a reader through SHA-256 and returns the digest.
// The whole stream is always consumed; there is no early exit on a
// partial read.
func FromReader(r io.Reader) (digest.Digest, error) {
	digester := digest.SHA256.Digester()
	buffer := make([]byte, bufferSize)

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if _, werr := digester.Hash().Write(buffer[:n]); werr != nil {
				return "", fmt.Errorf("write to hash: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}

	return digester.Digest(), nil
}
