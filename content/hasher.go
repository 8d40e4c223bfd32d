// Package content provides streaming content hashing and file comparison
// over real filesystem paths: ContentHasher and FileContentDiffer from
// §4.2/§4.3.3 of the build-core design.
package content

import (
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// chunkSize is the read buffer size used while streaming file contents into
// the hasher, per §4.2/§4.3.3 ("4 MiB chunks").
const chunkSize = 4 << 20

// HashFile streams the contents of the file at path through SHA-256 in
// 4 MiB chunks and returns the resulting digest. It returns an error
// wrapping os.ErrNotExist if the file does not exist.
func HashFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader streams r through SHA-256 in 4 MiB chunks and returns the
// resulting digest.
func HashReader(r io.Reader) (digest.Digest, error) {
	digester := digest.Canonical.Digester()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(digester.Hash(), r, buf); err != nil {
		return "", errors.Wrap(err, "content: streaming hash failed")
	}
	return digester.Digest(), nil
}
