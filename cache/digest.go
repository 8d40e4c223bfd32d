package cache

import (
	digest "github.com/opencontainers/go-digest"

	"github.com/moby/buildcore/platform"
)

// deriveDigest computes the cache digest for key under the given
// cacheKeyVersion, per §4.6.1:
//
//	h = SHA-256()
//	h.update(cacheKeyVersion_utf8)
//	h.update(key.operationDigest.rawBytes)
//	for d in sort(key.inputDigests by stringValue ascending):
//	    h.update(d.rawBytes)
//	h.update(encodePlatform(key.platform))
//	return "sha256:" || lowercase-hex(h.finalize())
//
// "rawBytes" of a digest.Digest is its encoded hex payload, not the
// "sha256:" string prefix -- folding the algorithm prefix in would make the
// derivation sensitive to a digest's algorithm label rather than its value.
func deriveDigest(cacheKeyVersion string, key Key) (digest.Digest, error) {
	platformJSON, err := platform.Canonical(key.Platform)
	if err != nil {
		return "", err
	}

	digester := digest.SHA256.Digester()
	h := digester.Hash()
	h.Write([]byte(cacheKeyVersion))
	h.Write([]byte(key.OperationDigest.Encoded()))
	for _, d := range key.sortedInputs() {
		h.Write([]byte(d.Encoded()))
	}
	h.Write(platformJSON)

	return digester.Digest(), nil
}
