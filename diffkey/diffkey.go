// Package diffkey computes DiffKey, the canonical, bit-exact Merkle
// identifier for a set of filesystem diff records (§4.3 of the build-core
// design). The computation is pure: the same records, in any order, with
// the same base-lineage inputs, always produce the same key.
package diffkey

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/moby/buildcore/errdefs"
)

// Key is a canonical "sha256:<64-hex>" DiffKey. It is a value type;
// equality is byte equality of its string form.
type Key string

const prefix = "sha256:"

var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Parse accepts only strings of the exact shape "sha256:" followed by 64
// lowercase hex characters (§4.3.8).
func Parse(s string) (Key, error) {
	if !strings.HasPrefix(s, prefix) {
		return "", errdefs.InvalidFormat(s, errors.New("diffkey: missing sha256: prefix"))
	}
	hexPart := s[len(prefix):]
	if !hexPattern.MatchString(hexPart) {
		return "", errdefs.InvalidFormat(s, errors.New("diffkey: expected 64 lowercase hex characters"))
	}
	return Key(s), nil
}

// String returns the canonical "sha256:<hex>" form.
func (k Key) String() string {
	return string(k)
}

// Equal reports byte equality of the canonical hex form.
func (k Key) Equal(other Key) bool {
	return k == other
}

func formatKey(sum [32]byte) Key {
	return Key(prefix + hex.EncodeToString(sum[:]))
}
