// Package binarypath implements BinaryPath, a filesystem path type that
// preserves its raw bytes verbatim, including sequences that are not valid
// UTF-8. Component separation and comparison operate on those raw bytes,
// never on a decoded string.
package binarypath

import (
	"bytes"
	"encoding/json"
	"net/url"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const separator = '/'

// BinaryPath is an immutable, ordered sequence of bytes representing a
// filesystem path. The zero value is the empty path.
type BinaryPath struct {
	raw []byte
}

// New constructs a BinaryPath from a UTF-8 string.
func New(s string) BinaryPath {
	return FromBytes([]byte(s))
}

// FromBytes constructs a BinaryPath from raw bytes, which need not be valid
// UTF-8. The bytes are copied; later mutation of b does not affect the
// result.
func FromBytes(b []byte) BinaryPath {
	if len(b) == 0 {
		return BinaryPath{}
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	return BinaryPath{raw: raw}
}

// FromCString constructs a BinaryPath from a null-terminated byte sequence,
// stopping at (and excluding) the first NUL byte.
func FromCString(b []byte) BinaryPath {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return FromBytes(b)
}

// FromURL constructs a BinaryPath from a host "file://" URL's path
// component. Non-file URLs use the raw path portion verbatim.
func FromURL(u *url.URL) BinaryPath {
	if u == nil {
		return BinaryPath{}
	}
	return New(u.Path)
}

// Bytes returns the raw bytes backing the path. The caller must not mutate
// the returned slice.
func (p BinaryPath) Bytes() []byte {
	return p.raw
}

// String returns the path's raw bytes as a Go string. Invalid UTF-8
// sequences are carried over unchanged, not replaced.
func (p BinaryPath) String() string {
	return string(p.raw)
}

// IsEmpty reports whether the path has zero bytes.
func (p BinaryPath) IsEmpty() bool {
	return len(p.raw) == 0
}

// Equal reports byte-for-byte equality.
func (p BinaryPath) Equal(other BinaryPath) bool {
	return bytes.Equal(p.raw, other.raw)
}

// Compare performs unsigned-byte lexicographic comparison, returning a
// negative number, zero, or a positive number as p is less than, equal to,
// or greater than other.
func (p BinaryPath) Compare(other BinaryPath) int {
	return bytes.Compare(p.raw, other.raw)
}

// Append returns a new path with component appended. A "/" separator is
// inserted unless the receiver is empty or already ends in "/". One leading
// "/" on component, if present, is stripped first.
func (p BinaryPath) Append(component string) BinaryPath {
	c := []byte(component)
	c = bytes.TrimPrefix(c, []byte{separator})

	if len(p.raw) == 0 {
		return FromBytes(c)
	}

	out := make([]byte, 0, len(p.raw)+1+len(c))
	out = append(out, p.raw...)
	if out[len(out)-1] != separator {
		out = append(out, separator)
	}
	out = append(out, c...)
	return BinaryPath{raw: out}
}

// DeletingLastPathComponent returns the path with its final "/"-delimited
// component removed. It returns "/" if the last separator sits at byte 0,
// and the empty path if there is no separator at all.
func (p BinaryPath) DeletingLastPathComponent() BinaryPath {
	idx := bytes.LastIndexByte(p.raw, separator)
	if idx < 0 {
		return BinaryPath{}
	}
	if idx == 0 {
		return New("/")
	}
	return FromBytes(p.raw[:idx])
}

// LastPathComponent returns the final "/"-delimited component, or the whole
// path if it contains no separator.
func (p BinaryPath) LastPathComponent() BinaryPath {
	idx := bytes.LastIndexByte(p.raw, separator)
	if idx < 0 {
		return p
	}
	return FromBytes(p.raw[idx+1:])
}

// Components splits the path on "/", discarding empty segments (so leading,
// trailing, and repeated separators never produce empty components).
func (p BinaryPath) Components() []BinaryPath {
	parts := bytes.Split(p.raw, []byte{separator})
	out := make([]BinaryPath, 0, len(parts))
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		out = append(out, FromBytes(part))
	}
	return out
}

// HasPrefix reports whether the raw bytes of p begin with the raw bytes of
// prefix.
func (p BinaryPath) HasPrefix(prefix BinaryPath) bool {
	return bytes.HasPrefix(p.raw, prefix.raw)
}

// HasSuffix reports whether the raw bytes of p end with the raw bytes of
// suffix.
func (p BinaryPath) HasSuffix(suffix BinaryPath) bool {
	return bytes.HasSuffix(p.raw, suffix.raw)
}

// RelativePath returns the bytes of p after a "base + /" prefix. It returns
// an empty, ok=true path if p equals base exactly, and ok=false if p is not
// rooted under base at all.
func (p BinaryPath) RelativePath(base BinaryPath) (rel BinaryPath, ok bool) {
	if p.Equal(base) {
		return BinaryPath{}, true
	}
	withSep := append(append([]byte{}, base.raw...), separator)
	if !bytes.HasPrefix(p.raw, withSep) {
		return BinaryPath{}, false
	}
	return FromBytes(p.raw[len(withSep):]), true
}

// WithCString invokes body with a null-terminated copy of the path's raw
// bytes. The slice passed to body must not be retained past the call.
func (p BinaryPath) WithCString(body func([]byte) error) error {
	buf := make([]byte, len(p.raw)+1)
	copy(buf, p.raw)
	return body(buf)
}

// jsonBinary is the on-wire shape used when the raw bytes are not valid
// UTF-8 and cannot be encoded as a plain JSON string.
type jsonBinary struct {
	Bytes []byte `json:"bytes"`
}

// MarshalJSON encodes the path as a plain JSON string when its bytes are
// valid UTF-8, and as {"bytes": "<base64>"} otherwise.
func (p BinaryPath) MarshalJSON() ([]byte, error) {
	if utf8.Valid(p.raw) {
		return json.Marshal(string(p.raw))
	}
	return json.Marshal(jsonBinary{Bytes: p.raw})
}

// UnmarshalJSON accepts either on-wire shape produced by MarshalJSON.
func (p *BinaryPath) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = New(s)
		return nil
	}
	var bin jsonBinary
	if err := json.Unmarshal(data, &bin); err != nil {
		return errors.Wrap(err, "binarypath: unrecognized JSON shape")
	}
	*p = FromBytes(bin.Bytes)
	return nil
}
