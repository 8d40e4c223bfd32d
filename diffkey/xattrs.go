package diffkey

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// xattrsHash implements §4.3.5: sort keys by unsigned-byte lex order of
// their UTF-8 bytes, concatenate len32_be(key)||key||len32_be(value)||value
// for each, and hash the result. Empty or absent xattrs hash to SHA-256("").
func xattrsHash(xattrs map[string][]byte) string {
	if len(xattrs) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(xattrs))
	for k := range xattrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare([]byte(keys[i]), []byte(keys[j])) < 0
	})

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := xattrs[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
