package diffkey

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/moby/buildcore/diff"
)

const (
	recordVersion byte = 0x01

	tagAdded    byte = 0x41
	tagModified byte = 0x4D
	tagDeleted  byte = 0x44
)

const missingScalar = "-"

func nodeASCII(n diff.Node) string {
	switch n {
	case diff.NodeRegular:
		return "reg"
	case diff.NodeDirectory:
		return "dir"
	case diff.NodeSymlink:
		return "sym"
	case diff.NodeDevice:
		return "dev"
	case diff.NodeFIFO:
		return "fifo"
	case diff.NodeSocket:
		return "sock"
	default:
		return missingScalar
	}
}

func kindASCII(k diff.ModKind) string {
	switch k {
	case diff.ModMetadataOnly:
		return "meta"
	case diff.ModContentChanged:
		return "content"
	case diff.ModTypeChanged:
		return "type"
	case diff.ModSymlinkTargetChanged:
		return "symlink"
	default:
		return missingScalar
	}
}

func uint32OrDash(v *uint32) string {
	if v == nil {
		return missingScalar
	}
	return strconv.FormatUint(uint64(*v), 10)
}

// writeField appends one length-prefixed field: a 4-byte big-endian length
// followed by the raw bytes, with no separator and no escaping (§4.3.1).
func writeField(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func writeFieldString(buf *bytes.Buffer, s string) {
	writeField(buf, []byte(s))
}

// encodeTrailingFields writes node, perms, uid, gid, linkTarget, xattrsField,
// contentHashField -- the fields Added carries after path, and that
// Modified carries after path+kind (§4.3.1).
func encodeTrailingFields(buf *bytes.Buffer, node diff.Node, attrs diff.Attributes, contentHash string) {
	writeFieldString(buf, nodeASCII(node))
	writeFieldString(buf, uint32OrDash(attrs.Permissions))
	writeFieldString(buf, uint32OrDash(attrs.UID))
	writeFieldString(buf, uint32OrDash(attrs.GID))

	if attrs.LinkTarget != nil {
		writeField(buf, attrs.LinkTarget.Bytes())
	} else {
		writeFieldString(buf, missingScalar)
	}

	writeFieldString(buf, "xh:"+xattrsHash(attrs.Xattrs))
	writeFieldString(buf, "ch:"+contentHash)
}

// encodeAdded emits the byte sequence for an Added record.
func encodeAdded(r diff.Record, contentHash string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	buf.WriteByte(tagAdded)
	writeField(&buf, r.Path.Bytes())
	encodeTrailingFields(&buf, r.Node, r.Attributes, contentHash)
	return buf.Bytes()
}

// encodeModified emits the byte sequence for a Modified record.
func encodeModified(r diff.Record, contentHash string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	buf.WriteByte(tagModified)
	writeField(&buf, r.Path.Bytes())
	writeFieldString(&buf, kindASCII(r.Kind))
	encodeTrailingFields(&buf, r.Node, r.Attributes, contentHash)
	return buf.Bytes()
}

// encodeDeleted emits the byte sequence for a Deleted record.
func encodeDeleted(r diff.Record, nodeType string, baseDirNonEmpty bool) []byte {
	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	buf.WriteByte(tagDeleted)
	writeField(&buf, r.Path.Bytes())
	writeFieldString(&buf, nodeType)
	if baseDirNonEmpty {
		writeFieldString(&buf, "opq:1")
	} else {
		writeFieldString(&buf, "opq:0")
	}
	return buf.Bytes()
}
