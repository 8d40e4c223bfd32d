// Package diff defines the tagged-variant model describing one filesystem
// change between two snapshots: an addition, a modification, or a deletion.
package diff

import (
	"time"

	"github.com/moby/buildcore/binarypath"
)

// Node identifies the kind of filesystem entry a record describes.
type Node string

const (
	NodeRegular   Node = "regular"
	NodeDirectory Node = "directory"
	NodeSymlink   Node = "symlink"
	NodeDevice    Node = "device"
	NodeFIFO      Node = "fifo"
	NodeSocket    Node = "socket"
)

// ModKind distinguishes the ways an existing entry can be modified.
type ModKind string

const (
	ModMetadataOnly         ModKind = "metadataOnly"
	ModContentChanged       ModKind = "contentChanged"
	ModTypeChanged          ModKind = "typeChanged"
	ModSymlinkTargetChanged ModKind = "symlinkTargetChanged"
)

// Tag distinguishes the three record variants.
type Tag int

const (
	Added Tag = iota
	Modified
	Deleted
)

// Attributes holds the optional per-entry metadata shared by Added and
// Modified records. A nil/zero field means "attribute not recorded", not
// "attribute is zero"; this distinction matters for DiffKey encoding, which
// renders missing scalars as "-" rather than as "0".
type Attributes struct {
	Permissions *uint32
	Size        *int64
	ModTime     *time.Time
	LinkTarget  *binarypath.BinaryPath
	UID         *uint32
	GID         *uint32
	Xattrs      map[string][]byte
	DevMajor    *uint32
	DevMinor    *uint32
	Nlink       *uint32
}

// Record is one filesystem change. Which fields are meaningful depends on
// Tag: Kind is only meaningful for Modified; Node and Attributes are
// meaningless for Deleted.
type Record struct {
	Tag  Tag
	Path binarypath.BinaryPath

	// Added, Modified only.
	Node Node

	// Modified only.
	Kind ModKind

	Attributes
}

// NewAdded constructs an Added record.
func NewAdded(path binarypath.BinaryPath, node Node, attrs Attributes) Record {
	return Record{Tag: Added, Path: path, Node: node, Attributes: attrs}
}

// NewModified constructs a Modified record.
func NewModified(path binarypath.BinaryPath, kind ModKind, node Node, attrs Attributes) Record {
	return Record{Tag: Modified, Path: path, Node: node, Kind: kind, Attributes: attrs}
}

// NewDeleted constructs a Deleted record.
func NewDeleted(path binarypath.BinaryPath) Record {
	return Record{Tag: Deleted, Path: path}
}

// IsSpecial reports whether the record describes a socket or device node,
// the two node kinds DiffKey computation excludes outright (§4.3.2).
func (r Record) IsSpecial() bool {
	return r.Node == NodeSocket || r.Node == NodeDevice
}
