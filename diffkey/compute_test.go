package diffkey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/moby/buildcore/binarypath"
	"github.com/moby/buildcore/diff"
)

func perm(v uint32) *uint32 { return &v }

// S1 -- empty diff.
func TestComputeEmptyDiffScratch(t *testing.T) {
	k, err := Compute(nil, ComputeOptions{TargetMount: "/tmp", CoupleToBase: true})
	assert.NilError(t, err)

	emptyLeafSum := sha256.Sum256(append([]byte{0x45}, "empty"...))
	want := sha256.Sum256(append([]byte("diffkey:v1|scratch|"), emptyLeafSum[:]...))

	assert.Check(t, is.Equal(k.String(), "sha256:"+hex.EncodeToString(want[:])))

	k2, err := Compute(nil, ComputeOptions{TargetMount: "/tmp", CoupleToBase: true})
	assert.NilError(t, err)
	assert.Check(t, k.Equal(k2))
}

// S2 -- single add, permutation invariance, attribute sensitivity.
func TestComputeSingleAddIsStableAndSensitiveToPermissions(t *testing.T) {
	withPerm := func(p uint32) diff.Record {
		return diff.NewAdded(binarypath.New("/a"), diff.NodeRegular, diff.Attributes{Permissions: perm(p)})
	}

	k1, err := Compute([]diff.Record{withPerm(0o644)}, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)
	k2, err := Compute([]diff.Record{withPerm(0o644)}, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)
	assert.Check(t, k1.Equal(k2))

	k3, err := Compute([]diff.Record{withPerm(0o755)}, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)
	assert.Check(t, !k1.Equal(k3))
}

// S3 -- reordering.
func TestComputeOrderIndependence(t *testing.T) {
	add := func(name string) diff.Record {
		return diff.NewAdded(binarypath.New("/"+name), diff.NodeRegular, diff.Attributes{})
	}
	forward := []diff.Record{add("a"), add("b"), add("c")}
	backward := []diff.Record{add("c"), add("a"), add("b")}

	k1, err := Compute(forward, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)
	k2, err := Compute(backward, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)
	assert.Check(t, k1.Equal(k2))
}

func TestComputeExcludesSocketsAndDevices(t *testing.T) {
	base := []diff.Record{
		diff.NewAdded(binarypath.New("/a"), diff.NodeRegular, diff.Attributes{}),
	}
	withSocket := append(append([]diff.Record{}, base...),
		diff.NewAdded(binarypath.New("/s"), diff.NodeSocket, diff.Attributes{}),
	)
	withDevice := append(append([]diff.Record{}, base...),
		diff.NewAdded(binarypath.New("/d"), diff.NodeDevice, diff.Attributes{}),
	)

	k0, err := Compute(base, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)
	k1, err := Compute(withSocket, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)
	k2, err := Compute(withDevice, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)

	assert.Check(t, k0.Equal(k1))
	assert.Check(t, k0.Equal(k2))
}

func TestComputeDomainSeparation(t *testing.T) {
	records := []diff.Record{diff.NewAdded(binarypath.New("/a"), diff.NodeRegular, diff.Attributes{})}

	kAnyBase, err := Compute(records, ComputeOptions{CoupleToBase: false})
	assert.NilError(t, err)
	kScratch, err := Compute(records, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)

	d := digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(make([]byte, 32)))
	kWithBase, err := Compute(records, ComputeOptions{CoupleToBase: true, BaseDigest: &d})
	assert.NilError(t, err)

	assert.Check(t, !kAnyBase.Equal(kScratch))
	assert.Check(t, !kScratch.Equal(kWithBase))
	assert.Check(t, !kAnyBase.Equal(kWithBase))
}

func TestParseRoundTrip(t *testing.T) {
	k, err := Compute(nil, ComputeOptions{CoupleToBase: true})
	assert.NilError(t, err)

	parsed, err := Parse(k.String())
	assert.NilError(t, err)
	assert.Check(t, parsed.Equal(k))
}

func TestParseRejectsNonConformingStrings(t *testing.T) {
	cases := []string{
		"",
		"sha256:short",
		"sha512:" + hex256zeros(),
		"sha256:" + upper(strings.Repeat("ab", 32)),
		"nope",
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.Check(t, err != nil, "expected parse error for %q", c)
	}
}

func hex256zeros() string {
	return hex.EncodeToString(make([]byte, 32))
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

