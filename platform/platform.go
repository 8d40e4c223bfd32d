// Package platform provides the canonical JSON encoding of an OCI platform
// used in cache digest derivation (§4.6.1, §9): sorted keys, optional
// fields omitted entirely (never emitted as null) when empty.
package platform

import (
	"bytes"
	"encoding/json"
	"sort"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// canonical mirrors ocispec.Platform but with the optional fields (variant,
// osVersion, osFeatures) marked omitempty so that an absent optional field
// is dropped from the object rather than encoded as JSON null; Canonical
// fills OSFeatures in sorted order for determinism.
type canonical struct {
	Architecture string   `json:"architecture"`
	OS           string   `json:"os"`
	Variant      string   `json:"variant,omitempty"`
	OSVersion    string   `json:"osVersion,omitempty"`
	OSFeatures   []string `json:"osFeatures,omitempty"`
}

// Canonical returns the canonical JSON encoding of p: keys sorted,
// osFeatures sorted, optional empty fields omitted.
//
// encoding/json emits object keys in struct declaration order
// (architecture, os, variant, osVersion, osFeatures), which is not
// byte-sorted, so the output is post-processed through a map to put the keys
// in byte-sorted order (architecture, os, osFeatures, osVersion, variant)
// regardless of how the struct evolves.
func Canonical(p ocispec.Platform) ([]byte, error) {
	c := canonical{
		Architecture: p.Architecture,
		OS:           p.OS,
		Variant:      p.Variant,
		OSVersion:    p.OSVersion,
	}
	if len(p.OSFeatures) > 0 {
		features := append([]string{}, p.OSFeatures...)
		sort.Strings(features)
		c.OSFeatures = features
	}

	dt, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return canonicalizeKeys(dt)
}

// canonicalizeKeys re-encodes a flat JSON object with its keys sorted in
// unsigned-byte lex order, independent of struct field declaration order.
func canonicalizeKeys(dt []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(dt, &raw); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(raw[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
