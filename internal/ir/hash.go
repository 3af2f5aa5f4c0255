package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainChangeSet = "pvm/changeset/v1"
	DomainGraph     = "pvm/graph/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalChangeSet returns the canonical object form of a change-set.
// Zero-valued mutation fields are omitted.
func CanonicalChangeSet(cs ChangeSet) map[string]any {
	ops := make([]any, len(cs.Ops))
	for i, m := range cs.Ops {
		op := map[string]any{"op": string(m.Op)}
		if m.Node != 0 {
			op["node"] = m.Node
		}
		if m.Type != "" {
			op["type"] = m.Type
		}
		if m.ExternalID != "" {
			op["external_id"] = m.ExternalID
		}
		if m.Key != "" {
			op["key"] = m.Key
		}
		if m.Op == OpSetMeta || m.Op == OpSetName || m.Op == OpUnname {
			op["value"] = m.Value
		}
		if m.Kind != "" {
			op["kind"] = string(m.Kind)
			op["src"] = m.Src
			op["dst"] = m.Dst
			op["bytes"] = m.Bytes
		}
		ops[i] = op
	}
	values := cs.Context.Values
	if values == nil {
		values = map[string]string{}
	}
	return map[string]any{
		"seq":          cs.Seq,
		"context_type": cs.Context.Type,
		"context":      values,
		"ops":          ops,
	}
}

// ChangeSetID computes the content digest of a committed change-set.
// The journal stores it so a replayed trace can be checked for drift.
func ChangeSetID(cs ChangeSet) (string, error) {
	canonical, err := MarshalCanonical(CanonicalChangeSet(cs))
	if err != nil {
		return "", fmt.Errorf("ChangeSetID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChangeSet, canonical), nil
}

// GraphDigest computes the content digest of a canonical graph snapshot.
func GraphDigest(snapshot map[string]any) (string, error) {
	canonical, err := MarshalCanonical(snapshot)
	if err != nil {
		return "", fmt.Errorf("GraphDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// MustChangeSetID is like ChangeSetID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChangeSetID(cs ChangeSet) string {
	id, err := ChangeSetID(cs)
	if err != nil {
		panic(err)
	}
	return id
}
