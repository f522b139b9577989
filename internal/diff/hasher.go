package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Hasher computes canonical hashes for methods and snapshots.
// Uses length-prefixed encoding to avoid delimiter ambiguity.
// Format: ${len}:${value}${len}:${value}... where empty → 0:
// Algorithm: SHA-256, lowercase hex output
type Hasher struct{}

// NewHasher creates a new hasher instance
func NewHasher() *Hasher {
	return &Hasher{}
}

// MethodID computes a stable id for a signature.
// Fields (in order): owner, name, params, return type
func (h *Hasher) MethodID(s Signature) string {
	return h.hashFields([]string{s.Owner, s.Name, s.Params, s.ReturnType})
}

// HashMethod computes the canonical hash of a method including its body
// checksum, lambda hashes and probe layout.
func (h *Hasher) HashMethod(m *Method) string {
	parts := []string{
		m.Owner,
		m.Name,
		m.Params,
		m.ReturnType,
		m.Checksum,
		strconv.Itoa(m.ProbeStart),
		strconv.Itoa(m.ProbeCount),
	}
	keys := make([]string, 0, len(m.LambdaHashes))
	for k := range m.LambdaHashes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k, m.LambdaHashes[k])
	}
	return h.hashFields(parts)
}

// ChecksumOf computes a body checksum from normalized instruction text.
// Ingestion uses it when the instrumentation did not supply one.
func (h *Hasher) ChecksumOf(body string) string {
	return h.hashFields([]string{strings.Join(strings.Fields(body), " ")})
}

// SnapshotID computes an id over a build's method inventory. Re-ingesting
// an identical inventory yields the same id regardless of method order.
func (h *Hasher) SnapshotID(methods []Method) string {
	ordered := sorted(methods)

	var builder strings.Builder
	for i := range ordered {
		builder.WriteString("m:")
		builder.WriteString(h.HashMethod(&ordered[i]))
	}

	hash := sha256.Sum256([]byte(builder.String()))
	return "sha256:" + hex.EncodeToString(hash[:])
}

// hashFields computes SHA-256 of length-prefixed fields
func (h *Hasher) hashFields(fields []string) string {
	var builder strings.Builder

	for _, field := range fields {
		builder.WriteString(strconv.Itoa(len(field)))
		builder.WriteByte(':')
		builder.WriteString(field)
	}

	hash := sha256.Sum256([]byte(builder.String()))
	return hex.EncodeToString(hash[:])
}
