// Package contenthash computes hex SHA-256 content hashes for evidence
// payloads under a per-source-type policy.
//
// Structured sources (json_snapshot) hash on meaning: the payload is
// canonicalized first, so logically identical documents hash identically
// regardless of key order. Opaque sources (manual_note, file_r2,
// url_snapshot) hash on raw bytes: a re-encoding changes their identity.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/staykeeper/custody/internal/canonical"
)

// SourceType identifies where an evidence payload came from and, with it,
// which hashing policy applies.
type SourceType string

const (
	SourceManualNote   SourceType = "manual_note"
	SourceFileR2       SourceType = "file_r2"
	SourceURLSnapshot  SourceType = "url_snapshot"
	SourceJSONSnapshot SourceType = "json_snapshot"
)

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceManualNote, SourceFileR2, SourceURLSnapshot, SourceJSONSnapshot:
		return true
	}
	return false
}

// Structured reports whether the source type hashes on canonical JSON form
// rather than raw bytes.
func (s SourceType) Structured() bool {
	return s == SourceJSONSnapshot
}

// SumBytes returns the hex SHA-256 of raw bytes.
func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumCanonical returns the hex SHA-256 of the canonical JSON form of v.
func SumCanonical(v any) (string, error) {
	enc, err := canonical.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return SumBytes(enc), nil
}

// Sum applies the source-type hashing policy to a payload. For structured
// sources the payload is canonicalized before hashing; for opaque sources the
// bytes are hashed as-is.
func Sum(source SourceType, payload []byte) (string, error) {
	if !source.Valid() {
		return "", fmt.Errorf("unknown source type %q", source)
	}
	if source.Structured() {
		out, err := canonical.Transform(payload)
		if err != nil {
			return "", fmt.Errorf("canonicalize %s payload: %w", source, err)
		}
		return SumBytes(out), nil
	}
	return SumBytes(payload), nil
}
