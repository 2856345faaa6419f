package artifact

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/staykeeper/custody/internal/contenthash"
)

// Kind selects the shape of the assembled document.
type Kind string

const (
	KindDefensePack  Kind = "defense_pack"
	KindClaimDossier Kind = "claim_dossier"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	return k == KindDefensePack || k == KindClaimDossier
}

// Algorithm returns the verification algorithm tag embedded in documents of
// this kind.
func (k Kind) Algorithm() string { return string(k) + "_v1" }

// Status is the lifecycle state of a derived artifact. The document body
// never changes after assembly; only status moves.
type Status string

const (
	StatusAssembled  Status = "assembled"
	StatusExported   Status = "exported"
	StatusSuperseded Status = "superseded"
)

// DerivedArtifact is a versioned, hashed document assembled from a parent's
// sealed attachments. Versions are monotonic per parent; assembling a new
// version supersedes all earlier ones without touching their bodies.
type DerivedArtifact struct {
	ID              uuid.UUID       `json:"id"`
	ParentID        uuid.UUID       `json:"parent_id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Kind            Kind            `json:"kind"`
	Version         int             `json:"version"`
	Status          Status          `json:"status"`
	Document        json.RawMessage `json:"document"`
	BodySHA256      string          `json:"body_sha256"`
	ClientRequestID *string         `json:"client_request_id,omitempty"`
	AssembledBy     *uuid.UUID      `json:"assembled_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExportedAt      *time.Time      `json:"exported_at,omitempty"`
}

// Cover carries parent metadata at the head of the document.
type Cover struct {
	ParentID     string `json:"parent_id"`
	ArtifactKind string `json:"artifact_kind"`
	AssembledAt  string `json:"assembled_at"`
}

// ChronologyEntry is one dated line in the document's timeline. Entries are
// sorted ascending by OccurredAt; ties keep attachment order.
type ChronologyEntry struct {
	OccurredAt       string  `json:"occurred_at"`
	Title            string  `json:"title"`
	SourceType       string  `json:"source_type"`
	EvidenceObjectID string  `json:"evidence_object_id"`
	BundleID         *string `json:"bundle_id,omitempty"`
	SHA256           string  `json:"sha256"`
	Label            string  `json:"label,omitempty"`
}

// IndexEntry is one referenced input: either an evidence object with its
// content hash or a bundle with its manifest hash.
type IndexEntry struct {
	EvidenceObjectID *string `json:"evidence_object_id,omitempty"`
	BundleID         *string `json:"bundle_id,omitempty"`
	SHA256           string  `json:"sha256"`
	Label            string  `json:"label,omitempty"`
}

// Verification records the hashing algorithm, the constituent input hashes,
// and the document's own hash. Exactly one of PackSHA256 / DossierSHA256 is
// set, matching the artifact kind.
type Verification struct {
	Algorithm     string   `json:"algorithm"`
	InputHashes   []string `json:"input_hashes"`
	PackSHA256    string   `json:"pack_sha256,omitempty"`
	DossierSHA256 string   `json:"dossierSha256,omitempty"`
}

// Document is the assembled artifact body.
type Document struct {
	Cover            Cover             `json:"cover"`
	ExecutiveSummary string            `json:"executive_summary"`
	Chronology       []ChronologyEntry `json:"chronology"`
	EvidenceIndex    []IndexEntry      `json:"evidence_index"`
	Verification     Verification      `json:"verification"`
}

// verificationCore mirrors Verification without the document's own hash
// fields. Hashing runs over this denormalized form so the hash covers
// everything except itself; the full Document is never mutated to hash it.
type verificationCore struct {
	Algorithm   string   `json:"algorithm"`
	InputHashes []string `json:"input_hashes"`
}

type documentCore struct {
	Cover            Cover             `json:"cover"`
	ExecutiveSummary string            `json:"executive_summary"`
	Chronology       []ChronologyEntry `json:"chronology"`
	EvidenceIndex    []IndexEntry      `json:"evidence_index"`
	Verification     verificationCore  `json:"verification"`
}

// ComputeBodyHash returns the hex SHA-256 of the document's canonical JSON
// form with the self-referential hash fields structurally excluded.
func ComputeBodyHash(d *Document) (string, error) {
	core := documentCore{
		Cover:            d.Cover,
		ExecutiveSummary: d.ExecutiveSummary,
		Chronology:       d.Chronology,
		EvidenceIndex:    d.EvidenceIndex,
		Verification: verificationCore{
			Algorithm:   d.Verification.Algorithm,
			InputHashes: d.Verification.InputHashes,
		},
	}
	hash, err := contenthash.SumCanonical(core)
	if err != nil {
		return "", fmt.Errorf("hash artifact body: %w", err)
	}
	return hash, nil
}
