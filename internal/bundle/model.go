package bundle

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a bundle. Sealing is terminal.
type Status string

const (
	StatusOpen   Status = "open"
	StatusSealed Status = "sealed"
)

// Bundle is an ordered collection of evidence objects. Once sealed, its
// manifest and manifest hash are immutable and sealed_at is the single source
// of truth for recompilation.
type Bundle struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	BundleType     string          `json:"bundle_type"`
	Title          string          `json:"title"`
	Status         Status          `json:"status"`
	ManifestJSON   json.RawMessage `json:"manifest,omitempty"`
	ManifestSHA256 *string         `json:"manifest_sha256,omitempty"`
	SealedAt       *time.Time      `json:"sealed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Sealed reports whether the bundle is sealed.
func (b *Bundle) Sealed() bool { return b.Status == StatusSealed }

// Item relates a bundle to one evidence object at an explicit position.
// Order is always sort_order, never insertion time.
type Item struct {
	ID               uuid.UUID `json:"id"`
	BundleID         uuid.UUID `json:"bundle_id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	EvidenceObjectID uuid.UUID `json:"evidence_object_id"`
	SortOrder        int       `json:"sort_order"`
	Label            string    `json:"label"`
	CreatedAt        time.Time `json:"created_at"`
}

// Manifest is the ordered, hashed description of a bundle's constituent
// evidence objects. Its canonical JSON form is what the manifest hash covers.
type Manifest struct {
	BundleID string         `json:"bundle_id"`
	Title    string         `json:"title"`
	SealedAt string         `json:"sealed_at"`
	Items    []ManifestItem `json:"items"`
}

// ManifestItem commits to one evidence object: its static content hash and
// the hash of the most recent chain event at compile time.
type ManifestItem struct {
	EvidenceObjectID string  `json:"evidence_object_id"`
	SortOrder        int     `json:"sort_order"`
	Label            string  `json:"label"`
	ContentSHA256    string  `json:"content_sha256"`
	TipEventSHA256   *string `json:"tip_event_sha256"`
}
