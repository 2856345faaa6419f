package attachment

import (
	"time"

	"github.com/google/uuid"
)

// Record links a dispute or claim parent to exactly one sealed evidence
// object or exactly one sealed bundle. The referenced content's hash is
// copied at attach time so later verification can detect drift even though
// sealed data is never supposed to change.
type Record struct {
	ID                   uuid.UUID  `json:"id"`
	ParentID             uuid.UUID  `json:"parent_id"`
	TenantID             uuid.UUID  `json:"tenant_id"`
	EvidenceObjectID     *uuid.UUID `json:"evidence_object_id,omitempty"`
	BundleID             *uuid.UUID `json:"bundle_id,omitempty"`
	CopiedSHA256         *string    `json:"copied_sha256,omitempty"`
	BundleManifestSHA256 *string    `json:"bundle_manifest_sha256,omitempty"`
	Label                string     `json:"label,omitempty"`
	AttachedBy           *uuid.UUID `json:"attached_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// TargetID returns the id of whichever target the record references.
func (r *Record) TargetID() uuid.UUID {
	if r.EvidenceObjectID != nil {
		return *r.EvidenceObjectID
	}
	if r.BundleID != nil {
		return *r.BundleID
	}
	return uuid.Nil
}
