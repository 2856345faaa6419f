// Package attachment enforces the sealed-only rule for linking evidence
// objects and bundles to dispute or claim parents.
package attachment

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/bundle"
	"github.com/staykeeper/custody/internal/custody"
	"github.com/staykeeper/custody/internal/evidence"
)

// Store persists attachment records.
type Store interface {
	// Insert adds a record, returning *custody.ErrAlreadyAttached when the
	// parent already links the same target.
	Insert(ctx context.Context, rec *Record) error
	ListByParent(ctx context.Context, tenantID, parentID uuid.UUID) ([]*Record, error)
}

// EvidenceReader is the slice of the evidence ledger the gate needs.
type EvidenceReader interface {
	GetObject(ctx context.Context, tenantID, id uuid.UUID) (*evidence.Object, error)
}

// BundleReader is the slice of the bundle store the gate needs.
type BundleReader interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*bundle.Bundle, error)
}

// AttachInput names a single target. Exactly one of EvidenceObjectID or
// BundleID must be set.
type AttachInput struct {
	TenantID         uuid.UUID
	ParentID         uuid.UUID
	EvidenceObjectID *uuid.UUID
	BundleID         *uuid.UUID
	Label            string
	AttachedBy       *uuid.UUID
}

// Gate validates and records attachments. Only sealed targets pass.
type Gate struct {
	store    Store
	evidence EvidenceReader
	bundles  BundleReader
	logger   *zap.Logger
}

func NewGate(store Store, ev EvidenceReader, b BundleReader, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, evidence: ev, bundles: b, logger: logger}
}

// Attach links a sealed evidence object or bundle to a parent. The current
// content hash (or manifest hash) is snapshotted onto the record.
func (g *Gate) Attach(ctx context.Context, in AttachInput) (*Record, error) {
	if (in.EvidenceObjectID == nil) == (in.BundleID == nil) {
		return nil, &custody.ErrValidation{Msg: "exactly one of evidence_object_id or bundle_id must be provided"}
	}
	if in.ParentID == uuid.Nil {
		return nil, &custody.ErrValidation{Msg: "parent_id is required"}
	}

	rec := &Record{
		ID:         uuid.New(),
		ParentID:   in.ParentID,
		TenantID:   in.TenantID,
		Label:      in.Label,
		AttachedBy: in.AttachedBy,
		CreatedAt:  custody.Now(),
	}

	switch {
	case in.EvidenceObjectID != nil:
		obj, err := g.evidence.GetObject(ctx, in.TenantID, *in.EvidenceObjectID)
		if err != nil {
			return nil, err
		}
		if obj.ChainStatus != evidence.StatusSealed {
			return nil, &custody.ErrUnsealed{Kind: "evidence object", ID: obj.ID}
		}
		rec.EvidenceObjectID = &obj.ID
		hash := obj.ContentSHA256
		rec.CopiedSHA256 = &hash
	case in.BundleID != nil:
		b, err := g.bundles.Get(ctx, in.TenantID, *in.BundleID)
		if err != nil {
			return nil, err
		}
		if b.Status != bundle.StatusSealed || b.ManifestSHA256 == nil {
			return nil, &custody.ErrUnsealed{Kind: "bundle", ID: b.ID}
		}
		rec.BundleID = &b.ID
		hash := *b.ManifestSHA256
		rec.BundleManifestSHA256 = &hash
	}

	if err := g.store.Insert(ctx, rec); err != nil {
		return nil, err
	}

	g.logger.Info("attachment recorded",
		zap.String("parent_id", rec.ParentID.String()),
		zap.String("target_id", rec.TargetID().String()))
	return rec, nil
}

// ListByParent returns all attachments for a parent in creation order.
func (g *Gate) ListByParent(ctx context.Context, tenantID, parentID uuid.UUID) ([]*Record, error) {
	return g.store.ListByParent(ctx, tenantID, parentID)
}
