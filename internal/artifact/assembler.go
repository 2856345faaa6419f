// Package artifact assembles sealed, attached evidence into versioned,
// hashed derived documents: defense packs and claim dossiers.
//
// An assembled body is immutable. New assemblies for the same parent take
// the next version number and supersede every earlier version; supersession
// changes status only, never stored bytes.
package artifact

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/attachment"
	"github.com/staykeeper/custody/internal/bundle"
	"github.com/staykeeper/custody/internal/canonical"
	"github.com/staykeeper/custody/internal/custody"
	"github.com/staykeeper/custody/internal/evidence"
)

// Store persists derived artifacts. MemoryStore and PostgresStore implement it.
type Store interface {
	// Insert assigns the next version for the artifact's parent, marks all
	// prior versions superseded, and persists the artifact — atomically.
	// When the artifact carries a client request id already used for this
	// parent, the previously stored artifact is returned instead.
	Insert(ctx context.Context, art *DerivedArtifact) (*DerivedArtifact, error)

	Get(ctx context.Context, tenantID, id uuid.UUID) (*DerivedArtifact, error)
	ListByParent(ctx context.Context, tenantID, parentID uuid.UUID) ([]*DerivedArtifact, error)

	// Update persists a status transition. Any change to the stored body or
	// hash is an integrity violation and returns *custody.ErrImmutable.
	Update(ctx context.Context, art *DerivedArtifact) error
}

// AttachmentReader lists a parent's attachment records.
type AttachmentReader interface {
	ListByParent(ctx context.Context, tenantID, parentID uuid.UUID) ([]*attachment.Record, error)
}

// EvidenceReader is the slice of the evidence ledger the assembler needs.
type EvidenceReader interface {
	GetObject(ctx context.Context, tenantID, evidenceID uuid.UUID) (*evidence.Object, error)
}

// BundleReader is the slice of the bundle store the assembler needs.
type BundleReader interface {
	Get(ctx context.Context, tenantID, bundleID uuid.UUID) (*bundle.Bundle, error)
	Items(ctx context.Context, tenantID, bundleID uuid.UUID) ([]*bundle.Item, error)
}

// ParentUpdater propagates assembly back onto the owning dispute or claim.
// Optional: a nil updater skips the side effect.
type ParentUpdater interface {
	MarkAssembled(ctx context.Context, tenantID, parentID uuid.UUID) error
}

// AssembleInput describes one assembly request.
type AssembleInput struct {
	ParentID        uuid.UUID
	Kind            Kind
	ActorID         *uuid.UUID
	ClientRequestID *string
}

// Assembler builds derived artifacts from a parent's sealed attachments.
type Assembler struct {
	store       Store
	attachments AttachmentReader
	evidence    EvidenceReader
	bundles     BundleReader
	parents     ParentUpdater
	logger      *zap.Logger
}

func NewAssembler(store Store, att AttachmentReader, ev EvidenceReader, b BundleReader, parents ParentUpdater, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		store:       store,
		attachments: att,
		evidence:    ev,
		bundles:     b,
		parents:     parents,
		logger:      logger,
	}
}

// chronologyKey pairs an entry with its sort instant so ties can fall back
// to attachment order via a stable sort.
type chronologyKey struct {
	at    time.Time
	entry ChronologyEntry
}

// Assemble builds, hashes, and persists the next artifact version for a
// parent. Every attachment is re-checked against the sealed-only rule even
// though the gate enforced it at attach time.
func (a *Assembler) Assemble(ctx context.Context, tenantID uuid.UUID, in AssembleInput) (*DerivedArtifact, error) {
	if !in.Kind.Valid() {
		return nil, &custody.ErrValidation{Msg: fmt.Sprintf("unknown artifact kind %q", in.Kind)}
	}
	if in.ParentID == uuid.Nil {
		return nil, &custody.ErrValidation{Msg: "parent_id is required"}
	}

	records, err := a.attachments.ListByParent(ctx, tenantID, in.ParentID)
	if err != nil {
		return nil, fmt.Errorf("list parent inputs: %w", err)
	}
	if len(records) == 0 {
		return nil, &custody.ErrValidation{Msg: "parent has no attached inputs"}
	}

	assembledAt := custody.Now()
	var keys []chronologyKey
	var index []IndexEntry
	var inputHashes []string

	for _, rec := range records {
		switch {
		case rec.EvidenceObjectID != nil:
			obj, err := a.evidence.GetObject(ctx, tenantID, *rec.EvidenceObjectID)
			if err != nil {
				return nil, err
			}
			if !obj.Sealed() {
				return nil, &custody.ErrUnsealed{Kind: "evidence object", ID: obj.ID}
			}
			keys = append(keys, chronologyKey{
				at:    occurredAt(obj),
				entry: chronologyEntry(obj, nil, rec.Label),
			})
			id := obj.ID.String()
			index = append(index, IndexEntry{EvidenceObjectID: &id, SHA256: obj.ContentSHA256, Label: rec.Label})
			inputHashes = append(inputHashes, obj.ContentSHA256)
		case rec.BundleID != nil:
			b, err := a.bundles.Get(ctx, tenantID, *rec.BundleID)
			if err != nil {
				return nil, err
			}
			if b.Status != bundle.StatusSealed || b.ManifestSHA256 == nil {
				return nil, &custody.ErrUnsealed{Kind: "bundle", ID: b.ID}
			}
			items, err := a.bundles.Items(ctx, tenantID, b.ID)
			if err != nil {
				return nil, err
			}
			bundleID := b.ID.String()
			for _, item := range items {
				obj, err := a.evidence.GetObject(ctx, tenantID, item.EvidenceObjectID)
				if err != nil {
					return nil, err
				}
				label := item.Label
				if label == "" {
					label = rec.Label
				}
				keys = append(keys, chronologyKey{
					at:    occurredAt(obj),
					entry: chronologyEntry(obj, &bundleID, label),
				})
			}
			index = append(index, IndexEntry{BundleID: &bundleID, SHA256: *b.ManifestSHA256, Label: rec.Label})
			inputHashes = append(inputHashes, *b.ManifestSHA256)
		}
	}

	sort.SliceStable(keys, func(i, j int) bool { return keys[i].at.Before(keys[j].at) })
	chronology := make([]ChronologyEntry, 0, len(keys))
	for _, k := range keys {
		chronology = append(chronology, k.entry)
	}

	doc := &Document{
		Cover: Cover{
			ParentID:     in.ParentID.String(),
			ArtifactKind: string(in.Kind),
			AssembledAt:  assembledAt.Format(time.RFC3339Nano),
		},
		ExecutiveSummary: summarize(in.Kind, len(index), len(chronology)),
		Chronology:       chronology,
		EvidenceIndex:    index,
		Verification: Verification{
			Algorithm:   in.Kind.Algorithm(),
			InputHashes: inputHashes,
		},
	}

	bodyHash, err := ComputeBodyHash(doc)
	if err != nil {
		return nil, err
	}
	switch in.Kind {
	case KindDefensePack:
		doc.Verification.PackSHA256 = bodyHash
	case KindClaimDossier:
		doc.Verification.DossierSHA256 = bodyHash
	}

	body, err := canonical.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode artifact body: %w", err)
	}

	art := &DerivedArtifact{
		ID:              uuid.New(),
		ParentID:        in.ParentID,
		TenantID:        tenantID,
		Kind:            in.Kind,
		Status:          StatusAssembled,
		Document:        body,
		BodySHA256:      bodyHash,
		ClientRequestID: in.ClientRequestID,
		AssembledBy:     in.ActorID,
		CreatedAt:       assembledAt,
	}

	stored, err := a.store.Insert(ctx, art)
	if err != nil {
		return nil, err
	}
	if stored.ID != art.ID {
		// Idempotent replay of a prior request.
		return stored, nil
	}

	if a.parents != nil {
		if err := a.parents.MarkAssembled(ctx, tenantID, in.ParentID); err != nil {
			return nil, fmt.Errorf("mark parent assembled: %w", err)
		}
	}

	a.logger.Info("artifact assembled",
		zap.String("parent_id", in.ParentID.String()),
		zap.String("kind", string(in.Kind)),
		zap.Int("version", stored.Version),
		zap.String("body_sha256", bodyHash))
	return stored, nil
}

// Get returns an artifact within the tenant's scope.
func (a *Assembler) Get(ctx context.Context, tenantID, id uuid.UUID) (*DerivedArtifact, error) {
	return a.store.Get(ctx, tenantID, id)
}

// ListByParent returns all versions for a parent, newest first.
func (a *Assembler) ListByParent(ctx context.Context, tenantID, parentID uuid.UUID) ([]*DerivedArtifact, error) {
	return a.store.ListByParent(ctx, tenantID, parentID)
}

// MarkExported moves an assembled artifact to exported. The body is untouched.
func (a *Assembler) MarkExported(ctx context.Context, tenantID, id uuid.UUID) (*DerivedArtifact, error) {
	art, err := a.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if art.Status != StatusAssembled {
		return nil, &custody.ErrValidation{Msg: fmt.Sprintf("artifact is %s, only assembled artifacts export", art.Status)}
	}
	now := custody.Now()
	art.Status = StatusExported
	art.ExportedAt = &now
	if err := a.store.Update(ctx, art); err != nil {
		return nil, err
	}
	return art, nil
}

func occurredAt(obj *evidence.Object) time.Time {
	if obj.OccurredAt != nil {
		return *obj.OccurredAt
	}
	return obj.CreatedAt
}

func chronologyEntry(obj *evidence.Object, bundleID *string, label string) ChronologyEntry {
	return ChronologyEntry{
		OccurredAt:       occurredAt(obj).UTC().Format(time.RFC3339Nano),
		Title:            obj.Title,
		SourceType:       string(obj.SourceType),
		EvidenceObjectID: obj.ID.String(),
		BundleID:         bundleID,
		SHA256:           obj.ContentSHA256,
		Label:            label,
	}
}

func summarize(kind Kind, inputs, entries int) string {
	noun := "defense pack"
	if kind == KindClaimDossier {
		noun = "claim dossier"
	}
	return fmt.Sprintf("This %s was assembled from %d sealed input(s) covering %d chronology entries.", noun, inputs, entries)
}
