// Package bundle groups sealed and in-progress evidence objects into ordered,
// hashed manifests.
//
// A manifest commits to each member's content hash and to the tip of its
// event chain at compile time, so a sealed bundle pins a point-in-time view
// of its evidence. Manifest hashing runs over the canonical JSON form: given
// the same underlying data and an explicit sealed-at timestamp, compilation
// is fully deterministic.
package bundle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/staykeeper/custody/internal/canonical"
	"github.com/staykeeper/custody/internal/contenthash"
	"github.com/staykeeper/custody/internal/custody"
	"github.com/staykeeper/custody/internal/evidence"
	"go.uber.org/zap"
)

// EvidenceReader is the slice of the evidence ledger the compiler needs.
// evidence.Ledger satisfies this interface.
type EvidenceReader interface {
	GetObject(ctx context.Context, tenantID, evidenceID uuid.UUID) (*evidence.Object, error)
	TipHash(ctx context.Context, tenantID, evidenceID uuid.UUID) (*string, error)
}

// Store is the persistence interface for bundles. MemoryStore and
// PostgresStore implement it.
type Store interface {
	// Create persists a new open bundle.
	Create(ctx context.Context, b *Bundle) error

	// Get returns a bundle within the tenant's scope.
	Get(ctx context.Context, tenantID, bundleID uuid.UUID) (*Bundle, error)

	// AddItem inserts an item; it fails unless the bundle is still open.
	// The open check and the insert commit in the same transaction.
	AddItem(ctx context.Context, item *Item) error

	// Items returns all items of a bundle, sorted by sort_order ascending.
	Items(ctx context.Context, tenantID, bundleID uuid.UUID) ([]*Item, error)

	// Seal persists the compiled manifest and flips status to sealed. It
	// fails if the bundle is no longer open.
	Seal(ctx context.Context, tenantID, bundleID uuid.UUID, manifestJSON []byte, manifestSHA256 string, sealedAt time.Time) error
}

// CompileOptions tune manifest compilation.
type CompileOptions struct {
	// SealedAt fixes the manifest timestamp. When nil, a sealed bundle uses
	// its persisted sealed_at and an open bundle uses the current time.
	SealedAt *time.Time
}

// CompileResult pairs a manifest with its canonical hash.
type CompileResult struct {
	Manifest       *Manifest `json:"manifest"`
	ManifestSHA256 string    `json:"manifest_sha256"`
}

// Compiler builds and seals bundle manifests.
type Compiler struct {
	store  Store
	ledger EvidenceReader
	logger *zap.Logger
}

// NewCompiler creates a Compiler.
func NewCompiler(store Store, ledger EvidenceReader, logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{store: store, ledger: ledger, logger: logger}
}

// CreateBundleInput describes a new bundle.
type CreateBundleInput struct {
	BundleType string
	Title      string
}

// CreateBundle persists a new open bundle.
func (c *Compiler) CreateBundle(ctx context.Context, tenantID uuid.UUID, in CreateBundleInput) (*Bundle, error) {
	if in.Title == "" {
		return nil, &custody.ErrValidation{Msg: "title is required"}
	}
	now := custody.Now()
	b := &Bundle{
		ID:         uuid.New(),
		TenantID:   tenantID,
		BundleType: in.BundleType,
		Title:      in.Title,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	return b, nil
}

// Get returns a bundle within the tenant's scope.
func (c *Compiler) Get(ctx context.Context, tenantID, bundleID uuid.UUID) (*Bundle, error) {
	return c.store.Get(ctx, tenantID, bundleID)
}

// AddItemInput describes one bundle membership.
type AddItemInput struct {
	EvidenceObjectID uuid.UUID
	SortOrder        int
	Label            string
}

// AddItem adds an evidence object to an open bundle. The referenced object
// must exist in the tenant's scope; it does not have to be sealed yet.
// Sealing is enforced downstream, at attachment time.
func (c *Compiler) AddItem(ctx context.Context, tenantID, bundleID uuid.UUID, in AddItemInput) (*Item, error) {
	if _, err := c.ledger.GetObject(ctx, tenantID, in.EvidenceObjectID); err != nil {
		return nil, fmt.Errorf("resolve evidence object: %w", err)
	}

	item := &Item{
		ID:               uuid.New(),
		BundleID:         bundleID,
		TenantID:         tenantID,
		EvidenceObjectID: in.EvidenceObjectID,
		SortOrder:        in.SortOrder,
		Label:            in.Label,
		CreatedAt:        custody.Now(),
	}
	if err := c.store.AddItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// CompileManifest builds the manifest for a bundle without persisting
// anything. Item order follows sort_order ascending regardless of insertion
// order; every item records the object's content hash and current chain tip.
func (c *Compiler) CompileManifest(ctx context.Context, tenantID, bundleID uuid.UUID, opts CompileOptions) (*CompileResult, error) {
	b, err := c.store.Get(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	items, err := c.store.Items(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}

	sealedAt := custody.Now()
	switch {
	case opts.SealedAt != nil:
		sealedAt = opts.SealedAt.UTC()
	case b.SealedAt != nil:
		sealedAt = b.SealedAt.UTC()
	}

	return c.compile(ctx, tenantID, b, items, sealedAt)
}

func (c *Compiler) compile(ctx context.Context, tenantID uuid.UUID, b *Bundle, items []*Item, sealedAt time.Time) (*CompileResult, error) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].SortOrder < items[j].SortOrder })

	manifest := &Manifest{
		BundleID: b.ID.String(),
		Title:    b.Title,
		SealedAt: sealedAt.UTC().Format(time.RFC3339Nano),
		Items:    make([]ManifestItem, 0, len(items)),
	}
	for _, item := range items {
		obj, err := c.ledger.GetObject(ctx, tenantID, item.EvidenceObjectID)
		if err != nil {
			return nil, fmt.Errorf("resolve item %s: %w", item.EvidenceObjectID, err)
		}
		tip, err := c.ledger.TipHash(ctx, tenantID, item.EvidenceObjectID)
		if err != nil {
			return nil, fmt.Errorf("read tip of %s: %w", item.EvidenceObjectID, err)
		}
		manifest.Items = append(manifest.Items, ManifestItem{
			EvidenceObjectID: item.EvidenceObjectID.String(),
			SortOrder:        item.SortOrder,
			Label:            item.Label,
			ContentSHA256:    obj.ContentSHA256,
			TipEventSHA256:   tip,
		})
	}

	hash, err := contenthash.SumCanonical(manifest)
	if err != nil {
		return nil, fmt.Errorf("hash manifest: %w", err)
	}
	return &CompileResult{Manifest: manifest, ManifestSHA256: hash}, nil
}

// SealBundle compiles the manifest at the current time, persists it together
// with its hash and sealed_at, and flips the bundle to sealed. Sealing an
// already-sealed bundle is an idempotent no-op.
func (c *Compiler) SealBundle(ctx context.Context, tenantID, bundleID uuid.UUID) (*Bundle, error) {
	b, err := c.store.Get(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	if b.Sealed() {
		return b, nil
	}
	items, err := c.store.Items(ctx, tenantID, bundleID)
	if err != nil {
		return nil, err
	}

	sealedAt := custody.Now()
	result, err := c.compile(ctx, tenantID, b, items, sealedAt)
	if err != nil {
		return nil, err
	}
	manifestJSON, err := canonical.Marshal(result.Manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	if err := c.store.Seal(ctx, tenantID, bundleID, manifestJSON, result.ManifestSHA256, sealedAt); err != nil {
		return nil, err
	}

	b.Status = StatusSealed
	b.ManifestJSON = manifestJSON
	b.ManifestSHA256 = &result.ManifestSHA256
	b.SealedAt = &sealedAt
	b.UpdatedAt = sealedAt

	c.logger.Info("bundle sealed",
		zap.String("bundle_id", bundleID.String()),
		zap.String("manifest_sha256", result.ManifestSHA256),
		zap.Int("items", len(result.Manifest.Items)),
	)
	return b, nil
}
