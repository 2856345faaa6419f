package bundle_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/staykeeper/custody/internal/bundle"
	"github.com/staykeeper/custody/internal/contenthash"
	"github.com/staykeeper/custody/internal/custody"
	"github.com/staykeeper/custody/internal/evidence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	tenant   uuid.UUID
	ledger   *evidence.MemoryLedger
	compiler *bundle.Compiler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := evidence.NewMemoryLedger()
	return &fixture{
		tenant:   uuid.New(),
		ledger:   ledger,
		compiler: bundle.NewCompiler(bundle.NewMemoryStore(), ledger, zap.NewNop()),
	}
}

func (f *fixture) newEvidence(t *testing.T, title string) *evidence.Object {
	t.Helper()
	obj, err := f.ledger.CreateObject(context.Background(), f.tenant, evidence.CreateObjectInput{
		SourceType: contenthash.SourceManualNote,
		Title:      title,
		Content:    []byte(title),
	})
	require.NoError(t, err)
	_, err = f.ledger.AppendEvent(context.Background(), f.tenant, obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventCreated,
		Payload:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return obj
}

func TestAddItem_openBundleOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.compiler.CreateBundle(ctx, f.tenant, bundle.CreateBundleInput{
		BundleType: "damage_report",
		Title:      "Unit 4B damage",
	})
	require.NoError(t, err)

	obj := f.newEvidence(t, "broken lamp photo")
	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{
		EvidenceObjectID: obj.ID,
		SortOrder:        1,
		Label:            "photo",
	})
	require.NoError(t, err)

	_, err = f.compiler.SealBundle(ctx, f.tenant, b.ID)
	require.NoError(t, err)

	other := f.newEvidence(t, "late addition")
	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{
		EvidenceObjectID: other.ID,
		SortOrder:        2,
	})
	var verr *custody.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestAddItem_duplicateRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.compiler.CreateBundle(ctx, f.tenant, bundle.CreateBundleInput{Title: "dup check"})
	require.NoError(t, err)
	obj := f.newEvidence(t, "receipt")

	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{EvidenceObjectID: obj.ID, SortOrder: 1})
	require.NoError(t, err)
	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{EvidenceObjectID: obj.ID, SortOrder: 2})
	var verr *custody.ErrValidation
	require.ErrorAs(t, err, &verr)
}

func TestCompileManifest_deterministicWithExplicitSealedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.compiler.CreateBundle(ctx, f.tenant, bundle.CreateBundleInput{Title: "manifest determinism"})
	require.NoError(t, err)

	// Insert out of sort order on purpose.
	second := f.newEvidence(t, "second by order")
	first := f.newEvidence(t, "first by order")
	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{EvidenceObjectID: second.ID, SortOrder: 2, Label: "b"})
	require.NoError(t, err)
	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{EvidenceObjectID: first.ID, SortOrder: 1, Label: "a"})
	require.NoError(t, err)

	sealedAt := time.Now().UTC()
	r1, err := f.compiler.CompileManifest(ctx, f.tenant, b.ID, bundle.CompileOptions{SealedAt: &sealedAt})
	require.NoError(t, err)
	r2, err := f.compiler.CompileManifest(ctx, f.tenant, b.ID, bundle.CompileOptions{SealedAt: &sealedAt})
	require.NoError(t, err)

	assert.Equal(t, r1.ManifestSHA256, r2.ManifestSHA256)
	assert.Len(t, r1.ManifestSHA256, 64)

	require.Len(t, r1.Manifest.Items, 2)
	assert.Equal(t, first.ID.String(), r1.Manifest.Items[0].EvidenceObjectID)
	assert.Equal(t, second.ID.String(), r1.Manifest.Items[1].EvidenceObjectID)
	assert.Equal(t, first.ContentSHA256, r1.Manifest.Items[0].ContentSHA256)
	require.NotNil(t, r1.Manifest.Items[0].TipEventSHA256)
}

func TestCompileManifest_tipCommitment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.compiler.CreateBundle(ctx, f.tenant, bundle.CreateBundleInput{Title: "tip drift"})
	require.NoError(t, err)
	obj := f.newEvidence(t, "inspection note")
	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{EvidenceObjectID: obj.ID, SortOrder: 1})
	require.NoError(t, err)

	sealedAt := time.Now().UTC()
	before, err := f.compiler.CompileManifest(ctx, f.tenant, b.ID, bundle.CompileOptions{SealedAt: &sealedAt})
	require.NoError(t, err)

	// A new chain event moves the tip; the manifest hash must move with it.
	_, err = f.ledger.AppendEvent(ctx, f.tenant, obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventAnnotated,
		Payload:   json.RawMessage(`{"note":"amended"}`),
	})
	require.NoError(t, err)

	after, err := f.compiler.CompileManifest(ctx, f.tenant, b.ID, bundle.CompileOptions{SealedAt: &sealedAt})
	require.NoError(t, err)
	assert.NotEqual(t, before.ManifestSHA256, after.ManifestSHA256)
}

func TestSealBundle_persistsAndRecompilesIdentically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.compiler.CreateBundle(ctx, f.tenant, bundle.CreateBundleInput{Title: "sealed recompile"})
	require.NoError(t, err)
	obj := f.newEvidence(t, "checkout photo")
	_, err = f.compiler.AddItem(ctx, f.tenant, b.ID, bundle.AddItemInput{EvidenceObjectID: obj.ID, SortOrder: 1})
	require.NoError(t, err)

	sealed, err := f.compiler.SealBundle(ctx, f.tenant, b.ID)
	require.NoError(t, err)
	require.True(t, sealed.Sealed())
	require.NotNil(t, sealed.ManifestSHA256)
	require.NotNil(t, sealed.SealedAt)

	// Recompiling a sealed bundle uses the persisted sealed_at and must
	// reproduce the stored hash byte for byte.
	recompiled, err := f.compiler.CompileManifest(ctx, f.tenant, b.ID, bundle.CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, *sealed.ManifestSHA256, recompiled.ManifestSHA256)

	// Re-sealing is a no-op.
	again, err := f.compiler.SealBundle(ctx, f.tenant, b.ID)
	require.NoError(t, err)
	assert.Equal(t, *sealed.ManifestSHA256, *again.ManifestSHA256)
	assert.True(t, sealed.SealedAt.Equal(*again.SealedAt))
}
