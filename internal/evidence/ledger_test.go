package evidence_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/staykeeper/custody/internal/contenthash"
	"github.com/staykeeper/custody/internal/custody"
	"github.com/staykeeper/custody/internal/evidence"
)

var ctx = context.Background()

func newObject(t *testing.T, l evidence.Ledger, tenantID uuid.UUID) *evidence.Object {
	t.Helper()
	obj, err := l.CreateObject(ctx, tenantID, evidence.CreateObjectInput{
		SourceType: contenthash.SourceManualNote,
		Title:      "scuffed wall in hallway",
		Content:    []byte("guest reported on checkout"),
	})
	if err != nil {
		t.Fatal(err)
	}
	return obj
}

func TestCreateObject(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()

	obj := newObject(t, l, tenant)
	if obj.ChainStatus != evidence.StatusOpen {
		t.Errorf("expected open status, got %q", obj.ChainStatus)
	}
	if len(obj.ContentSHA256) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(obj.ContentSHA256))
	}
	if obj.ContentSHA256 != contenthash.SumBytes([]byte("guest reported on checkout")) {
		t.Error("content hash does not match raw-bytes policy")
	}
}

func TestCreateObject_requiresTitle(t *testing.T) {
	l := evidence.NewMemoryLedger()
	_, err := l.CreateObject(ctx, uuid.New(), evidence.CreateObjectInput{
		SourceType: contenthash.SourceManualNote,
		Content:    []byte("x"),
	})
	var verr *custody.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAppendEvent_chainsCorrectly(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	e1, err := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventCreated,
		Payload:   json.RawMessage(`{"note":"initial"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if e1.PrevHash != nil {
		t.Errorf("first event prev_hash must be nil, got %v", *e1.PrevHash)
	}

	e2, err := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventAnnotated,
		Payload:   json.RawMessage(`{"note":"follow-up"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if e2.PrevHash == nil || *e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%v, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}

	report, err := l.VerifyChain(ctx, tenant, obj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Error("expected valid chain")
	}
	if len(report.EventChain) != 2 {
		t.Errorf("expected 2 events, got %d", len(report.EventChain))
	}
}

func TestAppendEvent_missingObject(t *testing.T) {
	l := evidence.NewMemoryLedger()
	_, err := l.AppendEvent(ctx, uuid.New(), uuid.New(), evidence.AppendEventInput{
		EventType: evidence.EventCreated,
	})
	if !errors.Is(err, custody.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendEvent_tenantScope(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	_, err := l.AppendEvent(ctx, uuid.New(), obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventCreated,
	})
	if !errors.Is(err, custody.ErrNotFound) {
		t.Errorf("cross-tenant append must report ErrNotFound, got %v", err)
	}
}

func TestAppendEvent_idempotency(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	key := "req-7f3a"
	e1, err := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
		EventType:       evidence.EventAnnotated,
		Payload:         json.RawMessage(`{"attempt":1}`),
		ClientRequestID: &key,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Retry with a different payload: first write wins.
	e2, err := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
		EventType:       evidence.EventAnnotated,
		Payload:         json.RawMessage(`{"attempt":2}`),
		ClientRequestID: &key,
	})
	if err != nil {
		t.Fatal(err)
	}
	if e2.ID != e1.ID || e2.Hash != e1.Hash {
		t.Errorf("retry produced a new event: %s vs %s", e2.ID, e1.ID)
	}

	events, _ := l.Events(ctx, tenant, obj.ID)
	if len(events) != 1 {
		t.Errorf("expected a single event after retry, got %d", len(events))
	}
}

func TestVerifyEvents_reportsFirstFailure(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	for _, payload := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if _, err := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
			EventType: evidence.EventAnnotated,
			Payload:   json.RawMessage(payload),
		}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := l.Events(ctx, tenant, obj.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Tamper with the middle event's payload; its stored hash no longer
	// matches what recomputation yields.
	events[1].Payload = json.RawMessage(`{"n":99}`)
	report := evidence.VerifyEvents(events)
	if report.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if report.FirstFailureIndex == nil || *report.FirstFailureIndex != 1 {
		t.Errorf("expected failure at index 1, got %v", report.FirstFailureIndex)
	}
}

func TestVerifyEvents_brokenLinkage(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	for i := 0; i < 2; i++ {
		if _, err := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
			EventType: evidence.EventAnnotated,
		}); err != nil {
			t.Fatal(err)
		}
	}
	events, _ := l.Events(ctx, tenant, obj.ID)

	// Rewrite the second event's prev_hash but keep its own hash
	// consistent: linkage, not content, is what breaks.
	bogus := "0000000000000000000000000000000000000000000000000000000000000000"
	events[1].PrevHash = &bogus
	rehashed, err := evidence.ComputeEventHash(
		events[1].EvidenceID, events[1].EventType, events[1].Payload,
		events[1].PrevHash, events[1].ActorID, events[1].CreatedAt,
	)
	if err != nil {
		t.Fatal(err)
	}
	events[1].Hash = rehashed

	report := evidence.VerifyEvents(events)
	if report.Valid {
		t.Fatal("broken linkage reported valid")
	}
	if report.FirstFailureIndex == nil || *report.FirstFailureIndex != 1 {
		t.Errorf("expected failure at index 1, got %v", report.FirstFailureIndex)
	}
}

func TestSeal_idempotentAndAppendsEvent(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	sealed, err := l.Seal(ctx, tenant, obj.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !sealed.Sealed() || sealed.SealedAt == nil {
		t.Error("object not sealed")
	}

	again, err := l.Seal(ctx, tenant, obj.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !again.SealedAt.Equal(*sealed.SealedAt) {
		t.Error("re-sealing must be a no-op")
	}

	events, _ := l.Events(ctx, tenant, obj.ID)
	if len(events) != 1 || events[0].EventType != evidence.EventSealed {
		t.Errorf("expected exactly one sealed event, got %d events", len(events))
	}
}

func TestAppendEvent_allowedAfterSeal(t *testing.T) {
	// Sealing gates downstream consumption, not contribution: the ledger
	// keeps accepting events after the object is sealed.
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	if _, err := l.Seal(ctx, tenant, obj.ID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventAnnotated,
		Payload:   json.RawMessage(`{"note":"post-seal annotation"}`),
	}); err != nil {
		t.Fatalf("append after seal must succeed: %v", err)
	}

	report, _ := l.VerifyChain(ctx, tenant, obj.ID)
	if !report.Valid || len(report.EventChain) != 2 {
		t.Errorf("expected valid 2-event chain, got valid=%v len=%d", report.Valid, len(report.EventChain))
	}
}

func TestTipHash(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	tip, err := l.TipHash(ctx, tenant, obj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tip != nil {
		t.Errorf("empty chain tip must be nil, got %v", *tip)
	}

	ev, _ := l.AppendEvent(ctx, tenant, obj.ID, evidence.AppendEventInput{
		EventType: evidence.EventCreated,
	})
	tip, err = l.TipHash(ctx, tenant, obj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tip == nil || *tip != ev.Hash {
		t.Errorf("tip %v, want %q", tip, ev.Hash)
	}
}

func TestHardDelete(t *testing.T) {
	l := evidence.NewMemoryLedger()
	tenant := uuid.New()
	obj := newObject(t, l, tenant)

	if err := l.HardDelete(ctx, tenant, obj.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := l.GetObject(ctx, tenant, obj.ID); !errors.Is(err, custody.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
