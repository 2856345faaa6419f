// Package evidence implements the chain-of-custody ledger: an append-only,
// hash-chained event log per evidence object.
//
// Every event commits to its predecessor's hash, so any mutation of history
// is detectable by VerifyChain. Sealing marks an object's content as frozen
// for downstream consumers; by policy the ledger keeps accepting events after
// sealing — sealing gates consumption, not contribution.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for tests and single-process use.
//   - PostgresLedger: durable, for production use.
package evidence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/staykeeper/custody/internal/contenthash"
)

// CreateObjectInput describes a new evidence object. Content carries the raw
// payload bytes; under the source-type policy they are hashed either as-is or
// in canonical JSON form.
type CreateObjectInput struct {
	SourceType contenthash.SourceType
	Title      string
	Content    []byte
	OccurredAt *time.Time
	CreatedBy  *uuid.UUID
}

// AppendEventInput describes one event to append to an object's chain.
// ClientRequestID, when set, makes the append idempotent: a retry with the
// same key returns the original event and discards the new payload
// (first-write-wins).
type AppendEventInput struct {
	EventType       EventType
	Payload         json.RawMessage
	ActorID         *uuid.UUID
	ClientRequestID *string
}

// Ledger is the evidence chain-of-custody store. Every operation is
// parameterized by tenant id; a bare object id is never trusted alone.
type Ledger interface {
	// CreateObject computes the content hash under the source-type policy
	// and persists a new object with status open.
	CreateObject(ctx context.Context, tenantID uuid.UUID, in CreateObjectInput) (*Object, error)

	// GetObject returns an object within the tenant's scope.
	GetObject(ctx context.Context, tenantID, evidenceID uuid.UUID) (*Object, error)

	// AppendEvent chains a new event onto the object's log. The event hash
	// is computed over the fixed field set inside the same transaction that
	// reads the chain tip, so concurrent appends serialize.
	AppendEvent(ctx context.Context, tenantID, evidenceID uuid.UUID, in AppendEventInput) (*Event, error)

	// Events returns the object's full event chain in append order.
	Events(ctx context.Context, tenantID, evidenceID uuid.UUID) ([]*Event, error)

	// VerifyChain recomputes every event hash and checks prev-hash linkage.
	// A broken chain is reported in the result, never as an error.
	VerifyChain(ctx context.Context, tenantID, evidenceID uuid.UUID) (*VerifyReport, error)

	// Seal freezes the object for downstream consumption and appends a
	// sealed event to its chain. Sealing an already-sealed object is an
	// idempotent no-op returning the object unchanged.
	Seal(ctx context.Context, tenantID, evidenceID uuid.UUID, actorID *uuid.UUID) (*Object, error)

	// TipHash returns the hash of the most recent event, or nil when the
	// chain is empty. Bundle manifests use it as a point-in-time commitment.
	TipHash(ctx context.Context, tenantID, evidenceID uuid.UUID) (*string, error)

	// HardDelete removes the object and its events. Administrative and test
	// cleanup only; it bypasses the append-only invariant by design of the
	// surrounding tooling, never of normal flows.
	HardDelete(ctx context.Context, tenantID, evidenceID uuid.UUID) error
}
