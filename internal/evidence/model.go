package evidence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/staykeeper/custody/internal/contenthash"
)

// ChainStatus is the consumption status of an evidence object. Sealing is
// monotonic: a sealed object never reopens.
type ChainStatus string

const (
	StatusOpen   ChainStatus = "open"
	StatusSealed ChainStatus = "sealed"
)

// EventType classifies an entry in an object's event chain.
type EventType string

const (
	EventCreated   EventType = "created"
	EventAnnotated EventType = "annotated"
	EventSealed    EventType = "sealed"
)

// Object is a unit of evidence: a document, note, or snapshot whose content
// is identified by a SHA-256 content hash.
type Object struct {
	ID            uuid.UUID              `json:"id"`
	TenantID      uuid.UUID              `json:"tenant_id"`
	SourceType    contenthash.SourceType `json:"source_type"`
	Title         string                 `json:"title"`
	ContentSHA256 string                 `json:"content_sha256"`
	ChainStatus   ChainStatus            `json:"chain_status"`
	OccurredAt    *time.Time             `json:"occurred_at,omitempty"`
	CreatedBy     *uuid.UUID             `json:"created_by,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	SealedAt      *time.Time             `json:"sealed_at,omitempty"`
}

// Sealed reports whether the object is sealed for downstream consumption.
func (o *Object) Sealed() bool { return o.ChainStatus == StatusSealed }

// Event is one entry in an object's append-only hash chain. Events are
// ordered by Seq; PrevHash of the first event is nil and every later event
// stores the hash of its predecessor.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	EvidenceID      uuid.UUID       `json:"evidence_id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Seq             int64           `json:"seq"`
	EventType       EventType       `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	Hash            string          `json:"hash"`
	PrevHash        *string         `json:"prev_hash"`
	ActorID         *uuid.UUID      `json:"actor_id,omitempty"`
	ClientRequestID *string         `json:"client_request_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// eventHashInput is the fixed, explicit field set an event hash commits to.
// Adding or reordering fields here is a chain-breaking change.
type eventHashInput struct {
	EvidenceID string          `json:"evidence_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	PrevHash   *string         `json:"prev_hash"`
	ActorID    *string         `json:"actor_id"`
	CreatedAt  string          `json:"created_at"`
}

// ComputeEventHash returns the hex SHA-256 an event must carry given its
// stored fields. The hash covers the canonical JSON form of the fixed field
// set, so it is reproducible from persisted data alone.
func ComputeEventHash(evidenceID uuid.UUID, eventType EventType, payload json.RawMessage, prevHash *string, actorID *uuid.UUID, createdAt time.Time) (string, error) {
	in := eventHashInput{
		EvidenceID: evidenceID.String(),
		EventType:  string(eventType),
		Payload:    payload,
		PrevHash:   prevHash,
		CreatedAt:  createdAt.UTC().Format(time.RFC3339Nano),
	}
	if len(in.Payload) == 0 {
		in.Payload = json.RawMessage("null")
	}
	if actorID != nil {
		s := actorID.String()
		in.ActorID = &s
	}
	hash, err := contenthash.SumCanonical(in)
	if err != nil {
		return "", fmt.Errorf("hash event: %w", err)
	}
	return hash, nil
}

// rehash recomputes the hash of e from its stored fields.
func (e *Event) rehash() (string, error) {
	return ComputeEventHash(e.EvidenceID, e.EventType, e.Payload, e.PrevHash, e.ActorID, e.CreatedAt)
}

// VerifyReport is the result of walking an object's event chain. A broken
// chain is an observation, not an error: FirstFailureIndex points at the
// first event whose recomputed hash or prev-hash linkage does not match.
type VerifyReport struct {
	Valid             bool     `json:"valid"`
	EventChain        []*Event `json:"event_chain"`
	FirstFailureIndex *int     `json:"first_failure_index"`
}

// VerifyEvents checks an ordered event chain: each event's stored hash must
// equal the hash recomputed from its fields, the first event's prev_hash must
// be nil, and every later prev_hash must equal the predecessor's stored hash.
func VerifyEvents(events []*Event) VerifyReport {
	report := VerifyReport{Valid: true, EventChain: events}

	fail := func(i int) VerifyReport {
		report.Valid = false
		report.FirstFailureIndex = &i
		return report
	}

	for i, ev := range events {
		recomputed, err := ev.rehash()
		if err != nil || recomputed != ev.Hash {
			return fail(i)
		}
		if i == 0 {
			if ev.PrevHash != nil {
				return fail(i)
			}
			continue
		}
		if ev.PrevHash == nil || *ev.PrevHash != events[i-1].Hash {
			return fail(i)
		}
	}
	return report
}
