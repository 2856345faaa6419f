package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/staykeeper/custody/internal/contenthash"
	"github.com/staykeeper/custody/internal/custody"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation. It is
// primarily useful for tests and for single-process deployments that do not
// require durable persistence.
type MemoryLedger struct {
	mu        sync.RWMutex
	objects   map[uuid.UUID]*Object
	events    map[uuid.UUID][]*Event
	byRequest map[string]*Event // "{tenant}/{client_request_id}" → first event
	nextSeq   int64
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		objects:   make(map[uuid.UUID]*Object),
		events:    make(map[uuid.UUID][]*Event),
		byRequest: make(map[string]*Event),
	}
}

// CreateObject implements Ledger.
func (l *MemoryLedger) CreateObject(_ context.Context, tenantID uuid.UUID, in CreateObjectInput) (*Object, error) {
	if in.Title == "" {
		return nil, &custody.ErrValidation{Msg: "title is required"}
	}
	hash, err := contenthash.Sum(in.SourceType, in.Content)
	if err != nil {
		return nil, &custody.ErrValidation{Msg: err.Error()}
	}

	now := custody.Now()
	obj := &Object{
		ID:            uuid.New(),
		TenantID:      tenantID,
		SourceType:    in.SourceType,
		Title:         in.Title,
		ContentSHA256: hash,
		ChainStatus:   StatusOpen,
		OccurredAt:    in.OccurredAt,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.objects[obj.ID] = obj
	return cloneObject(obj), nil
}

// GetObject implements Ledger.
func (l *MemoryLedger) GetObject(_ context.Context, tenantID, evidenceID uuid.UUID) (*Object, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	obj, err := l.lookup(tenantID, evidenceID)
	if err != nil {
		return nil, err
	}
	return cloneObject(obj), nil
}

// AppendEvent implements Ledger.
func (l *MemoryLedger) AppendEvent(_ context.Context, tenantID, evidenceID uuid.UUID, in AppendEventInput) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.lookup(tenantID, evidenceID); err != nil {
		return nil, err
	}

	if in.ClientRequestID != nil {
		if prior, ok := l.byRequest[requestKey(tenantID, *in.ClientRequestID)]; ok {
			return cloneEvent(prior), nil
		}
	}

	ev, err := l.append(tenantID, evidenceID, in)
	if err != nil {
		return nil, err
	}
	return cloneEvent(ev), nil
}

// append chains a new event. Callers must hold the write lock.
func (l *MemoryLedger) append(tenantID, evidenceID uuid.UUID, in AppendEventInput) (*Event, error) {
	var prevHash *string
	if chain := l.events[evidenceID]; len(chain) > 0 {
		h := chain[len(chain)-1].Hash
		prevHash = &h
	}

	now := custody.Now()
	hash, err := ComputeEventHash(evidenceID, in.EventType, in.Payload, prevHash, in.ActorID, now)
	if err != nil {
		return nil, err
	}

	l.nextSeq++
	ev := &Event{
		ID:              uuid.New(),
		EvidenceID:      evidenceID,
		TenantID:        tenantID,
		Seq:             l.nextSeq,
		EventType:       in.EventType,
		Payload:         in.Payload,
		Hash:            hash,
		PrevHash:        prevHash,
		ActorID:         in.ActorID,
		ClientRequestID: in.ClientRequestID,
		CreatedAt:       now,
	}
	l.events[evidenceID] = append(l.events[evidenceID], ev)
	if in.ClientRequestID != nil {
		l.byRequest[requestKey(tenantID, *in.ClientRequestID)] = ev
	}
	return ev, nil
}

// Events implements Ledger.
func (l *MemoryLedger) Events(_ context.Context, tenantID, evidenceID uuid.UUID) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.lookup(tenantID, evidenceID); err != nil {
		return nil, err
	}
	chain := l.events[evidenceID]
	out := make([]*Event, len(chain))
	for i, ev := range chain {
		out[i] = cloneEvent(ev)
	}
	return out, nil
}

// VerifyChain implements Ledger.
func (l *MemoryLedger) VerifyChain(ctx context.Context, tenantID, evidenceID uuid.UUID) (*VerifyReport, error) {
	events, err := l.Events(ctx, tenantID, evidenceID)
	if err != nil {
		return nil, err
	}
	report := VerifyEvents(events)
	return &report, nil
}

// Seal implements Ledger.
func (l *MemoryLedger) Seal(_ context.Context, tenantID, evidenceID uuid.UUID, actorID *uuid.UUID) (*Object, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	obj, err := l.lookup(tenantID, evidenceID)
	if err != nil {
		return nil, err
	}
	if obj.Sealed() {
		return cloneObject(obj), nil
	}

	now := custody.Now()
	payload, _ := json.Marshal(map[string]string{"sealed_at": now.Format(time.RFC3339Nano)})
	if _, err := l.append(tenantID, evidenceID, AppendEventInput{
		EventType: EventSealed,
		Payload:   payload,
		ActorID:   actorID,
	}); err != nil {
		return nil, fmt.Errorf("append sealed event: %w", err)
	}

	obj.ChainStatus = StatusSealed
	obj.SealedAt = &now
	obj.UpdatedAt = now
	return cloneObject(obj), nil
}

// TipHash implements Ledger.
func (l *MemoryLedger) TipHash(_ context.Context, tenantID, evidenceID uuid.UUID) (*string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := l.lookup(tenantID, evidenceID); err != nil {
		return nil, err
	}
	chain := l.events[evidenceID]
	if len(chain) == 0 {
		return nil, nil
	}
	h := chain[len(chain)-1].Hash
	return &h, nil
}

// HardDelete implements Ledger.
func (l *MemoryLedger) HardDelete(_ context.Context, tenantID, evidenceID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.lookup(tenantID, evidenceID); err != nil {
		return err
	}
	delete(l.objects, evidenceID)
	delete(l.events, evidenceID)
	return nil
}

// lookup returns the stored object, enforcing tenant scope. Callers must hold
// at least the read lock.
func (l *MemoryLedger) lookup(tenantID, evidenceID uuid.UUID) (*Object, error) {
	obj, ok := l.objects[evidenceID]
	if !ok || obj.TenantID != tenantID {
		return nil, custody.ErrNotFound
	}
	return obj, nil
}

func requestKey(tenantID uuid.UUID, clientRequestID string) string {
	return tenantID.String() + "/" + clientRequestID
}

func cloneObject(o *Object) *Object {
	c := *o
	return &c
}

func cloneEvent(e *Event) *Event {
	c := *e
	return &c
}
