package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/staykeeper/custody/internal/contenthash"
	"github.com/staykeeper/custody/internal/custody"
	"go.uber.org/zap"
)

// PostgresLedger persists evidence objects and their hash chains to
// PostgreSQL. It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

const objectColumns = `id, tenant_id, source_type, title, content_sha256, chain_status,
	occurred_at, created_by, created_at, updated_at, sealed_at`

const eventColumns = `id, evidence_id, tenant_id, seq, event_type, payload, hash, prev_hash,
	actor_id, client_request_id, created_at`

// CreateObject implements Ledger.
func (l *PostgresLedger) CreateObject(ctx context.Context, tenantID uuid.UUID, in CreateObjectInput) (*Object, error) {
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

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO evidence_objects (`+objectColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		obj.ID, obj.TenantID, obj.SourceType, obj.Title, obj.ContentSHA256,
		obj.ChainStatus, obj.OccurredAt, obj.CreatedBy, obj.CreatedAt, obj.UpdatedAt, obj.SealedAt,
	); err != nil {
		return nil, fmt.Errorf("insert evidence object: %w", err)
	}

	l.logger.Debug("evidence object created",
		zap.String("evidence_id", obj.ID.String()),
		zap.String("source_type", string(obj.SourceType)),
	)
	return obj, nil
}

// GetObject implements Ledger.
func (l *PostgresLedger) GetObject(ctx context.Context, tenantID, evidenceID uuid.UUID) (*Object, error) {
	return scanObject(l.pool.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM evidence_objects WHERE id = $1 AND tenant_id = $2`,
		evidenceID, tenantID,
	))
}

// AppendEvent implements Ledger. The chain tail read, hash computation, and
// insert happen in one transaction under a per-object advisory lock.
func (l *PostgresLedger) AppendEvent(ctx context.Context, tenantID, evidenceID uuid.UUID, in AppendEventInput) (*Event, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ev, err := l.appendTx(ctx, tx, tenantID, evidenceID, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	l.logger.Debug("evidence event appended",
		zap.String("evidence_id", evidenceID.String()),
		zap.String("event_type", string(ev.EventType)),
		zap.Int64("seq", ev.Seq),
	)
	return ev, nil
}

// appendTx performs the locked append inside an existing transaction.
func (l *PostgresLedger) appendTx(ctx context.Context, tx pgx.Tx, tenantID, evidenceID uuid.UUID, in AppendEventInput) (*Event, error) {
	// Serialize appends per object. The lock is released on commit/rollback.
	if _, err := tx.Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtextextended($1, 7))", evidenceID.String(),
	); err != nil {
		return nil, fmt.Errorf("acquire append lock: %w", err)
	}

	if _, err := scanObject(tx.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM evidence_objects WHERE id = $1 AND tenant_id = $2`,
		evidenceID, tenantID,
	)); err != nil {
		return nil, err
	}

	// First-write-wins idempotency: a retried request returns the original
	// event and its payload is discarded.
	if in.ClientRequestID != nil {
		prior, err := scanEvent(tx.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM evidence_events
			 WHERE tenant_id = $1 AND client_request_id = $2`,
			tenantID, *in.ClientRequestID,
		))
		if err == nil {
			return prior, nil
		}
		if !errors.Is(err, custody.ErrNotFound) {
			return nil, err
		}
	}

	var prevHash *string
	var tail string
	err := tx.QueryRow(ctx,
		`SELECT hash FROM evidence_events WHERE evidence_id = $1 ORDER BY seq DESC LIMIT 1`,
		evidenceID,
	).Scan(&tail)
	switch {
	case err == nil:
		prevHash = &tail
	case errors.Is(err, pgx.ErrNoRows):
		// First event in the chain.
	default:
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	now := custody.Now()
	hash, err := ComputeEventHash(evidenceID, in.EventType, in.Payload, prevHash, in.ActorID, now)
	if err != nil {
		return nil, err
	}

	ev := &Event{
		ID:              uuid.New(),
		EvidenceID:      evidenceID,
		TenantID:        tenantID,
		EventType:       in.EventType,
		Payload:         in.Payload,
		Hash:            hash,
		PrevHash:        prevHash,
		ActorID:         in.ActorID,
		ClientRequestID: in.ClientRequestID,
		CreatedAt:       now,
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO evidence_events
			(id, evidence_id, tenant_id, event_type, payload, hash, prev_hash,
			 actor_id, client_request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING seq`,
		ev.ID, ev.EvidenceID, ev.TenantID, ev.EventType, payloadOrNull(ev.Payload),
		ev.Hash, ev.PrevHash, ev.ActorID, ev.ClientRequestID, ev.CreatedAt,
	).Scan(&ev.Seq); err != nil {
		return nil, fmt.Errorf("insert evidence event: %w", err)
	}
	return ev, nil
}

// Events implements Ledger.
func (l *PostgresLedger) Events(ctx context.Context, tenantID, evidenceID uuid.UUID) ([]*Event, error) {
	if _, err := l.GetObject(ctx, tenantID, evidenceID); err != nil {
		return nil, err
	}
	rows, err := l.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM evidence_events
		 WHERE evidence_id = $1 AND tenant_id = $2 ORDER BY seq ASC`,
		evidenceID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// VerifyChain implements Ledger.
func (l *PostgresLedger) VerifyChain(ctx context.Context, tenantID, evidenceID uuid.UUID) (*VerifyReport, error) {
	events, err := l.Events(ctx, tenantID, evidenceID)
	if err != nil {
		return nil, err
	}
	report := VerifyEvents(events)
	if !report.Valid {
		l.logger.Warn("evidence chain integrity failure",
			zap.String("evidence_id", evidenceID.String()),
			zap.Intp("first_failure_index", report.FirstFailureIndex),
		)
	}
	return &report, nil
}

// Seal implements Ledger. The status flip and the sealed event commit
// atomically; sealing an already-sealed object is a no-op.
func (l *PostgresLedger) Seal(ctx context.Context, tenantID, evidenceID uuid.UUID, actorID *uuid.UUID) (*Object, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	obj, err := scanObject(tx.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM evidence_objects
		 WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		evidenceID, tenantID,
	))
	if err != nil {
		return nil, err
	}
	if obj.Sealed() {
		return obj, nil
	}

	now := custody.Now()
	payload, _ := json.Marshal(map[string]string{"sealed_at": now.Format(time.RFC3339Nano)})
	if _, err := l.appendTx(ctx, tx, tenantID, evidenceID, AppendEventInput{
		EventType: EventSealed,
		Payload:   payload,
		ActorID:   actorID,
	}); err != nil {
		return nil, fmt.Errorf("append sealed event: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE evidence_objects SET chain_status = $2, sealed_at = $3, updated_at = $3 WHERE id = $1`,
		evidenceID, StatusSealed, now,
	); err != nil {
		return nil, fmt.Errorf("seal evidence object: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit seal: %w", err)
	}

	obj.ChainStatus = StatusSealed
	obj.SealedAt = &now
	obj.UpdatedAt = now

	l.logger.Info("evidence object sealed",
		zap.String("evidence_id", evidenceID.String()),
	)
	return obj, nil
}

// TipHash implements Ledger.
func (l *PostgresLedger) TipHash(ctx context.Context, tenantID, evidenceID uuid.UUID) (*string, error) {
	if _, err := l.GetObject(ctx, tenantID, evidenceID); err != nil {
		return nil, err
	}
	var hash string
	err := l.pool.QueryRow(ctx,
		`SELECT hash FROM evidence_events
		 WHERE evidence_id = $1 AND tenant_id = $2 ORDER BY seq DESC LIMIT 1`,
		evidenceID, tenantID,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tip hash: %w", err)
	}
	return &hash, nil
}

// HardDelete implements Ledger.
func (l *PostgresLedger) HardDelete(ctx context.Context, tenantID, evidenceID uuid.UUID) error {
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM evidence_objects WHERE id = $1 AND tenant_id = $2`,
		evidenceID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete evidence object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return custody.ErrNotFound
	}
	// evidence_events rows cascade via FK.
	return nil
}

func payloadOrNull(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}

func scanObject(row pgx.Row) (*Object, error) {
	var o Object
	err := row.Scan(
		&o.ID, &o.TenantID, &o.SourceType, &o.Title, &o.ContentSHA256,
		&o.ChainStatus, &o.OccurredAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &o.SealedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan evidence object: %w", err)
	}
	return &o, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var payload []byte
	err := row.Scan(
		&e.ID, &e.EvidenceID, &e.TenantID, &e.Seq, &e.EventType, &payload,
		&e.Hash, &e.PrevHash, &e.ActorID, &e.ClientRequestID, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan evidence event: %w", err)
	}
	e.Payload = payload
	return &e, nil
}
