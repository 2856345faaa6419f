package attachment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/custody"
)

const recordColumns = `id, parent_id, tenant_id, evidence_object_id, bundle_id,
	copied_sha256, bundle_manifest_sha256, label, attached_by, created_at`

// PostgresStore persists attachments in the parent_inputs table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Insert writes the record, re-checking inside the statement that the target
// is still sealed. Duplicate (parent, target) pairs hit the partial unique
// indexes and surface as *custody.ErrAlreadyAttached.
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	var tag pgconn.CommandTag
	var err error

	switch {
	case rec.EvidenceObjectID != nil:
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO parent_inputs (`+recordColumns+`)
			SELECT $1, $2, $3, $4, NULL, $5, NULL, $6, $7, $8
			WHERE EXISTS (
				SELECT 1 FROM evidence_objects
				WHERE id = $4 AND tenant_id = $3 AND chain_status = 'sealed'
			)`,
			rec.ID, rec.ParentID, rec.TenantID, *rec.EvidenceObjectID,
			rec.CopiedSHA256, rec.Label, rec.AttachedBy, rec.CreatedAt)
	case rec.BundleID != nil:
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO parent_inputs (`+recordColumns+`)
			SELECT $1, $2, $3, NULL, $4, NULL, $5, $6, $7, $8
			WHERE EXISTS (
				SELECT 1 FROM evidence_bundles
				WHERE id = $4 AND tenant_id = $3 AND status = 'sealed'
			)`,
			rec.ID, rec.ParentID, rec.TenantID, *rec.BundleID,
			rec.BundleManifestSHA256, rec.Label, rec.AttachedBy, rec.CreatedAt)
	default:
		return &custody.ErrValidation{Msg: "attachment record has no target"}
	}

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &custody.ErrAlreadyAttached{ParentID: rec.ParentID, TargetID: rec.TargetID()}
		}
		return fmt.Errorf("insert attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Target missing or unsealed since the gate's check.
		return &custody.ErrUnsealed{Kind: "attachment target", ID: rec.TargetID()}
	}
	return nil
}

func (s *PostgresStore) ListByParent(ctx context.Context, tenantID, parentID uuid.UUID) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM parent_inputs
		WHERE tenant_id = $1 AND parent_id = $2
		ORDER BY created_at, id`,
		tenantID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ParentID, &rec.TenantID, &rec.EvidenceObjectID,
		&rec.BundleID, &rec.CopiedSHA256, &rec.BundleManifestSHA256,
		&rec.Label, &rec.AttachedBy, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custody.ErrNotFound
		}
		return nil, fmt.Errorf("scan attachment: %w", err)
	}
	return &rec, nil
}
