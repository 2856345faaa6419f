package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/staykeeper/custody/internal/custody"
)

// Document bytes are stored as text, not jsonb: jsonb storage normalizes key
// order and would break byte-identical round trips of the canonical form.
const artifactColumns = `id, parent_id, tenant_id, kind, version, status, document,
	body_sha256, client_request_id, assembled_by, created_at, exported_at`

// PostgresStore persists derived artifacts in the derived_artifacts table.
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

// Insert serializes version assignment per parent with a transaction-scoped
// advisory lock, so two concurrent assemblies can never claim the same
// version. The unique index on (tenant_id, parent_id, version) backstops it.
func (s *PostgresStore) Insert(ctx context.Context, art *DerivedArtifact) (*DerivedArtifact, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin insert artifact: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 7))`, art.ParentID.String(),
	); err != nil {
		return nil, fmt.Errorf("lock parent: %w", err)
	}

	if art.ClientRequestID != nil {
		existing, err := scanArtifact(tx.QueryRow(ctx,
			`SELECT `+artifactColumns+` FROM derived_artifacts
			 WHERE tenant_id = $1 AND parent_id = $2 AND client_request_id = $3`,
			art.TenantID, art.ParentID, *art.ClientRequestID,
		))
		if err == nil {
			return existing, tx.Commit(ctx)
		}
		if !errors.Is(err, custody.ErrNotFound) {
			return nil, err
		}
	}

	var maxVersion int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM derived_artifacts
		 WHERE tenant_id = $1 AND parent_id = $2`,
		art.TenantID, art.ParentID,
	).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("read max version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE derived_artifacts SET status = 'superseded'
		 WHERE tenant_id = $1 AND parent_id = $2 AND status <> 'superseded'`,
		art.TenantID, art.ParentID,
	); err != nil {
		return nil, fmt.Errorf("supersede prior versions: %w", err)
	}

	cp := cloneArtifact(art)
	cp.Version = maxVersion + 1
	if _, err := tx.Exec(ctx,
		`INSERT INTO derived_artifacts (`+artifactColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		cp.ID, cp.ParentID, cp.TenantID, cp.Kind, cp.Version, cp.Status,
		string(cp.Document), cp.BodySHA256, cp.ClientRequestID, cp.AssembledBy,
		cp.CreatedAt, cp.ExportedAt,
	); err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit insert artifact: %w", err)
	}
	return cp, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*DerivedArtifact, error) {
	return scanArtifact(s.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM derived_artifacts WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	))
}

func (s *PostgresStore) ListByParent(ctx context.Context, tenantID, parentID uuid.UUID) ([]*DerivedArtifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM derived_artifacts
		 WHERE tenant_id = $1 AND parent_id = $2
		 ORDER BY version DESC`,
		tenantID, parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*DerivedArtifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	return out, rows.Err()
}

// Update persists status and exported_at. The stored body is compared under
// lock first; any difference means a caller tried to rewrite history.
func (s *PostgresStore) Update(ctx context.Context, art *DerivedArtifact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update artifact: %w", err)
	}
	defer tx.Rollback(ctx)

	var storedHash, storedDoc string
	err = tx.QueryRow(ctx,
		`SELECT body_sha256, document FROM derived_artifacts
		 WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		art.ID, art.TenantID,
	).Scan(&storedHash, &storedDoc)
	if errors.Is(err, pgx.ErrNoRows) {
		return custody.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read artifact for update: %w", err)
	}
	if storedHash != art.BodySHA256 || storedDoc != string(art.Document) {
		s.logger.Error("artifact body mutation blocked",
			zap.String("artifact_id", art.ID.String()))
		return &custody.ErrImmutable{Msg: "artifact body may not be modified after assembly"}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE derived_artifacts SET status = $1, exported_at = $2
		 WHERE id = $3 AND tenant_id = $4`,
		art.Status, art.ExportedAt, art.ID, art.TenantID,
	); err != nil {
		return fmt.Errorf("update artifact status: %w", err)
	}
	return tx.Commit(ctx)
}

func scanArtifact(row pgx.Row) (*DerivedArtifact, error) {
	var art DerivedArtifact
	var doc string
	err := row.Scan(
		&art.ID, &art.ParentID, &art.TenantID, &art.Kind, &art.Version,
		&art.Status, &doc, &art.BodySHA256, &art.ClientRequestID,
		&art.AssembledBy, &art.CreatedAt, &art.ExportedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	art.Document = []byte(doc)
	return &art, nil
}
