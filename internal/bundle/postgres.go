package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/staykeeper/custody/internal/custody"
	"go.uber.org/zap"
)

// PostgresStore persists bundles to PostgreSQL. It implements Store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

const bundleColumns = `id, tenant_id, bundle_type, title, status, manifest_json,
	manifest_sha256, sealed_at, created_at, updated_at`

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, b *Bundle) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO evidence_bundles (`+bundleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.TenantID, b.BundleType, b.Title, b.Status, b.ManifestJSON,
		b.ManifestSHA256, b.SealedAt, b.CreatedAt, b.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert bundle: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, tenantID, bundleID uuid.UUID) (*Bundle, error) {
	var b Bundle
	var manifest []byte
	err := s.pool.QueryRow(ctx,
		`SELECT `+bundleColumns+` FROM evidence_bundles WHERE id = $1 AND tenant_id = $2`,
		bundleID, tenantID,
	).Scan(
		&b.ID, &b.TenantID, &b.BundleType, &b.Title, &b.Status, &manifest,
		&b.ManifestSHA256, &b.SealedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bundle: %w", err)
	}
	b.ManifestJSON = manifest
	return &b, nil
}

// AddItem implements Store. The insert only lands when the bundle is still
// open within the same statement, so a concurrent seal cannot slip between
// the check and the write.
func (s *PostgresStore) AddItem(ctx context.Context, item *Item) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO evidence_bundle_items
			(id, bundle_id, tenant_id, evidence_object_id, sort_order, label, created_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7
		 WHERE EXISTS (
			SELECT 1 FROM evidence_bundles
			WHERE id = $2 AND tenant_id = $3 AND status = 'open'
		 )`,
		item.ID, item.BundleID, item.TenantID, item.EvidenceObjectID,
		item.SortOrder, item.Label, item.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &custody.ErrValidation{Msg: "evidence object is already in this bundle"}
		}
		return fmt.Errorf("insert bundle item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the bundle does not exist in this tenant or it is sealed.
		b, err := s.Get(ctx, item.TenantID, item.BundleID)
		if err != nil {
			return err
		}
		if b.Sealed() {
			return &custody.ErrValidation{Msg: "bundle is sealed; items can no longer be added"}
		}
		return custody.ErrNotFound
	}
	return nil
}

// Items implements Store.
func (s *PostgresStore) Items(ctx context.Context, tenantID, bundleID uuid.UUID) ([]*Item, error) {
	if _, err := s.Get(ctx, tenantID, bundleID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, bundle_id, tenant_id, evidence_object_id, sort_order, label, created_at
		 FROM evidence_bundle_items
		 WHERE bundle_id = $1 AND tenant_id = $2
		 ORDER BY sort_order ASC, created_at ASC`,
		bundleID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query bundle items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(
			&item.ID, &item.BundleID, &item.TenantID, &item.EvidenceObjectID,
			&item.SortOrder, &item.Label, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan bundle item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Seal implements Store.
func (s *PostgresStore) Seal(ctx context.Context, tenantID, bundleID uuid.UUID, manifestJSON []byte, manifestSHA256 string, sealedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence_bundles
		 SET status = 'sealed', manifest_json = $3, manifest_sha256 = $4,
		     sealed_at = $5, updated_at = $5
		 WHERE id = $1 AND tenant_id = $2 AND status = 'open'`,
		bundleID, tenantID, manifestJSON, manifestSHA256, sealedAt,
	)
	if err != nil {
		return fmt.Errorf("seal bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := s.Get(ctx, tenantID, bundleID)
		if err != nil {
			return err
		}
		if b.Sealed() {
			return &custody.ErrImmutable{Msg: "bundle is already sealed"}
		}
		return custody.ErrNotFound
	}
	s.logger.Debug("bundle manifest persisted",
		zap.String("bundle_id", bundleID.String()),
		zap.String("manifest_sha256", manifestSHA256),
	)
	return nil
}
