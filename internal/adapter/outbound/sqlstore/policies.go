package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentshield/agentshield/internal/domain/policy"
)

const policyColumns = `id, tenant_id, name, enabled, version, dsl, created_at, updated_at`

// ListEnabledPolicies returns the tenant's enabled policies ordered by name.
func (s *Store) ListEnabledPolicies(ctx context.Context, tenantID string) ([]policy.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+policyColumns+`
		FROM policies
		WHERE tenant_id = ? AND enabled = ?
		ORDER BY name ASC`), tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []policy.Record
	for rows.Next() {
		rec, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// UpsertPolicy creates the named policy at version 1 or replaces its document
// and enabled flag, bumping the version.
func (s *Store) UpsertPolicy(ctx context.Context, tenantID, name string, enabled bool, dsl []byte) (policy.Record, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO policies (id, tenant_id, name, enabled, version, dsl, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			enabled    = excluded.enabled,
			dsl        = excluded.dsl,
			version    = policies.version + 1,
			updated_at = excluded.updated_at
		RETURNING `+policyColumns),
		uuid.NewString(), tenantID, name, enabled, string(dsl), now, now,
	)
	rec, err := scanPolicy(row)
	if err != nil {
		return policy.Record{}, fmt.Errorf("upsert policy %q: %w", name, err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (policy.Record, error) {
	var (
		rec policy.Record
		dsl string
	)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.Enabled, &rec.Version, &dsl, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return policy.Record{}, err
	}
	rec.DSL = []byte(dsl)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
