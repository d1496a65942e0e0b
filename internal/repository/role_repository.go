package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exchange-allocator/internal/model"
)

// RoleRepository handles role and permission data access.
type RoleRepository struct {
	pool *pgxpool.Pool
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{pool: pool}
}

// GetPermissionsByRoleID retrieves all permission codes for a given role.
func (r *RoleRepository) GetPermissionsByRoleID(ctx context.Context, roleID int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.code
		 FROM permissions p
		 JOIN role_permissions rp ON p.id = rp.permission_id
		 WHERE rp.role_id = $1
		 ORDER BY p.code`, roleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var permissions []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		permissions = append(permissions, code)
	}
	return permissions, rows.Err()
}

// ListRoles retrieves all roles with their associated permissions.
func (r *RoleRepository) ListRoles(ctx context.Context) ([]model.RoleWithPermissions, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, name, created_at FROM roles ORDER BY id")
	if err != nil {
		return nil, err
	}

	var list []model.Role
	for rows.Next() {
		var role model.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roles := make([]model.RoleWithPermissions, 0, len(list))
	for i := range list {
		permissions, err := r.GetPermissionsByRoleID(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		roles = append(roles, model.RoleWithPermissions{Role: &list[i], Permissions: permissions})
	}
	return roles, nil
}

// SyncPermissions makes sure every code exists in the permissions table.
// It returns the number of codes that were newly inserted.
func (r *RoleRepository) SyncPermissions(ctx context.Context, codes []string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO permissions (code)
		 SELECT unnest($1::text[])
		 ON CONFLICT (code) DO NOTHING`, codes,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ReplaceRolePermissions replaces the permission set of a role in a single
// transaction. Unknown codes are ignored.
func (r *RoleRepository) ReplaceRolePermissions(ctx context.Context, roleID int, codes []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, "SELECT id FROM permissions WHERE code = ANY($1)", codes)
	if err != nil {
		return err
	}
	var permissionIDs []int
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return err
		}
		permissionIDs = append(permissionIDs, pid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM role_permissions WHERE role_id = $1", roleID); err != nil {
		return err
	}

	if len(permissionIDs) > 0 {
		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"role_permissions"},
			[]string{"role_id", "permission_id"},
			pgx.CopyFromSlice(len(permissionIDs), func(i int) ([]any, error) {
				return []any{roleID, permissionIDs[i]}, nil
			}),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
