package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exchange-allocator/internal/model"
)

var (
	ErrAdminNotFound  = errors.New("admin not found")
	ErrDuplicateEmail = errors.New("admin with this email already exists")
	ErrUnknownRole    = errors.New("role does not exist")
)

const adminColumns = `a.id, a.email, a.name, a.password_hash, a.role_id, r.name, a.created_at, a.updated_at`

// AdminRepository handles admin data access.
type AdminRepository struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

// NewAdminRepository creates a new AdminRepository.
func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{
		pool: pool,
		sb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetByID retrieves an admin by ID.
func (r *AdminRepository) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	return r.getOne(ctx, `WHERE a.id = $1`, id)
}

// GetByEmail retrieves an admin by their unique email.
func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	return r.getOne(ctx, `WHERE lower(a.email) = lower($1)`, email)
}

func (r *AdminRepository) getOne(ctx context.Context, where string, arg any) (*model.Admin, error) {
	a := &model.Admin{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+adminColumns+`
		 FROM admins a JOIN roles r ON a.role_id = r.id `+where, arg,
	).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.RoleID, &a.RoleName, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		return nil, err
	}
	return a, nil
}

// Create inserts a new admin.
func (r *AdminRepository) Create(ctx context.Context, a *model.Admin) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO admins (email, name, password_hash, role_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		a.Email, a.Name, a.PasswordHash, a.RoleID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrDuplicateEmail
			case "23503":
				return ErrUnknownRole
			}
		}
		return err
	}
	return nil
}

// List returns a page of admins, newest first. roleID 0 means any role.
func (r *AdminRepository) List(ctx context.Context, roleID, limit, offset int) ([]model.Admin, int, error) {
	where := squirrel.And{}
	if roleID > 0 {
		where = append(where, squirrel.Eq{"a.role_id": roleID})
	}

	countSQL, countArgs, err := r.sb.Select("COUNT(*)").From("admins a").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count admins: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql, args, err := r.sb.Select(adminColumns).
		From("admins a").
		Join("roles r ON a.role_id = r.id").
		Where(where).
		OrderBy("a.created_at DESC", "a.id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list admins: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	admins := []model.Admin{}
	for rows.Next() {
		var a model.Admin
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.RoleID, &a.RoleName, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, err
		}
		admins = append(admins, a)
	}
	return admins, total, rows.Err()
}
