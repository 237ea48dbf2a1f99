package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Operator, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectOperator = `
SELECT identity_id, email, password_hash, is_active, created_at, updated_at
FROM operators
WHERE email = $1`

// FindByEmail fetches an operator account by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Operator, error) {
	var op Operator
	err := r.pool.QueryRow(ctx, selectOperator, email).Scan(
		&op.IdentityID, &op.Email, &op.PasswordHash, &op.IsActive,
		&op.CreatedAt, &op.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: find operator: %w", err)
	}
	return &op, nil
}

var _ Repository = (*PGRepository)(nil)
