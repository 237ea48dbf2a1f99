package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
)

// Repository persists audit entries. The write path is append-only: there is
// deliberately no update or delete statement in this file.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEntry = `INSERT INTO role_audit_log
	(id, target_identity_id, target_name, target_email, old_role, new_role, performed_by_id, performed_by_name, reason, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`

// Record appends an entry.
func (r *Repository) Record(ctx context.Context, entry Entry) error {
	entry = withDefaults(entry)
	_, err := r.pool.Exec(ctx, insertEntry,
		entry.ID, entry.TargetIdentityID, entry.TargetName, entry.TargetEmail,
		string(entry.OldRole), string(entry.NewRole),
		entry.PerformedByID, entry.PerformedByName, entry.Reason, entry.CreatedAt)
	return err
}

// RecordTx appends an entry inside the transaction that carries the role
// record write, so both commit or neither does.
func (r *Repository) RecordTx(ctx context.Context, tx pgx.Tx, entry Entry) error {
	entry = withDefaults(entry)
	_, err := tx.Exec(ctx, insertEntry,
		entry.ID, entry.TargetIdentityID, entry.TargetName, entry.TargetEmail,
		string(entry.OldRole), string(entry.NewRole),
		entry.PerformedByID, entry.PerformedByName, entry.Reason, entry.CreatedAt)
	return err
}

const selectEntry = `SELECT id, target_identity_id, target_name, target_email, old_role, new_role,
	performed_by_id, performed_by_name, COALESCE(reason, ''), created_at
	FROM role_audit_log`

// ListWindow returns a newest-first page of entries matching the filters.
// limit is expected to be pageSize+1 so the caller can detect a next page.
func (r *Repository) ListWindow(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, selectEntry+`
		WHERE ($1 = '' OR target_identity_id = $1)
		  AND ($2 = '' OR performed_by_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5 OFFSET $6`,
		f.Identity, f.PerformedBy, nullTime(f.From), nullTime(f.To), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// ListAll returns every matching entry newest-first, for exports.
func (r *Repository) ListAll(ctx context.Context, f Filters) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, selectEntry+`
		WHERE ($1 = '' OR target_identity_id = $1)
		  AND ($2 = '' OR performed_by_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC, id DESC`,
		f.Identity, f.PerformedBy, nullTime(f.From), nullTime(f.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldRole, newRole string
		if err := rows.Scan(&e.ID, &e.TargetIdentityID, &e.TargetName, &e.TargetEmail,
			&oldRole, &newRole, &e.PerformedByID, &e.PerformedByName, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldRole, e.NewRole = authzRole(oldRole), authzRole(newRole)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func withDefaults(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// authzRole parses stored role text, passing unknown or empty historical
// values through unchanged. The log is immutable; old rows never fail reads.
func authzRole(raw string) authz.Role {
	if role, err := authz.ParseRole(raw); err == nil {
		return role
	}
	return authz.Role(raw)
}
