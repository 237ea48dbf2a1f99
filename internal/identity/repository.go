package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/db"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

var (
	// ErrStaleVersion indicates a compare-and-swap failure: the cached record
	// moved past the version the caller observed. Stale webhook deliveries
	// surface here and are discarded, not applied.
	ErrStaleVersion = errors.New("identity: stale record version")
	// ErrDuplicateEvent indicates an already-processed webhook event ID.
	ErrDuplicateEvent = errors.New("identity: duplicate webhook event")
)

const recordColumns = `identity_id, email, display_name, role, COALESCE(university_id, ''), plan, version, last_synced_at, pending_push, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for role records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

type row interface {
	Scan(dest ...any) error
}

func scanRecord(r row) (Record, error) {
	var rec Record
	var role, plan string
	if err := r.Scan(&rec.IdentityID, &rec.Email, &rec.DisplayName, &role, &rec.UniversityID, &plan,
		&rec.Version, &rec.LastSyncedAt, &rec.PendingPush, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Role, rec.Plan = roleOrZero(role), planOrZero(plan)
	return rec, nil
}

// Get fetches the role record for an identity.
func (r *Repository) Get(ctx context.Context, identityID string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM role_records WHERE identity_id = $1`, identityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// GetByEmail fetches the role record for a normalized email address.
func (r *Repository) GetByEmail(ctx context.Context, email string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM role_records WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// GetForUpdateTx locks and fetches a record inside a transaction.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, identityID string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM role_records WHERE identity_id = $1 FOR UPDATE`, identityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// CreateTx inserts a first-seen identity inside a transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, rec Record) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO role_records (identity_id, email, display_name, role, university_id, plan, version, last_synced_at, pending_push, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, 1, $7, FALSE, NOW(), NOW())`,
		rec.IdentityID, rec.Email, rec.DisplayName, string(rec.Role), rec.UniversityID, string(rec.Plan), rec.LastSyncedAt)
	return err
}

// UpdateRoleTx applies a role change with compare-and-swap on version.
// Returns ErrStaleVersion when the record moved since it was read.
func (r *Repository) UpdateRoleTx(ctx context.Context, tx pgx.Tx, rec Record, expectedVersion int64) (Record, error) {
	updated, err := scanRecord(tx.QueryRow(ctx,
		`UPDATE role_records
		 SET role = $2, university_id = NULLIF($3, ''), plan = $4, last_synced_at = $5,
		     version = version + 1, pending_push = $6, updated_at = NOW()
		 WHERE identity_id = $1 AND version = $7
		 RETURNING `+recordColumns,
		rec.IdentityID, string(rec.Role), rec.UniversityID, string(rec.Plan),
		rec.LastSyncedAt, rec.PendingPush, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrStaleVersion
		}
		return Record{}, err
	}
	return updated, nil
}

// SetPendingPush flags or clears the pending outbound push marker.
func (r *Repository) SetPendingPush(ctx context.Context, identityID string, pending bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE role_records SET pending_push = $2, updated_at = NOW() WHERE identity_id = $1`,
		identityID, pending)
	return err
}

// List returns role records ordered by identity for the drift scan.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM role_records ORDER BY identity_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkEventProcessed records a webhook event ID for at-least-once dedupe.
// A unique violation means the event was already applied.
func (r *Repository) MarkEventProcessed(ctx context.Context, tx pgx.Tx, eventID string, receivedAt time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO webhook_events (event_id, received_at) VALUES ($1, $2)`, eventID, receivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func roleOrZero(raw string) (role authz.Role) {
	role, _ = authz.ParseRole(raw)
	return role
}

func planOrZero(raw string) (plan authz.Plan) {
	plan, _ = authz.ParsePlan(raw)
	return plan
}
