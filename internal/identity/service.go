package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/text/cases"

	"github.com/Ascentul/Ascentul-sub014/internal/audit"
	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// AuditRecorder appends history lines for role transitions.
type AuditRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, entry audit.Entry) error
}

// Store is the persistence contract the service depends on.
type Store interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	Get(ctx context.Context, identityID string) (Record, error)
	GetByEmail(ctx context.Context, email string) (Record, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, identityID string) (Record, error)
	CreateTx(ctx context.Context, tx pgx.Tx, rec Record) error
	UpdateRoleTx(ctx context.Context, tx pgx.Tx, rec Record, expectedVersion int64) (Record, error)
	SetPendingPush(ctx context.Context, identityID string, pending bool) error
	List(ctx context.Context, limit, offset int) ([]Record, error)
	MarkEventProcessed(ctx context.Context, tx pgx.Tx, eventID string, receivedAt time.Time) error
}

// Service owns the role record cache. Every role transition funnels through
// ChangeRole so the record write and its audit entry always share one
// transaction.
type Service struct {
	store    Store
	cache    *Cache
	recorder AuditRecorder
	logger   *slog.Logger
	folder   cases.Caser
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, cache *Cache, recorder AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cache:    cache,
		recorder: recorder,
		logger:   logger,
		folder:   cases.Fold(),
		now:      time.Now,
	}
}

// NormalizeEmail case-folds and trims an email address so lookups and stored
// rows agree on one canonical form.
func (s *Service) NormalizeEmail(email string) string {
	return s.folder.String(strings.TrimSpace(email))
}

// Get returns the cached role record for an identity.
func (s *Service) Get(ctx context.Context, identityID string) (Record, error) {
	if rec, ok := s.cache.Get(identityID); ok {
		return rec, nil
	}
	rec, err := s.store.Get(ctx, identityID)
	if err != nil {
		return Record{}, err
	}
	s.cache.Set(rec)
	return rec, nil
}

// GetByEmail returns the role record for an email address.
func (s *Service) GetByEmail(ctx context.Context, email string) (Record, error) {
	return s.store.GetByEmail(ctx, s.NormalizeEmail(email))
}

// List pages through all role records.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Record, error) {
	return s.store.List(ctx, limit, offset)
}

// SetPendingPush flags or clears the pending outbound push marker.
func (s *Service) SetPendingPush(ctx context.Context, identityID string, pending bool) error {
	if err := s.store.SetPendingPush(ctx, identityID, pending); err != nil {
		return err
	}
	s.cache.Invalidate(identityID)
	return nil
}

// ChangeRoleInput describes one requested role transition.
type ChangeRoleInput struct {
	IdentityID      string
	Email           string
	DisplayName     string
	NewRole         authz.Role
	NewUniversityID string
	NewPlan         authz.Plan
	SyncedAt        time.Time
	Reason          string
	PerformedByID   string
	PerformedByName string
	// CreateIfMissing inserts a first-seen identity instead of failing.
	CreateIfMissing bool
	// RequireNewer discards the change when SyncedAt is not strictly newer
	// than the cached state. Webhook deliveries set this; out-of-order
	// events must never overwrite fresher data.
	RequireNewer bool
	// EventID deduplicates at-least-once webhook delivery inside the same
	// transaction as the record write.
	EventID     string
	PendingPush bool
}

// ChangeOutcome reports what a ChangeRole call did.
type ChangeOutcome struct {
	Record  Record
	Changed bool
}

// ChangeRole applies a role transition. Applying an already-synced state is a
// safe no-op with no audit entry. The audit line and the record write commit
// atomically or not at all.
func (s *Service) ChangeRole(ctx context.Context, input ChangeRoleInput) (ChangeOutcome, error) {
	if input.IdentityID == "" {
		return ChangeOutcome{}, errors.New("identity: identity id required")
	}
	if input.SyncedAt.IsZero() {
		input.SyncedAt = s.now().UTC()
	}
	input.Email = s.NormalizeEmail(input.Email)

	var outcome ChangeOutcome
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if input.EventID != "" {
			if err := s.store.MarkEventProcessed(ctx, tx, input.EventID, s.now().UTC()); err != nil {
				return err
			}
		}

		cur, err := s.store.GetForUpdateTx(ctx, tx, input.IdentityID)
		if errors.Is(err, shared.ErrNotFound) {
			if !input.CreateIfMissing {
				return err
			}
			rec := Record{
				IdentityID:   input.IdentityID,
				Email:        input.Email,
				DisplayName:  input.DisplayName,
				Role:         input.NewRole,
				UniversityID: input.NewUniversityID,
				Plan:         input.NewPlan,
				LastSyncedAt: input.SyncedAt,
			}
			if err := s.store.CreateTx(ctx, tx, rec); err != nil {
				return err
			}
			created, err := s.store.GetForUpdateTx(ctx, tx, input.IdentityID)
			if err != nil {
				return err
			}
			outcome = ChangeOutcome{Record: created, Changed: true}
			return s.recorder.RecordTx(ctx, tx, audit.Entry{
				TargetIdentityID: created.IdentityID,
				TargetName:       created.DisplayName,
				TargetEmail:      created.Email,
				NewRole:          created.Role,
				PerformedByID:    input.PerformedByID,
				PerformedByName:  input.PerformedByName,
				Reason:           input.Reason,
			})
		}
		if err != nil {
			return err
		}

		if input.RequireNewer && !input.SyncedAt.After(cur.LastSyncedAt) {
			return ErrStaleVersion
		}

		if cur.Role == input.NewRole && cur.UniversityID == input.NewUniversityID &&
			(input.NewPlan == "" || cur.Plan == input.NewPlan) {
			outcome = ChangeOutcome{Record: cur, Changed: false}
			return nil
		}

		next := cur
		next.Role = input.NewRole
		next.UniversityID = input.NewUniversityID
		if input.NewPlan != "" {
			next.Plan = input.NewPlan
		}
		next.LastSyncedAt = input.SyncedAt
		next.PendingPush = input.PendingPush

		updated, err := s.store.UpdateRoleTx(ctx, tx, next, cur.Version)
		if err != nil {
			return err
		}
		outcome = ChangeOutcome{Record: updated, Changed: true}

		if cur.Role == updated.Role {
			// University or plan moved without a role transition; the role
			// history log only tracks role changes.
			return nil
		}
		return s.recorder.RecordTx(ctx, tx, audit.Entry{
			TargetIdentityID: updated.IdentityID,
			TargetName:       updated.DisplayName,
			TargetEmail:      updated.Email,
			OldRole:          cur.Role,
			NewRole:          updated.Role,
			PerformedByID:    input.PerformedByID,
			PerformedByName:  input.PerformedByName,
			Reason:           input.Reason,
		})
	})
	if err != nil {
		return ChangeOutcome{}, err
	}

	s.cache.Invalidate(input.IdentityID)
	return outcome, nil
}
