package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Ascentul/Ascentul-sub014/internal/audit"
	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/clerk"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// RoleStore is the slice of the identity service the push handler needs.
type RoleStore interface {
	Get(ctx context.Context, identityID string) (identity.Record, error)
	SetPendingPush(ctx context.Context, identityID string, pending bool) error
	List(ctx context.Context, limit, offset int) ([]identity.Record, error)
}

// SourceGateway talks to the identity provider.
type SourceGateway interface {
	PushRole(ctx context.Context, identityID string, role authz.Role, universityID string, plan authz.Plan) error
	FetchClaim(ctx context.Context, identityID string) (clerk.SourceClaim, error)
}

// AuditRecorder appends history lines for confirmed pushes.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// PushMetrics counts outbound push results.
type PushMetrics interface {
	RolePush(result string)
}

// RolePusher processes role:push tasks. The audit line for an outbound
// remediation is written here, only after the provider confirms the update.
type RolePusher struct {
	logger  *slog.Logger
	roles   RoleStore
	source  SourceGateway
	auditor AuditRecorder
	metrics PushMetrics
}

// NewRolePusher constructs a RolePusher.
func NewRolePusher(logger *slog.Logger, roles RoleStore, source SourceGateway, auditor AuditRecorder, metrics PushMetrics) *RolePusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolePusher{logger: logger, roles: roles, source: source, auditor: auditor, metrics: metrics}
}

// Handle processes one push task.
func (p *RolePusher) Handle(ctx context.Context, t *asynq.Task) error {
	var payload RolePushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	rec, err := p.roles.Get(ctx, payload.IdentityID)
	if errors.Is(err, shared.ErrNotFound) {
		p.logger.Warn("push target vanished", slog.String("identity", payload.IdentityID))
		return asynq.SkipRetry
	}
	if err != nil {
		return err
	}
	if !rec.PendingPush {
		// A newer run already pushed this record.
		return nil
	}

	// The provider's current claim becomes the audit line's old side.
	var previousRole string
	if claim, err := p.source.FetchClaim(ctx, rec.IdentityID); err == nil {
		previousRole = claim.Role
	}

	if err := p.source.PushRole(ctx, rec.IdentityID, rec.Role, rec.UniversityID, rec.Plan); err != nil {
		if errors.Is(err, clerk.ErrPushRejected) {
			p.count("rejected")
			p.logger.Error("role push rejected by provider",
				slog.String("identity", rec.IdentityID), slog.Any("error", err))
			return asynq.SkipRetry
		}
		p.count("retry")
		return err
	}

	if err := p.roles.SetPendingPush(ctx, rec.IdentityID, false); err != nil {
		p.logger.Warn("clear pending push flag",
			slog.String("identity", rec.IdentityID), slog.Any("error", err))
	}
	p.count("confirmed")

	if previousRole == string(rec.Role) {
		// Provider already agreed; nothing changed over there.
		return nil
	}
	entry := audit.Entry{
		TargetIdentityID: rec.IdentityID,
		TargetName:       rec.DisplayName,
		TargetEmail:      rec.Email,
		NewRole:          rec.Role,
		PerformedByID:    "system",
		PerformedByName:  "Reconciliation",
		Reason:           "reconciliation",
	}
	if parsed, err := authz.ParseRole(previousRole); err == nil {
		entry.OldRole = parsed
	}
	if err := p.auditor.Record(ctx, entry); err != nil {
		p.logger.Error("record push audit entry",
			slog.String("identity", rec.IdentityID), slog.Any("error", err))
	}
	return nil
}

func (p *RolePusher) count(result string) {
	if p.metrics != nil {
		p.metrics.RolePush(result)
	}
}
