package impersonate

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

// RecordGetter reads the cached role record for an identity.
type RecordGetter interface {
	Get(ctx context.Context, identityID string) (identity.Record, error)
}

// Service starts and stops impersonation overlays and resolves the effective
// actor for requests. It also implements the authz resolver contract, so the
// permission guard sees assumed roles transparently.
type Service struct {
	logger    *slog.Logger
	roles     RecordGetter
	evaluator *authz.Evaluator
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(logger *slog.Logger, roles RecordGetter, evaluator *authz.Evaluator) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:    logger,
		roles:     roles,
		evaluator: evaluator,
		now:       time.Now,
	}
}

// StartInput describes the principal to assume.
type StartInput struct {
	AssumedRole         authz.Role
	AssumedUniversityID string
	AssumedPlan         authz.Plan
	TTL                 time.Duration
}

// Start creates an overlay in the caller's session. Authorization is checked
// against the caller's real role record, never against an existing overlay,
// so an assumed role cannot be used to assume another.
func (s *Service) Start(ctx context.Context, sess *shared.Session, input StartInput) (Overlay, error) {
	rec, err := s.roles.Get(ctx, sess.User())
	if err != nil {
		return Overlay{}, err
	}
	allowed, err := s.evaluator.Evaluate("support.impersonate", rec.Actor(), authz.Resource{})
	if err != nil {
		return Overlay{}, err
	}
	if !allowed {
		return Overlay{}, ErrNotPermitted
	}

	if input.AssumedRole.RequiresUniversity() && input.AssumedUniversityID == "" {
		return Overlay{}, ErrMissingUniversity
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}
	plan := input.AssumedPlan
	if plan == "" {
		plan = rec.Plan
	}

	overlay := Overlay{
		BaseIdentityID:      rec.IdentityID,
		AssumedRole:         input.AssumedRole,
		AssumedUniversityID: input.AssumedUniversityID,
		AssumedPlan:         plan,
		StartedAt:           s.now().UTC(),
		TTL:                 ttl,
	}
	if err := storeOverlay(sess, overlay); err != nil {
		return Overlay{}, err
	}
	s.logger.Info("impersonation started",
		slog.String("base", rec.IdentityID),
		slog.String("assumed_role", string(input.AssumedRole)))
	return overlay, nil
}

// Stop removes the overlay. Stopping when none is active is a no-op.
func (s *Service) Stop(sess *shared.Session) {
	clearOverlay(sess)
}

// Current returns the session's overlay if it is active and owned by the
// session user.
func (s *Service) Current(sess *shared.Session) (Overlay, bool) {
	overlay, ok := loadOverlay(sess)
	if !ok {
		return Overlay{}, false
	}
	if overlay.BaseIdentityID != sess.User() || !overlay.Active(s.now()) {
		return Overlay{}, false
	}
	return overlay, true
}

// EffectiveActor resolves the principal for a request: the overlay when one
// is active in this session, otherwise the real role record.
func (s *Service) EffectiveActor(ctx context.Context, sess *shared.Session) (authz.Actor, error) {
	if overlay, ok := s.Current(sess); ok {
		return overlay.Actor(), nil
	}
	rec, err := s.roles.Get(ctx, sess.User())
	if err != nil {
		return authz.Actor{}, err
	}
	return rec.Actor(), nil
}
