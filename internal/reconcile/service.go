package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/clerk"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
)

var (
	// ErrRemediationInFlight indicates another remediation currently holds the
	// identity's lock. The caller should retry after it settles.
	ErrRemediationInFlight = errors.New("reconcile: remediation already in progress")
	// ErrBadSourceClaim indicates the provider holds a role claim the system
	// does not recognise; syncing it to the cache would poison it.
	ErrBadSourceClaim = errors.New("reconcile: unusable source role claim")
)

// Direction selects which side of a mismatch is treated as the truth.
type Direction string

const (
	// DirectionToCache overwrites the local record from the provider.
	DirectionToCache Direction = "to_cache"
	// DirectionToSource pushes the local record back to the provider.
	DirectionToSource Direction = "to_source"
)

// ParseDirection validates a wire-format direction.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionToCache, DirectionToSource:
		return Direction(raw), nil
	}
	return "", fmt.Errorf("reconcile: unknown direction %q", raw)
}

const (
	SuggestionSyncToCache  = "sync-to-cache"
	SuggestionPushToSource = "push-to-source"
)

// Report is the outcome of diagnosing one identity.
type Report struct {
	Identity    identity.Identity `json:"identity"`
	SourceRole  string            `json:"source_role"`
	CachedRole  authz.Role        `json:"cached_role"`
	Mismatch    bool              `json:"mismatch"`
	Issues      []string          `json:"issues,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	State       State             `json:"state"`
}

// RemediateInput names the identity, the direction, and who asked.
type RemediateInput struct {
	IdentityID      string
	Direction       Direction
	PerformedByID   string
	PerformedByName string
}

// RemediateOutcome reports what a remediation did. Pending means the fix was
// handed to the background pusher and has not been confirmed yet.
type RemediateOutcome struct {
	Report  Report `json:"report"`
	Applied bool   `json:"applied"`
	Pending bool   `json:"pending"`
}

// RoleStore is the slice of the identity service the engine needs.
type RoleStore interface {
	Get(ctx context.Context, identityID string) (identity.Record, error)
	GetByEmail(ctx context.Context, email string) (identity.Record, error)
	ChangeRole(ctx context.Context, input identity.ChangeRoleInput) (identity.ChangeOutcome, error)
	SetPendingPush(ctx context.Context, identityID string, pending bool) error
}

// SourceReader fetches the provider's current claim for an identity.
type SourceReader interface {
	FetchClaim(ctx context.Context, identityID string) (clerk.SourceClaim, error)
}

// Pusher schedules an outbound push of the local record to the provider.
type Pusher interface {
	EnqueuePush(ctx context.Context, identityID string) error
}

// Locker is the per-identity mutual exclusion used to serialize remediation.
type Locker interface {
	Acquire(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key, token string) error
	TTL() time.Duration
}

// RunMetrics observes how long diagnose and remediate passes take.
type RunMetrics interface {
	ReconcileRun(result string, seconds float64)
}

// Service compares the provider's role claims against the local cache and
// fixes disagreements in whichever direction the operator chooses. All work
// for one identity is serialized; concurrent checks share one flight.
type Service struct {
	logger  *slog.Logger
	roles   RoleStore
	source  SourceReader
	pusher  Pusher
	locks   Locker
	metrics RunMetrics

	group singleflight.Group

	mu    sync.Mutex
	flows map[string]*Workflow

	now func() time.Time
}

// NewService constructs the reconciliation engine.
func NewService(logger *slog.Logger, roles RoleStore, source SourceReader, pusher Pusher, locks Locker, metrics RunMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		roles:   roles,
		source:  source,
		pusher:  pusher,
		locks:   locks,
		metrics: metrics,
		flows:   make(map[string]*Workflow),
		now:     time.Now,
	}
}

func (s *Service) observeRun(started time.Time, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReconcileRun(result, time.Since(started).Seconds())
}

// workflow returns the identity's workflow, resetting it first if it timed out.
func (s *Service) workflow(identityID string) *Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.flows[identityID]
	if !ok {
		wf = NewWorkflow(s.locks.TTL())
		s.flows[identityID] = wf
	}
	wf.Refresh(s.now())
	return wf
}

// step advances the workflow and returns the state it landed in. Workflow
// state is only ever read or written under s.mu; callers must use the
// returned state instead of re-reading the workflow.
func (s *Service) step(identityID string, wf *Workflow, next State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := wf.To(next, s.now()); err != nil {
		return wf.State(), err
	}
	state := wf.State()
	if state == StateSynced {
		// A settled flow holds nothing a fresh Idle one would not.
		delete(s.flows, identityID)
	}
	return state, nil
}

// WorkflowState reports where an identity currently sits in the flow.
// Identities without an active flow are Idle; a flow that timed out is
// dropped on read.
func (s *Service) WorkflowState(identityID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.flows[identityID]
	if !ok {
		return StateIdle
	}
	wf.Refresh(s.now())
	state := wf.State()
	if state == StateIdle {
		delete(s.flows, identityID)
	}
	return state
}

// Diagnose looks up the identity by email and compares the provider's claim
// against the cached record. Concurrent calls for the same identity collapse
// into one check.
func (s *Service) Diagnose(ctx context.Context, email string) (Report, error) {
	started := time.Now()
	rec, err := s.roles.GetByEmail(ctx, email)
	if err != nil {
		return Report{}, err
	}

	result, err, _ := s.group.Do(rec.IdentityID, func() (any, error) {
		return s.check(ctx, rec.IdentityID)
	})
	if err != nil {
		s.observeRun(started, "error")
		return Report{}, err
	}
	report := result.(Report)
	s.observeRun(started, string(report.State))
	return report, nil
}

// check runs one Checking pass for an identity, advancing its workflow.
func (s *Service) check(ctx context.Context, identityID string) (Report, error) {
	wf := s.workflow(identityID)
	if _, err := s.step(identityID, wf, StateChecking); err != nil {
		// Checking is unreachable only while a remediation is mid-flight.
		return Report{}, ErrRemediationInFlight
	}

	rec, err := s.roles.Get(ctx, identityID)
	if err != nil {
		return Report{}, err
	}
	report := s.buildReport(ctx, rec)

	settled := StateSynced
	if report.Mismatch {
		settled = StateMismatch
	}
	state, err := s.step(identityID, wf, settled)
	if err != nil {
		return Report{}, err
	}
	report.State = state
	return report, nil
}

// buildReport compares one record against the provider without touching the
// workflow.
func (s *Service) buildReport(ctx context.Context, rec identity.Record) Report {
	report := Report{
		Identity:   rec.Identity(),
		CachedRole: rec.Role,
	}
	if rec.PendingPush {
		report.Issues = append(report.Issues, "outbound push pending")
		report.Suggestions = append(report.Suggestions, SuggestionPushToSource)
	}

	claim, err := s.source.FetchClaim(ctx, rec.IdentityID)
	switch {
	case errors.Is(err, clerk.ErrIdentityGone):
		report.Mismatch = true
		report.Issues = append(report.Issues, "identity missing at provider")
		return report
	case err != nil:
		s.logger.Warn("source fetch failed during diagnose",
			slog.String("identity", rec.IdentityID), slog.Any("error", err))
		report.Issues = append(report.Issues, "provider unreachable")
		return report
	}

	report.SourceRole = claim.Role
	sourceRole, parseErr := authz.ParseRole(claim.Role)
	if parseErr != nil {
		report.Mismatch = true
		report.Issues = append(report.Issues, "unrecognized source role claim")
		return report
	}

	if sourceRole != rec.Role {
		report.Mismatch = true
		report.Issues = append(report.Issues,
			fmt.Sprintf("role drift: source %s, cached %s", sourceRole, rec.Role))
	}
	if claim.UniversityID != rec.UniversityID {
		report.Mismatch = true
		report.Issues = append(report.Issues, "university drift")
	}
	if report.Mismatch {
		report.Suggestions = append(report.Suggestions, SuggestionSyncToCache)
	}
	return report
}

// Remediate fixes a drifted identity in the requested direction. Only one
// remediation may run per identity at a time; a concurrent attempt, in either
// direction, gets ErrRemediationInFlight.
func (s *Service) Remediate(ctx context.Context, input RemediateInput) (RemediateOutcome, error) {
	started := time.Now()
	key := shared.IdentityLockKey(input.IdentityID)
	token, err := s.locks.Acquire(ctx, key)
	if errors.Is(err, shared.ErrLockHeld) {
		return RemediateOutcome{}, ErrRemediationInFlight
	}
	if err != nil {
		return RemediateOutcome{}, err
	}
	defer func() {
		if rerr := s.locks.Release(context.WithoutCancel(ctx), key, token); rerr != nil {
			s.logger.Warn("release remediation lock",
				slog.String("identity", input.IdentityID), slog.Any("error", rerr))
		}
	}()

	report, err := s.check(ctx, input.IdentityID)
	if err != nil {
		return RemediateOutcome{}, err
	}
	if !report.Mismatch {
		// Already converged; a repeated remediate is a harmless no-op.
		return RemediateOutcome{Report: report}, nil
	}

	wf := s.workflow(input.IdentityID)
	if _, err := s.step(input.IdentityID, wf, StateRemediating); err != nil {
		return RemediateOutcome{}, err
	}

	var outcome RemediateOutcome
	switch input.Direction {
	case DirectionToCache:
		outcome, err = s.remediateToCache(ctx, input)
	case DirectionToSource:
		outcome, err = s.remediateToSource(ctx, input)
	default:
		err = fmt.Errorf("reconcile: unknown direction %q", input.Direction)
	}
	if err != nil {
		// Leave the workflow for the timeout to reclaim.
		return RemediateOutcome{}, err
	}

	if _, err := s.step(input.IdentityID, wf, StateRechecking); err != nil {
		return RemediateOutcome{}, err
	}
	rec, err := s.roles.Get(ctx, input.IdentityID)
	if err != nil {
		return RemediateOutcome{}, err
	}
	outcome.Report = s.buildReport(ctx, rec)

	settled := StateSynced
	if outcome.Report.Mismatch {
		settled = StateMismatch
	}
	state, err := s.step(input.IdentityID, wf, settled)
	if err != nil {
		return RemediateOutcome{}, err
	}
	outcome.Report.State = state
	s.observeRun(started, string(state))
	return outcome, nil
}

// remediateToCache overwrites the local record with the provider's claim.
func (s *Service) remediateToCache(ctx context.Context, input RemediateInput) (RemediateOutcome, error) {
	claim, err := s.source.FetchClaim(ctx, input.IdentityID)
	if err != nil {
		return RemediateOutcome{}, err
	}
	role, err := authz.ParseRole(claim.Role)
	if err != nil {
		return RemediateOutcome{}, fmt.Errorf("%w: %q", ErrBadSourceClaim, claim.Role)
	}
	plan, err := authz.ParsePlan(claim.Plan)
	if err != nil {
		return RemediateOutcome{}, fmt.Errorf("%w: plan %q", ErrBadSourceClaim, claim.Plan)
	}

	result, err := s.roles.ChangeRole(ctx, identity.ChangeRoleInput{
		IdentityID:      input.IdentityID,
		Email:           claim.Email,
		DisplayName:     claim.Name,
		NewRole:         role,
		NewUniversityID: claim.UniversityID,
		NewPlan:         plan,
		Reason:          "reconciliation",
		PerformedByID:   input.PerformedByID,
		PerformedByName: input.PerformedByName,
		CreateIfMissing: true,
	})
	if err != nil {
		return RemediateOutcome{}, err
	}
	return RemediateOutcome{Applied: result.Changed}, nil
}

// remediateToSource flags the record and hands the push to the background
// worker. The audit entry for this direction is written by the worker once
// the provider confirms the update.
func (s *Service) remediateToSource(ctx context.Context, input RemediateInput) (RemediateOutcome, error) {
	if err := s.roles.SetPendingPush(ctx, input.IdentityID, true); err != nil {
		return RemediateOutcome{}, err
	}
	if err := s.pusher.EnqueuePush(ctx, input.IdentityID); err != nil {
		return RemediateOutcome{}, err
	}
	return RemediateOutcome{Pending: true}, nil
}
