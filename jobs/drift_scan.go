package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/clerk"
)

const driftScanPageSize = 100

// DriftScanner walks every role record and compares it against the provider.
// It only observes and re-queues; fixing drift stays an operator decision,
// except for records already flagged for push, which it re-enqueues.
type DriftScanner struct {
	logger  *slog.Logger
	roles   RoleStore
	source  SourceGateway
	pusher  Enqueuer
	metrics PushMetrics
}

// Enqueuer schedules a role:push task.
type Enqueuer interface {
	EnqueuePush(ctx context.Context, identityID string) error
}

// NewDriftScanner constructs a DriftScanner.
func NewDriftScanner(logger *slog.Logger, roles RoleStore, source SourceGateway, pusher Enqueuer, metrics PushMetrics) *DriftScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriftScanner{logger: logger, roles: roles, source: source, pusher: pusher, metrics: metrics}
}

// Handle processes one drift sweep.
func (d *DriftScanner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DriftScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	var scanned, drifted, requeued int
	for offset := 0; ; offset += driftScanPageSize {
		records, err := d.roles.List(ctx, driftScanPageSize, offset)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			scanned++

			if rec.PendingPush && d.pusher != nil {
				// An earlier push never completed; give it another ride.
				if err := d.pusher.EnqueuePush(ctx, rec.IdentityID); err != nil {
					d.logger.Warn("requeue pending push",
						slog.String("identity", rec.IdentityID), slog.Any("error", err))
				} else {
					requeued++
				}
				continue
			}

			claim, err := d.source.FetchClaim(ctx, rec.IdentityID)
			if errors.Is(err, clerk.ErrIdentityGone) {
				drifted++
				d.logger.Warn("drift: identity missing at provider",
					slog.String("identity", rec.IdentityID))
				continue
			}
			if err != nil {
				d.logger.Warn("drift scan fetch failed",
					slog.String("identity", rec.IdentityID), slog.Any("error", err))
				continue
			}
			sourceRole, err := authz.ParseRole(claim.Role)
			if err != nil || sourceRole != rec.Role || claim.UniversityID != rec.UniversityID {
				drifted++
				d.logger.Warn("drift detected",
					slog.String("identity", rec.IdentityID),
					slog.String("source_role", claim.Role),
					slog.String("cached_role", string(rec.Role)))
			}
		}
		if len(records) < driftScanPageSize {
			break
		}
	}

	d.logger.Info("drift scan finished",
		slog.Int("scanned", scanned),
		slog.Int("drifted", drifted),
		slog.Int("requeued", requeued))
	return nil
}
