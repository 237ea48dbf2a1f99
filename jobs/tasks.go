package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRolePush pushes a locally changed role back to the identity
	// provider.
	TaskTypeRolePush = "role:push"
	// TaskTypeDriftScan sweeps role records for drift against the provider.
	TaskTypeDriftScan = "role:drift_scan"
)

// RolePushPayload names the identity whose record should be pushed.
type RolePushPayload struct {
	IdentityID string `json:"identity_id"`
}

// NewRolePushTask constructs an Asynq task for one outbound push.
func NewRolePushTask(identityID string) (*asynq.Task, error) {
	data, err := json.Marshal(RolePushPayload{IdentityID: identityID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRolePush, data,
		asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// DriftScanPayload carries scheduling metadata.
type DriftScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewDriftScanTask constructs an Asynq task for the periodic drift sweep.
func NewDriftScanTask(at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(DriftScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDriftScan, data, asynq.Queue(QueueDefault)), nil
}
