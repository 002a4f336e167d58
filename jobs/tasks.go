package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsWarmup pre-fetches permissions for known renderings so
	// the first request after a deploy or TTL expiry pays no fetch latency.
	TaskPermissionsWarmup = "permissions:warmup"
)

// PermissionsWarmupPayload lists the renderings to warm.
type PermissionsWarmupPayload struct {
	RenderingIDs []string `json:"renderingIds"`
}

// NewPermissionsWarmupTask constructs an Asynq task.
func NewPermissionsWarmupTask(payload PermissionsWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsWarmup, data), nil
}
