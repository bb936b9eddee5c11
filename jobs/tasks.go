package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vvakhlyuev-work/directory-fortress-core/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep is the task type for reaping dead sessions.
	TaskSessionSweep = "session:sweep"
)

// SessionSweepPayload parameterizes a sweep run.
type SessionSweepPayload struct {
	// Reason distinguishes scheduled sweeps from manually enqueued ones.
	Reason string `json:"reason"`
}

// NewSessionSweepTask constructs an Asynq task for a sweep run.
func NewSessionSweepTask(payload SessionSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}

// SweepHandler adapts a Sweeper into an Asynq handler with run
// instrumentation.
func SweepHandler(sweeper *Sweeper, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SessionSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskSessionSweep)
		_, err := sweeper.Sweep(ctx)
		return tracker.End(err)
	}
}
