package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stemsplit/api/internal/client"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
)

// SubmitWorker hands queued jobs to the remote separation worker. Returning
// an error lets asynq retry with exponential backoff, up to the MaxRetry set
// at enqueue time; retries are bounded by design and their exhaustion is only
// logged, never propagated back to the job-creation request.
type SubmitWorker struct {
	separator  client.Separator
	jobService *service.JobService
}

// NewSubmitWorker creates a new submit worker
func NewSubmitWorker(separator client.Separator, jobService *service.JobService) *SubmitWorker {
	return &SubmitWorker{
		separator:  separator,
		jobService: jobService,
	}
}

// ProcessTask handles a separation:submit task.
func (w *SubmitWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.SubmitTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("Submitting job %s to separator", payload.JobID)

	if w.separator == nil {
		log.Printf("Separator not configured, leaving job %s queued", payload.JobID)
		return nil
	}

	if err := w.separator.Submit(ctx, &client.SubmitRequest{
		JobID:   payload.JobID,
		FileKey: payload.FileKey,
	}); err != nil {
		return fmt.Errorf("failed to submit job %s: %w", payload.JobID, err)
	}

	// The worker accepted the job; mark it processing so subscribers see
	// movement before the first webhook lands. Goes through the normal event
	// path, so a webhook that already arrived wins on version.
	evt := &model.Event{
		Type:     string(model.EventProgress),
		JobID:    payload.JobID,
		Version:  2,
		Ts:       time.Now().UnixMilli(),
		Stage:    model.StagePreprocess,
		Progress: 1,
	}
	if _, _, err := w.jobService.ApplyEvent(ctx, evt); err != nil {
		log.Printf("Failed to mark job %s as processing: %v", payload.JobID, err)
	}

	log.Printf("Job %s submitted", payload.JobID)
	return nil
}
