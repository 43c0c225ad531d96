package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/stemsplit/api/internal/lifecycle"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/store"
)

// TaskTypeSubmit is the asynq task that hands a queued job to the separator.
const TaskTypeSubmit = "separation:submit"

// submitMaxRetry bounds how often a failed submission is retried before the
// job is left to time out. Asynq applies exponential backoff between attempts.
const submitMaxRetry = 2

// SubmitTaskPayload is the asynq payload for TaskTypeSubmit.
type SubmitTaskPayload struct {
	JobID   string `json:"jobId"`
	FileKey string `json:"fileKey"`
	Size    int64  `json:"size,omitempty"`
	Mime    string `json:"mime,omitempty"`
}

// Broadcaster fans deltas out to live subscribers of a job's room.
// The websocket hub implements it; tests substitute a recorder.
type Broadcaster interface {
	JobAccepted(jobID string, queuedAt time.Time)
	JobProgress(evt *model.Event)
	JobComplete(evt *model.Event)
	JobError(evt *model.Event)
}

// JobService owns the job lifecycle: admission, event ingestion, reads.
type JobService struct {
	store       store.JobStore
	asynqClient *asynq.Client
	broadcaster Broadcaster
	ttl         time.Duration
}

// NewJobService wires the service. A nil asynq client disables outbound
// submission (useful in tests); everything else is required.
func NewJobService(st store.JobStore, asynqClient *asynq.Client, b Broadcaster, ttl time.Duration) *JobService {
	return &JobService{
		store:       st,
		asynqClient: asynqClient,
		broadcaster: b,
		ttl:         ttl,
	}
}

// CreateJob admits a new job: seeds the version-1 queued snapshot, announces
// it to the room, and enqueues the submission task. Submission is
// fire-and-forget: an enqueue failure is logged but never fails admission,
// since the webhook path is the only source of later state anyway.
func (s *JobService) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	jobID := uuid.New().String()
	now := time.Now().UTC()

	snap := model.NewQueuedSnapshot(jobID, now)
	if err := s.store.Set(ctx, jobID, snap, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	s.broadcaster.JobAccepted(jobID, now)

	if err := s.enqueueSubmit(ctx, jobID, req); err != nil {
		log.Printf("Failed to enqueue submission for job %s: %v", jobID, err)
	}

	return &model.CreateJobResponse{JobID: jobID, QueuedAt: now}, nil
}

// Snapshot returns the current snapshot, or store.ErrNotFound when the job
// is absent or expired.
func (s *JobService) Snapshot(ctx context.Context, jobID string) (*model.JobSnapshot, error) {
	return s.store.Get(ctx, jobID)
}

// ApplyEvent runs an authenticated, validated event through the version
// guard and transition engine. It returns the resulting snapshot and whether
// the event was applied; a stale event (including one that lost a write race)
// returns applied=false with no side effects.
//
// Side effects are strictly ordered: the snapshot is persisted before the
// delta is broadcast, so a subscriber that re-fetches after a push can never
// observe an older version than it was just sent.
func (s *JobService) ApplyEvent(ctx context.Context, evt *model.Event) (*model.JobSnapshot, bool, error) {
	current, err := s.store.Get(ctx, evt.JobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load job: %w", err)
	}

	if lifecycle.Decide(current, evt) == lifecycle.Stale {
		return current, false, nil
	}

	next := lifecycle.Next(current, evt, time.Now().UTC())

	applied, err := s.store.SetIfNewer(ctx, evt.JobID, next, s.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to save job: %w", err)
	}
	if !applied {
		// A concurrent writer won with an equal or higher version.
		return nil, false, nil
	}

	switch evt.Kind() {
	case model.EventProgress:
		s.broadcaster.JobProgress(evt)
	case model.EventComplete:
		s.broadcaster.JobComplete(evt)
	case model.EventError:
		s.broadcaster.JobError(evt)
	}

	return next, true, nil
}

// Advance moves a job forward without a webhook. It synthesizes a version+1
// event and routes it through ApplyEvent, so ordering and broadcast rules are
// identical to the webhook path. Progress at or above 100 completes the job.
func (s *JobService) Advance(ctx context.Context, req *model.AdvanceRequest) (int64, error) {
	current, err := s.store.Get(ctx, req.JobID)
	if err != nil {
		return 0, err
	}

	evt := &model.Event{
		JobID:   req.JobID,
		Version: current.Version + 1,
		Ts:      time.Now().UnixMilli(),
	}
	if req.Progress >= 100 {
		evt.Type = string(model.EventComplete)
		evt.Files = map[string]string{}
	} else {
		evt.Type = string(model.EventProgress)
		evt.Stage = req.Stage
		if evt.Stage == "" {
			evt.Stage = current.Stage
		}
		if evt.Stage == "" {
			evt.Stage = model.StagePreprocess
		}
		evt.Progress = req.Progress
	}

	if _, applied, err := s.ApplyEvent(ctx, evt); err != nil {
		return 0, err
	} else if !applied {
		return 0, fmt.Errorf("advance lost to a concurrent update")
	}
	return evt.Version, nil
}

func (s *JobService) enqueueSubmit(ctx context.Context, jobID string, req *model.CreateJobRequest) error {
	if s.asynqClient == nil {
		return nil
	}

	payload, err := json.Marshal(SubmitTaskPayload{
		JobID:   jobID,
		FileKey: req.FileKey,
		Size:    req.Size,
		Mime:    req.Mime,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeSubmit, payload)
	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue("separation"),
		asynq.MaxRetry(submitMaxRetry),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
