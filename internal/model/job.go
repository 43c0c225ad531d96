package model

import "time"

// JobStatus is the coarse lifecycle state of a separation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobStage is the pipeline step a processing job is currently in.
type JobStage string

const (
	StagePreprocess  JobStage = "preprocess"
	StageSeparate    JobStage = "separate"
	StagePostprocess JobStage = "postprocess"
	StageUpload      JobStage = "upload"
)

var ValidStages = []JobStage{StagePreprocess, StageSeparate, StagePostprocess, StageUpload}

// JobError describes why a job failed.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// JobSnapshot is the authoritative state of a job at its latest accepted
// version. Version ordering is the single source of truth: a stored snapshot
// is only ever replaced by one carrying a strictly higher version.
type JobSnapshot struct {
	JobID     string            `json:"jobId"`
	Status    JobStatus         `json:"status"`
	Stage     JobStage          `json:"stage,omitempty"`
	Progress  float64           `json:"progress"`
	EtaSec    *int64            `json:"etaSec,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
	Error     *JobError         `json:"error,omitempty"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Terminal reports whether the snapshot is in a final state.
func (s *JobSnapshot) Terminal() bool {
	return s.Status == JobStatusCompleted || s.Status == JobStatusFailed
}

// NewQueuedSnapshot seeds the initial snapshot for a freshly admitted job.
func NewQueuedSnapshot(jobID string, now time.Time) *JobSnapshot {
	return &JobSnapshot{
		JobID:     jobID,
		Status:    JobStatusQueued,
		Progress:  0,
		Version:   1,
		UpdatedAt: now,
	}
}
