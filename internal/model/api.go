package model

import "time"

// CreateJobRequest is the body of POST /api/upload/complete. The file itself
// was already uploaded out of band; fileKey references it.
type CreateJobRequest struct {
	FileKey string `json:"fileKey" validate:"required"`
	Size    int64  `json:"size" validate:"omitempty,min=1"`
	Mime    string `json:"mime" validate:"omitempty"`
}

// CreateJobResponse acknowledges job admission.
type CreateJobResponse struct {
	JobID    string    `json:"jobId"`
	QueuedAt time.Time `json:"queuedAt"`
}

// AdvanceRequest drives a job forward without a webhook (dev only).
type AdvanceRequest struct {
	JobID    string   `json:"jobId" validate:"required"`
	Stage    JobStage `json:"stage" validate:"omitempty,oneof=preprocess separate postprocess upload"`
	Progress float64  `json:"progress" validate:"min=0,max=100"`
}

// AdvanceResponse reports the version the advance produced.
type AdvanceResponse struct {
	OK      bool  `json:"ok"`
	Version int64 `json:"version"`
}

// WebhookAck is the always-200 webhook response body. Ignored explains
// non-applied outcomes ("stale", "invalid") for observability.
type WebhookAck struct {
	OK      bool   `json:"ok"`
	Ignored string `json:"ignored,omitempty"`
}
