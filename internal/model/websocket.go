package model

import "time"

// WebSocket message types (server -> client)
const (
	WSMessageTypeSnapshot = "snapshot"
	WSMessageTypeAccepted = "accepted"
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSSnapshotMessage is the on-join frame carrying the full current state.
type WSSnapshotMessage struct {
	Type     string       `json:"type"`
	Snapshot *JobSnapshot `json:"snapshot"`
}

// WSAcceptedMessage announces that a job entered the queue.
type WSAcceptedMessage struct {
	Type     string    `json:"type"`
	JobID    string    `json:"jobId"`
	QueuedAt time.Time `json:"queuedAt"`
}

// WSProgressMessage represents a progress delta
type WSProgressMessage struct {
	Type     string   `json:"type"`
	JobID    string   `json:"jobId"`
	Stage    JobStage `json:"stage"`
	Progress float64  `json:"progress"`
	EtaSec   *int64   `json:"etaSec,omitempty"`
	Version  int64    `json:"version"`
	Ts       int64    `json:"ts"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type    string            `json:"type"`
	JobID   string            `json:"jobId"`
	Files   map[string]string `json:"files"`
	Version int64             `json:"version"`
	Ts      int64             `json:"ts"`
}

// WSErrorMessage represents a job failure
type WSErrorMessage struct {
	Type    string   `json:"type"`
	JobID   string   `json:"jobId"`
	Error   JobError `json:"error"`
	Version int64    `json:"version"`
	Ts      int64    `json:"ts"`
}
