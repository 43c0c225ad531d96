package model

import (
	"fmt"
	"time"
)

// EventKind discriminates the webhook event union.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
	EventUnknown  EventKind = ""
)

// Event is an inbound report from the separation worker. The worker sends a
// flat JSON object; the kind is taken from the explicit "type" field when
// present and otherwise inferred from which variant fields are populated
// (files -> complete, code -> error, else progress).
type Event struct {
	Type    string `json:"type,omitempty"`
	JobID   string `json:"jobId" validate:"required"`
	Version int64  `json:"version" validate:"required,min=1"`
	// Ts is the worker-side event time in unix milliseconds. Zero means
	// "unknown"; the receiver substitutes its own clock.
	Ts int64 `json:"ts,omitempty"`

	// progress variant
	Stage    JobStage `json:"stage,omitempty"`
	Progress float64  `json:"progress,omitempty"`
	EtaSec   *int64   `json:"etaSec,omitempty"`

	// complete variant
	Files map[string]string `json:"files,omitempty"`

	// error variant
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Kind resolves the event variant.
func (e *Event) Kind() EventKind {
	switch e.Type {
	case string(EventProgress), string(EventComplete), string(EventError):
		return EventKind(e.Type)
	}
	if e.Type != "" {
		return EventUnknown
	}
	if e.Files != nil {
		return EventComplete
	}
	if e.Code != "" {
		return EventError
	}
	if e.Stage != "" || e.Progress != 0 {
		return EventProgress
	}
	return EventUnknown
}

// Time returns the event timestamp, falling back to now when absent.
func (e *Event) Time(now time.Time) time.Time {
	if e.Ts <= 0 {
		return now
	}
	return time.UnixMilli(e.Ts).UTC()
}

// Validate checks the variant-specific shape beyond what struct tags cover.
// Out-of-range progress values are not rejected here; the transition engine
// clamps them.
func (e *Event) Validate() error {
	switch e.Kind() {
	case EventProgress:
		if e.Stage == "" {
			return fmt.Errorf("progress event missing stage")
		}
		if !validStage(e.Stage) {
			return fmt.Errorf("unknown stage %q", e.Stage)
		}
		if e.EtaSec != nil && *e.EtaSec < 0 {
			return fmt.Errorf("negative etaSec")
		}
	case EventComplete:
		if e.Files == nil {
			return fmt.Errorf("complete event missing files")
		}
	case EventError:
		if e.Code == "" {
			return fmt.Errorf("error event missing code")
		}
	default:
		return fmt.Errorf("cannot determine event kind")
	}
	return nil
}

func validStage(s JobStage) bool {
	for _, v := range ValidStages {
		if s == v {
			return true
		}
	}
	return false
}
