package lifecycle

import (
	"time"

	"github.com/stemsplit/api/internal/model"
)

// Next produces the snapshot that results from applying evt on top of
// current. The caller is responsible for running Decide first; Next does not
// re-check versions.
//
// Policies encoded here:
//   - progress is clamped to [0,100] on every write
//   - complete forces stage=upload and progress=100
//   - error keeps the last known progress and clears stage/etaSec
//   - files and error are mutually exclusive and only survive in their
//     respective terminal state
func Next(current *model.JobSnapshot, evt *model.Event, now time.Time) *model.JobSnapshot {
	next := &model.JobSnapshot{
		JobID:     evt.JobID,
		Version:   evt.Version,
		UpdatedAt: evt.Time(now),
	}
	if next.JobID == "" && current != nil {
		next.JobID = current.JobID
	}

	switch evt.Kind() {
	case model.EventProgress:
		next.Status = model.JobStatusProcessing
		next.Stage = evt.Stage
		next.Progress = clamp(evt.Progress)
		next.EtaSec = evt.EtaSec

	case model.EventComplete:
		next.Status = model.JobStatusCompleted
		next.Stage = model.StageUpload
		next.Progress = 100
		next.Files = evt.Files

	case model.EventError:
		next.Status = model.JobStatusFailed
		if current != nil {
			next.Progress = current.Progress
		}
		next.Error = &model.JobError{
			Code:      evt.Code,
			Message:   evt.Message,
			Retryable: evt.Retryable,
		}
	}

	return next
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
