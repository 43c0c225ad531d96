// Package store persists job snapshots. Implementations are swappable behind
// JobStore: the memory store serves tests and single-instance deployments,
// the redis store multi-instance ones.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stemsplit/api/internal/model"
)

// ErrNotFound is returned when no snapshot exists for a job id, either
// because it never existed or because its TTL expired.
var ErrNotFound = errors.New("job not found")

// JobStore is the snapshot persistence contract. Set is a full overwrite and
// refreshes the TTL, so active jobs never expire mid-flight. SetIfNewer is
// the per-key serialization point required by version ordering: it writes
// only if snap.Version is strictly greater than the stored version, and the
// check and write are atomic with respect to other writers of the same key.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*model.JobSnapshot, error)
	Set(ctx context.Context, jobID string, snap *model.JobSnapshot, ttl time.Duration) error
	SetIfNewer(ctx context.Context, jobID string, snap *model.JobSnapshot, ttl time.Duration) (bool, error)
}
