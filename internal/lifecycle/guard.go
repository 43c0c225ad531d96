// Package lifecycle holds the pure rules of the job state machine: the
// version guard that orders webhook events and the transition engine that
// turns an accepted event into the next snapshot. Nothing here does I/O.
package lifecycle

import "github.com/stemsplit/api/internal/model"

// Decision is the version guard's verdict on an incoming event.
type Decision int

const (
	// Apply means the event carries a strictly newer version and must be applied.
	Apply Decision = iota
	// Stale means the event's version is not newer than the stored one.
	// It is a normal no-op outcome, not an error.
	Stale
)

// Decide compares an incoming event against the current snapshot. An absent
// snapshot always applies; otherwise only a strictly greater version does.
// This single rule makes the webhook path idempotent under redelivery and
// safe under out-of-order arrival.
func Decide(current *model.JobSnapshot, incoming *model.Event) Decision {
	if current == nil {
		return Apply
	}
	if incoming.Version > current.Version {
		return Apply
	}
	return Stale
}
