package reconcile

import (
	"fmt"
	"time"
)

// ConflictError reports a remote change that was discarded because a newer
// local edit of the same entity is still waiting to be synced.
// It is logged and never retried.
type ConflictError struct {
	Collection      string
	ID              string
	RemoteUpdatedAt time.Time
	LocalUpdatedAt  time.Time
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote change to %s/%s at %s is older than pending local edit at %s",
		e.Collection, e.ID,
		e.RemoteUpdatedAt.Format(time.RFC3339Nano),
		e.LocalUpdatedAt.Format(time.RFC3339Nano))
}
