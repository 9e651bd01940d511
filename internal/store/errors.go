package store

import (
	"errors"
	"fmt"

	"github.com/phrazzld/hearth/internal/domain"
)

var (
	// ErrNotFound is returned when an id names no live entity. Tombstoned
	// entities count as not found.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an insert would reuse an existing id.
	ErrDuplicate = errors.New("entity already exists")

	// ErrReentrantMutation is returned when a handler dispatched for a
	// domain's event tries to mutate that same domain.
	ErrReentrantMutation = errors.New("re-entrant mutation of domain during its own event dispatch")

	ErrTaskNotFound        = fmt.Errorf("%w: task", ErrNotFound)
	ErrGoalNotFound        = fmt.Errorf("%w: goal", ErrNotFound)
	ErrPenaltyNotFound     = fmt.Errorf("%w: penalty", ErrNotFound)
	ErrAchievementNotFound = fmt.Errorf("%w: achievement", ErrNotFound)
)

// IsNotFoundError reports whether err is any entity's not-found error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate reports whether err is an id collision.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// Op names the store operation a StoreError came from.
type Op string

const (
	OpApplyRemote Op = "apply_remote"
	OpRestore     Op = "restore"
)

// StoreError reports a failure that is not the caller's fault: a remote
// document that does not decode, or a snapshot the cache cannot return.
type StoreError struct {
	Entity domain.EntityType
	Op     Op
	ID     string // empty for whole-domain operations
	Err    error
}

func (e *StoreError) Error() string {
	target := string(e.Entity)
	if e.ID != "" {
		target += " " + e.ID
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, target, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
