package api

import (
	"github.com/phrazzld/hearth/internal/achievement"
	"github.com/phrazzld/hearth/internal/domain"
)

// TaskResponse is a task as returned to clients. PendingSync tells the UI
// the change has not reached the remote store yet.
type TaskResponse struct {
	domain.Task
	PendingSync bool `json:"pending_sync"`
}

// GoalResponse is a goal as returned to clients.
type GoalResponse struct {
	domain.Goal
	PendingSync bool `json:"pending_sync"`
}

// PenaltyResponse is a penalty as returned to clients.
type PenaltyResponse struct {
	domain.Penalty
	PendingSync bool `json:"pending_sync"`
}

// AwardResponse is a granted achievement as returned to clients.
type AwardResponse struct {
	domain.Award
	PendingSync bool `json:"pending_sync"`
}

// CreatedResponse is returned by create commands.
type CreatedResponse struct {
	ID string `json:"id"`
}

// ListResponse wraps collection results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// ProgressResponse reports achievement counters for one family member.
type ProgressResponse struct {
	UserID   string             `json:"user_id"`
	Counters achievement.Counts `json:"counters"`
}

// SignOutResponse reports how many queued writes sign-out discarded.
type SignOutResponse struct {
	UserID string `json:"user_id"`
	Voided int    `json:"voided"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

func presentTask(t domain.Task) TaskResponse { return TaskResponse{Task: t, PendingSync: t.PendingSync} }
func presentGoal(g domain.Goal) GoalResponse { return GoalResponse{Goal: g, PendingSync: g.PendingSync} }
func presentPenalty(p domain.Penalty) PenaltyResponse {
	return PenaltyResponse{Penalty: p, PendingSync: p.PendingSync}
}
func presentAward(a domain.Award) AwardResponse { return AwardResponse{Award: a, PendingSync: a.PendingSync} }
