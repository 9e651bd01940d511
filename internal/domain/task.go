package domain

import "time"

// TaskFields are the user-editable fields of a task.
type TaskFields struct {
	Title      string     `json:"title" validate:"required,max=200"`
	Notes      string     `json:"notes,omitempty" validate:"max=2000"`
	AssigneeID string     `json:"assignee_id,omitempty" validate:"max=64"`
	Points     int        `json:"points" validate:"gte=0,lte=1000"`
	DueAt      *time.Time `json:"due_at,omitempty"`
}

// Task is a chore or to-do assigned to a family member.
type Task struct {
	Meta
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	Points      int        `json:"points"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask builds an unsaved task from validated fields.
func NewTask(fields TaskFields, createdBy string) Task {
	t := Task{CreatedBy: createdBy}
	t.Apply(fields)
	return t
}

// Apply overwrites the user-editable fields.
func (t *Task) Apply(fields TaskFields) {
	t.Title = fields.Title
	t.Notes = fields.Notes
	t.AssigneeID = fields.AssigneeID
	t.Points = fields.Points
	t.DueAt = fields.DueAt
}

// Toggle flips completion, recording when the task was completed.
func (t *Task) Toggle(now time.Time) {
	t.Completed = !t.Completed
	if t.Completed {
		at := now
		t.CompletedAt = &at
		return
	}
	t.CompletedAt = nil
}

// Owner is the family member credited for the task.
func (t Task) Owner() string {
	if t.AssigneeID != "" {
		return t.AssigneeID
	}
	return t.CreatedBy
}
