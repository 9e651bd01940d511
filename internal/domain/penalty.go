package domain

import "time"

// PenaltyFields are the user-editable fields of a penalty.
type PenaltyFields struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Reason string `json:"reason" validate:"required,max=500"`
	Points int    `json:"points" validate:"gte=0,lte=1000"`
}

// Penalty is a deduction issued to a family member until it is resolved.
type Penalty struct {
	Meta
	UserID     string     `json:"user_id"`
	Reason     string     `json:"reason"`
	Points     int        `json:"points"`
	IssuedBy   string     `json:"issued_by,omitempty"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewPenalty builds an unsaved penalty from validated fields.
func NewPenalty(fields PenaltyFields, issuedBy string) Penalty {
	p := Penalty{IssuedBy: issuedBy}
	p.Apply(fields)
	return p
}

// Apply overwrites the user-editable fields.
func (p *Penalty) Apply(fields PenaltyFields) {
	p.UserID = fields.UserID
	p.Reason = fields.Reason
	p.Points = fields.Points
}

// Toggle flips whether the penalty has been resolved.
func (p *Penalty) Toggle(now time.Time) {
	p.Resolved = !p.Resolved
	if p.Resolved {
		at := now
		p.ResolvedAt = &at
		return
	}
	p.ResolvedAt = nil
}
