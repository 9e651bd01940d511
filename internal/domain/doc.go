// Package domain contains the family-coordination entities (tasks, goals,
// penalties, achievement awards) and the validation rules for the fields a
// user supplies when creating or editing them. It has no knowledge of events,
// queues or storage.
package domain
