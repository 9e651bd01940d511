package achievement

import (
	"fmt"
	"time"

	"github.com/phrazzld/hearth/internal/events"
)

// Counter names a per-user activity count.
type Counter string

// Known counters.
const (
	CounterTasksCreated       Counter = "tasks_created"
	CounterTasksCompleted     Counter = "tasks_completed"
	CounterTasksCompletedWeek Counter = "tasks_completed_week"
	CounterGoalsCreated       Counter = "goals_created"
	CounterGoalsAchieved      Counter = "goals_achieved"
	CounterPenaltiesResolved  Counter = "penalties_resolved"
)

// Valid reports whether c is a known counter.
func (c Counter) Valid() bool {
	switch c {
	case CounterTasksCreated, CounterTasksCompleted, CounterTasksCompletedWeek,
		CounterGoalsCreated, CounterGoalsAchieved, CounterPenaltiesResolved:
		return true
	}
	return false
}

// Counts maps counters to values for one user.
type Counts map[Counter]int

func (c Counts) clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

type userCounters struct {
	Counts Counts `json:"counts"`
	// Week is the ISO week CounterTasksCompletedWeek refers to.
	Week string `json:"week"`
}

func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// counterKinds are the event kinds that move counters.
var counterKinds = []events.Kind{
	events.TaskCreated,
	events.TaskUpdated,
	events.GoalCreated,
	events.GoalUpdated,
	events.PenaltyUpdated,
}

type delta struct {
	user    string
	counter Counter
	by      int
	// weekOf is set for weekly counters: the time the change belongs to.
	weekOf time.Time
}

// deltas derives counter changes from an event.
func deltas(ev events.Event) []delta {
	switch p := ev.Payload.(type) {
	case events.TaskPayload:
		user := p.Task.Owner()
		switch ev.Kind {
		case events.TaskCreated:
			out := []delta{{user: user, counter: CounterTasksCreated, by: 1}}
			if p.Task.Completed {
				out = append(out, completion(user, p.Task.CompletedAt, ev.OccurredAt, 1)...)
			}
			return out
		case events.TaskUpdated:
			wasDone := p.Previous != nil && p.Previous.Completed
			switch {
			case p.Task.Completed && !wasDone:
				return completion(user, p.Task.CompletedAt, ev.OccurredAt, 1)
			case !p.Task.Completed && wasDone:
				return completion(user, p.Previous.CompletedAt, ev.OccurredAt, -1)
			}
		}

	case events.GoalPayload:
		switch ev.Kind {
		case events.GoalCreated:
			return []delta{{user: p.Goal.OwnerID, counter: CounterGoalsCreated, by: 1}}
		case events.GoalUpdated:
			was := p.Previous != nil && p.Previous.Achieved
			if p.Goal.Achieved != was {
				return []delta{{user: p.Goal.OwnerID, counter: CounterGoalsAchieved, by: sign(p.Goal.Achieved)}}
			}
		}

	case events.PenaltyPayload:
		if ev.Kind == events.PenaltyUpdated {
			was := p.Previous != nil && p.Previous.Resolved
			if p.Penalty.Resolved != was {
				return []delta{{user: p.Penalty.UserID, counter: CounterPenaltiesResolved, by: sign(p.Penalty.Resolved)}}
			}
		}
	}
	return nil
}

func completion(user string, completedAt *time.Time, fallback time.Time, by int) []delta {
	at := fallback
	if completedAt != nil {
		at = *completedAt
	}
	return []delta{
		{user: user, counter: CounterTasksCompleted, by: by},
		{user: user, counter: CounterTasksCompletedWeek, by: by, weekOf: at},
	}
}

func sign(up bool) int {
	if up {
		return 1
	}
	return -1
}

// apply adds d to the user's counters. now decides the current week.
func (u *userCounters) apply(d delta, now time.Time) {
	if u.Counts == nil {
		u.Counts = make(Counts)
	}
	current := isoWeek(now)
	if u.Week != current {
		u.Week = current
		u.Counts[CounterTasksCompletedWeek] = 0
	}
	if d.counter == CounterTasksCompletedWeek && isoWeek(d.weekOf) != current {
		return
	}
	u.Counts[d.counter] += d.by
	if u.Counts[d.counter] < 0 {
		u.Counts[d.counter] = 0
	}
}
