package achievement

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
	"gopkg.in/yaml.v3"
)

// Rule errors
var (
	// ErrSelfTrigger is returned for rules triggered by achievement events,
	// which would let awards cascade into further awards.
	ErrSelfTrigger = errors.New("achievement rules may not trigger on achievement events")

	// ErrInvalidRule is returned for malformed rules.
	ErrInvalidRule = errors.New("invalid achievement rule")
)

// Predicate decides from a user's counters whether a rule is satisfied.
type Predicate func(counts Counts) bool

// Threshold returns a predicate satisfied once counter reaches n.
func Threshold(counter Counter, n int) Predicate {
	return func(counts Counts) bool {
		return counts[counter] >= n
	}
}

// Rule grants RewardID once Predicate holds after one of TriggerKinds.
type Rule struct {
	ID           string
	TriggerKinds []events.Kind
	Predicate    Predicate
	RewardID     string
}

// Validate checks the rule is usable by the evaluator.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if r.Predicate == nil {
		return fmt.Errorf("%w: rule %q has no predicate", ErrInvalidRule, r.ID)
	}
	if len(r.TriggerKinds) == 0 {
		return fmt.Errorf("%w: rule %q has no triggers", ErrInvalidRule, r.ID)
	}
	for _, k := range r.TriggerKinds {
		if !k.Valid() {
			return fmt.Errorf("%w: rule %q: unknown trigger %q", ErrInvalidRule, r.ID, k)
		}
		if k.Entity() == domain.EntityAchievement {
			return fmt.Errorf("%w: rule %q triggers on %s", ErrSelfTrigger, r.ID, k)
		}
	}
	return nil
}

// DefaultRules returns the built-in rule set used when no rules file is configured.
func DefaultRules() []Rule {
	completed := []events.Kind{events.TaskUpdated}
	return []Rule{
		{ID: "first-task", TriggerKinds: completed, Predicate: Threshold(CounterTasksCompleted, 1), RewardID: "first-steps"},
		{ID: "busy-week", TriggerKinds: completed, Predicate: Threshold(CounterTasksCompletedWeek, 5), RewardID: "busy-bee"},
		{ID: "task-master", TriggerKinds: completed, Predicate: Threshold(CounterTasksCompleted, 50), RewardID: "gold-star"},
		{ID: "planner", TriggerKinds: []events.Kind{events.TaskCreated}, Predicate: Threshold(CounterTasksCreated, 10), RewardID: "planner"},
		{ID: "goal-getter", TriggerKinds: []events.Kind{events.GoalUpdated}, Predicate: Threshold(CounterGoalsAchieved, 1), RewardID: "trophy"},
		{ID: "clean-slate", TriggerKinds: []events.Kind{events.PenaltyUpdated}, Predicate: Threshold(CounterPenaltiesResolved, 3), RewardID: "clean-slate"},
	}
}

type ruleSpec struct {
	ID        string   `yaml:"id" validate:"required"`
	Triggers  []string `yaml:"triggers" validate:"required,min=1,dive,required"`
	Counter   string   `yaml:"counter" validate:"required"`
	Threshold int      `yaml:"threshold" validate:"gte=1"`
	Reward    string   `yaml:"reward" validate:"required"`
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules" validate:"dive"`
}

var validate = validator.New()

// ParseRules decodes threshold rules from YAML:
//
//	rules:
//	  - id: first-task
//	    triggers: [task.updated]
//	    counter: tasks_completed
//	    threshold: 1
//	    reward: first-steps
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	seen := make(map[string]bool, len(file.Rules))
	rules := make([]Rule, 0, len(file.Rules))
	for _, def := range file.Rules {
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, def.ID)
		}
		seen[def.ID] = true

		counter := Counter(def.Counter)
		if !counter.Valid() {
			return nil, fmt.Errorf("%w: rule %q: unknown counter %q", ErrInvalidRule, def.ID, def.Counter)
		}
		rule := Rule{
			ID:        def.ID,
			Predicate: Threshold(counter, def.Threshold),
			RewardID:  def.Reward,
		}
		for _, k := range def.Triggers {
			rule.TriggerKinds = append(rule.TriggerKinds, events.Kind(k))
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRules reads a rules file. An empty path yields DefaultRules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}
